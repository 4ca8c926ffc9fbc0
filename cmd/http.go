package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tanq16/grabber/internal/output"
	"github.com/tanq16/grabber/internal/utils"
)

func newHTTPCmd() *cobra.Command {
	var outputPath string
	var checksum string

	cmd := &cobra.Command{
		Use:     "http [URL] [--output OUTPUT_PATH] [--checksum ALGO:DIGEST]",
		Aliases: []string{"https", "get"},
		Short:   "Download a file via HTTP/HTTPS",
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			link := args[0]
			if !strings.Contains(link, "://") {
				link = "https://" + link
			}
			item, err := newItem(link, outputPath, checksum)
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			runItems([]utils.DownloadItem{item})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path")
	cmd.Flags().StringVarP(&checksum, "checksum", "c", "", "Expected digest as algo:hex (md5, sha1, sha256, sha512, sha3-256, blake2b, blake3)")
	return cmd
}
