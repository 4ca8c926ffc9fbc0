package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tanq16/grabber/internal/output"
	"github.com/tanq16/grabber/internal/utils"
)

func newS3Cmd() *cobra.Command {
	var outputPath string
	var checksum string

	cmd := &cobra.Command{
		Use:   "s3 [BUCKET/KEY or s3://BUCKET/KEY] [--output OUTPUT_PATH]",
		Short: "Download an object from AWS S3",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			link := args[0]
			if !strings.HasPrefix(link, "s3://") {
				link = "s3://" + link
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
	cmd.Flags().StringVarP(&checksum, "checksum", "c", "", "Expected digest as algo:hex")
	return cmd
}
