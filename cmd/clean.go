package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/grabber/internal/output"
	"github.com/tanq16/grabber/internal/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [path]",
		Short: "Remove leftover staging directories under path (default: current directory)",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			root := "."
			if len(args) > 0 {
				root = args[0]
			}
			n, err := utils.Clean(root)
			if err != nil {
				output.PrintError(fmt.Sprintf("Error cleaning up temporary files: %v", err))
				os.Exit(1)
			}
			if n == 0 {
				output.PrintInfo("No staging directories found")
				return
			}
			output.PrintSuccess(fmt.Sprintf("Removed %d staging directories", n))
		},
	}
}
