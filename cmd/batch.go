package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/grabber/internal/output"
	"github.com/tanq16/grabber/internal/utils"
	"gopkg.in/yaml.v3"
)

type BatchEntry struct {
	Link       string `yaml:"link"`
	OutputPath string `yaml:"op,omitempty"`
	Checksum   string `yaml:"checksum,omitempty"`
}

type BatchFile struct {
	Downloads []BatchEntry `yaml:"downloads"`
}

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [OPTIONS]",
		Short: "Process multiple downloads from a YAML file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			items, err := readBatchFile(args[0])
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			if len(items) == 0 {
				output.PrintError("No downloads found in the batch file")
				os.Exit(1)
			}
			runItems(items)
		},
	}
	return cmd
}

// readBatchFile parses a batch file, keeping entry order.
func readBatchFile(path string) ([]utils.DownloadItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}
	var batch BatchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %w", err)
	}
	items := make([]utils.DownloadItem, 0, len(batch.Downloads))
	for i, entry := range batch.Downloads {
		if entry.Link == "" {
			return nil, fmt.Errorf("entry %d has no link", i+1)
		}
		item, err := newItem(entry.Link, entry.OutputPath, entry.Checksum)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
		items = append(items, item)
	}
	return items, nil
}
