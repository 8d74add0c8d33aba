package main

import (
	"fmt"
	"os"
	"path/filepath"

	"ragchat/internal/ingest"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Index PDF, text or Markdown files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	total := 0
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		res, err := core.Ingester.Ingest(cmd.Context(), ingest.Upload{Filename: filepath.Base(path), Data: data})
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		total += res.ChunksCreated
		cmd.Printf("Indexed %s: %d chunks (document %s)\n", res.Filename, res.ChunksCreated, res.DocumentID)
	}
	cmd.Printf("Total: %d chunks, index size %d\n", total, core.Index.Size())
	return nil
}
