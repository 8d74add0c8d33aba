package main

import (
	"errors"
	"fmt"
	"time"

	"ragchat/internal/storage"

	"github.com/spf13/cobra"
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage indexed documents",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents in upload order",
	Args:  cobra.NoArgs,
	RunE:  runDocumentsList,
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete [doc-id]",
	Short: "Remove a document and all of its chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentsDelete,
}

func init() {
	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsDeleteCmd)
	rootCmd.AddCommand(documentsCmd)
}

func runDocumentsList(cmd *cobra.Command, _ []string) error {
	docs, err := core.Store.ListDocuments(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	if len(docs) == 0 {
		cmd.Println("No documents found")
		return nil
	}
	for _, d := range docs {
		cmd.Printf("  %s\n", d.DocumentID)
		cmd.Printf("    File: %s\n", d.Filename)
		cmd.Printf("    Chunks: %d  Chars: %d  Uploaded: %s\n", d.ChunkCount, d.TotalChars, d.UploadedAt.Format(time.RFC3339))
	}
	cmd.Printf("\nTotal: %d documents\n", len(docs))
	return nil
}

func runDocumentsDelete(cmd *cobra.Command, args []string) error {
	removed, err := core.Pipeline.Delete(cmd.Context(), args[0])
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			return fmt.Errorf("document not found: %s", args[0])
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}
	cmd.Printf("Deleted %s (%d chunks)\n", args[0], removed)
	return nil
}
