package main

import (
	"strings"

	"ragchat/internal/util"

	"github.com/spf13/cobra"
)

var askSession string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question against the indexed documents",
	Long:  `Runs one conversation turn. Pass --session to continue an existing conversation.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "Session to continue")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	res, err := core.Machine.Handle(cmd.Context(), askSession, strings.Join(args, " "))
	if err != nil {
		return err
	}

	cmd.Println(res.Response)
	cmd.Println()
	if len(res.Retrieved) > 0 {
		cmd.Println("Sources:")
		for i, r := range res.Retrieved {
			cmd.Printf("  %d. chunk %d of %s (%.2f)\n", i+1, r.Chunk.ChunkID, r.Chunk.DocumentID, r.Score)
			cmd.Printf("     %s\n", util.DisplaySnippet(r.Chunk.Text, 100))
		}
	}
	if res.RetrievalError != "" {
		cmd.Printf("Retrieval failed: %s\n", res.RetrievalError)
	}
	if res.Degraded {
		cmd.Printf("Generation failed: %s\n", res.GenerationError)
	} else {
		cmd.Printf("Model: %s (%d attempt(s))\n", res.ModelUsed, len(res.Attempts))
	}
	cmd.Printf("Session: %s\n", res.SessionID)
	return nil
}
