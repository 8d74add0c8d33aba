package main

import (
	"errors"
	"fmt"
	"time"

	"ragchat/internal/storage"
	"ragchat/internal/util"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect conversation sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Show the messages and state trail of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, _ []string) error {
	sessions, err := core.Store.ListSessions(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		cmd.Println("No sessions found")
		return nil
	}
	for _, s := range sessions {
		cmd.Printf("  %s  %3d messages  updated %s\n", s.SessionID, s.MessageCount, s.UpdatedAt.Format(time.RFC3339))
	}
	cmd.Printf("\nTotal: %d sessions\n", len(sessions))
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	detail, err := core.Store.GetSession(cmd.Context(), args[0])
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return fmt.Errorf("session not found: %s", args[0])
		}
		return fmt.Errorf("failed to get session: %w", err)
	}

	cmd.Printf("Session %s (created %s)\n\n", detail.Session.SessionID, detail.Session.CreatedAt.Format(time.RFC3339))
	cmd.Println("Messages:")
	for _, m := range detail.Messages {
		cmd.Printf("  [%d] %s: %s\n", m.Seq, m.Role, util.DisplaySnippet(m.Content, 200))
	}
	cmd.Println()
	cmd.Println("States:")
	for _, s := range detail.States {
		cmd.Printf("  [%d] %s", s.Seq, s.Step)
		if len(s.RetrievedChunkIDs) > 0 {
			cmd.Printf(" chunks=%v", s.RetrievedChunkIDs)
		}
		if s.ModelUsed != "" {
			cmd.Printf(" model=%s", s.ModelUsed)
		}
		if s.AttemptNumber > 0 {
			cmd.Printf(" attempt=%d", s.AttemptNumber)
		}
		if s.Error != "" {
			cmd.Printf(" error=%q", s.Error)
		}
		cmd.Println()
	}
	return nil
}
