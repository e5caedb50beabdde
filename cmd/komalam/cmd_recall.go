package main

import (
	"context"
	"fmt"
	"strings"

	"komalam/pkg/protocol"

	"github.com/spf13/cobra"
)

// formatRecallResults formats retrieved turns for CLI output.
func formatRecallResults(turns []protocol.Turn, theme Theme) string {
	if len(turns) == 0 {
		return "No matching turns found.\n"
	}

	var b strings.Builder
	for i, turn := range turns {
		fmt.Fprintf(&b, "%d. %s\n", i+1, theme.Title.Render(turn.Text))
		fmt.Fprintf(&b, "   %s\n", theme.Meta.Render(fmt.Sprintf(
			"turn %d | %s | %s | %s",
			turn.ID, turn.Role, turn.ConversationID, formatCreatedAt(turn.CreatedAt))))
	}
	return b.String()
}

// formatCreatedAt returns the date portion of a datetime string.
func formatCreatedAt(createdAt string) string {
	if len(createdAt) >= 10 {
		return createdAt[:10]
	}
	return createdAt
}

// newRecallCmd creates the "komalam recall" subcommand.
func newRecallCmd() *cobra.Command {
	var conversationID string
	var limit int

	cmd := &cobra.Command{
		Use:   "recall <query...>",
		Short: "Retrieve relevant past turns",
		Long:  "Searches recorded turns by keyword and semantic similarity and\nprints the most relevant ones, newest first among equals.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			c, err := openCore()
			if err != nil {
				return fmt.Errorf("recall: %w", err)
			}
			defer c.Close()

			if limit <= 0 {
				limit = c.cfg.MaxMemoryResults
			}
			turns, err := c.coord.RetrieveContext(context.Background(), conversationID, query, nil, limit)
			if err != nil {
				return fmt.Errorf("recall: %w", err)
			}

			fmt.Fprint(cmd.OutOrStdout(), formatRecallResults(turns, activeTheme()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "attribute degradation events to this conversation")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum turns to return (default from config)")
	return cmd
}
