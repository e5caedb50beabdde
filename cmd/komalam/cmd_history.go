package main

import (
	"context"
	"fmt"
	"strings"

	"komalam/pkg/protocol"

	"github.com/spf13/cobra"
)

// formatHistory formats a conversation transcript for CLI output.
func formatHistory(conv protocol.Conversation, turns []protocol.Turn, theme Theme) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", theme.Title.Render(conv.Title))
	fmt.Fprintf(&b, "%s\n\n", theme.Meta.Render(fmt.Sprintf("%s | updated %s", conv.ID, formatCreatedAt(conv.UpdatedAt))))

	if len(turns) == 0 {
		b.WriteString("No turns recorded.\n")
		return b.String()
	}
	for _, turn := range turns {
		fmt.Fprintf(&b, "[%s] %s\n", turn.Role, turn.Text)
	}
	return b.String()
}

// newHistoryCmd creates the "komalam history" subcommand.
func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print a conversation transcript",
		Long:  "Prints every turn of a conversation in the order it was recorded.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore()
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			defer c.Close()

			ctx := context.Background()
			conv, err := c.coord.Store().Conversation(ctx, args[0])
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			turns, err := c.coord.Store().ListByConversation(ctx, args[0])
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}

			fmt.Fprint(cmd.OutOrStdout(), formatHistory(conv, turns, activeTheme()))
			return nil
		},
	}
}
