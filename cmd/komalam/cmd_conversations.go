package main

import (
	"context"
	"fmt"
	"strings"

	"komalam/pkg/protocol"

	"github.com/spf13/cobra"
)

// formatConversations formats the conversation list for CLI output.
func formatConversations(convs []protocol.Conversation, theme Theme) string {
	if len(convs) == 0 {
		return "No conversations yet.\n"
	}

	var b strings.Builder
	for _, conv := range convs {
		fmt.Fprintf(&b, "%s  %s\n", theme.Title.Render(conv.Title),
			theme.Meta.Render(fmt.Sprintf("%s | updated %s", conv.ID, formatCreatedAt(conv.UpdatedAt))))
	}
	return b.String()
}

// newConversationsCmd creates the "komalam conversations" subcommand.
func newConversationsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "List conversations, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore()
			if err != nil {
				return fmt.Errorf("conversations: %w", err)
			}
			defer c.Close()

			convs, err := c.coord.Store().Conversations(context.Background(), limit)
			if err != nil {
				return fmt.Errorf("conversations: %w", err)
			}

			fmt.Fprint(cmd.OutOrStdout(), formatConversations(convs, activeTheme()))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum conversations to list")
	return cmd
}
