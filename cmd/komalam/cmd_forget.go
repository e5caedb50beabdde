package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newForgetCmd creates the "komalam forget" subcommand.
func newForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <conversation-id> [conversation-id...]",
		Short: "Delete conversations and all their turns",
		Long:  "Removes conversations from the store along with every turn and\nindex entry. Returns an error for nonexistent ids.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore()
			if err != nil {
				return fmt.Errorf("forget: %w", err)
			}
			defer c.Close()

			ctx := context.Background()
			for _, id := range args {
				if _, err := c.coord.Store().Conversation(ctx, id); err != nil {
					return fmt.Errorf("forget: %w", err)
				}
				if err := c.coord.DeleteConversation(ctx, id); err != nil {
					return fmt.Errorf("forget: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Forgot conversation %s\n", id)
			}
			return nil
		},
	}
}
