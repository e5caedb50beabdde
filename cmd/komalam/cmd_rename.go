package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newRenameCmd creates the "komalam rename" subcommand.
func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <conversation-id> <title...>",
		Short: "Set a conversation's title",
		Long:  "Replaces the auto-derived title of a conversation.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args[1:], " ")

			c, err := openCore()
			if err != nil {
				return fmt.Errorf("rename: %w", err)
			}
			defer c.Close()

			if err := c.coord.Store().RenameConversation(context.Background(), args[0], title); err != nil {
				return fmt.Errorf("rename: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed conversation %s to %q\n", args[0], title)
			return nil
		},
	}
}
