package main

import (
	"context"
	"fmt"
	"strings"

	"komalam/pkg/protocol"

	"github.com/spf13/cobra"
)

// newSendCmd creates the "komalam send" subcommand.
func newSendCmd() *cobra.Command {
	var conversationID string
	var role string

	cmd := &cobra.Command{
		Use:   "send <text...>",
		Short: "Record a conversation turn",
		Long:  "Appends a turn to a conversation and indexes it for recall.\nWithout --conversation a new conversation is started.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !protocol.ValidRole(role) {
				return fmt.Errorf("send: invalid role %q (use user, assistant, or system)", role)
			}
			text := strings.Join(args, " ")

			c, err := openCore()
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}
			defer c.Close()

			ctx := context.Background()
			started := false
			if conversationID == "" {
				conv, err := c.coord.Store().CreateConversation(ctx, "")
				if err != nil {
					return fmt.Errorf("send: %w", err)
				}
				conversationID = conv.ID
				started = true
			}

			id, err := c.coord.RecordTurn(ctx, conversationID, role, text)
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}

			out := cmd.OutOrStdout()
			if started {
				fmt.Fprintf(out, "Started conversation %s\n", conversationID)
			}
			fmt.Fprintf(out, "Recorded turn %d in %s\n", id, conversationID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "conversation id to append to")
	cmd.Flags().StringVarP(&role, "role", "r", protocol.RoleUser, "turn role: user, assistant, or system")
	return cmd
}
