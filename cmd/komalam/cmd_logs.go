package main

import (
	"fmt"
	"strings"

	"komalam/pkg/eventlog"

	"github.com/spf13/cobra"
)

// formatEvents formats event log rows for CLI output, oldest first so the
// log reads top to bottom.
func formatEvents(events []eventlog.Event, theme Theme) string {
	if len(events) == 0 {
		return "No events recorded.\n"
	}

	var b strings.Builder
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		ts := e.CreatedAt.Format("2006-01-02 15:04:05")
		line := fmt.Sprintf("%s  %-20s %-12s", ts, e.Type, e.Source)
		if e.ConversationID != "" {
			line += " " + e.ConversationID
		}
		if e.TurnID != 0 {
			line += fmt.Sprintf(" turn=%d", e.TurnID)
		}
		fmt.Fprintf(&b, "%s\n", theme.Meta.Render(line))
		if e.Payload != "" {
			fmt.Fprintf(&b, "    %s\n", e.Payload)
		}
	}
	return b.String()
}

// newLogsCmd creates the "komalam logs" subcommand.
func newLogsCmd() *cobra.Command {
	var evType string
	var conversationID string
	var tail int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query the memory event log",
		Long:  "Displays audit events written by the coordinator and pruner:\nembed failures, prune runs, index repairs, and deletions.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("logs: %w", err)
			}

			reader, err := eventlog.NewReader(paths.DBPath)
			if err != nil {
				return fmt.Errorf("logs: %w", err)
			}
			defer reader.Close()

			events, err := reader.Query(cmd.Context(), eventlog.QueryOpts{
				EventType:      evType,
				ConversationID: conversationID,
				Limit:          tail,
			})
			if err != nil {
				return fmt.Errorf("logs: %w", err)
			}

			fmt.Fprint(cmd.OutOrStdout(), formatEvents(events, activeTheme()))
			return nil
		},
	}

	cmd.Flags().StringVar(&evType, "type", "", "filter by event type")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "filter by conversation id")
	cmd.Flags().IntVar(&tail, "tail", 50, "show at most this many recent events")
	return cmd
}
