package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// statsSnapshot holds the numbers the stats command prints.
type statsSnapshot struct {
	Conversations int64
	Turns         int64
	Vectors       int
	Missing       int64
}

// formatStats formats a stats snapshot for CLI output.
func formatStats(s statsSnapshot, theme Theme) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", theme.Title.Render("Memory store"))
	fmt.Fprintf(&b, "  conversations: %d\n", s.Conversations)
	fmt.Fprintf(&b, "  turns:         %d\n", s.Turns)
	fmt.Fprintf(&b, "  vectors:       %d\n", s.Vectors)
	if s.Missing > 0 {
		fmt.Fprintf(&b, "  %s\n", theme.Warn.Render(fmt.Sprintf("missing embeddings: %d (run komalam reindex)", s.Missing)))
	}
	return b.String()
}

// newStatsCmd creates the "komalam stats" subcommand.
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store and index counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore()
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer c.Close()

			ctx := context.Background()
			conversations, turns, err := c.coord.Store().Counts(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			missing, err := c.coord.Store().CountMissingEmbedding(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			snap := statsSnapshot{
				Conversations: conversations,
				Turns:         turns,
				Vectors:       c.coord.VectorLen(),
				Missing:       missing,
			}
			fmt.Fprint(cmd.OutOrStdout(), formatStats(snap, activeTheme()))
			return nil
		},
	}
}
