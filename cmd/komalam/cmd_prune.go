package main

import (
	"context"
	"fmt"
	"time"

	"komalam/pkg/memory"

	"github.com/spf13/cobra"
)

// newPruneCmd creates the "komalam prune" subcommand.
func newPruneCmd() *cobra.Command {
	var days int
	var watch bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete turns older than the retention horizon",
		Long:  "Removes turns older than auto_prune_days from the store and both\nindexes. --days overrides the config; --watch keeps pruning on a\nschedule and reacts to config changes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore()
			if err != nil {
				return fmt.Errorf("prune: %w", err)
			}
			defer c.Close()

			horizon := func() (time.Duration, error) {
				if days > 0 {
					return time.Duration(days) * 24 * time.Hour, nil
				}
				cfg, err := LoadConfig(c.paths.ConfigPath)
				if err != nil {
					return 0, err
				}
				return cfg.Horizon(), nil
			}

			pruner, err := memory.NewPruner(c.coord, memory.PrunerConfig{
				Horizon:    horizon,
				ConfigPath: c.paths.ConfigPath,
				Interval:   interval,
			})
			if err != nil {
				return fmt.Errorf("prune: %w", err)
			}

			if watch {
				fmt.Fprintln(cmd.OutOrStdout(), "Pruning on schedule; interrupt to stop.")
				pruner.Run(cmd.Context())
				return nil
			}

			h, err := horizon()
			if err != nil {
				return fmt.Errorf("prune: %w", err)
			}
			if h <= 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Retention is disabled (auto_prune_days = 0); nothing to do.")
				return nil
			}

			n, err := pruner.RunOnce(context.Background())
			if err != nil {
				return fmt.Errorf("prune: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d turns older than %s\n", n, h)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "override the retention horizon in days")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and prune on a schedule")
	cmd.Flags().DurationVar(&interval, "interval", time.Hour, "prune interval when watching")
	return cmd
}
