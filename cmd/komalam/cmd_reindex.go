package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newReindexCmd creates the "komalam reindex" subcommand.
func newReindexCmd() *cobra.Command {
	var limit int
	var repair bool

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Embed turns that are missing from the vector index",
		Long:  "Retries embedding for turns recorded while the provider was down\nor the queue was full. --repair also reconciles both indexes\nagainst the record store.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore()
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			defer c.Close()

			ctx := context.Background()
			out := cmd.OutOrStdout()

			n, err := c.coord.ReindexMissing(ctx, limit)
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			fmt.Fprintf(out, "Embedded %d turns\n", n)

			if repair {
				repairs, err := c.coord.Reconcile(ctx)
				if err != nil {
					return fmt.Errorf("reindex: %w", err)
				}
				fmt.Fprintf(out, "Reconciled indexes with %d repairs\n", repairs)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 500, "maximum turns to embed in one run")
	cmd.Flags().BoolVar(&repair, "repair", false, "also reconcile indexes against the record store")
	return cmd
}
