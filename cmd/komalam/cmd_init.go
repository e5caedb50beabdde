package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newInitCmd creates the "komalam init" subcommand.
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the state directory, config, and database",
		Long:  "Creates ~/.komalam (or KOMALAM_HOME), writes a default config.yaml\nif none exists, and initializes the memory database schema.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}

			if err := os.MkdirAll(paths.Home, 0o755); err != nil {
				return fmt.Errorf("init: create %s: %w", paths.Home, err)
			}

			if _, err := os.Stat(paths.ConfigPath); os.IsNotExist(err) {
				if err := DefaultConfig().Save(paths.ConfigPath); err != nil {
					return fmt.Errorf("init: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", paths.ConfigPath)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Config already present at %s\n", paths.ConfigPath)
			}

			db, err := openMemoryDB(paths.DBPath)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			defer db.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Memory database ready at %s\n", paths.DBPath)
			return nil
		},
	}
}
