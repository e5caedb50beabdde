package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// formatTags formats the distinct-tag listing for CLI output.
func formatTags(tags []string, theme Theme) string {
	if len(tags) == 0 {
		return "No tags yet.\n"
	}

	var b strings.Builder
	for _, tag := range tags {
		fmt.Fprintf(&b, "%s\n", theme.Title.Render(tag))
	}
	return b.String()
}

// parseTurnID parses a turn id argument.
func parseTurnID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid turn id %q", arg)
	}
	return id, nil
}

// newTagCmd creates the "komalam tag" subcommand.
func newTagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tag <turn-id> <tag...>",
		Short: "Attach one or more tags to a turn",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTurnID(args[0])
			if err != nil {
				return err
			}

			c, err := openCore()
			if err != nil {
				return fmt.Errorf("tag: %w", err)
			}
			defer c.Close()

			ctx := context.Background()
			for _, tag := range args[1:] {
				if err := c.coord.Store().AddTag(ctx, id, tag); err != nil {
					return fmt.Errorf("tag: %w", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tagged turn %d with %s\n", id, strings.Join(args[1:], ", "))
			return nil
		},
	}
}

// newUntagCmd creates the "komalam untag" subcommand.
func newUntagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "untag <turn-id> <tag...>",
		Short: "Remove tags from a turn",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTurnID(args[0])
			if err != nil {
				return err
			}

			c, err := openCore()
			if err != nil {
				return fmt.Errorf("untag: %w", err)
			}
			defer c.Close()

			ctx := context.Background()
			for _, tag := range args[1:] {
				if err := c.coord.Store().RemoveTag(ctx, id, tag); err != nil {
					return fmt.Errorf("untag: %w", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Untagged turn %d\n", id)
			return nil
		},
	}
}

// newTagsCmd creates the "komalam tags" subcommand. Without an argument
// it lists every tag in use; with one it lists the turns carrying that
// tag, newest first.
func newTagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tags [tag]",
		Short: "List tags, or the turns carrying a tag",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore()
			if err != nil {
				return fmt.Errorf("tags: %w", err)
			}
			defer c.Close()

			ctx := context.Background()
			if len(args) == 0 {
				tags, err := c.coord.Store().AllTags(ctx)
				if err != nil {
					return fmt.Errorf("tags: %w", err)
				}
				fmt.Fprint(cmd.OutOrStdout(), formatTags(tags, activeTheme()))
				return nil
			}

			turns, err := c.coord.Store().TurnsByTag(ctx, args[0])
			if err != nil {
				return fmt.Errorf("tags: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), formatRecallResults(turns, activeTheme()))
			return nil
		},
	}
}
