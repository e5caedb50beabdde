package main

import (
	"fmt"

	"komalam/internal/appversion"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root komalam command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "komalam",
		Short:         "Conversational memory store",
		Long:          "komalam keeps a durable, searchable record of conversation turns.\nEvery turn is indexed for both keyword and semantic recall.",
		Version:       fmt.Sprintf("komalam %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newInitCmd(),
		newSendCmd(),
		newRecallCmd(),
		newHistoryCmd(),
		newConversationsCmd(),
		newRenameCmd(),
		newTagCmd(),
		newUntagCmd(),
		newTagsCmd(),
		newForgetCmd(),
		newPruneCmd(),
		newReindexCmd(),
		newStatsCmd(),
		newLogsCmd(),
	)

	return cmd
}
