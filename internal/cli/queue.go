package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/asteroid-belt/fieldsync/internal/cli/prompts"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List pending sync queue items",
	Long: `List mutations waiting to be sent, oldest first. Items are always sent
in this order; a failing item holds back everything after it.`,
	Args: cobra.NoArgs,
	RunE: runQueue,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop every pending sync queue item",
	Long: `Drop every pending mutation without sending it. Local records are kept
and stay marked offline. This is a recovery tool; unsent changes are lost
on the remote side.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
}

func runQueue(cmd *cobra.Command, args []string) error {
	svc, _, closeFn, err := openService(cmd.Context())
	if err != nil {
		return trackCLIError("queue", err)
	}
	defer closeFn()

	items, err := svc.GetSyncQueue()
	if err != nil {
		return trackCLIError("queue", fmt.Errorf("list queue: %w", err))
	}

	w := cmd.OutOrStdout()
	if len(items) == 0 {
		_, _ = fmt.Fprintln(w, "Sync queue is empty.")
		return nil
	}

	_, _ = fmt.Fprintf(w, "%s (%d items)\n", headerStyle.Render("SYNC QUEUE"), len(items))
	_, _ = fmt.Fprintln(w, strings.Repeat("─", ruleWidth))
	for _, item := range items {
		_, _ = fmt.Fprintf(w, "  #%-5d %-7s %s/%s\n", item.ID, item.Action, item.TargetType, item.TargetID)
		if item.Retries > 0 {
			line := fmt.Sprintf("retries: %d", item.Retries)
			if item.NextAttemptAt != nil {
				line += ", next attempt " + item.NextAttemptAt.Local().Format("15:04:05")
			}
			_, _ = fmt.Fprintf(w, "         %s\n", mutedStyle.Render(line))
		}
		if item.LastError != "" {
			_, _ = fmt.Fprintf(w, "         %s\n", errorStyle.Render(item.LastError))
		}
	}

	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")

	svc, _, closeFn, err := openService(cmd.Context())
	if err != nil {
		return trackCLIError("reset", err)
	}
	defer closeFn()

	pending, err := svc.GetSyncQueue()
	if err != nil {
		return trackCLIError("reset", fmt.Errorf("list queue: %w", err))
	}

	w := cmd.OutOrStdout()
	if len(pending) == 0 {
		_, _ = fmt.Fprintln(w, "Sync queue is empty.")
		return nil
	}

	if !yes {
		ok, err := prompts.Confirm(prompts.ResetTitle(len(pending)), prompts.ResetDescription)
		if err != nil {
			return trackCLIError("reset", err)
		}
		if !ok {
			_, _ = fmt.Fprintln(w, "Cancelled.")
			return nil
		}
	}

	removed, err := svc.ClearSyncQueue()
	if err != nil {
		return trackCLIError("reset", fmt.Errorf("clear queue: %w", err))
	}

	telemetryClient.TrackQueueCleared(removed)
	_, _ = fmt.Fprintf(w, "Removed %d queued item(s).\n", removed)
	return nil
}
