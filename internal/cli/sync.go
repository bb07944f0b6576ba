package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/asteroid-belt/fieldsync/internal/events"
	"github.com/asteroid-belt/fieldsync/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Send queued changes to the sync service now",
	Long: `Replay the sync queue against the sync service, oldest first.

Stops at the first item that fails with a temporary error; that item and
everything after it stay queued for the next attempt. Items the service
rejects are moved to the dead letters.

Does nothing while offline.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	svc, _, closeFn, err := openService(ctx)
	if err != nil {
		return trackCLIError("sync", err)
	}
	defer closeFn()

	pending, err := svc.GetSyncQueue()
	if err != nil {
		return trackCLIError("sync", fmt.Errorf("list queue: %w", err))
	}

	ch, unsub, err := svc.Subscribe(64)
	if err != nil {
		return trackCLIError("sync", err)
	}
	defer unsub()

	w := cmd.OutOrStdout()
	errW := cmd.ErrOrStderr()

	bar := NewProgressBar(len(pending), 20)
	done := make(chan events.Event, 1)
	go func() {
		completed := 0
		stalled := false
		for e := range ch {
			switch e.Type {
			case events.ItemSucceeded:
				completed++
				bar.Update(completed, e.TargetType+"/"+e.TargetID)
			case events.ItemFailed:
				if e.Retryable {
					stalled = true
				} else {
					completed++
				}
				bar.Update(completed, e.TargetType+"/"+e.TargetID)
			case events.SyncCompleted:
				done <- e
				return
			default:
				continue
			}
			ClearLine(errW)
			if stalled {
				_, _ = fmt.Fprint(errW, bar.RenderStalled())
			} else {
				_, _ = fmt.Fprint(errW, bar.Render())
			}
		}
		close(done)
	}()

	res, err := svc.ForceSync(ctx)
	if err != nil {
		return trackCLIError("sync", fmt.Errorf("sync: %w", err))
	}

	if res.Offline {
		_, _ = fmt.Fprintf(w, "%s %d item(s) waiting; nothing sent.\n", connectivityLabel(false), len(pending))
		return nil
	}

	if res.Skipped {
		// Another drain owns the queue; report its outcome instead.
		select {
		case e, ok := <-done:
			if ok {
				res = syncer.Result{Succeeded: e.Succeeded, DeadLettered: e.Failed, Remaining: e.Remaining}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if len(pending) > 0 {
		ClearLine(errW)
	}
	printSyncResult(w, res)
	return nil
}

func printSyncResult(w io.Writer, res syncer.Result) {
	_, _ = fmt.Fprintln(w, headerStyle.Render("SYNC"))
	_, _ = fmt.Fprintln(w, strings.Repeat("─", ruleWidth))
	_, _ = fmt.Fprintf(w, "  Sent:         %d\n", res.Succeeded)
	if res.DeadLettered > 0 {
		_, _ = fmt.Fprintf(w, "  Dead letters: %s\n", errorStyle.Render(fmt.Sprint(res.DeadLettered)))
	}
	_, _ = fmt.Fprintf(w, "  Remaining:    %d\n", res.Remaining)
	if res.Stopped && res.Remaining > 0 {
		msg := "Stopped on a temporary failure; remaining items will be retried"
		if res.RetryIn > 0 {
			msg += fmt.Sprintf(" in %s", res.RetryIn)
		}
		_, _ = fmt.Fprintln(w, mutedStyle.Render("  "+msg+"."))
	}
	if res.DeadLettered > 0 {
		_, _ = fmt.Fprintln(w, mutedStyle.Render("  Run 'fieldsync deadletters' for details."))
	}
}
