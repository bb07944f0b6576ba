package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asteroid-belt/fieldsync/internal/hub"
	"github.com/asteroid-belt/fieldsync/internal/log"
	"github.com/asteroid-belt/fieldsync/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync engine with a local event feed",
	Long: `Keep the sync engine running: watch connectivity, drain the queue on
reconnect and retry temporary failures with backoff.

A local HTTP endpoint exposes the engine to the capture UI:
  GET  /events   websocket stream of sync and connectivity events
  GET  /status   connectivity status as JSON
  POST /sync     force a drain

Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address for the event feed (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	svc, cfg, closeFn, err := openService(ctx)
	if err != nil {
		return trackCLIError("serve", err)
	}
	defer closeFn()

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Events.Addr
	}

	st, err := svc.GetConnectivityStatus()
	if err != nil {
		return trackCLIError("serve", err)
	}
	telemetryClient.TrackAppStarted("serve", st.UnsyncedItems)

	ch, unsub, err := svc.Subscribe(256)
	if err != nil {
		return trackCLIError("serve", err)
	}
	defer unsub()
	go telemetry.Forward(ctx, ch, telemetryClient)

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "fieldsync engine running, %s, %d item(s) queued\n",
		connectivityLabel(st.IsOnline), st.UnsyncedItems)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Event feed on ws://%s/events\n", addr)

	h := hub.New(svc, log.L())
	if err := h.ListenAndServe(ctx, addr); err != nil {
		return trackCLIError("serve", fmt.Errorf("event feed: %w", err))
	}
	return nil
}
