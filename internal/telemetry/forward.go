package telemetry

import (
	"context"

	"github.com/asteroid-belt/fieldsync/internal/events"
)

// Forward records sync events from ch until ch closes or ctx is done.
// Per-item successes are not tracked; only their drain totals are.
func Forward(ctx context.Context, ch <-chan events.Event, client Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			record(client, e)
		}
	}
}

func record(client Client, e events.Event) {
	switch e.Type {
	case events.SyncCompleted:
		client.TrackSyncCompleted(e.Succeeded, e.Failed, e.Remaining)
	case events.ItemFailed:
		client.TrackItemFailed(e.Action, e.TargetType, e.Retryable)
	case events.ConnectivityChanged:
		if e.Online != nil {
			client.TrackConnectivityChanged(*e.Online)
		}
	}
}
