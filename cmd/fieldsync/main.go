// fieldsync - offline-first capture and sync for field inspections.
//
// Records are written to a local SQLite store first and replayed against the
// sync service, in order, whenever the device is online.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/asteroid-belt/fieldsync/internal/cli"
	"github.com/asteroid-belt/fieldsync/internal/config"
	"github.com/asteroid-belt/fieldsync/internal/db"
	"github.com/asteroid-belt/fieldsync/internal/telemetry"
)

// trackingID hands a resolved id to telemetry.New.
type trackingID string

func (t trackingID) GetOrCreateTrackingID() string { return string(t) }

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		os.Exit(1)
	}

	telemetryClient := telemetry.NewNoop()
	if cfg.Telemetry.Enabled {
		telemetryClient = telemetry.New(resolveTrackingID(cfg))
	}

	err = cli.Execute(ctx, telemetryClient)
	telemetryClient.Close()
	if err != nil {
		os.Exit(1)
	}
}

// resolveTrackingID reads the persistent anonymous id, releasing the store
// before the command opens it.
func resolveTrackingID(cfg *config.Config) telemetry.TrackingIDProvider {
	database, err := db.New(db.DefaultConfig(config.GetPaths(cfg).Database))
	if err != nil {
		return nil
	}
	defer func() { _ = database.Close() }()
	id, err := database.GetOrCreateTrackingID()
	if err != nil {
		return nil
	}
	return trackingID(id)
}
