// Package main provides the fieldsync-mcp server.
//
// fieldsync-mcp exposes the local offline store and sync queue via the Model
// Context Protocol so assistants can inspect sync state, capture records and
// trigger a sync.
//
// Usage:
//
//	fieldsync-mcp [flags]
//
// The server communicates via JSON-RPC 2.0 over stdio (stdin/stdout).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/asteroid-belt/fieldsync/internal/config"
	"github.com/asteroid-belt/fieldsync/internal/log"
	"github.com/asteroid-belt/fieldsync/internal/mcp"
	"github.com/asteroid-belt/fieldsync/internal/offline"
	"github.com/asteroid-belt/fieldsync/internal/telemetry"
	"github.com/asteroid-belt/fieldsync/pkg/version"
)

// trackingID hands the store's persistent id to telemetry.New.
type trackingID string

func (t trackingID) GetOrCreateTrackingID() string { return string(t) }

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("fieldsync-mcp %s\n", version.Version)
		os.Exit(0)
	}

	if len(os.Args) > 1 && (os.Args[1] == "--help" || os.Args[1] == "-h") {
		printHelp()
		os.Exit(0)
	}

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
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the protocol; logs go to the file only.
	if err := log.Init(config.GetPaths(cfg).Logs, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Close() }()

	svc := offline.New(offline.OptionsFromConfig(cfg, log.L()))
	if err := svc.Init(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open offline store: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = svc.Close() }()

	tc := telemetry.NewNoop()
	if cfg.Telemetry.Enabled {
		tc = telemetry.New(trackingID(svc.TrackingID()))
	}
	defer tc.Close()

	if ch, unsub, err := svc.Subscribe(256); err == nil {
		defer unsub()
		go telemetry.Forward(ctx, ch, tc)
	}

	server := mcp.NewServer(svc, tc)
	if err := server.Serve(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	help := `fieldsync-mcp - MCP server for the fieldsync offline store

USAGE:
    fieldsync-mcp [FLAGS]

FLAGS:
    -h, --help       Print this help message
    -v, --version    Print version information

DESCRIPTION:
    fieldsync-mcp is a Model Context Protocol (MCP) server that exposes the
    local fieldsync store and sync queue to MCP-compatible clients. It runs
    the same sync engine as 'fieldsync serve'.

    The server communicates via JSON-RPC 2.0 over stdio (stdin/stdout).

CONFIGURATION:
    {
      "mcpServers": {
        "fieldsync": {
          "type": "stdio",
          "command": "fieldsync-mcp"
        }
      }
    }

TOOLS PROVIDED:
    fieldsync_status         Connectivity, unsynced count and store statistics
    fieldsync_queue          Pending sync queue items, oldest first
    fieldsync_sync           Drain the queue now
    fieldsync_dead_letters   Mutations that could not be synced
    fieldsync_list_entities  Stored records of one type
    fieldsync_save_entity    Save a record and queue it for sync

RESOURCES PROVIDED:
    fieldsync://queue                 Sync queue as JSON
    fieldsync://entity/{type}/{id}    One stored record as JSON
`
	fmt.Print(help)
}
