// Package cli provides the command-line interface for fieldsync.
package cli

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/asteroid-belt/fieldsync/internal/db"
	"github.com/asteroid-belt/fieldsync/internal/offline"
	"github.com/asteroid-belt/fieldsync/internal/telemetry"
	"github.com/asteroid-belt/fieldsync/pkg/version"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var telemetryClient telemetry.Client

var commandStartTime time.Time

// forceOffline pins connectivity to offline instead of probing the remote.
var forceOffline bool

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline-first capture and sync for field inspections",
	Long: `Offline-first capture and sync for field inspections

Records, comments and photos are saved to a local store first and queued.
The queue is replayed against the sync service in order whenever the
device is online.

Telemetry:
  Telemetry is enabled by default, always anonymous, and never includes
  record contents, photos or IP addresses.

  Opt-out with:
  	FIELDSYNC_TELEMETRY_TRACKING_ENABLED=false`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		commandStartTime = time.Now()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cmd.Name() != "fieldsync" {
			durationMs := time.Since(commandStartTime).Milliseconds()
			hasFlags := cmd.Flags().NFlag() > 0
			telemetryClient.TrackCLICommandExecuted(cmd.Name(), hasFlags, durationMs)
		}

		if cmd.Flags().Changed("help") {
			telemetryClient.TrackCLIHelpViewed(cmd.Name(), os.Args[1:])
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&forceOffline, "offline", false, "Treat the device as offline; nothing is sent")

	rootCmd.AddCommand(deadLettersCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(photoCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(watchCmd)
}

// Execute runs the CLI with fang enhancements.
func Execute(ctx context.Context, tc telemetry.Client) error {
	if tc == nil {
		tc = telemetry.New(nil)
	}
	telemetryClient = tc

	err := fang.Execute(
		ctx,
		rootCmd,
		fang.WithVersion(version.Version),
		fang.WithCommit(version.Commit),
	)

	if rootCmd.CalledAs() != "" && rootCmd.CalledAs() != "fieldsync" {
		durationMs := time.Since(commandStartTime).Milliseconds()
		telemetryClient.TrackAppExited("cli", durationMs)
	}

	return err
}

// trackCLIError wraps an error with telemetry tracking.
// Call this before returning errors from CLI commands.
func trackCLIError(cmdName string, err error) error {
	if err == nil {
		return nil
	}
	errorType := classifyError(err)
	telemetryClient.TrackCLIError(cmdName, errorType)
	return err
}

// classifyError determines the error type for telemetry.
func classifyError(err error) string {
	switch {
	case errors.Is(err, offline.ErrInvalidInput):
		return "validation_error"
	case errors.Is(err, db.ErrNotFound):
		return "not_found_error"
	case errors.Is(err, offline.ErrNotInitialized):
		return "database_error"
	}

	errStr := err.Error()
	switch {
	case containsAny(errStr, "config", "configuration"):
		return "config_error"
	case containsAny(errStr, "database", "storage", "sqlite"):
		return "database_error"
	case containsAny(errStr, "network", "timeout", "connection"):
		return "network_error"
	case containsAny(errStr, "permission", "access denied"):
		return "permission_error"
	case containsAny(errStr, "not found", "does not exist"):
		return "not_found_error"
	case containsAny(errStr, "invalid", "parse", "format"):
		return "validation_error"
	default:
		return "unknown_error"
	}
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
