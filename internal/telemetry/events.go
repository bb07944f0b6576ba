package telemetry

import (
	"runtime"

	"github.com/asteroid-belt/fieldsync/pkg/version"
)

// Event names - CLI
const (
	EventAppStarted         = "app_started"
	EventAppExited          = "app_exited"
	EventCLICommandExecuted = "cli_command_executed"
	EventCLIErrorOccurred   = "cli_error_occurred"
	EventCLIHelpViewed      = "cli_help_viewed"
)

// Event names - Capture
const (
	EventEntitySaved   = "entity_saved"
	EventEntityDeleted = "entity_deleted"
	EventPhotoCaptured = "photo_captured"
)

// Event names - Sync
const (
	EventSyncCompleted       = "sync_completed"
	EventSyncItemFailed      = "sync_item_failed"
	EventConnectivityChanged = "connectivity_changed"
	EventQueueCleared        = "queue_cleared"
)

// Event names - MCP
const (
	EventMCPToolCalled = "mcp_tool_called"
)

// Version is set at compile time via ldflags.
var Version string

// baseProperties returns common properties for all events.
func baseProperties() map[string]interface{} {
	return map[string]interface{}{
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"version":    Version,
		"prerelease": version.IsPrerelease(),
		"dev_build":  version.IsDevBuild(),
	}
}

// --- CLI Tracking Methods ---

// TrackAppStarted tracks application startup.
func (c *posthogClient) TrackAppStarted(mode string, queuedItems int64) {
	props := baseProperties()
	props["mode"] = mode
	props["queued_items"] = queuedItems
	c.Track(EventAppStarted, props)
}

// TrackAppExited tracks application exit.
func (c *posthogClient) TrackAppExited(mode string, sessionDurationMs int64) {
	props := baseProperties()
	props["mode"] = mode
	props["session_duration_ms"] = sessionDurationMs
	c.Track(EventAppExited, props)
}

// TrackCLICommandExecuted tracks CLI command execution.
func (c *posthogClient) TrackCLICommandExecuted(commandName string, hasFlags bool, durationMs int64) {
	props := baseProperties()
	props["command_name"] = commandName
	props["has_flags"] = hasFlags
	props["execution_duration_ms"] = durationMs
	c.Track(EventCLICommandExecuted, props)
}

// TrackCLIError tracks CLI errors.
func (c *posthogClient) TrackCLIError(commandName, errorType string) {
	props := baseProperties()
	props["command_name"] = commandName
	props["error_type"] = errorType
	c.Track(EventCLIErrorOccurred, props)
}

// TrackCLIHelpViewed tracks help output.
func (c *posthogClient) TrackCLIHelpViewed(commandName string, cliArgs []string) {
	props := baseProperties()
	props["command_name"] = commandName
	props["cli_args"] = cliArgs
	c.Track(EventCLIHelpViewed, props)
}

// --- Capture Tracking Methods ---

// TrackEntitySaved tracks a local entity write. Payloads are never sent.
func (c *posthogClient) TrackEntitySaved(entityType string, isUpdate bool) {
	props := baseProperties()
	props["entity_type"] = entityType
	props["is_update"] = isUpdate
	c.Track(EventEntitySaved, props)
}

// TrackEntityDeleted tracks a local delete.
func (c *posthogClient) TrackEntityDeleted(entityType string) {
	props := baseProperties()
	props["entity_type"] = entityType
	c.Track(EventEntityDeleted, props)
}

// TrackPhotoCaptured tracks a stored photo.
func (c *posthogClient) TrackPhotoCaptured(sizeBytes int64) {
	props := baseProperties()
	props["size_bytes"] = sizeBytes
	c.Track(EventPhotoCaptured, props)
}

// --- Sync Tracking Methods ---

// TrackSyncCompleted tracks the outcome of a drain.
func (c *posthogClient) TrackSyncCompleted(succeeded, deadLettered, remaining int) {
	props := baseProperties()
	props["succeeded"] = succeeded
	props["dead_lettered"] = deadLettered
	props["remaining"] = remaining
	c.Track(EventSyncCompleted, props)
}

// TrackItemFailed tracks a failed queue item.
func (c *posthogClient) TrackItemFailed(action, targetType string, retryable bool) {
	props := baseProperties()
	props["action"] = action
	props["target_type"] = targetType
	props["retryable"] = retryable
	c.Track(EventSyncItemFailed, props)
}

// TrackConnectivityChanged tracks online/offline transitions.
func (c *posthogClient) TrackConnectivityChanged(online bool) {
	props := baseProperties()
	props["online"] = online
	c.Track(EventConnectivityChanged, props)
}

// TrackQueueCleared tracks a diagnostic queue reset.
func (c *posthogClient) TrackQueueCleared(removed int64) {
	props := baseProperties()
	props["removed"] = removed
	c.Track(EventQueueCleared, props)
}

// --- MCP Tracking Methods ---

// TrackMCPToolCalled tracks MCP tool invocations.
func (c *posthogClient) TrackMCPToolCalled(toolName string, durationMs int64, success bool) {
	props := baseProperties()
	props["tool_name"] = toolName
	props["duration_ms"] = durationMs
	props["success"] = success
	c.Track(EventMCPToolCalled, props)
}

// --- No-op implementations ---

func (c *noopClient) TrackAppStarted(mode string, queuedItems int64)                           {}
func (c *noopClient) TrackAppExited(mode string, sessionDurationMs int64)                      {}
func (c *noopClient) TrackCLICommandExecuted(commandName string, hasFlags bool, durationMs int64) {}
func (c *noopClient) TrackCLIError(commandName, errorType string)                              {}
func (c *noopClient) TrackCLIHelpViewed(commandName string, cliArgs []string)                  {}
func (c *noopClient) TrackEntitySaved(entityType string, isUpdate bool)                        {}
func (c *noopClient) TrackEntityDeleted(entityType string)                                     {}
func (c *noopClient) TrackPhotoCaptured(sizeBytes int64)                                       {}
func (c *noopClient) TrackSyncCompleted(succeeded, deadLettered, remaining int)                {}
func (c *noopClient) TrackItemFailed(action, targetType string, retryable bool)                {}
func (c *noopClient) TrackConnectivityChanged(online bool)                                     {}
func (c *noopClient) TrackQueueCleared(removed int64)                                          {}
func (c *noopClient) TrackMCPToolCalled(toolName string, durationMs int64, success bool)       {}
