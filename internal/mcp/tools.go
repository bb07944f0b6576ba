package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool definitions for the fieldsync MCP server.

// statusTool returns the fieldsync_status tool definition.
func statusTool() mcp.Tool {
	return mcp.NewTool("fieldsync_status",
		mcp.WithDescription("Get connectivity state, the number of unsynced mutations, the last successful sync time and store statistics."),
	)
}

// queueTool returns the fieldsync_queue tool definition.
func queueTool() mcp.Tool {
	return mcp.NewTool("fieldsync_queue",
		mcp.WithDescription("List pending sync queue items, oldest first. Each item shows its action, target, retry count and last error."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of items to return (default: 50, max: 500)"),
		),
	)
}

// syncTool returns the fieldsync_sync tool definition.
func syncTool() mcp.Tool {
	return mcp.NewTool("fieldsync_sync",
		mcp.WithDescription("Drain the sync queue now. Does nothing while offline or when a sync is already running."),
	)
}

// deadLettersTool returns the fieldsync_dead_letters tool definition.
func deadLettersTool() mcp.Tool {
	return mcp.NewTool("fieldsync_dead_letters",
		mcp.WithDescription("List mutations that were rejected by the remote, exhausted their retries or were corrupt."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of entries to return (default: 50, max: 500)"),
		),
		mcp.WithBoolean("clear",
			mcp.Description("Delete all dead letters after listing them (default: false)"),
		),
	)
}

// listEntitiesTool returns the fieldsync_list_entities tool definition.
func listEntitiesTool() mcp.Tool {
	return mcp.NewTool("fieldsync_list_entities",
		mcp.WithDescription("List stored records of one type in capture order, optionally filtered by parent."),
		mcp.WithString("entity_type",
			mcp.Required(),
			mcp.Description("Record type, e.g. inspection or comment"),
		),
		mcp.WithString("parent_id",
			mcp.Description("Only return records attached to this parent"),
		),
	)
}

// saveEntityTool returns the fieldsync_save_entity tool definition.
func saveEntityTool() mcp.Tool {
	return mcp.NewTool("fieldsync_save_entity",
		mcp.WithDescription("Create or update a record locally and queue it for sync. Works offline."),
		mcp.WithString("entity_type",
			mcp.Required(),
			mcp.Description("Record type, e.g. inspection or comment"),
		),
		mcp.WithString("payload",
			mcp.Required(),
			mcp.Description("Record body as a JSON object"),
		),
		mcp.WithString("id",
			mcp.Description("Record id; generated when omitted"),
		),
		mcp.WithString("parent_id",
			mcp.Description("Parent record id"),
		),
	)
}
