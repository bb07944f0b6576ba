package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/asteroid-belt/fieldsync/internal/connectivity"
	"github.com/asteroid-belt/fieldsync/internal/db"
	"github.com/asteroid-belt/fieldsync/internal/models"
	"github.com/asteroid-belt/fieldsync/internal/offline"
	"github.com/mark3labs/mcp-go/mcp"
)

// Pagination constants for MCP tool handlers.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// parseLimit extracts and validates a limit parameter from MCP tool arguments.
// Returns defaultVal if not present, caps at maxVal if exceeded.
func parseLimit(arguments map[string]interface{}, defaultVal, maxVal int) int {
	if l, ok := arguments["limit"].(float64); ok && l > 0 {
		limit := int(l)
		if limit > maxVal {
			return maxVal
		}
		return limit
	}
	return defaultVal
}

// trackToolCall is a helper to track MCP tool invocations.
func (s *Server) trackToolCall(toolName string, start time.Time, success bool) {
	if s.telemetry != nil {
		s.telemetry.TrackMCPToolCalled(toolName, time.Since(start).Milliseconds(), success)
	}
}

// StatusResponse combines connectivity state and store statistics.
type StatusResponse struct {
	connectivity.Status
	Entities    map[string]int64 `json:"entities"`
	Photos      int64            `json:"photos"`
	DeadLetters int64            `json:"dead_letters"`
}

// QueueResponse is a page of the sync queue.
type QueueResponse struct {
	Total int                    `json:"total"`
	Items []models.SyncQueueItem `json:"items"`
}

// DeadLettersResponse is a page of dead letters.
type DeadLettersResponse struct {
	Total   int                 `json:"total"`
	Items   []models.DeadLetter `json:"items"`
	Cleared int64               `json:"cleared,omitempty"`
}

func jsonResult(toolName string, s *Server, start time.Time, v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		s.trackToolCall(toolName, start, false)
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	s.trackToolCall(toolName, start, true)
	return mcp.NewToolResultText(string(data)), nil
}

// handleStatus handles the fieldsync_status tool.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()

	st, err := s.svc.GetConnectivityStatus()
	if err != nil {
		s.trackToolCall("fieldsync_status", start, false)
		return mcp.NewToolResultError(fmt.Sprintf("failed to get status: %v", err)), nil
	}

	resp := StatusResponse{Status: st, Entities: map[string]int64{}}
	if stats, err := s.svc.Stats(); err == nil {
		resp.Entities = stats.Entities
		resp.Photos = stats.Photos
		resp.DeadLetters = stats.DeadLetters
	}

	return jsonResult("fieldsync_status", s, start, resp)
}

// handleQueue handles the fieldsync_queue tool.
func (s *Server) handleQueue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	limit := parseLimit(req.Params.Arguments, defaultListLimit, maxListLimit)

	items, err := s.svc.GetSyncQueue()
	if err != nil {
		s.trackToolCall("fieldsync_queue", start, false)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list queue: %v", err)), nil
	}

	resp := QueueResponse{Total: len(items), Items: items}
	if len(items) > limit {
		resp.Items = items[:limit]
	}
	if resp.Items == nil {
		resp.Items = []models.SyncQueueItem{}
	}
	return jsonResult("fieldsync_queue", s, start, resp)
}

// handleSync handles the fieldsync_sync tool.
func (s *Server) handleSync(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()

	res, err := s.svc.ForceSync(ctx)
	if err != nil {
		s.trackToolCall("fieldsync_sync", start, false)
		return mcp.NewToolResultError(fmt.Sprintf("sync failed: %v", err)), nil
	}
	return jsonResult("fieldsync_sync", s, start, res)
}

// handleDeadLetters handles the fieldsync_dead_letters tool.
func (s *Server) handleDeadLetters(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	limit := parseLimit(req.Params.Arguments, defaultListLimit, maxListLimit)
	clearAll, _ := req.Params.Arguments["clear"].(bool)

	items, err := s.svc.GetDeadLetters()
	if err != nil {
		s.trackToolCall("fieldsync_dead_letters", start, false)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list dead letters: %v", err)), nil
	}

	resp := DeadLettersResponse{Total: len(items), Items: items}
	if len(items) > limit {
		resp.Items = items[:limit]
	}
	if resp.Items == nil {
		resp.Items = []models.DeadLetter{}
	}

	if clearAll {
		n, err := s.svc.ClearDeadLetters()
		if err != nil {
			s.trackToolCall("fieldsync_dead_letters", start, false)
			return mcp.NewToolResultError(fmt.Sprintf("failed to clear dead letters: %v", err)), nil
		}
		resp.Cleared = n
	}
	return jsonResult("fieldsync_dead_letters", s, start, resp)
}

// handleListEntities handles the fieldsync_list_entities tool.
func (s *Server) handleListEntities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()

	entityType, ok := req.Params.Arguments["entity_type"].(string)
	if !ok || entityType == "" {
		s.trackToolCall("fieldsync_list_entities", start, false)
		return mcp.NewToolResultError("entity_type parameter is required"), nil
	}
	parentID, _ := req.Params.Arguments["parent_id"].(string)

	var (
		entities []models.Entity
		err      error
	)
	if parentID != "" {
		entities, err = s.svc.GetEntitiesByParent(entityType, parentID)
	} else {
		entities, err = s.svc.GetEntities(entityType)
	}
	if err != nil {
		s.trackToolCall("fieldsync_list_entities", start, false)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list entities: %v", err)), nil
	}
	if entities == nil {
		entities = []models.Entity{}
	}
	return jsonResult("fieldsync_list_entities", s, start, entities)
}

// handleSaveEntity handles the fieldsync_save_entity tool.
func (s *Server) handleSaveEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()

	entityType, ok := req.Params.Arguments["entity_type"].(string)
	if !ok || entityType == "" {
		s.trackToolCall("fieldsync_save_entity", start, false)
		return mcp.NewToolResultError("entity_type parameter is required"), nil
	}
	payload, ok := req.Params.Arguments["payload"].(string)
	if !ok || payload == "" {
		s.trackToolCall("fieldsync_save_entity", start, false)
		return mcp.NewToolResultError("payload parameter is required"), nil
	}
	id, _ := req.Params.Arguments["id"].(string)
	parentID, _ := req.Params.Arguments["parent_id"].(string)

	isUpdate := false
	if id != "" {
		_, err := s.findEntity(entityType, id)
		isUpdate = err == nil
	}

	entity, err := s.svc.SaveEntity(ctx, entityType, offline.SaveInput{
		ID:       id,
		ParentID: parentID,
		Payload:  json.RawMessage(payload),
	})
	if err != nil {
		s.trackToolCall("fieldsync_save_entity", start, false)
		return mcp.NewToolResultError(fmt.Sprintf("failed to save entity: %v", err)), nil
	}

	if s.telemetry != nil {
		s.telemetry.TrackEntitySaved(entityType, isUpdate)
	}
	return jsonResult("fieldsync_save_entity", s, start, entity)
}

// findEntity looks up one entity by scanning its type partition.
func (s *Server) findEntity(entityType, id string) (*models.Entity, error) {
	entities, err := s.svc.GetEntities(entityType)
	if err != nil {
		return nil, err
	}
	for i := range entities {
		if entities[i].ID == id {
			return &entities[i], nil
		}
	}
	return nil, fmt.Errorf("%s/%s: %w", entityType, id, db.ErrNotFound)
}
