package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// resourcePrefix is the URI scheme for fieldsync resources.
const resourcePrefix = "fieldsync://"

// parseEntityURI extracts type and id from fieldsync://entity/{type}/{id}.
func parseEntityURI(uri string) (entityType, id string, err error) {
	if !strings.HasPrefix(uri, resourcePrefix+"entity/") {
		return "", "", fmt.Errorf("invalid URI scheme: %s", uri)
	}

	path := strings.TrimPrefix(uri, resourcePrefix+"entity/")
	entityType, id, ok := strings.Cut(path, "/")
	if !ok || entityType == "" || id == "" {
		return "", "", fmt.Errorf("expected entity/{type}/{id} in URI: %s", uri)
	}
	return entityType, id, nil
}

// handleEntityResource handles fieldsync://entity/{type}/{id} resources.
func (s *Server) handleEntityResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	entityType, id, err := parseEntityURI(req.Params.URI)
	if err != nil {
		return nil, err
	}

	entity, err := s.findEntity(entityType, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// handleQueueResource handles the fieldsync://queue resource.
func (s *Server) handleQueueResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	items, err := s.svc.GetSyncQueue()
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}

	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal queue: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
