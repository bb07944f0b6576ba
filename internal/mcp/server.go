// Package mcp provides the Model Context Protocol server for fieldsync.
//
// It exposes the offline store and sync engine to MCP-compatible clients
// through the same offline.Service the CLI uses, so both surfaces see the
// same queue and connectivity state.
package mcp

import (
	"context"

	"github.com/asteroid-belt/fieldsync/internal/offline"
	"github.com/asteroid-belt/fieldsync/internal/telemetry"
	"github.com/asteroid-belt/fieldsync/pkg/version"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps the MCP server with fieldsync-specific functionality.
type Server struct {
	svc       *offline.Service
	server    *server.MCPServer
	telemetry telemetry.Client
}

// NewServer creates a new MCP server instance. svc must be initialized.
func NewServer(svc *offline.Service, tc telemetry.Client) *Server {
	s := &Server{
		svc:       svc,
		telemetry: tc,
	}

	s.server = server.NewMCPServer(
		"fieldsync",
		version.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
	)

	s.registerTools()
	s.registerResources()

	return s
}

// Serve starts the MCP server over stdio.
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.server)
}

// registerTools adds all fieldsync tools to the MCP server.
func (s *Server) registerTools() {
	// Sync state
	s.server.AddTool(statusTool(), s.handleStatus)
	s.server.AddTool(queueTool(), s.handleQueue)
	s.server.AddTool(syncTool(), s.handleSync)
	s.server.AddTool(deadLettersTool(), s.handleDeadLetters)

	// Records
	s.server.AddTool(listEntitiesTool(), s.handleListEntities)
	s.server.AddTool(saveEntityTool(), s.handleSaveEntity)
}

// registerResources adds all fieldsync resources to the MCP server.
func (s *Server) registerResources() {
	s.server.AddResource(
		mcp.NewResource(
			resourcePrefix+"queue",
			"Sync queue",
			mcp.WithResourceDescription("Pending mutations in the order they will be sent"),
			mcp.WithMIMEType("application/json"),
		),
		s.handleQueueResource,
	)

	s.server.AddResourceTemplate(
		mcp.NewResourceTemplate(
			resourcePrefix+"entity/{type}/{id}",
			"Entity",
			mcp.WithTemplateDescription("A stored record including its offline flag and payload"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleEntityResource,
	)
}
