// Package mcp implements a read-only MCP (Model Context Protocol) server
// over a journal. Agents can list entries, read unlocked ones and check
// seal integrity; nothing is ever modified.
package mcp

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/forest6511/timelock/pkg/journal"
)

// Version reported to MCP clients.
const Version = "0.1.0"

// Auditor records tool calls that touch entry content.
type Auditor interface {
	LogSuccess(op, source, entryID string) error
	LogDenied(op, source, entryID string, reason string) error
}

// Server represents the MCP server for a journal.
type Server struct {
	server  *mcp.Server
	store   *journal.Store
	auditor Auditor
	logger  *zap.Logger
}

// ServerOptions contains configuration options for the MCP server.
type ServerOptions struct {
	// Store is the loaded journal to serve. Required.
	Store *journal.Store

	// Auditor is optional.
	Auditor Auditor

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// NewServer creates a new MCP server instance.
func NewServer(opts *ServerOptions) (*Server, error) {
	if opts == nil || opts.Store == nil {
		return nil, errors.New("mcp: a journal store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "timelock",
			Version: Version,
		},
		nil,
	)

	s := &Server{
		server:  mcpServer,
		store:   opts.Store,
		auditor: opts.Auditor,
		logger:  logger,
	}
	s.registerTools()
	return s, nil
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "journal_list",
		Description: "List journal entries, most recent first. Returns ids, titles, timestamps and sealed/locked flags. Does NOT return entry content.",
	}, s.handleJournalList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "journal_read",
		Description: "Read one journal entry by id or unique id prefix. Locked entries are refused while PIN protection is enabled.",
	}, s.handleJournalRead)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "journal_verify",
		Description: "Recompute the checksum of every sealed entry and report entries whose stored checksum no longer matches.",
	}, s.handleJournalVerify)
}

// Run starts the MCP server using stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Debug("mcp server starting", zap.Int("entries", s.store.Len()))
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
