// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes read-only library tools plus operation planning for LLM integration
// via stdio transport. Executing or rolling back operations stays on the REST
// API, where confirmation semantics are enforced.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vosskuhle/hondana/internal/fileops"
	"github.com/vosskuhle/hondana/internal/index"
	"github.com/vosskuhle/hondana/internal/models"
)

// Server wraps the MCP server with hondana tools.
type Server struct {
	mcp *server.MCPServer
	eng *fileops.Engine
	db  index.LibraryIndex
}

// New creates a new MCP server with all hondana tools registered.
func New(eng *fileops.Engine, db index.LibraryIndex) *Server {
	s := &Server{eng: eng, db: db}

	s.mcp = server.NewMCPServer(
		"Hondana",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_series",
		mcp.WithDescription("List the series tracked in the library index."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of series to return (default 50)")),
	), s.listSeries)

	s.mcp.AddTool(mcp.NewTool("list_chapters",
		mcp.WithDescription("List the chapters of a series by its numeric id."),
		mcp.WithNumber("series_id", mcp.Required(), mcp.Description("Series id from list_series")),
	), s.listChapters)

	s.mcp.AddTool(mcp.NewTool("list_operations",
		mcp.WithDescription("List tracked file operations, newest first, optionally filtered by status."),
		mcp.WithString("status", mcp.Description("Optional status filter (pending, validated, in_progress, completed, failed, rolled_back)")),
	), s.listOperations)

	s.mcp.AddTool(mcp.NewTool("get_operation",
		mcp.WithDescription("Read a single file operation including its validation result."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Operation id")),
	), s.getOperation)

	s.mcp.AddTool(mcp.NewTool("plan_operation",
		mcp.WithDescription("Create and validate a file operation without executing it. "+
			"Returns the validation result with risk level, affected records and conflicts. "+
			"Execution requires explicit user confirmation through the REST API."),
		mcp.WithString("kind", mcp.Required(), mcp.Description("One of: rename, move, delete")),
		mcp.WithString("source_path", mcp.Required(), mcp.Description("Absolute path to rename, move or delete")),
		mcp.WithString("target_path", mcp.Description("Absolute destination path (rename and move only)")),
		mcp.WithBoolean("create_backup", mcp.Description("Copy the source aside before mutating (enables rollback)")),
	), s.planOperation)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) listSeries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 50)
	series, total, err := s.db.ListSeries(limit, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(map[string]any{"series": series, "total": total}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listChapters(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("series_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	chapters, err := s.db.ListChapters(int64(id))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(chapters, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listOperations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := req.GetString("status", "")
	ops, total, err := s.db.ListOperations(status, "", 50, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(map[string]any{"operations": ops, "total": total}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getOperation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	op, err := s.db.GetOperation(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	out, _ := json.MarshalIndent(op, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) planOperation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	source, err := req.RequireString("source_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	op, err := s.eng.Create(ctx, fileops.CreateRequest{
		Kind:       models.OperationKind(kind),
		SourcePath: source,
		TargetPath: req.GetString("target_path", ""),
		Flags: models.OperationFlags{
			CreateBackup: req.GetBool("create_backup", false),
		},
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	op, err = s.eng.Validate(ctx, op.ID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(op, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
