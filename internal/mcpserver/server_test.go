package mcpserver

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vosskuhle/hondana/internal/backup"
	"github.com/vosskuhle/hondana/internal/fileops"
	"github.com/vosskuhle/hondana/internal/index"
	"github.com/vosskuhle/hondana/internal/models"
	"github.com/vosskuhle/hondana/internal/testutil"
)

func testServer(t *testing.T) (*Server, *index.DB, string) {
	t.Helper()

	libDir, store := testutil.TestLibrary(t)
	db := testutil.TestDB(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bm, err := backup.NewManager(filepath.Join(t.TempDir(), "backups"), 1, store, logger)
	if err != nil {
		t.Fatal(err)
	}
	eng := fileops.NewEngine(db, store, bm, 1, logger)
	return New(eng, db), db, libDir
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go doesn't expose a direct "call tool" test helper, so we call the
	// handler functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_series":
		result, err = srv.listSeries(ctx, req)
	case "list_chapters":
		result, err = srv.listChapters(ctx, req)
	case "list_operations":
		result, err = srv.listOperations(ctx, req)
	case "get_operation":
		result, err = srv.getOperation(ctx, req)
	case "plan_operation":
		result, err = srv.planOperation(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListSeriesAndChapters(t *testing.T) {
	srv, db, root := testServer(t)
	sid, err := db.UpsertSeries(models.Series{Title: "Berserk", Path: filepath.Join(root, "Berserk")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertChapter(models.Chapter{
		SeriesID: sid, Path: filepath.Join(root, "Berserk", "v1.cbz"),
	}); err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "list_series", map[string]interface{}{})
	if text := resultText(r); !strings.Contains(text, "Berserk") {
		t.Errorf("list_series = %q, missing series", text)
	}

	r = callTool(t, srv, "list_chapters", map[string]interface{}{"series_id": float64(sid)})
	if text := resultText(r); !strings.Contains(text, "v1.cbz") {
		t.Errorf("list_chapters = %q, missing chapter", text)
	}
}

func TestPlanOperationValidatesWithoutMutating(t *testing.T) {
	srv, _, root := testServer(t)
	src := filepath.Join(root, "Berserk", "v1.cbz")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("pages"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "plan_operation", map[string]interface{}{
		"kind":        "delete",
		"source_path": src,
	})
	if r.IsError {
		t.Fatalf("plan_operation error: %s", resultText(r))
	}
	text := resultText(r)
	if !strings.Contains(text, `"status": "validated"`) {
		t.Errorf("plan result not validated: %q", text)
	}
	if !strings.Contains(text, `"risk_level"`) {
		t.Errorf("plan result missing risk level: %q", text)
	}
	// Planning never touches the filesystem.
	if _, err := os.Stat(src); err != nil {
		t.Errorf("source mutated by planning: %v", err)
	}
}

func TestPlanOperationMissingSource(t *testing.T) {
	srv, _, root := testServer(t)
	r := callTool(t, srv, "plan_operation", map[string]interface{}{
		"kind":        "delete",
		"source_path": filepath.Join(root, "nope"),
	})
	if !r.IsError {
		t.Error("expected error for missing source")
	}
}

func TestGetOperationMissing(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "get_operation", map[string]interface{}{"id": "no-such-id"})
	if !r.IsError {
		t.Error("expected error for unknown operation")
	}
}

func TestListOperationsAfterPlanning(t *testing.T) {
	srv, _, root := testServer(t)
	src := filepath.Join(root, "A.cbz")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	callTool(t, srv, "plan_operation", map[string]interface{}{
		"kind": "delete", "source_path": src,
	})

	r := callTool(t, srv, "list_operations", map[string]interface{}{"status": "validated"})
	if text := resultText(r); !strings.Contains(text, `"total": 1`) {
		t.Errorf("list_operations = %q, want one validated operation", text)
	}
}
