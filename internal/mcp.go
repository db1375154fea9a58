package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/vosskuhle/hondana/internal/backup"
	"github.com/vosskuhle/hondana/internal/fileops"
	"github.com/vosskuhle/hondana/internal/index"
	"github.com/vosskuhle/hondana/internal/mcpserver"
	"github.com/vosskuhle/hondana/internal/storage"
)

// RunMCP starts the MCP server on stdin/stdout. Logs go to stderr so they do
// not corrupt the protocol stream.
func RunMCP(_ context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: cfg.App.LogLevel,
		}))
	}
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Library.Path, 0o755); err != nil {
		return fmt.Errorf("create library dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Library.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	defer db.Close()

	backups, err := backup.NewManager(cfg.Backup.Root, cfg.Backup.Workers, store, logger)
	if err != nil {
		return fmt.Errorf("init backup manager: %w", err)
	}
	eng := fileops.NewEngine(db, store, backups, cfg.Engine.Workers, logger)

	logger.Info("MCP server starting on stdio", slog.String("library_path", cfg.Library.Path))
	return mcpserver.New(eng, db).ServeStdio()
}
