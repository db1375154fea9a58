// Package backup copies operation sources aside before destructive mutations
// and restores them on rollback.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vosskuhle/hondana/internal/apperr"
	"github.com/vosskuhle/hondana/internal/models"
	"github.com/vosskuhle/hondana/internal/storage"
)

// Manager creates and restores per-operation backups under a dedicated root.
// Copy work is bounded by a small semaphore so large subtrees cannot saturate
// the process; callers block until a worker slot is free.
type Manager struct {
	root   string
	store  storage.Provider
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewManager creates a Manager rooted at dir with the given worker bound.
// The directory is created if missing.
func NewManager(dir string, workers int64, store storage.Provider, logger *slog.Logger) (*Manager, error) {
	if workers < 1 {
		workers = 1
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("backup: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("backup: create root: %w", err)
	}
	return &Manager{
		root:   abs,
		store:  store,
		sem:    semaphore.NewWeighted(workers),
		logger: logger,
	}, nil
}

// Root returns the absolute backup root.
func (m *Manager) Root() string { return m.root }

// Create copies op's source into a backup directory unique to the operation
// id and the current wall clock, and returns that directory. Symlinks are
// preserved.
func (m *Manager) Create(ctx context.Context, op *models.Operation) (string, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("backup: acquire worker: %w", err)
	}
	defer m.sem.Release(1)

	dir := filepath.Join(m.root, fmt.Sprintf("%s-%d", op.ID, time.Now().Unix()))
	dst := filepath.Join(dir, filepath.Base(op.SourcePath))

	start := time.Now()
	if err := m.store.CopyTree(op.SourcePath, dst); err != nil {
		// A half-written backup is worse than none.
		os.RemoveAll(dir)
		return "", fmt.Errorf("backup: copy %s: %w", op.SourcePath, err)
	}
	m.logger.Info("backup created",
		slog.String("operation_id", op.ID),
		slog.String("path", dir),
		slog.Duration("took", time.Since(start)))
	return dir, nil
}

// Restore brings the filesystem back to its pre-operation state:
//   - delete: copy the backup back to the source path
//   - rename/move: move the target back to the source; if the target is gone
//     (the mutation failed partway), fall back to the backup copy
//
// A missing backup directory is a hard error, never a silent no-op.
func (m *Manager) Restore(ctx context.Context, op *models.Operation) error {
	if op.BackupPath == "" {
		return apperr.ErrNoBackup
	}
	entry := filepath.Join(op.BackupPath, filepath.Base(op.SourcePath))
	if _, err := os.Lstat(entry); err != nil {
		return fmt.Errorf("backup: missing backup at %s: %w", op.BackupPath, apperr.ErrNoBackup)
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("backup: acquire worker: %w", err)
	}
	defer m.sem.Release(1)

	switch op.Kind {
	case models.KindDelete:
		return m.copyBack(entry, op.SourcePath)

	case models.KindRename, models.KindMove:
		if m.store.Exists(op.TargetPath) {
			if err := m.store.Move(op.TargetPath, op.SourcePath); err != nil {
				return fmt.Errorf("backup: move back: %w", err)
			}
			return nil
		}
		return m.copyBack(entry, op.SourcePath)

	default:
		return fmt.Errorf("backup: unknown operation kind %q", op.Kind)
	}
}

func (m *Manager) copyBack(entry, source string) error {
	if err := os.RemoveAll(source); err != nil {
		return fmt.Errorf("backup: clear source before restore: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(source), 0o755); err != nil {
		return fmt.Errorf("backup: mkdir: %w", err)
	}
	if err := m.store.CopyTree(entry, source); err != nil {
		return fmt.Errorf("backup: restore copy: %w", err)
	}
	return nil
}

// Remove deletes every backup directory belonging to the operation id.
func (m *Manager) Remove(opID string) error {
	matches, err := filepath.Glob(filepath.Join(m.root, opID+"-*"))
	if err != nil {
		return fmt.Errorf("backup: glob: %w", err)
	}
	for _, dir := range matches {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("backup: remove %s: %w", dir, err)
		}
	}
	return nil
}
