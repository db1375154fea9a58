// Package fileops implements the file operation safety engine: the lifecycle
// of rename/move/delete operations against a library whose files are tracked
// in the structural index. A filesystem mutation and its index mutation either
// both succeed, or the filesystem is restored from backup.
package fileops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/vosskuhle/hondana/internal/apperr"
	"github.com/vosskuhle/hondana/internal/backup"
	"github.com/vosskuhle/hondana/internal/index"
	"github.com/vosskuhle/hondana/internal/models"
	"github.com/vosskuhle/hondana/internal/storage"
)

// EventFunc is called after every persisted status change of an operation.
type EventFunc func(op *models.Operation)

// Engine owns the operation state machine. All slow filesystem work (size
// estimation, mutation) runs on a semaphore-bounded pool injected at
// construction time; the backup manager bounds its own copies the same way.
type Engine struct {
	db         index.LibraryIndex
	store      storage.Provider
	backups    *backup.Manager
	sem        *semaphore.Weighted
	logger     *slog.Logger
	maxRetries int
	events     EventFunc
}

// NewEngine creates an Engine with the given worker bound for filesystem
// mutations.
func NewEngine(db index.LibraryIndex, store storage.Provider, backups *backup.Manager, workers int64, logger *slog.Logger) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		db:         db,
		store:      store,
		backups:    backups,
		sem:        semaphore.NewWeighted(workers),
		logger:     logger,
		maxRetries: 2,
	}
}

// OnEvent registers a callback invoked after operation status changes.
func (e *Engine) OnEvent(fn EventFunc) { e.events = fn }

func (e *Engine) publish(op *models.Operation) {
	if e.events != nil {
		e.events(op)
	}
}

// runOnPool executes fn on the worker pool and waits for it. The context only
// bounds the wait for a free worker: once fn starts it runs to completion,
// because a half-cancelled filesystem mutation is exactly what this engine
// exists to prevent.
func (e *Engine) runOnPool(ctx context.Context, fn func() error) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire worker: %w", err)
	}
	errCh := make(chan error, 1)
	go func() {
		defer e.sem.Release(1)
		errCh <- fn()
	}()
	return <-errCh
}

// CreateRequest is the caller's description of a new operation.
type CreateRequest struct {
	Kind       models.OperationKind  `json:"kind"`
	SourcePath string                `json:"source_path"`
	TargetPath string                `json:"target_path,omitempty"`
	Flags      models.OperationFlags `json:"flags"`
}

// Validate checks the structural shape of the request.
func (r CreateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Kind,
			validation.Required,
			validation.In(models.KindRename, models.KindMove, models.KindDelete)),
		validation.Field(&r.SourcePath, validation.Required, validation.By(absolutePath)),
		validation.Field(&r.TargetPath,
			validation.Required.When(r.Kind.RequiresTarget()).Error("cannot be blank for rename and move"),
			validation.By(absolutePath)),
	)
}

func absolutePath(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	if !filepath.IsAbs(s) {
		return errors.New("must be an absolute path")
	}
	return nil
}

// Create persists a new operation in pending status. Precondition violations
// (bad request shape, missing source, unusable target parent) fail the call
// outright; nothing is persisted, so callers can never proceed on a broken
// request.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*models.Operation, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid operation request: %w", err)
	}
	if !e.store.Exists(req.SourcePath) {
		return nil, fmt.Errorf("source path does not exist: %s", req.SourcePath)
	}
	if !e.store.Readable(req.SourcePath) {
		return nil, fmt.Errorf("source path is not readable: %s", req.SourcePath)
	}
	if req.Kind.RequiresTarget() {
		parent := filepath.Dir(req.TargetPath)
		if !e.store.IsDir(parent) {
			return nil, fmt.Errorf("target parent directory does not exist: %s", parent)
		}
		if !e.store.Writable(parent) {
			return nil, fmt.Errorf("target parent directory is not writable: %s", parent)
		}
	}

	op := &models.Operation{
		ID:         uuid.NewString(),
		Kind:       req.Kind,
		SourcePath: filepath.Clean(req.SourcePath),
		Status:     models.StatusPending,
		MaxRetries: e.maxRetries,
		Flags:      req.Flags,
		CreatedAt:  time.Now().UTC(),
	}
	if req.Kind.RequiresTarget() {
		op.TargetPath = filepath.Clean(req.TargetPath)
	}

	if err := e.db.InsertOperation(op); err != nil {
		return nil, err
	}
	e.logger.Info("operation created",
		slog.String("operation_id", op.ID),
		slog.String("kind", string(op.Kind)),
		slog.String("source", op.SourcePath))
	return op, nil
}

// Validate runs the read-only validation pass and moves the operation to
// validated or failed. A failed operation may be re-validated until its retry
// ceiling is reached; after that the caller must create a new operation.
func (e *Engine) Validate(ctx context.Context, id string) (*models.Operation, error) {
	op, err := e.db.GetOperation(id)
	if err != nil {
		return nil, err
	}

	switch op.Status {
	case models.StatusPending, models.StatusValidated:
	case models.StatusFailed:
		if op.RetryCount >= op.MaxRetries {
			return nil, fmt.Errorf("operation %s failed %d times and cannot be re-validated: %w",
				id, op.RetryCount, apperr.ErrInvalidState)
		}
		op.RetryCount++
	default:
		return nil, fmt.Errorf("operation %s is %s, cannot validate: %w", id, op.Status, apperr.ErrInvalidState)
	}

	res := e.runValidation(ctx, op)
	op.Validation = res
	now := time.Now().UTC()
	if res.Valid {
		op.Status = models.StatusValidated
		op.ValidatedAt = &now
		op.Error = ""
	} else {
		op.Status = models.StatusFailed
		op.Error = res.Errors[0]
	}
	if err := e.db.UpdateOperation(op); err != nil {
		return nil, err
	}

	e.logger.Info("operation validated",
		slog.String("operation_id", op.ID),
		slog.String("status", string(op.Status)),
		slog.String("risk", string(res.RiskLevel)),
		slog.Bool("requires_confirmation", res.RequiresConfirmation))
	e.publish(op)
	return op, nil
}

// Execute performs the filesystem mutation and the matching index rewrite.
// The operation must be validated; a validation snapshot that requires
// confirmation must be confirmed (or the operation created with force).
func (e *Engine) Execute(ctx context.Context, id string, confirmed bool) (*models.Operation, error) {
	op, err := e.db.GetOperation(id)
	if err != nil {
		return nil, err
	}

	switch op.Status {
	case models.StatusValidated:
	case models.StatusPending:
		return nil, fmt.Errorf("operation %s has not been validated: %w", id, apperr.ErrInvalidState)
	case models.StatusFailed:
		return nil, fmt.Errorf("operation %s already failed (%s): %w", id, op.Error, apperr.ErrInvalidState)
	default:
		return nil, fmt.Errorf("operation %s is %s, cannot execute: %w", id, op.Status, apperr.ErrInvalidState)
	}
	if op.Validation != nil && op.Validation.RequiresConfirmation && !confirmed && !op.Flags.Force {
		return nil, fmt.Errorf("operation %s: %w", id, apperr.ErrConfirmationRequired)
	}

	now := time.Now().UTC()
	op.Status = models.StatusInProgress
	op.StartedAt = &now
	if err := e.db.UpdateOperation(op); err != nil {
		return nil, err
	}
	e.publish(op)

	if op.Flags.CreateBackup {
		bp, err := e.backups.Create(ctx, op)
		if err != nil {
			return e.fail(ctx, op, fmt.Errorf("create backup: %w", err))
		}
		op.BackupPath = bp
		// Persisted before the mutation so a crash in between still leaves a
		// usable backup path on record.
		if err := e.db.UpdateOperation(op); err != nil {
			return e.fail(ctx, op, err)
		}
	}

	// Snapshot the affected rows before mutating anything. Both the index
	// rewrite and any later rollback work from the path recorded on the
	// operation, not a re-discovered one, so paths changed since validation
	// cannot redirect the blast radius.
	snap, err := e.snapshotRecords(op.SourcePath)
	if err != nil {
		return e.fail(ctx, op, fmt.Errorf("snapshot affected records: %w", err))
	}
	op.Snapshot = snap
	if err := e.db.UpdateOperation(op); err != nil {
		return e.fail(ctx, op, err)
	}

	if err := e.runOnPool(ctx, func() error { return e.mutate(op) }); err != nil {
		return e.fail(ctx, op, err)
	}

	if err := e.applyIndex(op); err != nil {
		return e.fail(ctx, op, fmt.Errorf("update index: %w", err))
	}

	if op.Flags.VerifyIndex {
		if err := e.verifyIndex(op); err != nil {
			return e.fail(ctx, op, err)
		}
	}

	done := time.Now().UTC()
	op.Status = models.StatusCompleted
	op.CompletedAt = &done
	if err := e.db.UpdateOperation(op); err != nil {
		return nil, err
	}
	e.logger.Info("operation completed",
		slog.String("operation_id", op.ID),
		slog.String("kind", string(op.Kind)),
		slog.Duration("took", done.Sub(now)))
	e.publish(op)
	return op, nil
}

// mutate performs the filesystem side of op.
func (e *Engine) mutate(op *models.Operation) error {
	switch op.Kind {
	case models.KindDelete:
		return e.store.RemoveAll(op.SourcePath)
	case models.KindRename, models.KindMove:
		return e.store.Move(op.SourcePath, op.TargetPath)
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

// applyIndex performs the structural consequence of op inside a single
// transaction: delete removes the matched rows; rename/move rewrites every
// stored path under the old prefix to the same suffix under the new one.
func (e *Engine) applyIndex(op *models.Operation) error {
	switch op.Kind {
	case models.KindDelete:
		_, _, err := e.db.DeleteUnderPath(op.SourcePath)
		return err
	case models.KindRename, models.KindMove:
		_, err := e.db.RewritePathPrefix(op.SourcePath, op.TargetPath)
		return err
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

// verifyIndex confirms no rows still reference the old source path after a
// committed operation.
func (e *Engine) verifyIndex(op *models.Operation) error {
	n, err := e.db.CountUnderPath(op.SourcePath)
	if err != nil {
		return fmt.Errorf("verify index: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("index inconsistency: %d records still reference %s", n, op.SourcePath)
	}
	return nil
}

// fail marks op failed with cause and, when a backup exists, attempts
// automatic restoration. A failed automatic rollback is appended to the error
// detail together with the preserved backup path; it never promotes the
// operation out of failed.
func (e *Engine) fail(ctx context.Context, op *models.Operation, cause error) (*models.Operation, error) {
	op.Status = models.StatusFailed
	op.Error = cause.Error()

	if op.BackupPath != "" {
		if rbErr := e.restore(ctx, op); rbErr != nil {
			op.Error = fmt.Sprintf("%s (automatic rollback failed: %s; backup preserved at %s)",
				cause.Error(), rbErr.Error(), op.BackupPath)
			e.logger.Error("automatic rollback failed",
				slog.String("operation_id", op.ID),
				slog.String("backup_path", op.BackupPath),
				slog.String("error", rbErr.Error()))
		} else {
			e.logger.Info("automatic rollback succeeded", slog.String("operation_id", op.ID))
		}
	}

	if upErr := e.db.UpdateOperation(op); upErr != nil {
		e.logger.Error("persist failed operation",
			slog.String("operation_id", op.ID),
			slog.String("error", upErr.Error()))
	}
	e.publish(op)
	return op, cause
}

// restore brings back both the filesystem (from backup) and the index rows
// (from the pre-operation snapshot).
func (e *Engine) restore(ctx context.Context, op *models.Operation) error {
	if err := e.backups.Restore(ctx, op); err != nil {
		return err
	}
	return e.db.RestoreSnapshot(op.Snapshot)
}

// Rollback reverts an operation that carries a backup, independent of its
// current status; a user may revert an operation that completed cleanly.
func (e *Engine) Rollback(ctx context.Context, id string) (*models.Operation, error) {
	op, err := e.db.GetOperation(id)
	if err != nil {
		return nil, err
	}
	if op.BackupPath == "" {
		return nil, fmt.Errorf("operation %s: %w", id, apperr.ErrNoBackup)
	}

	if err := e.runOnPool(ctx, func() error { return e.restore(ctx, op) }); err != nil {
		if op.Error != "" {
			op.Error = fmt.Sprintf("%s; rollback failed: %s", op.Error, err.Error())
		} else {
			op.Error = fmt.Sprintf("rollback failed: %s", err.Error())
		}
		op.Status = models.StatusFailed
		if upErr := e.db.UpdateOperation(op); upErr != nil {
			e.logger.Error("persist rollback failure",
				slog.String("operation_id", op.ID),
				slog.String("error", upErr.Error()))
		}
		e.publish(op)
		return op, fmt.Errorf("rollback operation %s: %w", id, err)
	}

	now := time.Now().UTC()
	op.Status = models.StatusRolledBack
	op.CompletedAt = &now
	if err := e.db.UpdateOperation(op); err != nil {
		return nil, err
	}
	e.logger.Info("operation rolled back", slog.String("operation_id", op.ID))
	e.publish(op)
	return op, nil
}

// Get returns a single operation.
func (e *Engine) Get(_ context.Context, id string) (*models.Operation, error) {
	return e.db.GetOperation(id)
}

// List returns paginated operations, optionally filtered by status and kind.
func (e *Engine) List(_ context.Context, status, kind string, limit, offset int) ([]models.Operation, int, error) {
	return e.db.ListOperations(status, kind, limit, offset)
}

// CleanupOldOperations deletes terminal operations older than maxAge together
// with their on-disk backups, and returns how many were removed.
func (e *Engine) CleanupOldOperations(_ context.Context, maxAge time.Duration) (int, error) {
	purged, err := e.db.PurgeOperationsBefore(time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	for _, op := range purged {
		if op.BackupPath == "" {
			continue
		}
		if err := e.backups.Remove(op.ID); err != nil {
			e.logger.Warn("remove old backup",
				slog.String("operation_id", op.ID),
				slog.String("error", err.Error()))
		}
	}
	if len(purged) > 0 {
		e.logger.Info("retention sweep", slog.Int("removed", len(purged)))
	}
	return len(purged), nil
}

func (e *Engine) snapshotRecords(path string) (*models.RecordSnapshot, error) {
	series, err := e.db.SeriesUnderPath(path)
	if err != nil {
		return nil, err
	}
	chapters, err := e.db.ChaptersUnderPath(path)
	if err != nil {
		return nil, err
	}
	return &models.RecordSnapshot{Series: series, Chapters: chapters}, nil
}
