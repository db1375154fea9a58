package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vosskuhle/hondana/internal/apperr"
	"github.com/vosskuhle/hondana/internal/models"
)

const operationColumns = `id, kind, source_path, target_path, status, backup_path, error,
	retry_count, max_retries, flags, validation, snapshot,
	created_at, validated_at, started_at, completed_at`

// InsertOperation persists a freshly created operation row.
func (db *DB) InsertOperation(op *models.Operation) error {
	_, err := db.conn.Exec(`
		INSERT INTO operations (`+operationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		op.ID, string(op.Kind), op.SourcePath, op.TargetPath, string(op.Status),
		op.BackupPath, op.Error, op.RetryCount, op.MaxRetries,
		encodeJSON(op.Flags), encodeJSONPtr(op.Validation), encodeJSONPtr(op.Snapshot),
		op.CreatedAt, nullTime(op.ValidatedAt), nullTime(op.StartedAt), nullTime(op.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("index: insert operation: %w", err)
	}
	return nil
}

// UpdateOperation rewrites the mutable fields of an operation row.
func (db *DB) UpdateOperation(op *models.Operation) error {
	res, err := db.conn.Exec(`
		UPDATE operations SET
			status       = ?,
			backup_path  = ?,
			error        = ?,
			retry_count  = ?,
			validation   = ?,
			snapshot     = ?,
			validated_at = ?,
			started_at   = ?,
			completed_at = ?
		WHERE id = ?
	`,
		string(op.Status), op.BackupPath, op.Error, op.RetryCount,
		encodeJSONPtr(op.Validation), encodeJSONPtr(op.Snapshot),
		nullTime(op.ValidatedAt), nullTime(op.StartedAt), nullTime(op.CompletedAt),
		op.ID,
	)
	if err != nil {
		return fmt.Errorf("index: update operation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// GetOperation returns a single operation by id.
func (db *DB) GetOperation(id string) (*models.Operation, error) {
	row := db.conn.QueryRow(`SELECT `+operationColumns+` FROM operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	return op, err
}

// ListOperations returns paginated operations, newest first, optionally
// filtered by status and kind.
func (db *DB) ListOperations(status, kind string, limit, offset int) ([]models.Operation, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	where := `WHERE 1=1`
	args := []any{}
	if status != "" {
		where += ` AND status = ?`
		args = append(args, status)
	}
	if kind != "" {
		where += ` AND kind = ?`
		args = append(args, kind)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM operations `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count operations: %w", err)
	}

	rows, err := db.conn.Query(
		`SELECT `+operationColumns+` FROM operations `+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list operations: %w", err)
	}
	defer rows.Close()

	var out []models.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *op)
	}
	return out, total, rows.Err()
}

// PurgeOperationsBefore deletes terminal operations created before cutoff and
// returns the removed rows so the caller can clean up their backups.
func (db *DB) PurgeOperationsBefore(cutoff time.Time) ([]models.Operation, error) {
	const terminal = `status IN ('completed', 'failed', 'rolled_back')`

	rows, err := db.conn.Query(
		`SELECT `+operationColumns+` FROM operations WHERE `+terminal+` AND created_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("index: purge query: %w", err)
	}
	var purged []models.Operation
	for rows.Next() {
		op, scanErr := scanOperation(rows)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		purged = append(purged, *op)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(purged) == 0 {
		return nil, nil
	}
	if _, err := db.conn.Exec(`DELETE FROM operations WHERE `+terminal+` AND created_at < ?`, cutoff); err != nil {
		return nil, fmt.Errorf("index: purge delete: %w", err)
	}
	return purged, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*models.Operation, error) {
	var (
		op                               models.Operation
		kind, status                     string
		flagsJSON, validJSON, snapJSON   string
		validatedAt, startedAt, doneAt   sql.NullTime
	)
	err := row.Scan(
		&op.ID, &kind, &op.SourcePath, &op.TargetPath, &status, &op.BackupPath, &op.Error,
		&op.RetryCount, &op.MaxRetries, &flagsJSON, &validJSON, &snapJSON,
		&op.CreatedAt, &validatedAt, &startedAt, &doneAt,
	)
	if err != nil {
		return nil, err
	}
	op.Kind = models.OperationKind(kind)
	op.Status = models.OperationStatus(status)
	if flagsJSON != "" {
		if err := json.Unmarshal([]byte(flagsJSON), &op.Flags); err != nil {
			return nil, fmt.Errorf("index: decode flags: %w", err)
		}
	}
	if validJSON != "" {
		op.Validation = &models.ValidationResult{}
		if err := json.Unmarshal([]byte(validJSON), op.Validation); err != nil {
			return nil, fmt.Errorf("index: decode validation: %w", err)
		}
	}
	if snapJSON != "" {
		op.Snapshot = &models.RecordSnapshot{}
		if err := json.Unmarshal([]byte(snapJSON), op.Snapshot); err != nil {
			return nil, fmt.Errorf("index: decode snapshot: %w", err)
		}
	}
	op.ValidatedAt = timePtr(validatedAt)
	op.StartedAt = timePtr(startedAt)
	op.CompletedAt = timePtr(doneAt)
	return &op, nil
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func encodeJSONPtr[T any](v *T) string {
	if v == nil {
		return ""
	}
	return encodeJSON(v)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
