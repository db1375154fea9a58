// Package models defines the domain types for hondana.
package models

import "time"

// OperationKind is the closed set of filesystem mutations the engine performs.
type OperationKind string

const (
	KindRename OperationKind = "rename"
	KindMove   OperationKind = "move"
	KindDelete OperationKind = "delete"
)

// Valid reports whether k is one of the three known kinds.
func (k OperationKind) Valid() bool {
	switch k {
	case KindRename, KindMove, KindDelete:
		return true
	}
	return false
}

// RequiresTarget reports whether operations of this kind need a target path.
func (k OperationKind) RequiresTarget() bool {
	return k == KindRename || k == KindMove
}

// OperationStatus is the lifecycle state of an operation.
type OperationStatus string

const (
	StatusPending    OperationStatus = "pending"
	StatusValidated  OperationStatus = "validated"
	StatusInProgress OperationStatus = "in_progress"
	StatusCompleted  OperationStatus = "completed"
	StatusFailed     OperationStatus = "failed"
	StatusRolledBack OperationStatus = "rolled_back"
)

// Terminal reports whether s is a terminal state.
func (s OperationStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRolledBack:
		return true
	}
	return false
}

// RiskLevel classifies how dangerous an operation looks.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func (r RiskLevel) rank() int {
	switch r {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	}
	return 0
}

// AtLeast returns the higher of r and floor.
func (r RiskLevel) AtLeast(floor RiskLevel) RiskLevel {
	if floor.rank() > r.rank() {
		return floor
	}
	return r
}

// OperationFlags are caller-supplied switches captured at creation time.
type OperationFlags struct {
	Force          bool `json:"force"`
	CreateBackup   bool `json:"create_backup"`
	SkipValidation bool `json:"skip_validation"`
	VerifyIndex    bool `json:"verify_index"`
}

// Conflict types recorded during validation.
const (
	ConflictTargetExists = "target_exists"
)

// Conflict is a structured validation conflict.
type Conflict struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// ValidationResult is the snapshot produced by validating an operation.
// It is embedded into the operation row, never persisted on its own.
type ValidationResult struct {
	Valid                bool       `json:"valid"`
	Warnings             []string   `json:"warnings,omitempty"`
	Errors               []string   `json:"errors,omitempty"`
	Conflicts            []Conflict `json:"conflicts,omitempty"`
	AffectedSeriesIDs    []int64    `json:"affected_series_ids,omitempty"`
	AffectedChapterIDs   []int64    `json:"affected_chapter_ids,omitempty"`
	AffectedSeriesCount  int        `json:"affected_series_count"`
	AffectedChapterCount int        `json:"affected_chapter_count"`
	EstimatedBytes       int64      `json:"estimated_bytes,omitempty"`
	EstimatedSeconds     float64    `json:"estimated_seconds,omitempty"`
	RiskLevel            RiskLevel  `json:"risk_level"`
	RequiresConfirmation bool       `json:"requires_confirmation"`
}

// Operation is a single tracked filesystem mutation.
type Operation struct {
	ID         string          `json:"id"`
	Kind       OperationKind   `json:"kind"`
	SourcePath string          `json:"source_path"`
	TargetPath string          `json:"target_path,omitempty"`
	Status     OperationStatus `json:"status"`
	BackupPath string          `json:"backup_path,omitempty"`
	Error      string          `json:"error,omitempty"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`

	Flags      OperationFlags    `json:"flags"`
	Validation *ValidationResult `json:"validation,omitempty"`
	Snapshot   *RecordSnapshot   `json:"-"`

	CreatedAt   time.Time  `json:"created_at"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Series is a collection record: one row per series directory in the library.
type Series struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Path        string    `json:"path"`
	CustomTitle string    `json:"custom_title,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Chapter is a leaf record: one row per chapter archive on disk.
type Chapter struct {
	ID        int64     `json:"id"`
	SeriesID  int64     `json:"series_id"`
	Path      string    `json:"path"`
	Volume    float64   `json:"volume,omitempty"`
	Number    float64   `json:"number,omitempty"`
	Pages     int       `json:"pages"`
	PageRead  int       `json:"page_read"`
	Checksum  string    `json:"checksum,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordSnapshot captures the pre-operation shape of affected index rows so a
// rollback can restore them.
type RecordSnapshot struct {
	Series   []Series  `json:"series,omitempty"`
	Chapters []Chapter `json:"chapters,omitempty"`
}

// Empty reports whether the snapshot holds no records.
func (s *RecordSnapshot) Empty() bool {
	return s == nil || (len(s.Series) == 0 && len(s.Chapters) == 0)
}
