package fileops

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/vosskuhle/hondana/internal/models"
)

// copyThroughputBytes is the nominal copy rate used for the advisory duration
// estimate in validation results.
const copyThroughputBytes = 100 << 20 // 100 MB/s

// runValidation performs the read-only validation pass for op. It never
// mutates the filesystem; the only writes it can cause are the sentinel temp
// files of the writability and busy probes.
func (e *Engine) runValidation(ctx context.Context, op *models.Operation) *models.ValidationResult {
	res := &models.ValidationResult{RiskLevel: models.RiskLow}
	var f Findings

	if op.Flags.SkipValidation {
		// All checks disabled by the caller; record that loudly and let the
		// risk assessor raise the tier.
		f.SkippedValidation = true
		res.Warnings = append(res.Warnings,
			"validation was skipped by request; filesystem and index checks were not performed")
	} else {
		e.checkFilesystem(op, res, &f)
		e.checkInUse(op, res, &f)
		e.estimateBackup(ctx, op, res, &f)
		e.resolveAffected(op, res, &f)
	}

	res.RiskLevel, res.RequiresConfirmation = assessRisk(op.Kind, f, op.Flags)
	res.Valid = len(res.Errors) == 0
	return res
}

// checkFilesystem verifies the source still exists and, for kinds with a
// target, that the target's parent is usable. An already existing target is a
// conflict: executing would silently clobber data.
func (e *Engine) checkFilesystem(op *models.Operation, res *models.ValidationResult, f *Findings) {
	switch {
	case !e.store.Exists(op.SourcePath):
		res.Errors = append(res.Errors, fmt.Sprintf("source path does not exist: %s", op.SourcePath))
	case !e.store.Readable(op.SourcePath):
		res.Errors = append(res.Errors, fmt.Sprintf("source path is not readable: %s", op.SourcePath))
	}

	if !op.Kind.RequiresTarget() {
		return
	}
	parent := filepath.Dir(op.TargetPath)
	switch {
	case !e.store.IsDir(parent):
		res.Errors = append(res.Errors, fmt.Sprintf("target parent directory does not exist: %s", parent))
	case !e.store.Writable(parent):
		res.Errors = append(res.Errors, fmt.Sprintf("target parent directory is not writable: %s", parent))
	}
	if e.store.Exists(op.TargetPath) {
		res.Conflicts = append(res.Conflicts, models.Conflict{Type: models.ConflictTargetExists, Path: op.TargetPath})
		f.TargetExists = true
	}
}

// checkInUse runs the advisory busy probe. Lock semantics differ per OS and
// filesystem, so a positive result is a warning, never a hard failure.
func (e *Engine) checkInUse(op *models.Operation, res *models.ValidationResult, f *Findings) {
	if !e.store.Exists(op.SourcePath) {
		return
	}
	if e.store.IsPathBusy(op.SourcePath) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("source path appears to be in use: %s", op.SourcePath))
		f.Busy = true
	}
}

// estimateBackup computes the subtree size (only when a backup will be
// created) and warns when the backup would eat most of the free space on the
// backup volume. Size estimation walks the whole subtree, so it runs on the
// worker pool rather than the request path.
func (e *Engine) estimateBackup(ctx context.Context, op *models.Operation, res *models.ValidationResult, f *Findings) {
	if !op.Flags.CreateBackup || !e.store.Exists(op.SourcePath) {
		return
	}

	var size int64
	err := e.runOnPool(ctx, func() error {
		var estErr error
		size, estErr = e.store.EstimateSize(op.SourcePath)
		return estErr
	})
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("could not estimate source size: %v", err))
		return
	}

	res.EstimatedBytes = size
	res.EstimatedSeconds = float64(size) / copyThroughputBytes
	f.EstimatedBytes = size

	free, err := e.store.FreeSpace(e.backups.Root())
	if err != nil || free <= 0 {
		return
	}
	if size > free*8/10 {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"backup would use %d of %d free bytes on the backup volume", size, free))
	}
}

// resolveAffected discovers the index records whose stored path is, or is
// nested under, the source path. Reading progress and user customization on
// matched records raise warnings that require confirmation.
func (e *Engine) resolveAffected(op *models.Operation, res *models.ValidationResult, f *Findings) {
	series, err := e.db.SeriesUnderPath(op.SourcePath)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("resolve affected series: %v", err))
		return
	}
	chapters, err := e.db.ChaptersUnderPath(op.SourcePath)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("resolve affected chapters: %v", err))
		return
	}

	for _, s := range series {
		res.AffectedSeriesIDs = append(res.AffectedSeriesIDs, s.ID)
		if s.CustomTitle != "" {
			f.HasCustomization = true
		}
	}
	withProgress := 0
	for _, c := range chapters {
		res.AffectedChapterIDs = append(res.AffectedChapterIDs, c.ID)
		if c.PageRead > 0 {
			withProgress++
		}
	}
	res.AffectedSeriesCount = len(series)
	res.AffectedChapterCount = len(chapters)
	f.AffectedSeries = len(series)
	f.AffectedChapters = len(chapters)

	if withProgress > 0 {
		f.HasProgress = true
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"%d affected chapter(s) have reading progress that would be lost", withProgress))
	}
	if f.HasCustomization {
		res.Warnings = append(res.Warnings,
			"affected series carry user customization (custom titles)")
	}
}
