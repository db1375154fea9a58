package fileops

import "github.com/vosskuhle/hondana/internal/models"

// Findings are the validation observations fed to the risk assessor.
type Findings struct {
	TargetExists      bool
	Busy              bool
	SkippedValidation bool
	AffectedSeries    int
	AffectedChapters  int
	EstimatedBytes    int64
	HasProgress       bool
	HasCustomization  bool
}

const largeBackupBytes = 1000 << 20 // 1000 MB

// assessRisk maps the gathered findings to a risk tier and a
// confirmation requirement. It is a pure function with no I/O: everything it
// scores was collected by the validation pipeline.
//
// Weighted factors sum to a score; >=4 is high (which forces confirmation),
// >=2 is medium. Independently of the score, any finding that implies data a
// user cares about could be clobbered floors the tier at medium.
func assessRisk(kind models.OperationKind, f Findings, flags models.OperationFlags) (models.RiskLevel, bool) {
	score := 0
	if kind == models.KindDelete {
		score += 3
	}
	if f.AffectedSeries > 1 {
		score++
	}
	if f.AffectedChapters > 10 {
		score++
	}
	if f.EstimatedBytes > largeBackupBytes {
		score++
	}
	if f.TargetExists {
		score++
	}
	if f.Busy {
		score++
	}
	if f.HasProgress {
		score++
	}
	if f.HasCustomization {
		score++
	}
	if flags.Force {
		score++
	}
	if flags.SkipValidation {
		// Double weight: it disables every other check.
		score += 2
	}

	level := models.RiskLow
	switch {
	case score >= 4:
		level = models.RiskHigh
	case score >= 2:
		level = models.RiskMedium
	}

	if f.TargetExists || f.Busy || f.SkippedValidation || f.HasProgress || f.HasCustomization {
		level = level.AtLeast(models.RiskMedium)
	}

	confirm := level == models.RiskHigh || f.TargetExists || f.HasProgress || f.HasCustomization
	return level, confirm
}
