package apperr

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrAlreadyExists        = errors.New("already exists")
	ErrInvalidState         = errors.New("invalid operation state")
	ErrNoBackup             = errors.New("no backup available")
	ErrConfirmationRequired = errors.New("confirmation required")
)
