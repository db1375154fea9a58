package api

import (
	"github.com/vosskuhle/hondana/internal/fileops"
	"github.com/vosskuhle/hondana/internal/models"
)

// CreateOperationRequest is the request body for creating an operation
// (aliased from the engine layer).
type CreateOperationRequest = fileops.CreateRequest

// ExecuteRequest is the request body for executing a validated operation.
type ExecuteRequest struct {
	Confirmed bool `json:"confirmed" example:"true"`
}

// OperationResponse is the full operation response type.
type OperationResponse = models.Operation

// OperationListResponse wraps paginated operation listings.
type OperationListResponse struct {
	Operations []models.Operation `json:"operations" validate:"required"`
	Total      int                `json:"total" example:"17" validate:"required"`
}

// SeriesListResponse wraps paginated series listings.
type SeriesListResponse struct {
	Series []models.Series `json:"series" validate:"required"`
	Total  int             `json:"total" example:"42" validate:"required"`
}

// ChapterListResponse wraps the chapters of a single series.
type ChapterListResponse struct {
	Chapters []models.Chapter `json:"chapters" validate:"required"`
}

// UpdateSeriesRequest is the request body for setting a custom series title.
type UpdateSeriesRequest struct {
	CustomTitle string `json:"custom_title" example:"Berserk (Deluxe)"`
}

// UpdateProgressRequest is the request body for recording reading progress.
type UpdateProgressRequest struct {
	PageRead int `json:"page_read" example:"12" validate:"required"`
}
