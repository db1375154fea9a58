package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vosskuhle/hondana/internal/apperr"
	"github.com/vosskuhle/hondana/internal/fileops"
	"github.com/vosskuhle/hondana/internal/index"
)

// Handler holds API route handlers.
type Handler struct {
	eng *fileops.Engine
	db  index.LibraryIndex
}

// NewHandler creates a new Handler.
func NewHandler(eng *fileops.Engine, db index.LibraryIndex) *Handler {
	return &Handler{eng: eng, db: db}
}

func opID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

// writeOpError maps engine errors onto HTTP statuses.
func writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("operation not found"))
	case errors.Is(err, apperr.ErrConfirmationRequired):
		writeJSON(w, http.StatusConflict, errorBody("operation requires confirmation"))
	case errors.Is(err, apperr.ErrInvalidState):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNoBackup):
		writeJSON(w, http.StatusConflict, errorBody("operation has no backup to roll back to"))
	default:
		slog.Error("operation request failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// CreateOperation handles POST /api/operations.
//
//	@Summary		Create a file operation in pending state
//	@Tags			operations
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateOperationRequest	true	"Operation to create"
//	@Success		201		{object}	OperationResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/operations [post]
func (h *Handler) CreateOperation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req fileops.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	op, err := h.eng.Create(r.Context(), req)
	if err != nil {
		// Creation failures are request problems: bad shape, missing source,
		// unusable target parent.
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusCreated, op)
}

// GetOperation handles GET /api/operations/{id}.
//
//	@Summary		Get a single operation
//	@Tags			operations
//	@Produce		json
//	@Param			id	path		string	true	"Operation ID"
//	@Success		200	{object}	OperationResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/operations/{id} [get]
func (h *Handler) GetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := h.eng.Get(r.Context(), opID(r))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// ListOperations handles GET /api/operations.
//
//	@Summary		List operations with optional filtering and pagination
//	@Tags			operations
//	@Produce		json
//	@Param			status	query		string	false	"Filter by status"
//	@Param			kind	query		string	false	"Filter by kind"
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	OperationListResponse
//	@Security		BearerAuth
//	@Router			/operations [get]
func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	ops, total, err := h.eng.List(r.Context(), q.Get("status"), q.Get("kind"), limit, offset)
	if err != nil {
		slog.Error("list operations failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"operations": ops,
		"total":      total,
	})
}

// ValidateOperation handles POST /api/operations/{id}/validate.
//
//	@Summary		Run the validation pass on a pending operation
//	@Tags			operations
//	@Produce		json
//	@Param			id	path		string	true	"Operation ID"
//	@Success		200	{object}	OperationResponse
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/operations/{id}/validate [post]
func (h *Handler) ValidateOperation(w http.ResponseWriter, r *http.Request) {
	op, err := h.eng.Validate(r.Context(), opID(r))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// ExecuteOperation handles POST /api/operations/{id}/execute.
//
//	@Summary		Execute a validated operation
//	@Tags			operations
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Operation ID"
//	@Param			body	body		ExecuteRequest	false	"Confirmation"
//	@Success		200		{object}	OperationResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/operations/{id}/execute [post]
func (h *Handler) ExecuteOperation(w http.ResponseWriter, r *http.Request) {
	// An absent body means "not confirmed"; a malformed one is a client error.
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	op, err := h.eng.Execute(r.Context(), opID(r), req.Confirmed)
	if err != nil {
		if op != nil {
			// The operation ran and failed; surface its final state alongside
			// the failure.
			writeJSON(w, http.StatusUnprocessableEntity, op)
			return
		}
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// RollbackOperation handles POST /api/operations/{id}/rollback.
//
//	@Summary		Roll back an operation from its backup
//	@Tags			operations
//	@Produce		json
//	@Param			id	path		string	true	"Operation ID"
//	@Success		200	{object}	OperationResponse
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/operations/{id}/rollback [post]
func (h *Handler) RollbackOperation(w http.ResponseWriter, r *http.Request) {
	op, err := h.eng.Rollback(r.Context(), opID(r))
	if err != nil {
		if op != nil {
			writeJSON(w, http.StatusUnprocessableEntity, op)
			return
		}
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// ListSeries handles GET /api/series.
//
//	@Summary		List indexed series
//	@Tags			library
//	@Produce		json
//	@Param			limit	query		int	false	"Page size"
//	@Param			offset	query		int	false	"Page offset"
//	@Success		200		{object}	SeriesListResponse
//	@Security		BearerAuth
//	@Router			/series [get]
func (h *Handler) ListSeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	series, total, err := h.db.ListSeries(limit, offset)
	if err != nil {
		slog.Error("list series failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"series": series,
		"total":  total,
	})
}

// ListChapters handles GET /api/series/{id}/chapters.
//
//	@Summary		List the chapters of a series
//	@Tags			library
//	@Produce		json
//	@Param			id	path		int	true	"Series ID"
//	@Success		200	{object}	ChapterListResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/series/{id}/chapters [get]
func (h *Handler) ListChapters(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid series id"))
		return
	}
	chapters, err := h.db.ListChapters(id)
	if err != nil {
		slog.Error("list chapters failed", slog.Int64("series_id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chapters": chapters,
	})
}

// UpdateSeries handles PATCH /api/series/{id}.
//
//	@Summary		Set or clear the custom title of a series
//	@Tags			library
//	@Accept			json
//	@Produce		json
//	@Param			id		path	int					true	"Series ID"
//	@Param			body	body	UpdateSeriesRequest	true	"Fields to update"
//	@Success		204		"Updated"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/series/{id} [patch]
func (h *Handler) UpdateSeries(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid series id"))
		return
	}
	var req UpdateSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.db.SetSeriesCustomTitle(id, req.CustomTitle); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("series not found"))
			return
		}
		slog.Error("update series failed", slog.Int64("series_id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateProgress handles PATCH /api/chapters/{id}/progress.
//
//	@Summary		Record reading progress for a chapter
//	@Tags			library
//	@Accept			json
//	@Produce		json
//	@Param			id		path	int						true	"Chapter ID"
//	@Param			body	body	UpdateProgressRequest	true	"Progress"
//	@Success		204		"Updated"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/chapters/{id}/progress [patch]
func (h *Handler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid chapter id"))
		return
	}
	var req UpdateProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.PageRead < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("page_read must not be negative"))
		return
	}
	if err := h.db.SetChapterProgress(id, req.PageRead); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("chapter not found"))
			return
		}
		slog.Error("update progress failed", slog.Int64("chapter_id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
