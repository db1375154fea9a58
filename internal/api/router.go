package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vosskuhle/hondana/internal/fileops"
	"github.com/vosskuhle/hondana/internal/index"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(eng *fileops.Engine, db index.LibraryIndex, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(eng, db)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Operation lifecycle.
	r.Post("/operations", h.CreateOperation)
	r.Get("/operations", h.ListOperations)
	r.Get("/operations/{id}", h.GetOperation)
	r.Post("/operations/{id}/validate", h.ValidateOperation)
	r.Post("/operations/{id}/execute", h.ExecuteOperation)
	r.Post("/operations/{id}/rollback", h.RollbackOperation)

	// Library browsing.
	r.Get("/series", h.ListSeries)
	r.Get("/series/{id}/chapters", h.ListChapters)
	r.Patch("/series/{id}", h.UpdateSeries)
	r.Patch("/chapters/{id}/progress", h.UpdateProgress)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
