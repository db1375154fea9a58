package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// errResponse is the uniform error body for every non-2xx API response.
type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed",
			slog.Int("status", status),
			slog.String("error", err.Error()))
	}
}
