package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/garnizeh/cvpipe/internal/pipeline"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, map[string]errorBody{"error": {Code: code, Message: message}}, status)
}

// writePipelineError maps a pipeline error onto its HTTP status. Internal
// details are logged, not returned.
func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, pipeline.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden", "not allowed to access this resource")
	case errors.Is(err, pipeline.ErrTransport):
		logger.Error("queue unavailable", slog.String("path", r.URL.Path), slog.Any("err", err))
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "analysis could not be queued, try again later")
	case errors.Is(err, pipeline.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
