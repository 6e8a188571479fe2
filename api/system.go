package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// SystemHandler serves liveness and build information. Check, when set, is
// consulted by the health endpoint (typically a database ping).
type SystemHandler struct {
	Check func(ctx context.Context) error
}

func (h *SystemHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if h.Check != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Check(ctx); err != nil {
			logger.Warn("health check failed", slog.Any("err", err))
			writeJSON(w, map[string]string{"status": "degraded", "service": "cvpipe"}, http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"status":"ok","service":"cvpipe"}`)
}

func (h *SystemHandler) VersionHandler(version, buildTime string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"version": version, "buildTime": buildTime}, http.StatusOK)
	}
}
