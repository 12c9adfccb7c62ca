package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/clubfeed/eventpipe/internal/database"
)

// HealthHandler serves liveness and service information.
type HealthHandler struct {
	db      *sql.DB
	version string
	logger  *slog.Logger
}

// NewHealthHandler creates a new handler
func NewHealthHandler(db *sql.DB, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, version: version, logger: logger}
}

// Health handles GET /healthz. The database is pinged when configured.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}

	if err := database.HealthCheck(r.Context(), h.db); err != nil {
		h.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"database": database.Stats(h.db),
	})
}

// Info handles GET /api/info
func (h *HealthHandler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "eventpipe",
		"status":  "ready",
		"version": h.version,
	})
}
