package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/clubfeed/eventpipe/internal/models"
)

// AuditLister reads the processing log.
type AuditLister interface {
	List(ctx context.Context, limit int, outcome models.OutcomeKind) ([]models.AuditRecord, error)
}

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// ProcessingLogHandler handles HTTP requests for the processing log
type ProcessingLogHandler struct {
	repo   AuditLister
	logger *slog.Logger
}

// NewProcessingLogHandler creates a new handler
func NewProcessingLogHandler(repo AuditLister, logger *slog.Logger) *ProcessingLogHandler {
	return &ProcessingLogHandler{repo: repo, logger: logger}
}

// List handles GET /api/processing-log?limit=&outcome=
func (h *ProcessingLogHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.repo == nil {
		http.Error(w, "Processing log unavailable", http.StatusServiceUnavailable)
		return
	}

	limit := defaultLogLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxLogLimit)
	}

	outcome := models.OutcomeKind(r.URL.Query().Get("outcome"))
	switch outcome {
	case "", models.OutcomeWritten, models.OutcomeDuplicate, models.OutcomeRejected, models.OutcomeFailed, models.OutcomeIgnored:
	default:
		http.Error(w, "unknown outcome", http.StatusBadRequest)
		return
	}

	records, err := h.repo.List(r.Context(), limit, outcome)
	if err != nil {
		h.logger.Error("failed to list processing log", "error", err)
		http.Error(w, "Failed to list processing log", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
		"limit":   limit,
	})
}
