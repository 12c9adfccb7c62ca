package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/clubfeed/eventpipe/internal/ingestion"
	"github.com/clubfeed/eventpipe/internal/models"
)

// RunTrigger starts ingestion runs.
type RunTrigger interface {
	RunForDay(ctx context.Context, trigger string, sources []models.Source, day int) (ingestion.Report, error)
	RunSources(ctx context.Context, trigger string, handles []string, since time.Time) (ingestion.Report, error)
	IsRunning() bool
}

const triggerManual = "manual"

// RunRequest selects what a manual run covers. With neither Day nor All set,
// today's rotation group runs.
type RunRequest struct {
	Day   *int       `json:"day,omitempty"`
	All   bool       `json:"all,omitempty"`
	Since *time.Time `json:"since,omitempty"`
}

// RunHandler starts ingestion runs on demand.
type RunHandler struct {
	ctx      context.Context
	runner   RunTrigger
	sources  []models.Source
	location *time.Location
	lookback time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewRunHandler creates a handler. Runs it starts are bound to ctx rather than
// to the request. Runs without an explicit since collect posts published
// within lookback.
func NewRunHandler(ctx context.Context, runner RunTrigger, sources []models.Source, loc *time.Location, lookback time.Duration, logger *slog.Logger) *RunHandler {
	if lookback <= 0 {
		lookback = ingestion.DefaultLookback
	}
	return &RunHandler{
		ctx:      ctx,
		runner:   runner,
		sources:  sources,
		location: loc,
		lookback: lookback,
		logger:   logger,
		now:      time.Now,
	}
}

// Trigger handles POST /api/runs and GET /api/runs.
func (h *RunHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		http.Error(w, "Pipeline unavailable", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"running": h.runner.IsRunning()})
		return
	case http.MethodPost:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	day := ingestion.DayIndex(h.now().In(h.location).Weekday())
	if req.Day != nil {
		if *req.Day < 0 || *req.Day > 6 {
			http.Error(w, "day must be between 0 (Monday) and 6 (Sunday)", http.StatusBadRequest)
			return
		}
		day = *req.Day
	}

	if h.runner.IsRunning() {
		http.Error(w, ingestion.ErrRunInProgress.Error(), http.StatusConflict)
		return
	}

	var handles []string
	if req.All {
		handles = ingestion.Handles(h.sources)
	} else {
		handles = ingestion.Handles(ingestion.SourcesForDay(h.sources, day))
	}

	go h.run(req, day)

	resp := map[string]any{
		"status":  "started",
		"handles": handles,
	}
	if !req.All {
		resp["day"] = day
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *RunHandler) run(req RunRequest, day int) {
	var (
		report ingestion.Report
		err    error
	)
	switch {
	case req.All || req.Since != nil:
		handles := ingestion.Handles(h.sources)
		if !req.All {
			handles = ingestion.Handles(ingestion.SourcesForDay(h.sources, day))
		}
		since := h.now().Add(-h.lookback)
		if req.Since != nil {
			since = *req.Since
		}
		report, err = h.runner.RunSources(h.ctx, triggerManual, handles, since)
	default:
		report, err = h.runner.RunForDay(h.ctx, triggerManual, h.sources, day)
	}

	if err != nil {
		h.logger.Error("manual run failed", "error", err)
		return
	}
	h.logger.Info("manual run finished",
		"admitted", report.Admitted,
		"written", report.Posts[models.OutcomeWritten],
		"duration", report.Duration,
	)
}
