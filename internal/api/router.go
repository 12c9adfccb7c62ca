package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/clubfeed/eventpipe/internal/auth"
	"github.com/clubfeed/eventpipe/internal/config"
	"github.com/clubfeed/eventpipe/internal/models"
)

// Dependencies groups everything the HTTP routes need. DB, AuditLog and
// Runner may be nil; the routes that need them then report unavailability.
type Dependencies struct {
	// Ctx bounds runs started over HTTP; it outlives individual requests.
	Ctx      context.Context
	DB       *sql.DB
	AuditLog AuditLister
	Runner   RunTrigger
	Sources  []models.Source
	Location *time.Location
	// Lookback is how far back manual all-source runs collect.
	Lookback time.Duration
	Auth     config.AuthConfig
	Version  string
}

// SetupRoutes registers health, service info and the operator API on mux.
func SetupRoutes(mux *http.ServeMux, deps Dependencies, logger *slog.Logger) {
	if deps.Ctx == nil {
		deps.Ctx = context.Background()
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}

	health := NewHealthHandler(deps.DB, deps.Version, logger)
	processingLog := NewProcessingLogHandler(deps.AuditLog, logger)
	runs := NewRunHandler(deps.Ctx, deps.Runner, deps.Sources, deps.Location, deps.Lookback, logger)
	login := NewAuthHandler(deps.Auth, logger)

	mux.HandleFunc("/healthz", health.Health)
	mux.HandleFunc("/api/info", health.Info)

	mux.HandleFunc("/api/auth/login", login.Login)

	protect := auth.Middleware(deps.Auth)
	mux.Handle("/api/processing-log", protect(http.HandlerFunc(processingLog.List)))
	mux.Handle("/api/runs", protect(http.HandlerFunc(runs.Trigger)))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
