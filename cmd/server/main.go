package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/clubfeed/eventpipe/internal/api"
	"github.com/clubfeed/eventpipe/internal/audit"
	"github.com/clubfeed/eventpipe/internal/classification"
	"github.com/clubfeed/eventpipe/internal/config"
	"github.com/clubfeed/eventpipe/internal/database"
	"github.com/clubfeed/eventpipe/internal/enrichment"
	"github.com/clubfeed/eventpipe/internal/ingestion"
	"github.com/clubfeed/eventpipe/internal/logging"
	"github.com/clubfeed/eventpipe/internal/metrics"
	"github.com/clubfeed/eventpipe/internal/recurrence"
	"github.com/clubfeed/eventpipe/internal/scheduler"
	"github.com/clubfeed/eventpipe/internal/server"
	"github.com/clubfeed/eventpipe/internal/storage"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	logger.Info("starting eventpipe", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sources, err := config.LoadSources(cfg.Pipeline.SourcesFile)
	if err != nil {
		logger.Error("failed to load sources", "path", cfg.Pipeline.SourcesFile, "error", err)
		os.Exit(1)
	}
	logger.Info("sources loaded", "count", len(sources))

	dbConfig, err := database.ConfigFrom(cfg.Database)
	if err != nil {
		logger.Error("failed to build database URL", "error", err)
		os.Exit(1)
	}
	logger.Info("database configuration", "config", database.Describe(cfg.Database))

	db, err := database.Connect(ctx, dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database connected")

	// Non-fatal so the health endpoint can still report the problem.
	if applied, err := database.RunMigrations(ctx, db, cfg.Database.MigrationsDir, logger); err != nil {
		logger.Warn("failed to run migrations, continuing anyway", "error", err)
	} else {
		logger.Info("migrations complete", "applied", applied)
	}

	collector, err := metrics.NewCollector()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}

	auditRepo := database.NewPostgresAuditRepository(db)
	auditLog := audit.NewLogger(auditRepo, 0, logging.Component(logger, "audit"))

	pipeline, err := buildPipeline(ctx, cfg, db, auditLog, collector, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	rotation := scheduler.NewRotationScheduler(
		pipeline,
		sources,
		cfg.Pipeline.Location(),
		cfg.Scheduler.CheckInterval,
		logging.Component(logger, "scheduler"),
	)
	go rotation.Start(ctx)

	mux := http.NewServeMux()
	api.SetupRoutes(mux, api.Dependencies{
		Ctx:      ctx,
		DB:       db,
		AuditLog: auditRepo,
		Runner:   pipeline,
		Sources:  sources,
		Location: cfg.Pipeline.Location(),
		Lookback: cfg.Pipeline.Lookback,
		Auth:     cfg.Auth,
		Version:  version,
	}, logging.Component(logger, "api"))
	mux.Handle("/metrics", collector.Handler())

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set, operator API disabled")
	}

	srv := server.New(cfg.Server, logger, collector.InstrumentHandler(mux))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}

	rotation.Stop()

	shutdownCtx := context.Background()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if err := auditLog.Close(shutdownCtx); err != nil {
		logger.Warn("audit log did not drain", "error", err)
	}

	logger.Info("eventpipe stopped")
}

func buildPipeline(
	ctx context.Context,
	cfg config.Config,
	db *sql.DB,
	auditLog *audit.Logger,
	collector *metrics.Collector,
	logger *slog.Logger,
) (*ingestion.Pipeline, error) {
	loc := cfg.Pipeline.Location()

	extractor, err := enrichment.NewExtractor(cfg.OpenAI, logging.Component(logger, "extractor"))
	if err != nil {
		return nil, err
	}
	embedder, err := enrichment.NewEmbedder(cfg.OpenAI)
	if err != nil {
		return nil, err
	}

	deps := ingestion.Dependencies{
		Extractor: extractor,
		Embedder:  embedder,
		Store:     database.NewPostgresEventRepository(db),
		Ledger:    database.NewPostgresPostLedger(db),
		Audit:     auditLog,
		Metrics:   collector,
	}

	if cfg.Storage.Bucket != "" {
		uploader, err := storage.NewS3Uploader(ctx, cfg.Storage, logging.Component(logger, "storage"))
		if err != nil {
			return nil, err
		}
		deps.Uploader = uploader
	} else {
		logger.Warn("S3_BUCKET not set, events will reference their source image URLs")
	}

	if cfg.Collector.URL != "" {
		httpCollector, err := ingestion.NewHTTPCollector(cfg.Collector, collector, logging.Component(logger, "collector"))
		if err != nil {
			return nil, err
		}
		deps.Collector = httpCollector
	} else {
		logger.Warn("COLLECTOR_URL not set, scheduled runs will fail until it is configured")
	}

	groups := classification.NewCache(
		database.NewPostgresClubRepository(db),
		cfg.Classification.CacheSize,
		cfg.Classification.CacheTTL,
	)
	writer := ingestion.NewWriter(
		deps.Store,
		groups,
		recurrence.NewExpander(loc, logging.Component(logger, "recurrence")),
		loc,
		logging.Component(logger, "writer"),
	)

	pipelineCfg := ingestion.DefaultPipelineConfig()
	pipelineCfg.UploadConcurrency = cfg.Pipeline.UploadConcurrency
	pipelineCfg.ExtractConcurrency = cfg.Pipeline.ExtractConcurrency
	pipelineCfg.Lookback = cfg.Pipeline.Lookback
	pipelineCfg.SimilarityThreshold = cfg.Pipeline.SimilarityThreshold
	pipelineCfg.RunTimeout = cfg.Pipeline.RunTimeout
	pipelineCfg.ResultsLimit = cfg.Collector.ResultsLimit
	pipelineCfg.Location = loc
	if cfg.OpenAI.Timeout > 0 {
		pipelineCfg.CallTimeout = cfg.OpenAI.Timeout
	}

	return ingestion.NewPipeline(deps, writer, pipelineCfg, logging.Component(logger, "pipeline"))
}
