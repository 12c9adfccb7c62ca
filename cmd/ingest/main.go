// Command ingest runs one ingestion pass outside the daily schedule.
//
//	ingest                      today's rotation group
//	ingest -day 2               Wednesday's group
//	ingest -all -since 2024-05-01
//	ingest -purge-ignored-days 30
//	ingest -offline -posts posts.json
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clubfeed/eventpipe/internal/audit"
	"github.com/clubfeed/eventpipe/internal/classification"
	"github.com/clubfeed/eventpipe/internal/config"
	"github.com/clubfeed/eventpipe/internal/database"
	"github.com/clubfeed/eventpipe/internal/enrichment"
	"github.com/clubfeed/eventpipe/internal/ingestion"
	"github.com/clubfeed/eventpipe/internal/logging"
	"github.com/clubfeed/eventpipe/internal/models"
	"github.com/clubfeed/eventpipe/internal/recurrence"
	"github.com/clubfeed/eventpipe/internal/storage"
)

type options struct {
	day        int
	all        bool
	since      string
	purgeDays  int
	offline    bool
	postsFile  string
	sourcesArg string
}

func main() {
	var opts options
	flag.IntVar(&opts.day, "day", -1, "rotation day to run, 0 (Monday) to 6 (Sunday); defaults to today")
	flag.BoolVar(&opts.all, "all", false, "collect every source instead of one rotation group")
	flag.StringVar(&opts.since, "since", "", "collect posts published since this date (YYYY-MM-DD or RFC3339)")
	flag.IntVar(&opts.purgeDays, "purge-ignored-days", 0, "delete ignored-post records older than this many days, then exit")
	flag.BoolVar(&opts.offline, "offline", false, "use the in-memory store, mock extractor and hash embedder")
	flag.StringVar(&opts.postsFile, "posts", "", "read posts from a JSON file instead of the collector service")
	flag.StringVar(&opts.sourcesArg, "sources", "", "sources file (overrides SOURCES_FILE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Error("ingest failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, opts options, logger *slog.Logger) error {
	if opts.day < -1 || opts.day > 6 {
		return fmt.Errorf("-day must be between 0 and 6")
	}
	loc := cfg.Pipeline.Location()

	since, err := parseSince(opts.since, loc)
	if err != nil {
		return err
	}

	if opts.sourcesArg != "" {
		cfg.Pipeline.SourcesFile = opts.sourcesArg
	}
	sources, err := config.LoadSources(cfg.Pipeline.SourcesFile)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}

	deps := ingestion.Dependencies{}
	var (
		classifier ingestion.GroupClassifier
		auditLog   *audit.Logger
	)

	if opts.offline {
		memory := ingestion.NewMemoryStore()
		deps.Store = memory
		deps.Ledger = memory
		deps.Extractor = enrichment.NewMockExtractor()
		deps.Embedder = enrichment.NewHashEmbedder(cfg.OpenAI.EmbeddingDimensions)
		if opts.purgeDays > 0 {
			return errors.New("-purge-ignored-days needs the database; drop -offline")
		}
	} else {
		db, err := connect(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		ledger := database.NewPostgresPostLedger(db)
		if opts.purgeDays > 0 {
			return purge(ctx, ledger, opts.purgeDays, logger)
		}

		extractor, err := enrichment.NewExtractor(cfg.OpenAI, logging.Component(logger, "extractor"))
		if err != nil {
			return err
		}
		embedder, err := enrichment.NewEmbedder(cfg.OpenAI)
		if err != nil {
			return err
		}

		deps.Store = database.NewPostgresEventRepository(db)
		deps.Ledger = ledger
		deps.Extractor = extractor
		deps.Embedder = embedder
		classifier = classification.NewCache(
			database.NewPostgresClubRepository(db),
			cfg.Classification.CacheSize,
			cfg.Classification.CacheTTL,
		)

		auditLog = audit.NewLogger(database.NewPostgresAuditRepository(db), 0, logging.Component(logger, "audit"))
		defer func() {
			if err := auditLog.Close(context.Background()); err != nil {
				logger.Warn("audit log did not drain", "error", err)
			}
		}()
		deps.Audit = auditLog

		if cfg.Storage.Bucket != "" {
			uploader, err := storage.NewS3Uploader(ctx, cfg.Storage, logging.Component(logger, "storage"))
			if err != nil {
				return err
			}
			deps.Uploader = uploader
		}
	}

	if opts.postsFile != "" {
		deps.Collector = ingestion.NewFileCollector(opts.postsFile)
	} else if cfg.Collector.URL != "" {
		httpCollector, err := ingestion.NewHTTPCollector(cfg.Collector, nil, logging.Component(logger, "collector"))
		if err != nil {
			return err
		}
		deps.Collector = httpCollector
	}

	writer := ingestion.NewWriter(
		deps.Store,
		classifier,
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

	pipeline, err := ingestion.NewPipeline(deps, writer, pipelineCfg, logging.Component(logger, "pipeline"))
	if err != nil {
		return err
	}

	report, err := runSelection(ctx, pipeline, sources, opts, since, pipelineCfg.Lookback, loc)
	if err != nil {
		return err
	}

	logger.Info("ingest complete",
		"trigger", report.Trigger,
		"collected", report.Collected,
		"admitted", report.Admitted,
		"posts", report.Posts,
		"candidates", report.Candidates,
		"duration", report.Duration,
	)
	return nil
}

func runSelection(ctx context.Context, pipeline *ingestion.Pipeline, sources []models.Source, opts options, since time.Time, lookback time.Duration, loc *time.Location) (ingestion.Report, error) {
	const trigger = "cli"

	day := opts.day
	if day < 0 {
		day = ingestion.DayIndex(time.Now().In(loc).Weekday())
	}

	selected := sources
	if !opts.all {
		selected = ingestion.SourcesForDay(sources, day)
	}
	if since.IsZero() && !opts.all {
		return pipeline.RunForDay(ctx, trigger, sources, day)
	}
	if since.IsZero() {
		since = time.Now().Add(-lookback)
	}
	return pipeline.RunSources(ctx, trigger, ingestion.Handles(selected), since)
}

func purge(ctx context.Context, ledger *database.PostgresPostLedger, days int, logger *slog.Logger) error {
	cutoff := time.Now().AddDate(0, 0, -days)
	removed, err := ledger.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge ignored posts: %w", err)
	}
	logger.Info("purged ignored posts", "removed", removed, "cutoff", cutoff)
	return nil
}

func connect(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sql.DB, error) {
	dbConfig, err := database.ConfigFrom(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("build database URL: %w", err)
	}
	logger.Info("database configuration", "config", database.Describe(cfg.Database))

	db, err := database.Connect(ctx, dbConfig)
	if err != nil {
		return nil, err
	}
	if _, err := database.RunMigrations(ctx, db, cfg.Database.MigrationsDir, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func parseSince(raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("-since must be YYYY-MM-DD or RFC3339")
	}
	return t, nil
}
