package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clubfeed/eventpipe/internal/metrics"
	"github.com/clubfeed/eventpipe/internal/models"
)

// AuditSink receives one record per processed post.
type AuditSink interface {
	Record(post models.RawPost, outcome models.Outcome, details []models.Outcome)
}

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("ingestion run already in progress")

// PipelineConfig holds configuration for the ingestion pipeline.
type PipelineConfig struct {
	UploadConcurrency   int
	ExtractConcurrency  int
	CallTimeout         time.Duration
	Lookback            time.Duration
	SimilarityThreshold float64
	RunTimeout          time.Duration
	ResultsLimit        int
	Location            *time.Location
}

// DefaultLookback covers the longest gap between two polls of the same
// rotation group plus half a day of slack.
const DefaultLookback = 108 * time.Hour

// DefaultPipelineConfig returns sensible defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		UploadConcurrency:   5,
		ExtractConcurrency:  5,
		CallTimeout:         defaultCallTimeout,
		Lookback:            DefaultLookback,
		SimilarityThreshold: DefaultSimilarityThreshold,
		RunTimeout:          30 * time.Minute,
		ResultsLimit:        10,
		Location:            time.UTC,
	}
}

// Dependencies are the collaborators of a pipeline. Collector, Uploader,
// Audit and Metrics may be nil.
type Dependencies struct {
	Collector Collector
	Uploader  Uploader
	Extractor Extractor
	Embedder  Embedder
	Store     EventStore
	Ledger    PostLedger
	Audit     AuditSink
	Metrics   *metrics.Collector
}

// Report summarizes one run.
type Report struct {
	Trigger    string
	Collected  int
	Admitted   int
	Posts      map[models.OutcomeKind]int
	Candidates map[models.OutcomeKind]int
	Started    time.Time
	Duration   time.Duration
}

func newReport(trigger string, started time.Time) Report {
	return Report{
		Trigger:    trigger,
		Posts:      make(map[models.OutcomeKind]int),
		Candidates: make(map[models.OutcomeKind]int),
		Started:    started,
	}
}

// Pipeline runs posts through filtering, enrichment, duplicate detection and writing.
type Pipeline struct {
	collector Collector
	ledger    PostLedger
	stage     *EnrichmentStage
	detector  *DuplicateDetector
	writer    *Writer
	audit     AuditSink
	metrics   *metrics.Collector
	logger    *slog.Logger
	config    PipelineConfig
	now       func() time.Time

	mu      sync.Mutex
	running bool
}

// NewPipeline wires a pipeline from its dependencies.
func NewPipeline(deps Dependencies, writer *Writer, cfg PipelineConfig, logger *slog.Logger) (*Pipeline, error) {
	switch {
	case deps.Extractor == nil:
		return nil, fmt.Errorf("pipeline requires an extractor")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("pipeline requires an embedder")
	case deps.Store == nil:
		return nil, fmt.Errorf("pipeline requires an event store")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("pipeline requires a post ledger")
	case writer == nil:
		return nil, fmt.Errorf("pipeline requires a writer")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	stage := NewEnrichmentStage(deps.Uploader, deps.Extractor, StageConfig{
		UploadConcurrency:  cfg.UploadConcurrency,
		ExtractConcurrency: cfg.ExtractConcurrency,
		CallTimeout:        cfg.CallTimeout,
	}, deps.Metrics, logger)

	return &Pipeline{
		collector: deps.Collector,
		ledger:    deps.Ledger,
		stage:     stage,
		detector:  NewDuplicateDetector(deps.Embedder, deps.Store, cfg.SimilarityThreshold, logger),
		writer:    writer,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}, nil
}

// RunForDay collects and processes the rotation group for day (0 = Monday).
func (p *Pipeline) RunForDay(ctx context.Context, trigger string, sources []models.Source, day int) (Report, error) {
	selected := SourcesForDay(sources, day)
	p.logger.Info("rotation selected sources",
		"day", day,
		"sources", len(selected),
		"total", len(sources),
	)
	return p.RunSources(ctx, trigger, Handles(selected), p.rotationSince(day))
}

// rotationSince is the collection cutoff for day's group: the start of the
// group's previous scheduled day, or now minus Lookback when that is earlier.
func (p *Pipeline) rotationSince(day int) time.Time {
	now := p.now()
	since := now.Add(-p.config.Lookback)
	if gap := DaysSincePreviousScan(day); gap > 0 {
		y, m, d := now.In(p.config.Location).Date()
		previous := time.Date(y, m, d-gap, 0, 0, 0, 0, p.config.Location)
		if previous.Before(since) {
			since = previous
		}
	}
	return since
}

// RunSources collects posts for handles published since the given time and processes them.
func (p *Pipeline) RunSources(ctx context.Context, trigger string, handles []string, since time.Time) (Report, error) {
	if p.collector == nil {
		return newReport(trigger, p.now()), ErrCollectorNotConfigured
	}

	if p.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.RunTimeout)
		defer cancel()
	}

	posts, err := p.collector.Collect(ctx, handles, since, p.config.ResultsLimit)
	if err != nil {
		p.metrics.ObserveRun(trigger, err, 0)
		return newReport(trigger, p.now()), fmt.Errorf("collect posts: %w", err)
	}

	return p.Run(ctx, trigger, posts, since)
}

// Run processes a batch of posts, keeping those published at or after cutoff.
// Individual post failures never abort the run; an error is returned only
// when the batch cannot be processed at all.
func (p *Pipeline) Run(ctx context.Context, trigger string, posts []models.RawPost, cutoff time.Time) (report Report, err error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return newReport(trigger, p.now()), ErrRunInProgress
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	started := p.now()
	report = newReport(trigger, started)
	report.Collected = len(posts)
	defer func() {
		report.Duration = p.now().Sub(started)
		p.metrics.ObserveRun(trigger, err, report.Duration)
	}()

	if p.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.RunTimeout)
		defer cancel()
	}

	seen, err := p.ledger.Seen(ctx, Shortcodes(posts))
	if err != nil {
		return report, fmt.Errorf("load seen posts: %w", err)
	}

	admitted := FilterPosts(posts, cutoff, seen)
	report.Admitted = len(admitted)

	p.logger.Info("ingestion run started",
		"trigger", trigger,
		"collected", len(posts),
		"admitted", len(admitted),
		"cutoff", cutoff,
	)

	upcoming := p.startOfToday()
	for enriched := range p.stage.Run(ctx, admitted) {
		outcome, details := p.process(ctx, enriched, upcoming)

		report.Posts[outcome.Kind]++
		p.metrics.ObservePost(string(outcome.Kind))
		for _, d := range details {
			report.Candidates[d.Kind]++
			p.metrics.ObserveCandidate(string(d.Kind))
		}
		if p.audit != nil {
			p.audit.Record(enriched.Post, outcome, details)
		}
	}

	p.logger.Info("ingestion run finished",
		"trigger", trigger,
		"written", report.Posts[models.OutcomeWritten],
		"duplicate", report.Posts[models.OutcomeDuplicate],
		"rejected", report.Posts[models.OutcomeRejected],
		"ignored", report.Posts[models.OutcomeIgnored],
		"failed", report.Posts[models.OutcomeFailed],
		"duration", p.now().Sub(started),
	)

	return report, nil
}

// process handles one enriched post and returns the post outcome plus
// per-candidate outcomes.
func (p *Pipeline) process(ctx context.Context, enriched EnrichedPost, upcoming time.Time) (models.Outcome, []models.Outcome) {
	post := enriched.Post
	shortcode := post.Shortcode()

	if enriched.Err != nil {
		return models.Failed(fmt.Errorf("extract: %w", enriched.Err)), nil
	}

	if len(enriched.Candidates) == 0 {
		p.recordIgnored(ctx, shortcode)
		return models.Ignored("no candidate events"), nil
	}

	details := make([]models.Outcome, 0, len(enriched.Candidates))
	for _, candidate := range enriched.Candidates {
		details = append(details, p.processCandidate(ctx, enriched, candidate, upcoming))
	}

	outcome := models.Summarize(details)
	switch outcome.Kind {
	case models.OutcomeDuplicate, models.OutcomeRejected:
		// Nothing was written and nothing failed, so the result is final.
		p.recordIgnored(ctx, shortcode)
	}

	return outcome, details
}

func (p *Pipeline) processCandidate(ctx context.Context, enriched EnrichedPost, candidate models.CandidateEvent, upcoming time.Time) models.Outcome {
	if err := candidate.Validate(); err != nil {
		p.logger.Info("candidate rejected",
			"shortcode", enriched.Post.Shortcode(),
			"title", candidate.Title,
			"reason", err,
		)
		return models.Rejected(err.Error())
	}

	verdict, err := p.detector.Check(ctx, candidate, upcoming)
	if err != nil {
		p.logger.Error("duplicate check failed",
			"shortcode", enriched.Post.Shortcode(),
			"title", candidate.Title,
			"error", err,
		)
		return models.Failed(err)
	}
	if verdict.Duplicate {
		return models.Duplicate(*verdict.Match)
	}

	return p.writer.Write(ctx, enriched.Post, enriched.ImageURL, candidate, verdict.Embedding)
}

func (p *Pipeline) recordIgnored(ctx context.Context, shortcode string) {
	if err := p.ledger.RecordIgnored(ctx, shortcode); err != nil {
		p.logger.Warn("failed to record ignored post",
			"shortcode", shortcode,
			"error", err,
		)
	}
}

func (p *Pipeline) startOfToday() time.Time {
	y, m, d := p.now().In(p.config.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, p.config.Location)
}

// IsRunning returns whether a run is in progress.
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
