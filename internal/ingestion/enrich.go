package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/clubfeed/eventpipe/internal/enrichment"
	"github.com/clubfeed/eventpipe/internal/metrics"
	"github.com/clubfeed/eventpipe/internal/models"
	"golang.org/x/sync/semaphore"
)

// Uploader copies a source image to permanent storage.
type Uploader interface {
	Upload(ctx context.Context, sourceURL string) (string, error)
}

// Extractor turns a post into zero or more candidate events.
type Extractor interface {
	Extract(ctx context.Context, req enrichment.ExtractRequest) ([]models.CandidateEvent, error)
}

const (
	poolUpload  = "upload"
	poolExtract = "extract"

	defaultCallTimeout = 90 * time.Second
)

// EnrichedPost is the result of enriching one post.
type EnrichedPost struct {
	Post models.RawPost
	// ImageURL is the permanent image location, empty when the upload failed.
	// Without an uploader it is the source image URL.
	ImageURL   string
	Candidates []models.CandidateEvent
	// Err is set when extraction did not complete.
	Err error
}

// StageConfig sizes the enrichment pools.
type StageConfig struct {
	UploadConcurrency  int
	ExtractConcurrency int
	CallTimeout        time.Duration
}

// EnrichmentStage uploads images and extracts candidates with two independent
// bounded pools.
type EnrichmentStage struct {
	uploader    Uploader
	extractor   Extractor
	uploads     *semaphore.Weighted
	extracts    *semaphore.Weighted
	callTimeout time.Duration
	metrics     *metrics.Collector
	logger      *slog.Logger
}

// NewEnrichmentStage creates a stage. A nil uploader disables image uploads;
// posts then keep their source image URL.
func NewEnrichmentStage(uploader Uploader, extractor Extractor, cfg StageConfig, m *metrics.Collector, logger *slog.Logger) *EnrichmentStage {
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = 1
	}
	if cfg.ExtractConcurrency <= 0 {
		cfg.ExtractConcurrency = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}

	return &EnrichmentStage{
		uploader:    uploader,
		extractor:   extractor,
		uploads:     semaphore.NewWeighted(int64(cfg.UploadConcurrency)),
		extracts:    semaphore.NewWeighted(int64(cfg.ExtractConcurrency)),
		callTimeout: cfg.CallTimeout,
		metrics:     m,
		logger:      logger,
	}
}

// Run enriches every post and streams results in completion order. The
// channel is closed once all posts are done. Cancelling ctx stops new calls
// from being scheduled; calls already holding a slot run to completion.
func (s *EnrichmentStage) Run(ctx context.Context, posts []models.RawPost) <-chan EnrichedPost {
	out := make(chan EnrichedPost, len(posts))

	var wg sync.WaitGroup
	for _, post := range posts {
		wg.Add(1)
		go func(post models.RawPost) {
			defer wg.Done()
			out <- s.enrich(ctx, post)
		}(post)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

func (s *EnrichmentStage) enrich(ctx context.Context, post models.RawPost) EnrichedPost {
	result := EnrichedPost{Post: post}
	shortcode := post.Shortcode()

	switch {
	case s.uploader == nil:
		result.ImageURL = strings.TrimSpace(post.ImageURL)
	case strings.TrimSpace(post.ImageURL) != "":
		imageURL, err := s.upload(ctx, post.ImageURL)
		if err != nil {
			s.logger.Warn("image upload failed",
				"shortcode", shortcode,
				"error", err,
			)
		} else {
			result.ImageURL = imageURL
		}
	}

	candidates, err := s.extract(ctx, enrichment.ExtractRequest{
		Caption:  post.Caption,
		ImageURL: result.ImageURL,
		PostedAt: post.PostedAt,
	})
	if err != nil {
		s.logger.Error("extraction failed",
			"shortcode", shortcode,
			"owner", post.OwnerHandle,
			"error", err,
		)
		result.Err = err
		return result
	}

	result.Candidates = admitCandidates(candidates)
	if dropped := len(candidates) - len(result.Candidates); dropped > 0 {
		s.logger.Debug("dropped untitled candidates",
			"shortcode", shortcode,
			"dropped", dropped,
		)
	}

	return result
}

func (s *EnrichmentStage) upload(ctx context.Context, sourceURL string) (string, error) {
	if err := s.uploads.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("upload not scheduled: %w", err)
	}
	defer s.uploads.Release(1)
	s.metrics.PoolAcquired(poolUpload)
	defer s.metrics.PoolReleased(poolUpload)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
	defer cancel()

	start := time.Now()
	url, err := s.uploader.Upload(callCtx, sourceURL)
	s.metrics.ObserveCall(poolUpload, err, time.Since(start))
	return url, err
}

func (s *EnrichmentStage) extract(ctx context.Context, req enrichment.ExtractRequest) ([]models.CandidateEvent, error) {
	if err := s.extracts.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("extraction not scheduled: %w", err)
	}
	defer s.extracts.Release(1)
	s.metrics.PoolAcquired(poolExtract)
	defer s.metrics.PoolReleased(poolExtract)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
	defer cancel()

	start := time.Now()
	candidates, err := s.extractor.Extract(callCtx, req)
	s.metrics.ObserveCall(poolExtract, err, time.Since(start))
	return candidates, err
}

// admitCandidates normalizes candidates and drops those without a title.
func admitCandidates(candidates []models.CandidateEvent) []models.CandidateEvent {
	admitted := make([]models.CandidateEvent, 0, len(candidates))
	for _, c := range candidates {
		c = c.Normalize()
		if c.Title == "" {
			continue
		}
		admitted = append(admitted, c)
	}
	return admitted
}
