package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clubfeed/eventpipe/internal/models"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DefaultSimilarityThreshold is the similarity at or above which a candidate
// is treated as an existing event.
const DefaultSimilarityThreshold = 0.5

// Verdict is the result of a duplicate check.
type Verdict struct {
	Duplicate bool
	Match     *models.SimilarEvent
	// Embedding is reused when the candidate is written.
	Embedding []float32
}

// DuplicateDetector compares candidates against stored events by embedding similarity.
type DuplicateDetector struct {
	embedder  Embedder
	store     EventStore
	threshold float64
	logger    *slog.Logger
}

// NewDuplicateDetector creates a detector. A non-positive threshold selects the default.
func NewDuplicateDetector(embedder Embedder, store EventStore, threshold float64, logger *slog.Logger) *DuplicateDetector {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &DuplicateDetector{
		embedder:  embedder,
		store:     store,
		threshold: threshold,
		logger:    logger,
	}
}

// Threshold returns the configured similarity threshold.
func (d *DuplicateDetector) Threshold() float64 {
	return d.threshold
}

// Check embeds the candidate and looks up the closest stored event with an
// occurrence ending on or after since.
func (d *DuplicateDetector) Check(ctx context.Context, candidate models.CandidateEvent, since time.Time) (Verdict, error) {
	embedding, err := d.embedder.Embed(ctx, candidate.EmbeddingText())
	if err != nil {
		return Verdict{}, fmt.Errorf("embed candidate: %w", err)
	}

	matches, err := d.store.SimilarEvents(ctx, embedding, &since, 1)
	if err != nil {
		return Verdict{}, fmt.Errorf("similarity lookup: %w", err)
	}

	verdict := Verdict{Embedding: embedding}
	if len(matches) == 0 {
		return verdict, nil
	}

	best := matches[0]
	if best.Similarity >= d.threshold {
		verdict.Duplicate = true
		verdict.Match = &best
		d.logger.Info("duplicate candidate",
			"title", candidate.Title,
			"match_id", best.EventID,
			"match_title", best.Title,
			"similarity", best.Similarity,
		)
	}

	return verdict, nil
}
