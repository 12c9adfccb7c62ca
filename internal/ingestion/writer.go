package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clubfeed/eventpipe/internal/models"
	"github.com/clubfeed/eventpipe/internal/recurrence"
	"github.com/google/uuid"
)

// GroupClassifier resolves the group type of a source handle.
type GroupClassifier interface {
	GroupTypeFor(ctx context.Context, handle string) (string, error)
}

// Writer persists accepted candidates as events with their occurrences.
type Writer struct {
	store      EventStore
	classifier GroupClassifier
	expander   *recurrence.Expander
	location   *time.Location
	logger     *slog.Logger
	now        func() time.Time
}

// NewWriter creates a writer. Candidate dates and times are read as wall clock
// in loc. classifier may be nil.
func NewWriter(store EventStore, classifier GroupClassifier, expander *recurrence.Expander, loc *time.Location, logger *slog.Logger) *Writer {
	if loc == nil {
		loc = time.UTC
	}
	return &Writer{
		store:      store,
		classifier: classifier,
		expander:   expander,
		location:   loc,
		logger:     logger,
		now:        time.Now,
	}
}

// Write stores candidate as one event. Candidates failing the required-field
// gate are rejected without touching the store. Storage errors yield a
// Failed outcome and leave nothing behind.
func (w *Writer) Write(ctx context.Context, post models.RawPost, imageURL string, candidate models.CandidateEvent, embedding []float32) models.Outcome {
	if err := candidate.Validate(); err != nil {
		return models.Rejected(err.Error())
	}

	event, err := w.buildEvent(ctx, post, imageURL, candidate, embedding)
	if err != nil {
		return models.Rejected(err.Error())
	}

	occurrences := w.expander.Expand(event)
	if err := w.store.Create(ctx, &event, occurrences); err != nil {
		w.logger.Error("failed to store event",
			"shortcode", post.Shortcode(),
			"title", event.Title,
			"error", err,
		)
		return models.Failed(fmt.Errorf("store event: %w", err))
	}

	w.logger.Info("event stored",
		"event_id", event.ID,
		"title", event.Title,
		"owner", event.OwnerHandle,
		"occurrences", len(occurrences),
	)
	return models.Written(event.ID)
}

func (w *Writer) buildEvent(ctx context.Context, post models.RawPost, imageURL string, c models.CandidateEvent, embedding []float32) (models.Event, error) {
	start, end, err := c.Schedule(w.location)
	if err != nil {
		return models.Event{}, err
	}

	event := models.Event{
		ID:                   uuid.NewString(),
		Title:                c.Title,
		Description:          c.Description,
		Location:             c.Location,
		DTStart:              start,
		DTEnd:                end,
		DTStartUTC:           start.UTC(),
		Timezone:             w.location.String(),
		RRule:                c.RRule,
		RDate:                c.RDate,
		Status:               models.EventStatusConfirmed,
		SourceURL:            post.Permalink,
		SourceImageURL:       imageURL,
		Embedding:            embedding,
		GroupType:            w.groupType(ctx, post.OwnerHandle),
		OwnerHandle:          post.OwnerHandle,
		Price:                c.Price,
		Food:                 c.Food,
		RequiresRegistration: c.RequiresRegistration,
		CreatedAt:            w.now().UTC(),
	}
	if end != nil {
		endUTC := end.UTC()
		event.DTEndUTC = &endUTC
		event.Duration = end.Sub(start)
	}

	return event, nil
}

func (w *Writer) groupType(ctx context.Context, handle string) string {
	if w.classifier == nil || handle == "" {
		return ""
	}
	groupType, err := w.classifier.GroupTypeFor(ctx, handle)
	if err != nil {
		w.logger.Warn("group type lookup failed",
			"handle", handle,
			"error", err,
		)
		return ""
	}
	return groupType
}
