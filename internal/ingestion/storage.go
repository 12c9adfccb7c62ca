package ingestion

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/clubfeed/eventpipe/internal/enrichment"
	"github.com/clubfeed/eventpipe/internal/models"
	"github.com/google/uuid"
)

// EventStore persists events and answers similarity lookups.
type EventStore interface {
	// Create stores an event and its occurrences atomically.
	Create(ctx context.Context, event *models.Event, occurrences []models.Occurrence) error

	// SimilarEvents returns the stored events closest to embedding, most similar
	// first. When since is set only events with an occurrence ending on or after
	// it are considered.
	SimilarEvents(ctx context.Context, embedding []float32, since *time.Time, limit int) ([]models.SimilarEvent, error)
}

// PostLedger tracks which posts have already been handled.
type PostLedger interface {
	// Seen returns the subset of shortcodes that already produced an event or
	// were recorded as ignored.
	Seen(ctx context.Context, shortcodes []string) (map[string]bool, error)

	// RecordIgnored marks a post as permanently handled without an event.
	RecordIgnored(ctx context.Context, shortcode string) error
}

var errNoOccurrences = errors.New("event has no occurrences")

// MemoryStore implements EventStore and PostLedger in memory for offline runs
// and development.
type MemoryStore struct {
	mu          sync.RWMutex
	events      map[string]models.Event
	occurrences map[string][]models.Occurrence
	ignored     map[string]time.Time
	now         func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:      make(map[string]models.Event),
		occurrences: make(map[string][]models.Occurrence),
		ignored:     make(map[string]time.Time),
		now:         time.Now,
	}
}

// Create stores an event. Occurrence event IDs are rewritten to the event's ID.
func (s *MemoryStore) Create(ctx context.Context, event *models.Event, occurrences []models.Occurrence) error {
	if len(occurrences) == 0 {
		return errNoOccurrences
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}

	stored := make([]models.Occurrence, len(occurrences))
	for i, occ := range occurrences {
		occ.EventID = event.ID
		stored[i] = occ
	}

	s.events[event.ID] = *event
	s.occurrences[event.ID] = stored
	return nil
}

// SimilarEvents ranks stored events by cosine similarity.
func (s *MemoryStore) SimilarEvents(ctx context.Context, embedding []float32, since *time.Time, limit int) ([]models.SimilarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []models.SimilarEvent
	for id, event := range s.events {
		if len(event.Embedding) == 0 || event.Status == models.EventStatusCancelled {
			continue
		}
		if since != nil && !s.hasOccurrenceSince(id, *since) {
			continue
		}
		matches = append(matches, models.SimilarEvent{
			EventID:    id,
			Title:      event.Title,
			SourceURL:  event.SourceURL,
			Similarity: enrichment.Cosine(embedding, event.Embedding),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *MemoryStore) hasOccurrenceSince(eventID string, since time.Time) bool {
	for _, occ := range s.occurrences[eventID] {
		last := occ.DTStartUTC
		if occ.DTEndUTC != nil {
			last = *occ.DTEndUTC
		}
		if !last.Before(since) {
			return true
		}
	}
	return false
}

// Seen reports shortcodes that produced an event or were ignored.
func (s *MemoryStore) Seen(ctx context.Context, shortcodes []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(shortcodes))
	for _, code := range shortcodes {
		wanted[code] = true
	}

	seen := make(map[string]bool)
	for _, event := range s.events {
		if code := models.ShortcodeFromPermalink(event.SourceURL); wanted[code] {
			seen[code] = true
		}
	}
	for code := range s.ignored {
		if wanted[code] {
			seen[code] = true
		}
	}
	return seen, nil
}

// RecordIgnored marks a shortcode as ignored. Repeated calls keep the first timestamp.
func (s *MemoryStore) RecordIgnored(ctx context.Context, shortcode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ignored[shortcode]; !ok {
		s.ignored[shortcode] = s.now().UTC()
	}
	return nil
}

// PurgeOlderThan removes ignored posts recorded before cutoff.
func (s *MemoryStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for code, at := range s.ignored {
		if at.Before(cutoff) {
			delete(s.ignored, code)
			removed++
		}
	}
	return removed, nil
}

// Events returns a snapshot of stored events ordered by creation time.
func (s *MemoryStore) Events() []models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]models.Event, 0, len(s.events))
	for _, event := range s.events {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events
}

// Occurrences returns the stored occurrences of one event.
func (s *MemoryStore) Occurrences(eventID string) []models.Occurrence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Occurrence(nil), s.occurrences[eventID]...)
}

// Size returns the number of stored events.
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// IgnoredCount returns the number of ignored posts.
func (s *MemoryStore) IgnoredCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ignored)
}
