package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clubfeed/eventpipe/internal/models"
)

// Store persists audit records.
type Store interface {
	Store(ctx context.Context, rec models.AuditRecord) error
}

const (
	defaultBuffer       = 256
	defaultWriteTimeout = 5 * time.Second
)

// Logger appends processing outcomes to the audit trail without blocking the
// pipeline. Records are written by one background goroutine.
type Logger struct {
	store   Store
	logger  *slog.Logger
	records chan models.AuditRecord
	timeout time.Duration
	now     func() time.Time

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

// NewLogger starts the background writer. buffer bounds the number of pending records.
func NewLogger(store Store, buffer int, logger *slog.Logger) *Logger {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	l := &Logger{
		store:   store,
		logger:  logger,
		records: make(chan models.AuditRecord, buffer),
		timeout: defaultWriteTimeout,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

// Record enqueues one record for a processed post. It never blocks: when the
// buffer is full the record is dropped with a warning.
func (l *Logger) Record(post models.RawPost, outcome models.Outcome, details []models.Outcome) {
	rec := models.AuditRecord{
		Shortcode:   post.Shortcode(),
		Permalink:   post.Permalink,
		OwnerHandle: post.OwnerHandle,
		Outcome:     outcome.Kind,
		Reason:      outcome.Reason,
		Details:     details,
		RecordedAt:  l.now().UTC(),
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.logger.Warn("audit logger closed, dropping record", "shortcode", rec.Shortcode, "outcome", rec.Outcome)
		return
	}

	select {
	case l.records <- rec:
	default:
		l.logger.Warn("audit buffer full, dropping record", "shortcode", rec.Shortcode, "outcome", rec.Outcome)
	}
}

// Close stops accepting records and waits until the pending ones are written
// or ctx expires.
func (l *Logger) Close(ctx context.Context) error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.records)
		l.mu.Unlock()
	})

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Logger) run() {
	defer close(l.done)
	for rec := range l.records {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		if err := l.store.Store(ctx, rec); err != nil {
			l.logger.Error("failed to write audit record",
				"shortcode", rec.Shortcode,
				"outcome", rec.Outcome,
				"error", err,
			)
		}
		cancel()
	}
}
