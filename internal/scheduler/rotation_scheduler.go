package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clubfeed/eventpipe/internal/ingestion"
	"github.com/clubfeed/eventpipe/internal/models"
)

// Runner executes one day's rotation.
type Runner interface {
	RunForDay(ctx context.Context, trigger string, sources []models.Source, day int) (ingestion.Report, error)
}

const triggerScheduled = "scheduled"

// RotationScheduler runs the ingestion pipeline once per local calendar day
// for that day's rotation group.
type RotationScheduler struct {
	runner        Runner
	sources       []models.Source
	location      *time.Location
	logger        *slog.Logger
	checkInterval time.Duration
	now           func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}

	mu      sync.Mutex
	lastRun string
}

// NewRotationScheduler creates a new rotation scheduler
func NewRotationScheduler(
	runner Runner,
	sources []models.Source,
	loc *time.Location,
	checkInterval time.Duration,
	logger *slog.Logger,
) *RotationScheduler {
	if loc == nil {
		loc = time.UTC
	}
	if checkInterval <= 0 {
		checkInterval = 5 * time.Minute
	}
	return &RotationScheduler{
		runner:        runner,
		sources:       sources,
		location:      loc,
		logger:        logger,
		checkInterval: checkInterval,
		now:           time.Now,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the scheduler loop
func (s *RotationScheduler) Start(ctx context.Context) {
	s.logger.Info("Starting rotation scheduler",
		"check_interval", s.checkInterval,
		"sources", len(s.sources),
		"timezone", s.location.String(),
	)
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.checkAndRun(ctx)

	for {
		select {
		case <-ticker.C:
			s.checkAndRun(ctx)
		case <-s.stopChan:
			s.logger.Info("Rotation scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Rotation scheduler stopping due to context cancellation")
			return
		}
	}
}

// Stop stops the scheduler. It is safe to call more than once.
func (s *RotationScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// LastRunDate returns the local date (YYYY-MM-DD) of the last successful run.
func (s *RotationScheduler) LastRunDate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// checkAndRun runs today's rotation unless it already succeeded. A failed run
// is retried on the next check.
func (s *RotationScheduler) checkAndRun(ctx context.Context) {
	today := s.now().In(s.location)
	date := today.Format("2006-01-02")

	s.mu.Lock()
	done := s.lastRun == date
	s.mu.Unlock()
	if done {
		s.logger.Debug("Rotation already ran today", "date", date)
		return
	}

	day := ingestion.DayIndex(today.Weekday())
	s.logger.Info("Running scheduled rotation", "date", date, "day", day)

	report, err := s.runner.RunForDay(ctx, triggerScheduled, s.sources, day)
	if err != nil {
		s.logger.Error("Scheduled rotation failed", "date", date, "error", err)
		return
	}

	s.mu.Lock()
	s.lastRun = date
	s.mu.Unlock()

	s.logger.Info("Scheduled rotation finished",
		"date", date,
		"admitted", report.Admitted,
		"written", report.Posts[models.OutcomeWritten],
		"duration", report.Duration,
	)
}
