// Package recurrence materializes event definitions into concrete calendar occurrences.
package recurrence

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/clubfeed/eventpipe/internal/models"
	"github.com/teambition/rrule-go"
)

// MaxOccurrences caps expansion of a single event so unbounded rules terminate.
const MaxOccurrences = 100

// Expander turns an Event into the ordered Occurrence rows stored alongside it.
type Expander struct {
	logger   *slog.Logger
	fallback *time.Location
}

// NewExpander creates an expander. Events whose timezone cannot be loaded are
// interpreted in fallback (UTC when nil).
func NewExpander(fallback *time.Location, logger *slog.Logger) *Expander {
	if fallback == nil {
		fallback = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{logger: logger, fallback: fallback}
}

// Expand returns at least one occurrence for event. Malformed RRULE or RDATE
// values are logged and contribute no additional occurrences.
func (x *Expander) Expand(event models.Event) []models.Occurrence {
	loc := x.location(event.Timezone)
	start := inLocation(event.DTStart, loc)
	span, hasEnd := occurrenceSpan(event)

	var starts []time.Time
	switch {
	case event.RRule != "":
		starts = x.expandRule(event, start, loc)
	case len(event.RDate) > 0:
		starts = x.expandDates(event, start, loc)
	}
	if len(starts) == 0 {
		starts = []time.Time{start}
	}

	occurrences := make([]models.Occurrence, 0, len(starts))
	for _, s := range starts {
		occ := models.Occurrence{
			EventID:    event.ID,
			DTStart:    s,
			DTStartUTC: s.UTC(),
			Timezone:   loc.String(),
		}
		if hasEnd {
			end := s.Add(span)
			endUTC := end.UTC()
			occ.DTEnd = &end
			occ.DTEndUTC = &endUTC
			occ.Duration = span
		}
		occurrences = append(occurrences, occ)
	}

	return occurrences
}

func (x *Expander) location(name string) *time.Location {
	if name == "" {
		return x.fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		x.logger.Warn("unknown event timezone, using fallback",
			"timezone", name,
			"fallback", x.fallback.String(),
			"error", err)
		return x.fallback
	}
	return loc
}

func (x *Expander) expandRule(event models.Event, start time.Time, loc *time.Location) []time.Time {
	opt, err := rrule.StrToROptionInLocation(event.RRule, loc)
	if err != nil {
		x.logger.Warn("malformed rrule, skipping recurrence",
			"event_id", event.ID,
			"rrule", event.RRule,
			"error", err)
		return nil
	}
	opt.Dtstart = start

	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		x.logger.Warn("invalid rrule, skipping recurrence",
			"event_id", event.ID,
			"rrule", event.RRule,
			"error", err)
		return nil
	}

	starts := make([]time.Time, 0, 8)
	next := rule.Iterator()
	for len(starts) < MaxOccurrences {
		t, ok := next()
		if !ok {
			break
		}
		starts = append(starts, t)
	}

	if len(starts) == MaxOccurrences {
		x.logger.Info("recurrence truncated",
			"event_id", event.ID,
			"rrule", event.RRule,
			"limit", MaxOccurrences)
	}

	return starts
}

func (x *Expander) expandDates(event models.Event, start time.Time, loc *time.Location) []time.Time {
	seen := map[int64]bool{start.Unix(): true}
	starts := []time.Time{start}

	for _, raw := range splitDates(event.RDate) {
		t, err := parseDate(raw, start, loc)
		if err != nil {
			x.logger.Warn("malformed rdate value, skipping",
				"event_id", event.ID,
				"rdate", raw,
				"error", err)
			continue
		}
		if seen[t.Unix()] {
			continue
		}
		seen[t.Unix()] = true
		starts = append(starts, t)
	}

	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	if len(starts) > MaxOccurrences {
		x.logger.Info("rdate list truncated",
			"event_id", event.ID,
			"count", len(starts),
			"limit", MaxOccurrences)
		starts = starts[:MaxOccurrences]
	}

	return starts
}

// occurrenceSpan prefers the event's own end time over an explicit duration.
func occurrenceSpan(event models.Event) (time.Duration, bool) {
	if event.DTEnd != nil {
		if span := event.DTEnd.Sub(event.DTStart); span >= 0 {
			return span, true
		}
	}
	if event.Duration > 0 {
		return event.Duration, true
	}
	return 0, false
}

// inLocation reinterprets t's wall clock in loc.
func inLocation(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// splitDates flattens "RDATE:a,b" style entries into individual values.
func splitDates(values []string) []string {
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if strings.HasPrefix(strings.ToUpper(v), "RDATE") {
			if idx := strings.Index(v, ":"); idx >= 0 {
				v = v[idx+1:]
			}
		}
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
