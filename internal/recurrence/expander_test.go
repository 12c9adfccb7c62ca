package recurrence

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/clubfeed/eventpipe/internal/models"
)

func testExpander(t *testing.T) (*Expander, *time.Location) {
	t.Helper()
	loc, err := time.LoadLocation("America/Toronto")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewExpander(time.UTC, logger), loc
}

func baseEvent(loc *time.Location) models.Event {
	start := time.Date(2025, 1, 6, 17, 0, 0, 0, loc) // Monday
	end := start.Add(2 * time.Hour)
	return models.Event{
		ID:       "evt-1",
		DTStart:  start,
		DTEnd:    &end,
		Timezone: loc.String(),
	}
}

func TestExpand_SingleOccurrence(t *testing.T) {
	x, loc := testExpander(t)
	event := baseEvent(loc)

	occurrences := x.Expand(event)
	if len(occurrences) != 1 {
		t.Fatalf("expected 1 occurrence, got %d", len(occurrences))
	}

	occ := occurrences[0]
	if !occ.DTStart.Equal(event.DTStart) {
		t.Errorf("dtstart = %v, want %v", occ.DTStart, event.DTStart)
	}
	if occ.DTEnd == nil || !occ.DTEnd.Equal(*event.DTEnd) {
		t.Errorf("dtend = %v, want %v", occ.DTEnd, event.DTEnd)
	}
	// January in Toronto is UTC-5.
	wantUTC := time.Date(2025, 1, 6, 22, 0, 0, 0, time.UTC)
	if !occ.DTStartUTC.Equal(wantUTC) || occ.DTStartUTC.Location() != time.UTC {
		t.Errorf("dtstart_utc = %v, want %v", occ.DTStartUTC, wantUTC)
	}
	if occ.EventID != event.ID {
		t.Errorf("event id = %q, want %q", occ.EventID, event.ID)
	}
}

func TestExpand_WeeklyCount(t *testing.T) {
	x, loc := testExpander(t)
	event := baseEvent(loc)
	event.RRule = "FREQ=WEEKLY;COUNT=3"

	occurrences := x.Expand(event)
	if len(occurrences) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(occurrences))
	}

	wantDays := []int{6, 13, 20}
	for i, occ := range occurrences {
		if occ.DTStart.Day() != wantDays[i] || occ.DTStart.Month() != time.January {
			t.Errorf("occurrence %d starts %v, want 2025-01-%02d", i, occ.DTStart, wantDays[i])
		}
		if occ.DTStart.Hour() != 17 {
			t.Errorf("occurrence %d hour = %d, want 17", i, occ.DTStart.Hour())
		}
		if occ.DTEnd == nil || occ.DTEnd.Sub(occ.DTStart) != 2*time.Hour {
			t.Errorf("occurrence %d end offset = %v, want 2h", i, occ.DTEnd)
		}
	}
}

func TestExpand_RuleWithPrefix(t *testing.T) {
	x, loc := testExpander(t)
	event := baseEvent(loc)
	event.RRule = "RRULE:FREQ=DAILY;COUNT=2"

	if got := len(x.Expand(event)); got != 2 {
		t.Fatalf("expected 2 occurrences, got %d", got)
	}
}

func TestExpand_UnboundedRuleIsCapped(t *testing.T) {
	x, loc := testExpander(t)
	event := baseEvent(loc)
	event.RRule = "FREQ=DAILY"

	if got := len(x.Expand(event)); got != MaxOccurrences {
		t.Fatalf("expected %d occurrences, got %d", MaxOccurrences, got)
	}
}

func TestExpand_MalformedRuleDegrades(t *testing.T) {
	x, loc := testExpander(t)
	event := baseEvent(loc)
	event.RRule = "FREQ=SOMETIMES;COUNT=banana"

	occurrences := x.Expand(event)
	if len(occurrences) != 1 {
		t.Fatalf("expected base occurrence only, got %d", len(occurrences))
	}
	if !occurrences[0].DTStart.Equal(event.DTStart) {
		t.Errorf("dtstart = %v, want %v", occurrences[0].DTStart, event.DTStart)
	}
}

func TestExpand_RDate(t *testing.T) {
	x, loc := testExpander(t)
	event := baseEvent(loc)
	event.RDate = []string{
		"20250120T170000",
		"2025-01-13T17:00:00",
		"not-a-date",
		"2025-01-06T17:00:00", // same as dtstart
	}

	occurrences := x.Expand(event)
	if len(occurrences) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(occurrences))
	}

	for i, wantDay := range []int{6, 13, 20} {
		if occurrences[i].DTStart.Day() != wantDay {
			t.Errorf("occurrence %d day = %d, want %d", i, occurrences[i].DTStart.Day(), wantDay)
		}
		if occurrences[i].DTEnd == nil || occurrences[i].DTEnd.Sub(occurrences[i].DTStart) != 2*time.Hour {
			t.Errorf("occurrence %d missing 2h offset", i)
		}
	}
}

func TestExpand_RDateCommaList(t *testing.T) {
	x, loc := testExpander(t)
	event := baseEvent(loc)
	event.RDate = []string{"RDATE;TZID=America/Toronto:20250107T170000,20250108T170000"}

	if got := len(x.Expand(event)); got != 3 {
		t.Fatalf("expected 3 occurrences, got %d", got)
	}
}

func TestExpand_DurationFallback(t *testing.T) {
	x, loc := testExpander(t)
	event := baseEvent(loc)
	event.DTEnd = nil
	event.Duration = 90 * time.Minute

	occurrences := x.Expand(event)
	if occurrences[0].DTEnd == nil {
		t.Fatal("expected end derived from duration")
	}
	if got := occurrences[0].DTEnd.Sub(occurrences[0].DTStart); got != 90*time.Minute {
		t.Errorf("span = %v, want 90m", got)
	}
	if occurrences[0].Duration != 90*time.Minute {
		t.Errorf("duration = %v, want 90m", occurrences[0].Duration)
	}
}

func TestExpand_NoEnd(t *testing.T) {
	x, loc := testExpander(t)
	event := baseEvent(loc)
	event.DTEnd = nil

	occurrences := x.Expand(event)
	if occurrences[0].DTEnd != nil || occurrences[0].DTEndUTC != nil {
		t.Errorf("expected open-ended occurrence, got %v", occurrences[0].DTEnd)
	}
}

func TestExpand_UTCAcrossDST(t *testing.T) {
	x, loc := testExpander(t)
	start := time.Date(2025, 3, 3, 18, 0, 0, 0, loc)
	event := models.Event{ID: "evt-dst", DTStart: start, Timezone: loc.String(), RRule: "FREQ=WEEKLY;COUNT=2"}

	occurrences := x.Expand(event)
	if len(occurrences) != 2 {
		t.Fatalf("expected 2 occurrences, got %d", len(occurrences))
	}
	// EST before 2025-03-09, EDT after: same wall clock, one hour apart in UTC.
	if occurrences[0].DTStartUTC.Hour() != 23 || occurrences[1].DTStartUTC.Hour() != 22 {
		t.Errorf("utc hours = %d, %d; want 23, 22", occurrences[0].DTStartUTC.Hour(), occurrences[1].DTStartUTC.Hour())
	}
}

func TestExpand_UnknownTimezoneFallsBack(t *testing.T) {
	x, _ := testExpander(t)
	event := models.Event{ID: "evt-tz", DTStart: time.Date(2025, 1, 6, 17, 0, 0, 0, time.UTC), Timezone: "Mars/Olympus"}

	occurrences := x.Expand(event)
	if occurrences[0].Timezone != "UTC" {
		t.Errorf("timezone = %q, want UTC", occurrences[0].Timezone)
	}
}
