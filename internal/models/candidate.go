package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrIncompleteCandidate is returned when a candidate lacks a field required for persistence.
var ErrIncompleteCandidate = errors.New("candidate event is incomplete")

// CandidateEvent is an unvalidated event extracted from a single post.
type CandidateEvent struct {
	Title                string   `json:"title"`
	Date                 string   `json:"date,omitempty"`       // YYYY-MM-DD
	StartTime            string   `json:"start_time,omitempty"` // HH:MM, 24h
	EndTime              string   `json:"end_time,omitempty"`
	Location             string   `json:"location,omitempty"`
	Price                *float64 `json:"price,omitempty"`
	Food                 string   `json:"food,omitempty"`
	RequiresRegistration bool     `json:"requires_registration"`
	Description          string   `json:"description,omitempty"`
	ImageURL             string   `json:"image_url,omitempty"`
	RRule                string   `json:"rrule,omitempty"`
	RDate                []string `json:"rdate,omitempty"`
}

const candidateDateLayout = "2006-01-02"

var clockLayouts = []string{
	"15:04",
	"15:04:05",
	"3:04 PM",
	"3:04PM",
	"3 PM",
	"3PM",
}

// Normalize trims whitespace from every text field.
func (c CandidateEvent) Normalize() CandidateEvent {
	c.Title = strings.TrimSpace(c.Title)
	c.Date = strings.TrimSpace(c.Date)
	c.StartTime = strings.TrimSpace(c.StartTime)
	c.EndTime = strings.TrimSpace(c.EndTime)
	c.Location = strings.TrimSpace(c.Location)
	c.Food = strings.TrimSpace(c.Food)
	c.Description = strings.TrimSpace(c.Description)
	c.ImageURL = strings.TrimSpace(c.ImageURL)
	c.RRule = strings.TrimSpace(c.RRule)
	return c
}

// Validate applies the required-field gate: title, a resolvable date, a start
// time and a location must all be present.
func (c CandidateEvent) Validate() error {
	var missing []string

	if strings.TrimSpace(c.Title) == "" {
		missing = append(missing, "title")
	}
	if _, err := time.Parse(candidateDateLayout, strings.TrimSpace(c.Date)); err != nil {
		missing = append(missing, "date")
	}
	if _, err := parseClock(c.StartTime); err != nil {
		missing = append(missing, "start_time")
	}
	if strings.TrimSpace(c.Location) == "" {
		missing = append(missing, "location")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteCandidate, strings.Join(missing, ", "))
	}
	return nil
}

// EmbeddingText is the text used for similarity lookup.
func (c CandidateEvent) EmbeddingText() string {
	if d := strings.TrimSpace(c.Description); d != "" {
		return d
	}
	return strings.TrimSpace(c.Title)
}

// Schedule resolves the candidate's wall-clock start and optional end in loc.
// An end time earlier than the start is taken to fall on the following day.
func (c CandidateEvent) Schedule(loc *time.Location) (time.Time, *time.Time, error) {
	day, err := time.ParseInLocation(candidateDateLayout, strings.TrimSpace(c.Date), loc)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("parse date %q: %w", c.Date, err)
	}

	startClock, err := parseClock(c.StartTime)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("parse start_time %q: %w", c.StartTime, err)
	}
	start := atClock(day, startClock, loc)

	if strings.TrimSpace(c.EndTime) == "" {
		return start, nil, nil
	}

	endClock, err := parseClock(c.EndTime)
	if err != nil {
		// A garbled end time does not invalidate the event.
		return start, nil, nil
	}
	end := atClock(day, endClock, loc)
	if !end.After(start) {
		end = atClock(day.AddDate(0, 0, 1), endClock, loc)
	}

	return start, &end, nil
}

func parseClock(raw string) (time.Time, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return time.Time{}, errors.New("empty time")
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", raw)
}

func atClock(day, clock time.Time, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, loc)
}
