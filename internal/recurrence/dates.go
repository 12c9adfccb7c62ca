package recurrence

import (
	"fmt"
	"strings"
	"time"
)

// Layouts carrying an explicit offset or a trailing Z are absolute instants.
var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999999999Z07:00",
	"20060102T150405Z",
}

// Wall-clock layouts are interpreted in the event's timezone.
var wallLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"20060102T150405",
	"20060102T1504",
}

// Date-only layouts inherit the clock time of the base occurrence.
var dayLayouts = []string{
	"2006-01-02",
	"20060102",
}

// parseDate parses a single RDATE value.
func parseDate(raw string, base time.Time, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.In(loc), nil
		}
	}

	for _, layout := range wallLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}

	for _, layout := range dayLayouts {
		if d, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return time.Date(d.Year(), d.Month(), d.Day(), base.Hour(), base.Minute(), base.Second(), 0, loc), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized date format %q", raw)
}
