package ingestion

import (
	"time"

	"github.com/clubfeed/eventpipe/internal/models"
)

// rotationGroups maps a Monday-based day index to the source group polled that day.
var rotationGroups = [7]int{
	0, // Monday
	1, // Tuesday
	2, // Wednesday
	0, // Thursday
	1, // Friday
	2, // Saturday
	0, // Sunday
}

// SourcesForDay returns the sources polled on day (0 = Monday .. 6 = Sunday).
// Sources are split into three groups by their index modulo 3. An out of range
// day returns nil.
func SourcesForDay(sources []models.Source, day int) []models.Source {
	if day < 0 || day >= len(rotationGroups) {
		return nil
	}
	group := rotationGroups[day]

	var selected []models.Source
	for i, source := range sources {
		if i%3 == group {
			selected = append(selected, source)
		}
	}
	return selected
}

// DaysSincePreviousScan returns how many days before day its group was last
// polled, 1 to 4 for the weekly rotation. An out of range day returns 0.
func DaysSincePreviousScan(day int) int {
	if day < 0 || day >= len(rotationGroups) {
		return 0
	}
	n := len(rotationGroups)
	for gap := 1; gap < n; gap++ {
		if rotationGroups[(day-gap+n)%n] == rotationGroups[day] {
			return gap
		}
	}
	return n
}

// DayIndex converts a time.Weekday to the Monday-based index used by SourcesForDay.
func DayIndex(weekday time.Weekday) int {
	return (int(weekday) + 6) % 7
}

// Handles lists the handles of sources in order.
func Handles(sources []models.Source) []string {
	handles := make([]string, len(sources))
	for i, source := range sources {
		handles[i] = source.Handle
	}
	return handles
}
