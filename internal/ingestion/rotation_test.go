package ingestion

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/clubfeed/eventpipe/internal/models"
)

func nineSources() []models.Source {
	sources := make([]models.Source, 9)
	for i := range sources {
		sources[i] = models.Source{Handle: fmt.Sprintf("club%d", i)}
	}
	return sources
}

func TestSourcesForDayRotation(t *testing.T) {
	sources := nineSources()

	monday := Handles(SourcesForDay(sources, 0))
	for _, day := range []int{3, 6} {
		if got := Handles(SourcesForDay(sources, day)); !reflect.DeepEqual(got, monday) {
			t.Errorf("day %d = %v, want Monday's %v", day, got, monday)
		}
	}

	want := map[int][]string{
		0: {"club0", "club3", "club6"},
		1: {"club1", "club4", "club7"},
		2: {"club2", "club5", "club8"},
		4: {"club1", "club4", "club7"},
		5: {"club2", "club5", "club8"},
	}
	for day, handles := range want {
		if got := Handles(SourcesForDay(sources, day)); !reflect.DeepEqual(got, handles) {
			t.Errorf("day %d = %v, want %v", day, got, handles)
		}
	}
}

func TestSourcesForDayCoversEverySourceOnce(t *testing.T) {
	sources := nineSources()
	counts := make(map[string]int)
	for _, day := range []int{0, 1, 2} {
		for _, s := range SourcesForDay(sources, day) {
			counts[s.Handle]++
		}
	}
	if len(counts) != len(sources) {
		t.Fatalf("expected all %d sources across Mon-Wed, got %d", len(sources), len(counts))
	}
	for handle, n := range counts {
		if n != 1 {
			t.Errorf("%s selected %d times", handle, n)
		}
	}
}

func TestSourcesForDayOutOfRange(t *testing.T) {
	if got := SourcesForDay(nineSources(), 7); got != nil {
		t.Errorf("expected nil for day 7, got %v", got)
	}
	if got := SourcesForDay(nineSources(), -1); got != nil {
		t.Errorf("expected nil for day -1, got %v", got)
	}
}

func TestDayIndex(t *testing.T) {
	tests := map[time.Weekday]int{
		time.Monday:   0,
		time.Thursday: 3,
		time.Saturday: 5,
		time.Sunday:   6,
	}
	for weekday, want := range tests {
		if got := DayIndex(weekday); got != want {
			t.Errorf("DayIndex(%v) = %d, want %d", weekday, got, want)
		}
	}
}

func TestDaysSincePreviousScan(t *testing.T) {
	tests := []struct {
		day  int
		want int
	}{
		{day: 0, want: 1}, // Monday, after Sunday
		{day: 1, want: 4}, // Tuesday, after Friday
		{day: 2, want: 4}, // Wednesday, after Saturday
		{day: 3, want: 3}, // Thursday, after Monday
		{day: 4, want: 3},
		{day: 5, want: 3},
		{day: 6, want: 3}, // Sunday, after Thursday
		{day: 7, want: 0},
		{day: -1, want: 0},
	}
	for _, tt := range tests {
		if got := DaysSincePreviousScan(tt.day); got != tt.want {
			t.Errorf("DaysSincePreviousScan(%d) = %d, want %d", tt.day, got, tt.want)
		}
	}
}
