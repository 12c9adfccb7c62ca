package models

import (
	"time"
)

// Event is a persisted event definition. Recurring events expand into many Occurrences.
type Event struct {
	ID                   string        `json:"id"`
	Title                string        `json:"title"`
	Description          string        `json:"description"`
	Location             string        `json:"location"`
	DTStart              time.Time     `json:"dtstart"` // wall clock in Timezone
	DTEnd                *time.Time    `json:"dtend,omitempty"`
	DTStartUTC           time.Time     `json:"dtstart_utc"`
	DTEndUTC             *time.Time    `json:"dtend_utc,omitempty"`
	Duration             time.Duration `json:"duration,omitempty"`
	Timezone             string        `json:"timezone"`
	RRule                string        `json:"rrule,omitempty"`
	RDate                []string      `json:"rdate,omitempty"`
	Status               EventStatus   `json:"status"`
	SourceURL            string        `json:"source_url"`
	SourceImageURL       string        `json:"source_image_url,omitempty"`
	Embedding            []float32     `json:"-"`
	GroupType            string        `json:"group_type,omitempty"`
	OwnerHandle          string        `json:"owner_handle,omitempty"`
	Price                *float64      `json:"price,omitempty"`
	Food                 string        `json:"food,omitempty"`
	RequiresRegistration bool          `json:"requires_registration"`
	CreatedAt            time.Time     `json:"created_at"`
}

// EventStatus represents the moderation state of an event.
type EventStatus string

const (
	EventStatusPending   EventStatus = "PENDING"
	EventStatusConfirmed EventStatus = "CONFIRMED"
	EventStatusCancelled EventStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusPending, EventStatusConfirmed, EventStatusCancelled:
		return true
	}
	return false
}

// Occurrence is one concrete instance of an Event on the calendar.
type Occurrence struct {
	EventID    string        `json:"event_id"`
	DTStart    time.Time     `json:"dtstart"`
	DTEnd      *time.Time    `json:"dtend,omitempty"`
	DTStartUTC time.Time     `json:"dtstart_utc"`
	DTEndUTC   *time.Time    `json:"dtend_utc,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Timezone   string        `json:"timezone"`
}

// IsRecurring reports whether the event carries recurrence data.
func (e *Event) IsRecurring() bool {
	return e.RRule != "" || len(e.RDate) > 0
}

// SimilarEvent is a stored event returned by a vector similarity lookup.
type SimilarEvent struct {
	EventID    string  `json:"event_id"`
	Title      string  `json:"title"`
	SourceURL  string  `json:"source_url"`
	Similarity float64 `json:"similarity"`
}
