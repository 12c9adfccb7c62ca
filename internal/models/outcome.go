package models

import (
	"fmt"
	"time"
)

// OutcomeKind classifies what happened to a post or candidate.
type OutcomeKind string

const (
	OutcomeWritten   OutcomeKind = "written"
	OutcomeDuplicate OutcomeKind = "duplicate"
	OutcomeRejected  OutcomeKind = "rejected"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeIgnored   OutcomeKind = "ignored" // post yielded no candidates
)

// Outcome is the explicit result threaded through the pipeline stages.
type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	Reason     string      `json:"reason,omitempty"`
	EventID    string      `json:"event_id,omitempty"`
	MatchID    string      `json:"match_id,omitempty"`
	Similarity float64     `json:"similarity,omitempty"`
}

// Written reports a committed event.
func Written(eventID string) Outcome {
	return Outcome{Kind: OutcomeWritten, EventID: eventID}
}

// Duplicate reports a candidate matched against an existing event.
func Duplicate(match SimilarEvent) Outcome {
	return Outcome{
		Kind:       OutcomeDuplicate,
		Reason:     fmt.Sprintf("similar to %s (%.3f)", match.EventID, match.Similarity),
		MatchID:    match.EventID,
		Similarity: match.Similarity,
	}
}

// Rejected reports a data-quality rejection.
func Rejected(reason string) Outcome {
	return Outcome{Kind: OutcomeRejected, Reason: reason}
}

// Failed reports a transient failure that a later run may retry.
func Failed(err error) Outcome {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return Outcome{Kind: OutcomeFailed, Reason: reason}
}

// Ignored reports a post that contained no event.
func Ignored(reason string) Outcome {
	return Outcome{Kind: OutcomeIgnored, Reason: reason}
}

// AuditRecord is one entry of the append-only processing log.
type AuditRecord struct {
	ID          string      `json:"id"`
	Shortcode   string      `json:"shortcode"`
	Permalink   string      `json:"permalink"`
	OwnerHandle string      `json:"owner_handle"`
	Outcome     OutcomeKind `json:"outcome"`
	Reason      string      `json:"reason,omitempty"`
	Details     []Outcome   `json:"details,omitempty"`
	RecordedAt  time.Time   `json:"recorded_at"`
}

// Summarize folds per-candidate outcomes into a single post-level outcome.
// Precedence: written, failed, duplicate, rejected.
func Summarize(outcomes []Outcome) Outcome {
	if len(outcomes) == 0 {
		return Ignored("no candidate events")
	}

	counts := make(map[OutcomeKind]int, 4)
	firstReason := make(map[OutcomeKind]string, 4)
	for _, o := range outcomes {
		counts[o.Kind]++
		if _, ok := firstReason[o.Kind]; !ok {
			firstReason[o.Kind] = o.Reason
		}
	}

	for _, kind := range []OutcomeKind{OutcomeWritten, OutcomeFailed, OutcomeDuplicate, OutcomeRejected} {
		if counts[kind] == 0 {
			continue
		}
		reason := firstReason[kind]
		if len(outcomes) > 1 {
			reason = fmt.Sprintf("%d/%d %s", counts[kind], len(outcomes), kind)
			if firstReason[kind] != "" {
				reason += ": " + firstReason[kind]
			}
		}
		return Outcome{Kind: kind, Reason: reason}
	}

	return Ignored("no candidate events")
}
