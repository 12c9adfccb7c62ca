package enrichment

import (
	"fmt"
	"strings"
	"time"
)

// PromptTemplates holds the prompts sent with every extraction call.
type PromptTemplates struct {
	SystemPrompt string
	UserTemplate string
}

// NewPromptTemplates returns the default event extraction prompts.
func NewPromptTemplates() *PromptTemplates {
	return &PromptTemplates{
		SystemPrompt: buildSystemPrompt(),
		UserTemplate: buildUserTemplate(),
	}
}

func buildSystemPrompt() string {
	return `You MUST output ONLY a valid JSON object. No markdown, no commentary.

You read social media posts published by student clubs and extract the events they announce.
A post may announce zero, one or several events. Promotional posts, recaps of past events,
giveaways and general announcements are NOT events: return an empty list for them.

Output format:
{
  "events": [
    {
      "title": "Short event name",
      "date": "YYYY-MM-DD",
      "start_time": "HH:MM (24h)",
      "end_time": "HH:MM (24h) or empty",
      "location": "Room, building or address",
      "price": 0.0,
      "food": "Food offered, or empty",
      "requires_registration": false,
      "description": "One or two sentences describing the event",
      "rrule": "RFC 5545 RRULE body for repeating events (e.g. FREQ=WEEKLY;COUNT=4), or empty",
      "rdate": ["Additional dates as YYYY-MM-DD or YYYYMMDDTHHMMSS"]
    }
  ]
}

Rules:
- Resolve relative dates ("this Friday", "tomorrow") against the post date given below.
- Leave a field empty rather than guessing. Never invent a location or a time.
- "price" is a number in dollars; use 0 for free events and omit it when unknown.
- Use "rrule" only when the post states an explicit repeating schedule.`
}

func buildUserTemplate() string {
	return `Post published: {{POSTED_AT}}
Today: {{TODAY}}

Caption:
"""
{{CAPTION}}
"""`
}

// BuildUserPrompt fills the user template for one post.
func (p *PromptTemplates) BuildUserPrompt(caption string, postedAt, now time.Time) string {
	posted := "unknown"
	if !postedAt.IsZero() {
		posted = postedAt.Format("Monday, 2006-01-02 15:04 MST")
	}

	r := strings.NewReplacer(
		"{{POSTED_AT}}", posted,
		"{{TODAY}}", now.Format("Monday, 2006-01-02"),
		"{{CAPTION}}", strings.TrimSpace(caption),
	)
	return r.Replace(p.UserTemplate)
}

func (p *PromptTemplates) validate() error {
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return fmt.Errorf("system prompt is empty")
	}
	if !strings.Contains(p.UserTemplate, "{{CAPTION}}") {
		return fmt.Errorf("user template does not reference {{CAPTION}}")
	}
	return nil
}
