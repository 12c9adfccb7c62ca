package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/clubfeed/eventpipe/internal/config"
	"github.com/clubfeed/eventpipe/internal/models"
)

// ErrNoExtractionChoices is returned when the model response carries no choices.
var ErrNoExtractionChoices = errors.New("extraction response contained no choices")

// ExtractRequest is the input contract of the extraction service.
type ExtractRequest struct {
	Caption  string
	ImageURL string // optional, permanent URL when the upload succeeded
	PostedAt time.Time
}

// Extractor turns a post caption and image into candidate events using an
// OpenAI chat model in JSON mode.
type Extractor struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	prompts *PromptTemplates
	logger  *slog.Logger
	now     func() time.Time
}

// NewExtractor builds an extractor from the OpenAI settings.
func NewExtractor(cfg config.OpenAIConfig, logger *slog.Logger) (*Extractor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	prompts := NewPromptTemplates()
	if err := prompts.validate(); err != nil {
		return nil, err
	}

	return &Extractor{
		client:  newClient(cfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		prompts: prompts,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func newClient(cfg config.OpenAIConfig) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

// Extract returns the events announced by a post. An empty slice means the
// post does not announce an event. Extraction is attempted once.
func (e *Extractor) Extract(ctx context.Context, req ExtractRequest) ([]models.CandidateEvent, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	parts := []openai.ChatMessagePart{{
		Type: openai.ChatMessagePartTypeText,
		Text: e.prompts.BuildUserPrompt(req.Caption, req.PostedAt, e.now()),
	}}
	if req.ImageURL != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    req.ImageURL,
				Detail: openai.ImageURLDetailLow,
			},
		})
	}

	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: e.prompts.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoExtractionChoices
	}

	e.logger.Debug("extraction call complete",
		"model", e.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	return ParseCandidates(resp.Choices[0].Message.Content)
}

type wireCandidate struct {
	Title                string        `json:"title"`
	Date                 string        `json:"date"`
	StartTime            string        `json:"start_time"`
	EndTime              string        `json:"end_time"`
	Location             string        `json:"location"`
	Price                flexiblePrice `json:"price"`
	Food                 string        `json:"food"`
	RequiresRegistration flexibleBool  `json:"requires_registration"`
	Description          string        `json:"description"`
	ImageURL             string        `json:"image_url"`
	RRule                string        `json:"rrule"`
	RDate                stringList    `json:"rdate"`
}

// ParseCandidates decodes a model response of the form {"events": [...]}.
// Candidates without a title are dropped; every other field stays optional
// until the writer applies its gate.
func ParseCandidates(content string) ([]models.CandidateEvent, error) {
	body, err := extractJSONObject(content)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Events []wireCandidate `json:"events"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w", err)
	}

	candidates := make([]models.CandidateEvent, 0, len(payload.Events))
	for _, w := range payload.Events {
		c := models.CandidateEvent{
			Title:                w.Title,
			Date:                 w.Date,
			StartTime:            w.StartTime,
			EndTime:              w.EndTime,
			Location:             w.Location,
			Price:                w.Price.Value,
			Food:                 w.Food,
			RequiresRegistration: bool(w.RequiresRegistration),
			Description:          w.Description,
			ImageURL:             w.ImageURL,
			RRule:                strings.TrimPrefix(strings.TrimSpace(w.RRule), "RRULE:"),
			RDate:                []string(w.RDate),
		}.Normalize()
		if c.Title == "" {
			continue
		}
		candidates = append(candidates, c)
	}

	return candidates, nil
}
