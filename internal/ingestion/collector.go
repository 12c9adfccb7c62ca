package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/clubfeed/eventpipe/internal/config"
	"github.com/clubfeed/eventpipe/internal/metrics"
	"github.com/clubfeed/eventpipe/internal/models"
	"github.com/clubfeed/eventpipe/internal/resilience"
)

// Collector fetches recent posts for a set of handles.
type Collector interface {
	Collect(ctx context.Context, handles []string, since time.Time, limit int) ([]models.RawPost, error)
}

// ErrCollectorNotConfigured is returned when no collector URL is set.
var ErrCollectorNotConfigured = errors.New("collector URL not configured")

const maxCollectorBody = 32 << 20

// HTTPCollector calls an external scraping service that returns posts as JSON.
type HTTPCollector struct {
	url     string
	token   string
	client  *http.Client
	breaker *resilience.HTTPBreaker
	retry   resilience.RetryPolicy
	metrics *metrics.Collector
	logger  *slog.Logger
}

type collectRequest struct {
	Handles []string  `json:"handles"`
	Since   time.Time `json:"since"`
	Limit   int       `json:"limit,omitempty"`
}

type collectResponse struct {
	Posts []models.RawPost `json:"posts"`
}

// NewHTTPCollector creates a collector client from configuration.
func NewHTTPCollector(cfg config.CollectorConfig, m *metrics.Collector, logger *slog.Logger) (*HTTPCollector, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrCollectorNotConfigured
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &HTTPCollector{
		url:     cfg.URL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
		breaker: resilience.NewHTTPBreaker(resilience.DefaultBreakerConfig("collector"), logger),
		retry:   resilience.DefaultRetryPolicy(),
		metrics: m,
		logger:  logger,
	}, nil
}

// Collect requests posts published since the given time. limit caps posts per handle.
func (c *HTTPCollector) Collect(ctx context.Context, handles []string, since time.Time, limit int) ([]models.RawPost, error) {
	if len(handles) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(collectRequest{Handles: handles, Since: since.UTC(), Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("encode collect request: %w", err)
	}

	var posts []models.RawPost
	start := time.Now()
	err = resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
		var fetchErr error
		posts, fetchErr = c.fetch(ctx, body)
		return fetchErr
	})
	c.metrics.ObserveCall("collector", err, time.Since(start))
	if err != nil {
		return nil, err
	}

	c.logger.Info("collected posts",
		"handles", len(handles),
		"posts", len(posts),
		"since", since,
		"duration", time.Since(start),
	)
	return posts, nil
}

func (c *HTTPCollector) fetch(ctx context.Context, body []byte) ([]models.RawPost, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.breaker.Do(ctx, c.client, req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, resilience.NewRetryableError(fmt.Errorf("collector request: %w", err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxCollectorBody))
	if err != nil {
		return nil, resilience.NewRetryableError(fmt.Errorf("read collector response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, resilience.NewRetryableErrorWithDelay(
			fmt.Errorf("collector rate limited"), retryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode >= 500:
		return nil, resilience.NewRetryableError(fmt.Errorf("collector error %d: %s", resp.StatusCode, snippet(payload)))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("collector error %d: %s", resp.StatusCode, snippet(payload))
	}

	return decodePosts(payload)
}

// decodePosts accepts either {"posts": [...]} or a bare array.
func decodePosts(payload []byte) ([]models.RawPost, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var posts []models.RawPost
		if err := json.Unmarshal(trimmed, &posts); err != nil {
			return nil, fmt.Errorf("decode collector response: %w", err)
		}
		return posts, nil
	}

	var wrapped collectResponse
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("decode collector response: %w", err)
	}
	return wrapped.Posts, nil
}

func retryAfter(header string) time.Duration {
	if seconds, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// FileCollector serves posts from a JSON file in the collector's response
// format. It backs offline runs.
type FileCollector struct {
	path string
}

// NewFileCollector creates a collector that reads path on every call.
func NewFileCollector(path string) *FileCollector {
	return &FileCollector{path: path}
}

// Collect returns the file's posts owned by one of handles and posted at or
// after since. An empty handle list matches every owner.
func (f *FileCollector) Collect(ctx context.Context, handles []string, since time.Time, limit int) ([]models.RawPost, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read posts file: %w", err)
	}
	posts, err := decodePosts(payload)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(handles))
	for _, h := range handles {
		wanted[strings.ToLower(h)] = true
	}

	perHandle := make(map[string]int)
	var out []models.RawPost
	for _, post := range posts {
		owner := strings.ToLower(post.OwnerHandle)
		if len(wanted) > 0 && !wanted[owner] {
			continue
		}
		if post.PostedAt.Before(since) {
			continue
		}
		if limit > 0 && perHandle[owner] >= limit {
			continue
		}
		perHandle[owner]++
		out = append(out, post)
	}
	return out, nil
}
