package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clubfeed/eventpipe/internal/config"
	"github.com/clubfeed/eventpipe/internal/resilience"
)

func newTestCollector(t *testing.T, handler http.HandlerFunc) *HTTPCollector {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewHTTPCollector(config.CollectorConfig{
		URL:     server.URL,
		Token:   "secret",
		Timeout: 5 * time.Second,
	}, nil, testLogger())
	if err != nil {
		t.Fatalf("NewHTTPCollector returned error: %v", err)
	}
	c.retry = resilience.RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1}
	return c
}

func TestCollectorSendsRequestAndDecodesPosts(t *testing.T) {
	since := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)

	c := newTestCollector(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}

		var req collectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Handles) != 2 || req.Handles[0] != "uwcsclub" || !req.Since.Equal(since) || req.Limit != 10 {
			t.Errorf("unexpected request %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"posts":[{"permalink":"https://www.instagram.com/p/Abc/","caption":"hi","image_url":"https://x/y.jpg","posted_at":"2025-01-10T00:00:00Z","owner_handle":"uwcsclub"}]}`))
	})

	posts, err := c.Collect(context.Background(), []string{"uwcsclub", "uwdance"}, since, 10)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if len(posts) != 1 || posts[0].Shortcode() != "Abc" || posts[0].OwnerHandle != "uwcsclub" {
		t.Errorf("unexpected posts %+v", posts)
	}
}

func TestCollectorAcceptsBareArray(t *testing.T) {
	c := newTestCollector(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"permalink":"https://www.instagram.com/p/One/"},{"permalink":"https://www.instagram.com/p/Two/"}]`))
	})

	posts, err := c.Collect(context.Background(), []string{"uwcsclub"}, time.Now(), 0)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if len(posts) != 2 {
		t.Errorf("expected 2 posts, got %d", len(posts))
	}
}

func TestCollectorRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestCollector(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"posts":[]}`))
	})

	if _, err := c.Collect(context.Background(), []string{"uwcsclub"}, time.Now(), 0); err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestCollectorDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestCollector(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	})

	if _, err := c.Collect(context.Background(), []string{"uwcsclub"}, time.Now(), 0); err == nil {
		t.Fatal("expected error for 401")
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call, got %d", calls.Load())
	}
}

func TestCollectorSkipsEmptyHandleList(t *testing.T) {
	c := newTestCollector(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("collector should not be called without handles")
	})

	posts, err := c.Collect(context.Background(), nil, time.Now(), 0)
	if err != nil || posts != nil {
		t.Errorf("expected nil result, got %v, %v", posts, err)
	}
}

func TestNewHTTPCollectorRequiresURL(t *testing.T) {
	if _, err := NewHTTPCollector(config.CollectorConfig{}, nil, testLogger()); !errors.Is(err, ErrCollectorNotConfigured) {
		t.Errorf("expected ErrCollectorNotConfigured, got %v", err)
	}
}

func TestFileCollectorFiltersByHandleAndTime(t *testing.T) {
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	payload := `{"posts":[
		{"permalink":"https://www.instagram.com/p/AAA/","owner_handle":"Chess","posted_at":"2024-05-02T10:00:00Z"},
		{"permalink":"https://www.instagram.com/p/BBB/","owner_handle":"chess","posted_at":"2024-05-02T11:00:00Z"},
		{"permalink":"https://www.instagram.com/p/CCC/","owner_handle":"chess","posted_at":"2024-04-20T11:00:00Z"},
		{"permalink":"https://www.instagram.com/p/DDD/","owner_handle":"rowing","posted_at":"2024-05-03T11:00:00Z"}
	]}`
	path := filepath.Join(t.TempDir(), "posts.json")
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("write posts: %v", err)
	}

	posts, err := NewFileCollector(path).Collect(context.Background(), []string{"chess"}, since, 1)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if len(posts) != 1 || posts[0].Shortcode() != "AAA" {
		t.Errorf("posts = %+v, want only AAA", posts)
	}
}
