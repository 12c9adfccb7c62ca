package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/clubfeed/eventpipe/internal/auth"
	"github.com/clubfeed/eventpipe/internal/config"
	"github.com/clubfeed/eventpipe/internal/ingestion"
	"github.com/clubfeed/eventpipe/internal/models"
)

const testSecret = "test-secret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAuditLister struct {
	records []models.AuditRecord
	err     error

	gotLimit   int
	gotOutcome models.OutcomeKind
}

func (f *fakeAuditLister) List(_ context.Context, limit int, outcome models.OutcomeKind) ([]models.AuditRecord, error) {
	f.gotLimit = limit
	f.gotOutcome = outcome
	return f.records, f.err
}

type runCall struct {
	day     int
	handles []string
	since   time.Time
	forDay  bool
}

type fakeRunner struct {
	mu      sync.Mutex
	running bool
	calls   chan runCall
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{calls: make(chan runCall, 4)}
}

func (f *fakeRunner) RunForDay(_ context.Context, _ string, _ []models.Source, day int) (ingestion.Report, error) {
	f.calls <- runCall{day: day, forDay: true}
	return ingestion.Report{}, nil
}

func (f *fakeRunner) RunSources(_ context.Context, _ string, handles []string, since time.Time) (ingestion.Report, error) {
	f.calls <- runCall{handles: handles, since: since}
	return ingestion.Report{}, nil
}

func (f *fakeRunner) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeRunner) await(t *testing.T) runCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("run was not started")
		return runCall{}
	}
}

func testSources() []models.Source {
	return []models.Source{
		{Handle: "alpha"}, {Handle: "bravo"}, {Handle: "charlie"}, {Handle: "delta"},
	}
}

func bearer(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateToken("operator", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return "Bearer " + token
}

func newTestMux(t *testing.T, deps Dependencies) *http.ServeMux {
	t.Helper()
	if deps.Auth.JWTSecret == "" {
		deps.Auth.JWTSecret = testSecret
	}
	mux := http.NewServeMux()
	SetupRoutes(mux, deps, testLogger())
	return mux
}

func TestHealthWithDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(1))

	mux := newTestMux(t, Dependencies{DB: db})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestHealthDatabaseDown(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("connection refused"))

	mux := newTestMux(t, Dependencies{DB: db})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHealthWithoutDatabase(t *testing.T) {
	mux := newTestMux(t, Dependencies{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestInfoReportsVersion(t *testing.T) {
	mux := newTestMux(t, Dependencies{Version: "1.2.3"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/info", nil))

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["version"] != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", body["version"])
	}
}

func TestProcessingLogRequiresToken(t *testing.T) {
	mux := newTestMux(t, Dependencies{AuditLog: &fakeAuditLister{}})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/processing-log", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestProcessingLogQuery(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		wantStatus  int
		wantLimit   int
		wantOutcome models.OutcomeKind
	}{
		{name: "defaults", query: "", wantStatus: http.StatusOK, wantLimit: defaultLogLimit},
		{name: "filtered", query: "?limit=5&outcome=duplicate", wantStatus: http.StatusOK, wantLimit: 5, wantOutcome: models.OutcomeDuplicate},
		{name: "clamped", query: "?limit=50000", wantStatus: http.StatusOK, wantLimit: maxLogLimit},
		{name: "bad limit", query: "?limit=-1", wantStatus: http.StatusBadRequest},
		{name: "bad outcome", query: "?outcome=maybe", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := &fakeAuditLister{records: []models.AuditRecord{{ID: "a1", Shortcode: "abc", Outcome: models.OutcomeWritten}}}
			mux := newTestMux(t, Dependencies{AuditLog: lister})

			req := httptest.NewRequest(http.MethodGet, "/api/processing-log"+tt.query, nil)
			req.Header.Set("Authorization", bearer(t))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if lister.gotLimit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", lister.gotLimit, tt.wantLimit)
			}
			if lister.gotOutcome != tt.wantOutcome {
				t.Errorf("outcome = %q, want %q", lister.gotOutcome, tt.wantOutcome)
			}
		})
	}
}

func TestProcessingLogStoreError(t *testing.T) {
	mux := newTestMux(t, Dependencies{AuditLog: &fakeAuditLister{err: errors.New("db gone")}})
	req := httptest.NewRequest(http.MethodGet, "/api/processing-log", nil)
	req.Header.Set("Authorization", bearer(t))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	hash, err := auth.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	cfg := config.AuthConfig{JWTSecret: testSecret, AdminPasswordHash: hash, TokenTTL: time.Hour}

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "correct password", body: `{"password":"hunter2"}`, wantStatus: http.StatusOK},
		{name: "wrong password", body: `{"password":"nope"}`, wantStatus: http.StatusUnauthorized},
		{name: "malformed", body: `{`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newTestMux(t, Dependencies{Auth: cfg})
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(tt.body)))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp LoginResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if _, err := auth.ValidateToken(resp.Token, testSecret); err != nil {
				t.Errorf("issued token does not validate: %v", err)
			}
		})
	}
}

func TestLoginDisabledWithoutHash(t *testing.T) {
	mux := newTestMux(t, Dependencies{Auth: config.AuthConfig{JWTSecret: testSecret}})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"password":"x"}`)))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestTriggerRunForExplicitDay(t *testing.T) {
	runner := newFakeRunner()
	mux := newTestMux(t, Dependencies{Runner: runner, Sources: testSources()})

	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"day":1}`))
	req.Header.Set("Authorization", bearer(t))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	call := runner.await(t)
	if !call.forDay || call.day != 1 {
		t.Errorf("call = %+v, want RunForDay(1)", call)
	}
}

func TestTriggerRunAllSources(t *testing.T) {
	runner := newFakeRunner()
	mux := newTestMux(t, Dependencies{Runner: runner, Sources: testSources()})

	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"all":true,"since":"2024-03-01T00:00:00Z"}`))
	req.Header.Set("Authorization", bearer(t))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	call := runner.await(t)
	if call.forDay {
		t.Fatal("expected RunSources for an all-sources run")
	}
	if len(call.handles) != 4 {
		t.Errorf("handles = %v, want all 4", call.handles)
	}
	if !call.since.Equal(since) {
		t.Errorf("since = %v, want %v", call.since, since)
	}
}

func TestTriggerRunAllUsesConfiguredLookback(t *testing.T) {
	runner := newFakeRunner()
	now := time.Date(2025, 1, 9, 9, 0, 0, 0, time.UTC)
	h := NewRunHandler(context.Background(), runner, testSources(), time.UTC, 100*time.Hour, testLogger())
	h.now = func() time.Time { return now }

	rec := httptest.NewRecorder()
	h.Trigger(rec, httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"all":true}`)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	call := runner.await(t)
	if want := now.Add(-100 * time.Hour); !call.since.Equal(want) {
		t.Errorf("since = %v, want %v", call.since, want)
	}
}

func TestRunHandlerDefaultLookback(t *testing.T) {
	h := NewRunHandler(context.Background(), newFakeRunner(), testSources(), time.UTC, 0, testLogger())
	if h.lookback != ingestion.DefaultLookback {
		t.Errorf("lookback = %v, want %v", h.lookback, ingestion.DefaultLookback)
	}
}

func TestTriggerRejectsWhileRunning(t *testing.T) {
	runner := newFakeRunner()
	runner.running = true
	mux := newTestMux(t, Dependencies{Runner: runner, Sources: testSources()})

	req := httptest.NewRequest(http.MethodPost, "/api/runs", nil)
	req.Header.Set("Authorization", bearer(t))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestTriggerRejectsBadDay(t *testing.T) {
	mux := newTestMux(t, Dependencies{Runner: newFakeRunner(), Sources: testSources()})

	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"day":7}`))
	req.Header.Set("Authorization", bearer(t))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRunStatus(t *testing.T) {
	runner := newFakeRunner()
	runner.running = true
	mux := newTestMux(t, Dependencies{Runner: runner})

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", bearer(t))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var body map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body["running"] {
		t.Error("running = false, want true")
	}
}
