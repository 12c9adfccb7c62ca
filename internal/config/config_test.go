package config

import (
	"testing"
	"time"

	"log/slog"
)

func TestLoadDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.Port != defaultPort {
		t.Errorf("expected default port %q, got %q", defaultPort, cfg.Server.Port)
	}
	if cfg.Logging.Level != slog.LevelInfo {
		t.Errorf("expected default log level %v, got %v", slog.LevelInfo, cfg.Logging.Level)
	}
	if cfg.Logging.Format != defaultLogFormat {
		t.Errorf("expected default log format %q, got %q", defaultLogFormat, cfg.Logging.Format)
	}
	if cfg.Pipeline.UploadConcurrency != defaultUploadConcurrency {
		t.Errorf("expected upload concurrency %d, got %d", defaultUploadConcurrency, cfg.Pipeline.UploadConcurrency)
	}
	if cfg.Pipeline.ExtractConcurrency != defaultExtractConcurrency {
		t.Errorf("expected extract concurrency %d, got %d", defaultExtractConcurrency, cfg.Pipeline.ExtractConcurrency)
	}
	if cfg.Pipeline.SimilarityThreshold != defaultSimilarityThreshold {
		t.Errorf("expected similarity threshold %v, got %v", defaultSimilarityThreshold, cfg.Pipeline.SimilarityThreshold)
	}
	if cfg.Pipeline.Lookback != defaultLookback {
		t.Errorf("expected lookback %v, got %v", defaultLookback, cfg.Pipeline.Lookback)
	}
	if cfg.OpenAI.EmbeddingDimensions != defaultEmbeddingDimensions {
		t.Errorf("expected embedding dimensions %d, got %d", defaultEmbeddingDimensions, cfg.OpenAI.EmbeddingDimensions)
	}
	if cfg.Classification.CacheSize != defaultCacheSize {
		t.Errorf("expected cache size %d, got %d", defaultCacheSize, cfg.Classification.CacheSize)
	}
	if cfg.Pipeline.Timezone != defaultTimezone {
		t.Errorf("expected timezone %q, got %q", defaultTimezone, cfg.Pipeline.Timezone)
	}
	if cfg.Auth.TokenTTL != defaultTokenTTL {
		t.Errorf("expected token ttl %v, got %v", defaultTokenTTL, cfg.Auth.TokenTTL)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	clearConfigEnv(t)

	overrides := map[string]string{
		"SERVER_PORT":                      "9090",
		"SERVER_READ_TIMEOUT_SECONDS":      "30",
		"LOG_LEVEL":                        "debug",
		"LOG_FORMAT":                       "text",
		"PIPELINE_UPLOAD_CONCURRENCY":      "2",
		"PIPELINE_EXTRACT_CONCURRENCY":     "8",
		"PIPELINE_LOOKBACK_HOURS":          "48",
		"PIPELINE_SIMILARITY_THRESHOLD":    "0.985",
		"PIPELINE_RUN_TIMEOUT_SECONDS":     "600",
		"CLASSIFICATION_CACHE_SIZE":        "64",
		"CLASSIFICATION_CACHE_TTL_SECONDS": "120",
		"EVENT_TIMEZONE":                   "UTC",
	}
	for key, value := range overrides {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected overridden port 9090, got %q", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("expected read timeout 30s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Logging.Level != slog.LevelDebug {
		t.Errorf("expected log level %v, got %v", slog.LevelDebug, cfg.Logging.Level)
	}
	if cfg.Pipeline.UploadConcurrency != 2 || cfg.Pipeline.ExtractConcurrency != 8 {
		t.Errorf("unexpected concurrency %d/%d", cfg.Pipeline.UploadConcurrency, cfg.Pipeline.ExtractConcurrency)
	}
	if cfg.Pipeline.Lookback != 48*time.Hour {
		t.Errorf("expected lookback 48h, got %v", cfg.Pipeline.Lookback)
	}
	if cfg.Pipeline.SimilarityThreshold != 0.985 {
		t.Errorf("expected threshold 0.985, got %v", cfg.Pipeline.SimilarityThreshold)
	}
	if cfg.Pipeline.RunTimeout != 10*time.Minute {
		t.Errorf("expected run timeout 10m, got %v", cfg.Pipeline.RunTimeout)
	}
	if cfg.Classification.CacheSize != 64 || cfg.Classification.CacheTTL != 2*time.Minute {
		t.Errorf("unexpected cache config %+v", cfg.Classification)
	}
	if cfg.Pipeline.Location() != time.UTC {
		t.Errorf("expected UTC location, got %v", cfg.Pipeline.Location())
	}
}

func TestLoadWithInvalidValues(t *testing.T) {
	tests := map[string]string{
		"SERVER_READ_TIMEOUT_SECONDS":   "-1",
		"SERVER_WRITE_TIMEOUT_SECONDS":  "abc",
		"LOG_LEVEL":                     "verbose",
		"LOG_FORMAT":                    "xml",
		"PIPELINE_EXTRACT_CONCURRENCY":  "0",
		"PIPELINE_UPLOAD_CONCURRENCY":   "many",
		"PIPELINE_SIMILARITY_THRESHOLD": "1.5",
		"PIPELINE_LOOKBACK_HOURS":       "-3",
		"EVENT_TIMEZONE":                "Mars/Olympus",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv(key, value)

			if _, err := Load(); err == nil {
				t.Fatalf("expected error when %s=%q", key, value)
			}
		})
	}
}

func TestLoadRejectsZeroSimilarityThreshold(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PIPELINE_SIMILARITY_THRESHOLD", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for a zero similarity threshold")
	}
}

func TestDefaultLookbackSpansRotationGap(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	// Each source is polled at least every four days.
	if cfg.Pipeline.Lookback < 4*24*time.Hour {
		t.Errorf("default lookback %v is shorter than the longest rotation gap", cfg.Pipeline.Lookback)
	}
}

func TestParseLogLevelAliases(t *testing.T) {
	tests := map[string]slog.Level{
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
	}

	for input, expected := range tests {
		level, err := parseLogLevel(input)
		if err != nil {
			t.Fatalf("parseLogLevel(%q) returned error: %v", input, err)
		}

		if level != expected {
			t.Errorf("parseLogLevel(%q) = %v, want %v", input, level, expected)
		}
	}
}

func TestParseSources(t *testing.T) {
	doc := []byte(`
sources:
  - handle: uwcsclub
    name: Computer Science Club
  - handle: "@uwengsoc"
  - handle: UWCSCLUB
  - handle: "  "
  - handle: uwdance
`)

	sources, err := ParseSources(doc)
	if err != nil {
		t.Fatalf("ParseSources returned error: %v", err)
	}

	want := []string{"uwcsclub", "uwengsoc", "uwdance"}
	if len(sources) != len(want) {
		t.Fatalf("expected %d sources, got %d", len(want), len(sources))
	}
	for i, handle := range want {
		if sources[i].Handle != handle {
			t.Errorf("source %d = %q, want %q", i, sources[i].Handle, handle)
		}
	}
	if sources[0].DisplayName != "Computer Science Club" {
		t.Errorf("expected display name to be decoded, got %q", sources[0].DisplayName)
	}
}

func TestParseSourcesRejectsEmpty(t *testing.T) {
	if _, err := ParseSources([]byte("sources: []")); err == nil {
		t.Fatal("expected error for empty source list")
	}
	if _, err := ParseSources([]byte("sources: [unclosed")); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PORT",
		"SERVER_PORT",
		"SERVER_READ_TIMEOUT_SECONDS",
		"SERVER_WRITE_TIMEOUT_SECONDS",
		"SERVER_SHUTDOWN_TIMEOUT_SECONDS",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"DATABASE_URL",
		"DATABASE_MAX_CONNECTIONS",
		"OPENAI_TIMEOUT_SECONDS",
		"OPENAI_EMBEDDING_DIMENSIONS",
		"COLLECTOR_RESULTS_LIMIT",
		"COLLECTOR_TIMEOUT_SECONDS",
		"PIPELINE_UPLOAD_CONCURRENCY",
		"PIPELINE_EXTRACT_CONCURRENCY",
		"PIPELINE_LOOKBACK_HOURS",
		"PIPELINE_SIMILARITY_THRESHOLD",
		"PIPELINE_RUN_TIMEOUT_SECONDS",
		"CLASSIFICATION_CACHE_SIZE",
		"CLASSIFICATION_CACHE_TTL_SECONDS",
		"SCHEDULER_CHECK_INTERVAL_SECONDS",
		"EVENT_TIMEZONE",
		"ADMIN_TOKEN_TTL_SECONDS",
	}

	for _, key := range keys {
		t.Setenv(key, "")
	}
}
