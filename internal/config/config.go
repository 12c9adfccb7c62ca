package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server         ServerConfig
	Logging        LoggingConfig
	Database       DatabaseConfig
	OpenAI         OpenAIConfig
	Storage        StorageConfig
	Collector      CollectorConfig
	Pipeline       PipelineConfig
	Classification ClassificationConfig
	Scheduler      SchedulerConfig
	Auth           AuthConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// DatabaseConfig holds the Postgres connection settings. URL takes precedence;
// otherwise Instance selects a Cloud SQL Unix socket.
type DatabaseConfig struct {
	URL            string
	Instance       string
	User           string
	Password       string
	Name           string
	MaxConnections int
	MigrationsDir  string
}

// OpenAIConfig configures the extraction and embedding clients.
type OpenAIConfig struct {
	APIKey              string
	BaseURL             string
	Model               string
	EmbeddingModel      string
	EmbeddingDimensions int
	Timeout             time.Duration
}

// StorageConfig configures the S3-compatible bucket that receives event images.
type StorageConfig struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Prefix        string
	PublicBaseURL string
}

// CollectorConfig points at the external post collector.
type CollectorConfig struct {
	URL          string
	Token        string
	ResultsLimit int
	Timeout      time.Duration
}

// PipelineConfig tunes a single ingestion run.
type PipelineConfig struct {
	UploadConcurrency   int
	ExtractConcurrency  int
	Lookback            time.Duration
	SimilarityThreshold float64
	RunTimeout          time.Duration
	Timezone            string
	SourcesFile         string
}

// ClassificationConfig bounds the handle -> group type lookup cache.
type ClassificationConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// SchedulerConfig controls the daily rotation scheduler.
type SchedulerConfig struct {
	CheckInterval time.Duration
}

// AuthConfig protects the operator API. An empty JWTSecret disables it.
type AuthConfig struct {
	JWTSecret         string
	AdminPasswordHash string
	TokenTTL          time.Duration
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"

	defaultMaxConnections = 20
	defaultMigrationsDir  = "./migrations"

	defaultOpenAIModel         = "gpt-4o-mini"
	defaultEmbeddingModel      = "text-embedding-3-small"
	defaultEmbeddingDimensions = 1536
	defaultOpenAITimeout       = 60 * time.Second

	defaultS3Region = "us-east-1"

	defaultCollectorResults = 10
	defaultCollectorTimeout = 120 * time.Second

	defaultUploadConcurrency   = 5
	defaultExtractConcurrency  = 5
	defaultLookback            = 108 * time.Hour
	defaultSimilarityThreshold = 0.5
	defaultRunTimeout          = 30 * time.Minute
	defaultTimezone            = "America/Toronto"
	defaultSourcesFile         = "config/sources.yaml"

	defaultCacheSize = 512
	defaultCacheTTL  = time.Hour

	defaultCheckInterval = 5 * time.Minute

	defaultTokenTTL = 24 * time.Hour
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided or invalid.
func Load() (Config, error) {
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Database: DatabaseConfig{
			URL:            os.Getenv("DATABASE_URL"),
			Instance:       os.Getenv("INSTANCE_CONNECTION_NAME"),
			User:           os.Getenv("DB_USER"),
			Password:       os.Getenv("DB_PASSWORD"),
			Name:           os.Getenv("DB_NAME"),
			MaxConnections: defaultMaxConnections,
			MigrationsDir:  getEnv("MIGRATIONS_DIR", defaultMigrationsDir),
		},
		OpenAI: OpenAIConfig{
			APIKey:              os.Getenv("OPENAI_API_KEY"),
			BaseURL:             os.Getenv("OPENAI_BASE_URL"),
			Model:               getEnv("OPENAI_MODEL", defaultOpenAIModel),
			EmbeddingModel:      getEnv("OPENAI_EMBEDDING_MODEL", defaultEmbeddingModel),
			EmbeddingDimensions: defaultEmbeddingDimensions,
			Timeout:             defaultOpenAITimeout,
		},
		Storage: StorageConfig{
			Bucket:        os.Getenv("S3_BUCKET"),
			Region:        getEnv("S3_REGION", defaultS3Region),
			Endpoint:      os.Getenv("S3_ENDPOINT"),
			AccessKey:     os.Getenv("S3_ACCESS_KEY"),
			SecretKey:     os.Getenv("S3_SECRET_KEY"),
			Prefix:        getEnv("S3_PREFIX", "events"),
			PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		},
		Collector: CollectorConfig{
			URL:          os.Getenv("COLLECTOR_URL"),
			Token:        os.Getenv("COLLECTOR_TOKEN"),
			ResultsLimit: defaultCollectorResults,
			Timeout:      defaultCollectorTimeout,
		},
		Pipeline: PipelineConfig{
			UploadConcurrency:   defaultUploadConcurrency,
			ExtractConcurrency:  defaultExtractConcurrency,
			Lookback:            defaultLookback,
			SimilarityThreshold: defaultSimilarityThreshold,
			RunTimeout:          defaultRunTimeout,
			Timezone:            getEnv("EVENT_TIMEZONE", defaultTimezone),
			SourcesFile:         getEnv("SOURCES_FILE", defaultSourcesFile),
		},
		Classification: ClassificationConfig{
			CacheSize: defaultCacheSize,
			CacheTTL:  defaultCacheTTL,
		},
		Scheduler: SchedulerConfig{
			CheckInterval: defaultCheckInterval,
		},
		Auth: AuthConfig{
			JWTSecret:         os.Getenv("ADMIN_JWT_SECRET"),
			AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
			TokenTTL:          defaultTokenTTL,
		},
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"SERVER_READ_TIMEOUT_SECONDS", &cfg.Server.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT_SECONDS", &cfg.Server.WriteTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT_SECONDS", &cfg.Server.ShutdownTimeout},
		{"OPENAI_TIMEOUT_SECONDS", &cfg.OpenAI.Timeout},
		{"COLLECTOR_TIMEOUT_SECONDS", &cfg.Collector.Timeout},
		{"PIPELINE_RUN_TIMEOUT_SECONDS", &cfg.Pipeline.RunTimeout},
		{"CLASSIFICATION_CACHE_TTL_SECONDS", &cfg.Classification.CacheTTL},
		{"SCHEDULER_CHECK_INTERVAL_SECONDS", &cfg.Scheduler.CheckInterval},
		{"ADMIN_TOKEN_TTL_SECONDS", &cfg.Auth.TokenTTL},
	}
	for _, d := range durations {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := parseSeconds(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
			}
			*d.target = parsed
		}
	}

	counts := []struct {
		key    string
		target *int
	}{
		{"DATABASE_MAX_CONNECTIONS", &cfg.Database.MaxConnections},
		{"OPENAI_EMBEDDING_DIMENSIONS", &cfg.OpenAI.EmbeddingDimensions},
		{"COLLECTOR_RESULTS_LIMIT", &cfg.Collector.ResultsLimit},
		{"PIPELINE_UPLOAD_CONCURRENCY", &cfg.Pipeline.UploadConcurrency},
		{"PIPELINE_EXTRACT_CONCURRENCY", &cfg.Pipeline.ExtractConcurrency},
		{"CLASSIFICATION_CACHE_SIZE", &cfg.Classification.CacheSize},
	}
	for _, c := range counts {
		if v := os.Getenv(c.key); v != "" {
			parsed, err := parsePositiveInt(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", c.key, err)
			}
			*c.target = parsed
		}
	}

	if v := os.Getenv("PIPELINE_LOOKBACK_HOURS"); v != "" {
		hours, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PIPELINE_LOOKBACK_HOURS: %w", err)
		}
		cfg.Pipeline.Lookback = time.Duration(hours) * time.Hour
	}

	if v := os.Getenv("PIPELINE_SIMILARITY_THRESHOLD"); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil || threshold <= 0 || threshold > 1 {
			return Config{}, fmt.Errorf("invalid PIPELINE_SIMILARITY_THRESHOLD: must be greater than 0 and at most 1")
		}
		cfg.Pipeline.SimilarityThreshold = threshold
	}

	if _, err := time.LoadLocation(cfg.Pipeline.Timezone); err != nil {
		return Config{}, fmt.Errorf("invalid EVENT_TIMEZONE: %w", err)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	return cfg, nil
}

// Location returns the loaded event timezone. Load has already validated it.
func (p PipelineConfig) Location() *time.Location {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
