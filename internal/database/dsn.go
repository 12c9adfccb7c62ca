package database

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/clubfeed/eventpipe/internal/config"
)

// BuildURL returns the Postgres connection string. DATABASE_URL wins; otherwise
// a Cloud SQL instance name selects the Unix socket mounted by Cloud Run at
// /cloudsql/<instance>.
func BuildURL(cfg config.DatabaseConfig) (string, error) {
	if cfg.URL != "" {
		return cfg.URL, nil
	}

	if cfg.Instance == "" {
		return "", fmt.Errorf("neither DATABASE_URL nor INSTANCE_CONNECTION_NAME is set")
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", fmt.Errorf("DB_USER and DB_NAME must be set when using INSTANCE_CONNECTION_NAME")
	}

	parts := []string{
		"host=" + socketPath(cfg.Instance),
		"user=" + cfg.User,
	}
	// No password means IAM authentication.
	if cfg.Password != "" {
		parts = append(parts, "password="+cfg.Password)
	}
	parts = append(parts, "dbname="+cfg.Name, "sslmode=disable")

	return strings.Join(parts, " "), nil
}

// Describe summarizes the connection target for logging without credentials.
func Describe(cfg config.DatabaseConfig) map[string]string {
	switch {
	case cfg.URL != "":
		return map[string]string{
			"connection_type": "direct",
			"database_url":    redactURL(cfg.URL),
		}
	case cfg.Instance != "":
		return map[string]string{
			"connection_type": "cloud_sql",
			"instance":        cfg.Instance,
			"user":            cfg.User,
			"database":        cfg.Name,
			"socket_path":     socketPath(cfg.Instance),
		}
	default:
		return map[string]string{"connection_type": "none"}
	}
}

func socketPath(instance string) string {
	return "/cloudsql/" + instance
}

func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return raw
	}
	if _, hasPassword := parsed.User.Password(); hasPassword {
		parsed.User = url.UserPassword(parsed.User.Username(), "redacted")
	}
	return parsed.String()
}
