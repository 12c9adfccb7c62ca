package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresPostLedger answers which posts were already handled: either turned
// into an event or recorded as ignored.
type PostgresPostLedger struct {
	db *sql.DB
}

// NewPostgresPostLedger creates a ledger backed by the events and ignored_posts tables.
func NewPostgresPostLedger(db *sql.DB) *PostgresPostLedger {
	return &PostgresPostLedger{db: db}
}

// Seen returns the subset of shortcodes that already have an event or an
// ignored-post record, using one round trip.
func (l *PostgresPostLedger) Seen(ctx context.Context, shortcodes []string) (map[string]bool, error) {
	seen := make(map[string]bool)
	if len(shortcodes) == 0 {
		return seen, nil
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT source_shortcode FROM events WHERE source_shortcode = ANY($1)
		UNION
		SELECT shortcode FROM ignored_posts WHERE shortcode = ANY($1)
	`, pq.Array(shortcodes))
	if err != nil {
		return nil, fmt.Errorf("query seen shortcodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan shortcode: %w", err)
		}
		seen[code] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shortcodes: %w", err)
	}

	return seen, nil
}

// RecordIgnored marks a post as containing no usable event. Recording the
// same shortcode twice is a no-op.
func (l *PostgresPostLedger) RecordIgnored(ctx context.Context, shortcode string) error {
	if shortcode == "" {
		return fmt.Errorf("shortcode is required")
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO ignored_posts (shortcode, recorded_at)
		VALUES ($1, NOW())
		ON CONFLICT (shortcode) DO NOTHING
	`, shortcode)
	if err != nil {
		return fmt.Errorf("record ignored post: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes ignored-post records written before cutoff.
func (l *PostgresPostLedger) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM ignored_posts WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge ignored posts: %w", err)
	}
	return result.RowsAffected()
}
