package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/clubfeed/eventpipe/internal/models"
)

// ErrNoOccurrences is returned when an event would be stored without any occurrence.
var ErrNoOccurrences = errors.New("event has no occurrences")

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresEventRepository stores events, their occurrences and embeddings.
type PostgresEventRepository struct {
	db *sql.DB
}

// NewPostgresEventRepository creates a new PostgreSQL event repository.
func NewPostgresEventRepository(db *sql.DB) *PostgresEventRepository {
	return &PostgresEventRepository{db: db}
}

const insertEventSQL = `
	INSERT INTO events (
		id, title, description, location,
		dtstart, dtend, dtstart_utc, dtend_utc, duration_seconds, timezone,
		rrule, rdate, status, source_url, source_shortcode, source_image_url,
		embedding, group_type, owner_handle, price, food, requires_registration, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
`

const insertOccurrenceSQL = `
	INSERT INTO event_occurrences (
		event_id, dtstart, dtend, dtstart_utc, dtend_utc, duration_seconds, timezone
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// Create inserts the event and all of its occurrences in one transaction.
// Either every row is committed or none is.
func (r *PostgresEventRepository) Create(ctx context.Context, event *models.Event, occurrences []models.Occurrence) error {
	if len(occurrences) == 0 {
		return ErrNoOccurrences
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, insertEventSQL,
		event.ID,
		event.Title,
		event.Description,
		event.Location,
		event.DTStart,
		event.DTEnd,
		event.DTStartUTC,
		event.DTEndUTC,
		durationSeconds(event.Duration),
		event.Timezone,
		nullString(event.RRule),
		pq.Array(event.RDate),
		string(event.Status),
		event.SourceURL,
		nullString(models.ShortcodeFromPermalink(event.SourceURL)),
		nullString(event.SourceImageURL),
		embeddingValue(event.Embedding),
		nullString(event.GroupType),
		nullString(event.OwnerHandle),
		event.Price,
		nullString(event.Food),
		event.RequiresRegistration,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertOccurrenceSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare occurrence insert: %w", err)
	}
	defer stmt.Close()

	for i, occ := range occurrences {
		if _, err := stmt.ExecContext(ctx,
			event.ID,
			occ.DTStart,
			occ.DTEnd,
			occ.DTStartUTC,
			occ.DTEndUTC,
			durationSeconds(occ.Duration),
			occ.Timezone,
		); err != nil {
			return fmt.Errorf("failed to insert occurrence %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event: %w", err)
	}
	return nil
}

// SimilarEvents returns up to limit stored events ordered by cosine similarity
// to embedding. When since is set only events with an occurrence ending (or,
// lacking an end, starting) at or after since are considered.
func (r *PostgresEventRepository) SimilarEvents(ctx context.Context, embedding []float32, since *time.Time, limit int) ([]models.SimilarEvent, error) {
	if len(embedding) == 0 {
		return nil, errors.New("embedding is required")
	}
	if limit <= 0 {
		limit = 1
	}

	vec := pgvector.NewVector(embedding)
	query := psql.
		Select("e.id", "e.title", "e.source_url").
		Column(sq.Expr("1 - (e.embedding <=> ?) AS similarity", vec)).
		From("events e").
		Where("e.embedding IS NOT NULL").
		Where(sq.NotEq{"e.status": string(models.EventStatusCancelled)})
	if since != nil {
		query = query.Where(`EXISTS (
			SELECT 1 FROM event_occurrences o
			WHERE o.event_id = e.id AND COALESCE(o.dtend_utc, o.dtstart_utc) >= ?
		)`, since.UTC())
	}
	query = query.OrderByClause("e.embedding <=> ?", vec).Limit(uint64(limit))

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build similarity query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	defer rows.Close()

	var matches []models.SimilarEvent
	for rows.Next() {
		var m models.SimilarEvent
		if err := rows.Scan(&m.EventID, &m.Title, &m.SourceURL, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan similar event: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar events: %w", err)
	}

	return matches, nil
}

func durationSeconds(d time.Duration) any {
	if d <= 0 {
		return nil
	}
	return int64(d / time.Second)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func embeddingValue(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}
