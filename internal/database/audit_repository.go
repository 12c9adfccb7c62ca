package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clubfeed/eventpipe/internal/models"
)

// PostgresAuditRepository appends to and reads from the processing_log table.
type PostgresAuditRepository struct {
	db *sql.DB
}

// NewPostgresAuditRepository creates a new PostgreSQL-backed audit repository.
func NewPostgresAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

// Store appends one record. Records are never updated.
func (r *PostgresAuditRepository) Store(ctx context.Context, rec models.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	var details []byte
	if len(rec.Details) > 0 {
		var err error
		details, err = json.Marshal(rec.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO processing_log (id, shortcode, permalink, owner_handle, outcome, reason, details, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		rec.ID,
		rec.Shortcode,
		rec.Permalink,
		nullString(rec.OwnerHandle),
		string(rec.Outcome),
		nullString(rec.Reason),
		details,
		rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store audit record: %w", err)
	}
	return nil
}

// List returns the newest records first, optionally restricted to one outcome.
func (r *PostgresAuditRepository) List(ctx context.Context, limit int, outcome models.OutcomeKind) ([]models.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := psql.
		Select("id", "shortcode", "permalink", "owner_handle", "outcome", "reason", "details", "recorded_at").
		From("processing_log").
		OrderBy("recorded_at DESC").
		Limit(uint64(limit))
	if outcome != "" {
		query = query.Where("outcome = ?", string(outcome))
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		var owner, reason sql.NullString
		var details []byte
		var kind string

		if err := rows.Scan(&rec.ID, &rec.Shortcode, &rec.Permalink, &owner, &kind, &reason, &details, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.OwnerHandle = owner.String
		rec.Reason = reason.String
		rec.Outcome = models.OutcomeKind(kind)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &rec.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
