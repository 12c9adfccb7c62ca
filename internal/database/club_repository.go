package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PostgresClubRepository resolves an account handle to its club type.
type PostgresClubRepository struct {
	db *sql.DB
}

func NewPostgresClubRepository(db *sql.DB) *PostgresClubRepository {
	return &PostgresClubRepository{db: db}
}

// GroupTypeFor returns the club type for handle, or "" when the handle is unknown.
func (r *PostgresClubRepository) GroupTypeFor(ctx context.Context, handle string) (string, error) {
	handle = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
	if handle == "" {
		return "", nil
	}

	var clubType string
	err := r.db.QueryRowContext(ctx, `SELECT club_type FROM clubs WHERE handle = $1`, handle).Scan(&clubType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup club type for %s: %w", handle, err)
	}
	return clubType, nil
}
