package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, resourceID string) (*Artifact, error) {
	query := `
		SELECT resource_id, body, computed_at
		FROM artifact_cache
		WHERE resource_id = $1
	`

	var (
		a   Artifact
		raw []byte
	)
	err := s.db.QueryRow(ctx, query, resourceID).Scan(&a.ResourceID, &raw, &a.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	if err := json.Unmarshal(raw, &a.Body); err != nil {
		return nil, fmt.Errorf("failed to decode artifact body: %w", err)
	}
	return &a, nil
}

// Upsert is one statement, so Postgres serialises concurrent writers on the
// row. The WHERE clause keeps computed_at from regressing.
func (s *PostgresStore) Upsert(ctx context.Context, a *Artifact) (bool, error) {
	body, err := json.Marshal(a.Body)
	if err != nil {
		return false, fmt.Errorf("failed to encode artifact body: %w", err)
	}

	query := `
		INSERT INTO artifact_cache AS c (resource_id, body, computed_at)
		VALUES ($1, $2::jsonb, $3)
		ON CONFLICT (resource_id) DO UPDATE
		SET body = EXCLUDED.body, computed_at = EXCLUDED.computed_at
		WHERE c.computed_at <= EXCLUDED.computed_at
	`
	tag, err := s.db.Exec(ctx, query, a.ResourceID, string(body), a.ComputedAt)
	if err != nil {
		return false, fmt.Errorf("failed to upsert artifact: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	query := `
		SELECT resource_id
		FROM artifact_cache
		WHERE computed_at <= $1
		ORDER BY computed_at ASC
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale artifacts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan stale artifact: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale artifacts: %w", err)
	}
	return ids, nil
}
