package usagelog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Log(ctx context.Context, e *Entry) error {
	query := `
		INSERT INTO generation_log (request_id, provider, model, input_tokens, output_tokens, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		e.RequestID, e.Provider, e.Model, e.InputTokens, e.OutputTokens, e.LatencyMs,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log generation: %w", err)
	}
	return nil
}
