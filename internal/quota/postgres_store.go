package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore keeps counters in usage_counters, unique on
// (actor_key, operation, period_key).
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Consume(ctx context.Context, actorKey string, op Operation, p Period, ceiling int64) (Decision, error) {
	if ceiling <= 0 {
		used, err := s.Used(ctx, actorKey, op, p)
		return Decision{Used: used}, err
	}
	if p.From == p.To {
		return s.consumeDay(ctx, actorKey, op, p, ceiling)
	}
	return s.consumeRange(ctx, actorKey, op, p, ceiling)
}

// consumeDay is a single conditional upsert: the row is created at 1 or
// incremented only while below the ceiling. No row back means denied.
func (s *PostgresStore) consumeDay(ctx context.Context, actorKey string, op Operation, p Period, ceiling int64) (Decision, error) {
	query := `
		INSERT INTO usage_counters AS u (actor_key, operation, period_key, count, last_updated)
		VALUES ($1, $2, $3, 1, now())
		ON CONFLICT (actor_key, operation, period_key) DO UPDATE
		SET count = u.count + 1, last_updated = now()
		WHERE u.count < $4
		RETURNING u.count
	`
	var count int64
	err := s.db.QueryRow(ctx, query, actorKey, string(op), p.Day, ceiling).Scan(&count)
	if err == nil {
		return Decision{Allowed: true, Used: count}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Decision{}, fmt.Errorf("failed to consume usage: %w", err)
	}

	used, err := s.Used(ctx, actorKey, op, p)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: false, Used: used}, nil
}

// consumeRange sums the month-to-date rows and increments today's row under
// a transaction-scoped advisory lock keyed by actor, operation and range.
func (s *PostgresStore) consumeRange(ctx context.Context, actorKey string, op Operation, p Period, ceiling int64) (Decision, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to begin usage transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockKey := fmt.Sprintf("%s|%s|%s", actorKey, op, p.From)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return Decision{}, fmt.Errorf("failed to lock usage counter: %w", err)
	}

	var used int64
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(count), 0)::bigint
		FROM usage_counters
		WHERE actor_key = $1 AND operation = $2 AND period_key BETWEEN $3 AND $4
	`, actorKey, string(op), p.From, p.To).Scan(&used)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to sum usage: %w", err)
	}

	if used >= ceiling {
		return Decision{Allowed: false, Used: used}, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO usage_counters AS u (actor_key, operation, period_key, count, last_updated)
		VALUES ($1, $2, $3, 1, now())
		ON CONFLICT (actor_key, operation, period_key) DO UPDATE
		SET count = u.count + 1, last_updated = now()
	`, actorKey, string(op), p.Day)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to increment usage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Decision{}, fmt.Errorf("failed to commit usage: %w", err)
	}
	return Decision{Allowed: true, Used: used + 1}, nil
}

func (s *PostgresStore) Used(ctx context.Context, actorKey string, op Operation, p Period) (int64, error) {
	query := `
		SELECT COALESCE(SUM(count), 0)::bigint
		FROM usage_counters
		WHERE actor_key = $1 AND operation = $2 AND period_key BETWEEN $3 AND $4
	`
	var used int64
	if err := s.db.QueryRow(ctx, query, actorKey, string(op), p.From, p.To).Scan(&used); err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return used, nil
}
