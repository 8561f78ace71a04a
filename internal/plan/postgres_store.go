package plan

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vnmchuo/review-digest/internal/quota"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) ProfileStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	query := `
		SELECT user_id, plan, daily_analyze_limit, daily_reviews_limit, daily_import_limit
		FROM profiles
		WHERE user_id = $1
	`

	var (
		p                       Profile
		analyze, reviews, imprt *int64
	)
	err := s.db.QueryRow(ctx, query, userID).Scan(&p.UserID, &p.Plan, &analyze, &reviews, &imprt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	p.Overrides = Ceilings{}
	if analyze != nil {
		p.Overrides[quota.OpAnalyze] = *analyze
	}
	if reviews != nil {
		p.Overrides[quota.OpReviews] = *reviews
	}
	if imprt != nil {
		p.Overrides[quota.OpImport] = *imprt
	}
	return &p, nil
}
