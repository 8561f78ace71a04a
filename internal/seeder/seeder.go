package seeder

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

const (
	DemoUserID = "00000000-0000-0000-0000-000000000001"
	DemoPlan   = "pro"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type TokenIssuer interface {
	Issue(userID string, now time.Time, ttl time.Duration) (string, error)
}

type demoDocument struct {
	id, text, lang string
	rating         float64
	age            time.Duration
}

type demoResource struct {
	id, name string
	docs     []demoDocument
}

var demoResources = []demoResource{
	{
		id:   "demo-harbour-hotel",
		name: "Harbour Hotel",
		docs: []demoDocument{
			{"demo-hh-1", "Lovely sea view and a very quiet room.", "en", 5, 2 * 24 * time.Hour},
			{"demo-hh-2", "Breakfast was cold and the coffee machine was broken.", "en", 2, 5 * 24 * time.Hour},
			{"demo-hh-3", "Staff helped us book a boat tour, great service.", "en", 4, 9 * 24 * time.Hour},
		},
	},
	{
		id:   "demo-old-town-inn",
		name: "Old Town Inn",
		docs: []demoDocument{
			{"demo-ot-1", "Perfect location, walls are thin though.", "en", 3, 24 * time.Hour},
			{"demo-ot-2", "Clean, cheap and close to the station.", "en", 4, 3 * 24 * time.Hour},
		},
	},
}

// Seed inserts a demo pro profile and two resources with documents. It is
// idempotent. When issuer is set it logs a token for the demo user.
func Seed(ctx context.Context, db DB, issuer TokenIssuer, now time.Time, logger zerolog.Logger) error {
	_, err := db.Exec(ctx, `
		INSERT INTO profiles (user_id, plan) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, DemoUserID, DemoPlan)
	if err != nil {
		return fmt.Errorf("failed to seed profile: %w", err)
	}

	for _, r := range demoResources {
		_, err := db.Exec(ctx, `
			INSERT INTO resources (id, name) VALUES ($1, $2)
			ON CONFLICT (id) DO NOTHING
		`, r.id, r.name)
		if err != nil {
			return fmt.Errorf("failed to seed resource %s: %w", r.id, err)
		}
		for _, d := range r.docs {
			_, err := db.Exec(ctx, `
				INSERT INTO documents (id, resource_id, text, rating, lang, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (id) DO NOTHING
			`, d.id, r.id, d.text, d.rating, d.lang, now.Add(-d.age).UTC())
			if err != nil {
				return fmt.Errorf("failed to seed document %s: %w", d.id, err)
			}
		}
	}
	logger.Info().Int("resources", len(demoResources)).Str("user_id", DemoUserID).Msg("demo data seeded")

	if issuer != nil {
		token, err := issuer.Issue(DemoUserID, now, 30*24*time.Hour)
		if err != nil {
			logger.Warn().Err(err).Msg("could not issue demo token")
			return nil
		}
		logger.Info().Str("token", token).Msg("demo bearer token")
	}
	return nil
}
