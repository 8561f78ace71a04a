package plan

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/vnmchuo/review-digest/internal/actor"
)

var ErrProfileNotFound = errors.New("profile not found")

// Profile is a stored plan assignment. Overrides holds per-operation
// ceilings set on the profile itself.
type Profile struct {
	UserID    string
	Plan      string
	Overrides Ceilings
}

type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// Resolver maps an actor to its current policy. It never fails: a missing
// profile or a lookup error falls back to the default plan.
type Resolver struct {
	profiles ProfileStore
	catalog  *Holder
	logger   zerolog.Logger
}

func NewResolver(profiles ProfileStore, catalog *Holder, logger zerolog.Logger) *Resolver {
	return &Resolver{
		profiles: profiles,
		catalog:  catalog,
		logger:   logger.With().Str("component", "plans").Logger(),
	}
}

func (r *Resolver) PolicyFor(ctx context.Context, a actor.Actor) Policy {
	c := r.catalog.Get()
	if !a.IsIdentified() {
		return c.AnonymousPolicy()
	}

	profile, err := r.profiles.GetProfile(ctx, a.ID)
	if err != nil {
		if !errors.Is(err, ErrProfileNotFound) {
			r.logger.Warn().Err(err).Str("actor", a.Key()).Msg("profile lookup failed, using default plan")
		}
		return c.DefaultPolicy()
	}
	return c.PolicyForProfile(profile)
}
