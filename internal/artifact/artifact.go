package artifact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
)

var ErrNotFound = errors.New("artifact not found")

type Sentiment string

const (
	Positive Sentiment = "positive"
	Neutral  Sentiment = "neutral"
	Negative Sentiment = "negative"
)

// ParseSentiment maps unknown values to Neutral.
func ParseSentiment(s string) Sentiment {
	switch Sentiment(s) {
	case Positive, Negative:
		return Sentiment(s)
	default:
		return Neutral
	}
}

// Body is the generated summary of a resource's documents.
type Body struct {
	Pros      []string  `json:"pros"`
	Cons      []string  `json:"cons"`
	Sentiment Sentiment `json:"sentiment"`
	Topics    []string  `json:"topics"`
	Model     string    `json:"model"`
}

// Artifact is the cached row for one resource.
type Artifact struct {
	ResourceID string
	Body       Body
	ComputedAt time.Time
}

// IsFresh reports whether the artifact is younger than ttl at now.
func IsFresh(a *Artifact, ttl time.Duration, now time.Time) bool {
	if a == nil || a.ComputedAt.IsZero() {
		return false
	}
	return now.Sub(a.ComputedAt) < ttl
}

// Store persists one row per resource. Upsert must replace the row in a
// single atomic write and must not move ComputedAt backwards.
type Store interface {
	Get(ctx context.Context, resourceID string) (*Artifact, error)
	// Upsert reports false when a newer row already exists and a was not
	// written.
	Upsert(ctx context.Context, a *Artifact) (bool, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// Cache stamps writes with the clock and answers freshness questions.
type Cache struct {
	store Store
	clock quartz.Clock
}

func NewCache(store Store, clock quartz.Clock) *Cache {
	return &Cache{store: store, clock: clock}
}

// Get returns ErrNotFound when the resource has no row.
func (c *Cache) Get(ctx context.Context, resourceID string) (*Artifact, error) {
	a, err := c.store.Get(ctx, resourceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read artifact cache: %w", err)
	}
	return a, nil
}

func (c *Cache) IsFresh(a *Artifact, ttl time.Duration) bool {
	return IsFresh(a, ttl, c.clock.Now())
}

// Upsert replaces the row for resourceID with body, computed now. When a
// newer row won the race, that row is returned instead.
func (c *Cache) Upsert(ctx context.Context, resourceID string, body Body) (*Artifact, error) {
	a := &Artifact{ResourceID: resourceID, Body: body, ComputedAt: c.clock.Now().UTC()}
	written, err := c.store.Upsert(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("failed to write artifact cache: %w", err)
	}
	if written {
		return a, nil
	}
	stored, err := c.store.Get(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact cache: %w", err)
	}
	return stored, nil
}

// ListStale returns up to limit resources whose artifact age is at least
// ttl, oldest first.
func (c *Cache) ListStale(ctx context.Context, ttl time.Duration, limit int) ([]string, error) {
	ids, err := c.store.ListStale(ctx, c.clock.Now().Add(-ttl), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale artifacts: %w", err)
	}
	return ids, nil
}
