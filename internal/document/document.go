package document

import (
	"context"
	"time"
)

// DefaultFetchLimit is how many of the newest documents feed one summary.
const DefaultFetchLimit = 200

// Document is one review attached to a resource.
type Document struct {
	ID        string
	Text      string
	Rating    float64
	Lang      string
	CreatedAt time.Time
}

// ClampRating bounds r to [0, 5].
func ClampRating(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 5 {
		return 5
	}
	return r
}

// Store reads the documents that feed summaries.
type Store interface {
	// Fetch returns up to limit documents for resourceID, newest first.
	// An unknown resource yields an empty slice.
	Fetch(ctx context.Context, resourceID string, limit int) ([]Document, error)
	// ListUncached returns resources that have no cached artifact yet.
	ListUncached(ctx context.Context, limit int) ([]string, error)
}
