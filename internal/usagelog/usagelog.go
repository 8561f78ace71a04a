package usagelog

import (
	"context"
	"time"
)

// Entry records one completed generation call.
type Entry struct {
	ID           string
	RequestID    string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	CreatedAt    time.Time
}

type Store interface {
	Log(ctx context.Context, e *Entry) error
}
