package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Window is the throttle period.
const Window = time.Minute

// Limiter throttles requests per actor over a one-minute window, backed by
// github.com/vnmchuo/ratelimiter.
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, requestsPerMinute int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(requestsPerMinute)),
		extratelimit.WithWindow(Window),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

func key(actorKey string) string {
	return fmt.Sprintf("ratelimit:actor:%s", actorKey)
}

func (l *Limiter) Allow(ctx context.Context, actorKey string) (bool, error) {
	res, err := l.store.Allow(ctx, key(actorKey))
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}
