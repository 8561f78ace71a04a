package actor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachingVerifier remembers successful verifications in Redis so repeated
// requests with the same token skip signature checks. Failures are never
// cached.
type CachingVerifier struct {
	next   TokenVerifier
	cache  *redis.Client
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

func NewCachingVerifier(next TokenVerifier, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachingVerifier {
	return &CachingVerifier{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With().Str("component", "actor").Logger(),
	}
}

type cachedIdentity struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (c *cachedIdentity) MarshalBinary() ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (c *cachedIdentity) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, c)
}

func (v *CachingVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	h := sha256.Sum256([]byte(token))
	redisKey := fmt.Sprintf("identity:%s", hex.EncodeToString(h[:]))

	var cached cachedIdentity
	err := v.cache.Get(ctx, redisKey).Scan(&cached)
	if err == nil {
		if cached.ExpiresAt.IsZero() || v.now().Before(cached.ExpiresAt) {
			return &Identity{UserID: cached.UserID, ExpiresAt: cached.ExpiresAt}, nil
		}
	} else if err != redis.Nil {
		v.logger.Warn().Err(err).Msg("identity cache read failed")
	}

	identity, err := v.next.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	ttl := v.ttl
	if !identity.ExpiresAt.IsZero() {
		if remaining := identity.ExpiresAt.Sub(v.now()); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl > 0 {
		entry := &cachedIdentity{UserID: identity.UserID, ExpiresAt: identity.ExpiresAt}
		if err := v.cache.Set(ctx, redisKey, entry, ttl).Err(); err != nil {
			v.logger.Warn().Err(err).Msg("identity cache write failed")
		}
	}

	return identity, nil
}
