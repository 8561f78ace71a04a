package actor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var ErrInvalidToken = errors.New("invalid identity token")

// Identity is what a verified token resolves to.
type Identity struct {
	UserID    string
	ExpiresAt time.Time // zero when the token carries no expiry
}

// TokenVerifier checks an opaque identity token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Resolver derives an Actor from an inbound request. It never fails: a
// missing or invalid token degrades to an anonymous actor.
type Resolver struct {
	verifier TokenVerifier
	logger   zerolog.Logger
}

func NewResolver(verifier TokenVerifier, logger zerolog.Logger) *Resolver {
	return &Resolver{
		verifier: verifier,
		logger:   logger.With().Str("component", "actor").Logger(),
	}
}

func (r *Resolver) Resolve(req *http.Request) Actor {
	if token := BearerToken(req); token != "" && r.verifier != nil {
		identity, err := r.verifier.Verify(req.Context(), token)
		if err == nil && identity.UserID != "" {
			return NewIdentified(identity.UserID)
		}
		if err != nil && !errors.Is(err, ErrInvalidToken) {
			r.logger.Warn().Err(err).Msg("token verification failed, treating request as anonymous")
		}
	}
	return NewAnonymous(ClientOrigin(req))
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func BearerToken(req *http.Request) string {
	header := strings.TrimSpace(req.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// ClientOrigin prefers the first X-Forwarded-For entry, then the transport
// address, then UnknownOrigin.
func ClientOrigin(req *http.Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if req.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil && host != "" {
			return host
		}
		return req.RemoteAddr
	}
	return UnknownOrigin
}
