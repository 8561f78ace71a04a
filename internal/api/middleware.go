package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/vnmchuo/review-digest/internal/actor"
	"github.com/vnmchuo/review-digest/internal/telemetry"
	"github.com/vnmchuo/review-digest/pkg/ratelimit"
)

type Throttle interface {
	Allow(ctx context.Context, actorKey string) (bool, error)
}

// ThrottleMiddleware caps requests per actor per minute. It sits in front of
// the quota ledger and fails open: a limiter error is logged and the
// request proceeds to the ledger, which fails closed on its own.
func ThrottleMiddleware(t Throttle, logger zerolog.Logger) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(ratelimit.Window / time.Second))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a := actor.FromContext(r.Context())
			allowed, err := t.Allow(r.Context(), a.Key())
			if err != nil {
				logger.Warn().Err(err).Str("actor", a.Key()).Msg("throttle unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", retryAfter)
				writeJSON(w, http.StatusTooManyRequests, map[string]string{
					"error":       "rate limit exceeded",
					"retry_after": retryAfter,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AccessLog writes one zerolog line per request and records HTTP metrics
// under the matched route pattern.
func AccessLog(logger zerolog.Logger, metrics *telemetry.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)

			metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

			logger.Info().
				Str("method", r.Method).
				Str("route", route).
				Int("status", status).
				Dur("duration", elapsed).
				Str("request_id", actor.GetRequestID(r.Context())).
				Str("actor", actor.FromContext(r.Context()).Key()).
				Msg("request")
		})
	}
}
