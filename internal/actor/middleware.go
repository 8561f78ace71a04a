package actor

import (
	"net/http"

	"github.com/google/uuid"
)

type Middleware func(next http.Handler) http.Handler

// NewMiddleware resolves the actor for every request and stores it, along
// with a request ID, in the request context.
func NewMiddleware(resolver *Resolver) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}
			ctx = WithRequestID(ctx, requestID)
			w.Header().Set("X-Request-ID", requestID)

			ctx = WithActor(ctx, resolver.Resolve(r.WithContext(ctx)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
