package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vnmchuo/review-digest/internal/actor"
	"github.com/vnmchuo/review-digest/internal/telemetry"
)

type RouterConfig struct {
	Handler  *Handler
	Identify actor.Middleware
	Throttle Throttle
	Metrics  *telemetry.Collector
	Gatherer prometheus.Gatherer
	// Ping checks backing stores for /healthz.
	Ping   func(ctx context.Context) error
	Logger zerolog.Logger
}

func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(cfg.Identify)
	r.Use(AccessLog(cfg.Logger, cfg.Metrics))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if cfg.Ping != nil {
			if err := cfg.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "review-digest"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(ThrottleMiddleware(cfg.Throttle, cfg.Logger))
		r.Get("/v1/artifacts/{resourceID}", cfg.Handler.HandleArtifact)
		r.Post("/v1/artifacts/{resourceID}", cfg.Handler.HandleArtifact)
		r.Get("/v1/usage", cfg.Handler.HandleUsage)
	})

	r.Post("/internal/sweep", cfg.Handler.HandleSweep)
	r.Get("/internal/sweep/status", cfg.Handler.HandleSweepStatus)
	return r
}
