package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/review-digest/config"
	"github.com/vnmchuo/review-digest/internal/actor"
	"github.com/vnmchuo/review-digest/internal/api"
	"github.com/vnmchuo/review-digest/internal/artifact"
	"github.com/vnmchuo/review-digest/internal/document"
	"github.com/vnmchuo/review-digest/internal/generator"
	"github.com/vnmchuo/review-digest/internal/plan"
	"github.com/vnmchuo/review-digest/internal/provider"
	"github.com/vnmchuo/review-digest/internal/provider/claude"
	"github.com/vnmchuo/review-digest/internal/provider/gemini"
	"github.com/vnmchuo/review-digest/internal/provider/openai"
	"github.com/vnmchuo/review-digest/internal/quota"
	"github.com/vnmchuo/review-digest/internal/seeder"
	"github.com/vnmchuo/review-digest/internal/store"
	"github.com/vnmchuo/review-digest/internal/summary"
	"github.com/vnmchuo/review-digest/internal/sweep"
	"github.com/vnmchuo/review-digest/internal/telemetry"
	"github.com/vnmchuo/review-digest/internal/usagelog"
	"github.com/vnmchuo/review-digest/internal/worker"
	"github.com/vnmchuo/review-digest/pkg/ratelimit"
)

const serviceName = "review-digest"

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to init logger")
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer(serviceName, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracer")
	}
	tracer := otel.GetTracerProvider().Tracer(serviceName)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewCollector(reg)

	// 3. Connect PostgreSQL
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres unavailable")
	}
	defer pool.Close()
	if err := store.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate")
	}
	logger.Info().Msg("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping redis")
	}
	logger.Info().Msg("Redis connected")

	clock := quartz.NewReal()

	// 5. Identity
	jwtVerifier := actor.NewJWTVerifier(cfg.JWTSecret)
	verifier := actor.NewCachingVerifier(jwtVerifier, rdb, cfg.TokenCacheTTL, logger)
	identify := actor.NewMiddleware(actor.NewResolver(verifier, logger))

	// 6. Plans
	plans, err := loadPlans(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load plans")
	}
	plans.OnReload(func(err error) {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.PlanReloads.WithLabelValues(result).Inc()
	})
	if err := plans.Watch(); err != nil {
		logger.Fatal().Err(err).Msg("failed to watch plans file")
	}
	defer plans.Stop()
	policies := plan.NewResolver(plan.NewPostgresStore(pool), plans, logger)

	// 7. Quota ledger
	var usage quota.Store
	switch cfg.LedgerBackend {
	case "redis":
		usage = quota.NewRedisStore(rdb)
	default:
		usage = quota.NewPostgresStore(pool)
	}
	ledger := quota.NewLedger(usage, clock, tracer)
	logger.Info().Str("backend", cfg.LedgerBackend).Msg("quota ledger ready")

	// 8. Generator
	backends := buildBackends(cfg)
	if len(backends) == 0 {
		logger.Warn().Msg("no provider API keys configured, generation will fail")
	}
	gen := generator.NewLLMGenerator(
		generator.NewRouter(backends, logger.With().Str("component", "generator").Logger()),
		cfg.OutputLang, cfg.GenerationTimeout, tracer, logger,
	)
	gen.SetRecorder(usagelog.NewPostgresStore(pool))

	// 9. Orchestrator and sweep
	cache := artifact.NewCache(artifact.NewPostgresStore(pool), clock)
	docs := document.NewPostgresStore(pool)
	svc := summary.NewService(summary.Deps{
		Cache:     cache,
		Ledger:    ledger,
		Policies:  policies,
		Documents: docs,
		Generator: gen,
		Metrics:   metrics,
		Tracer:    tracer,
	}, cfg.AnalysisTTL, logger)
	sweeper := sweep.New(cache, docs, svc, cfg.AnalysisTTL, cfg.SweepConcurrency, metrics, tracer, logger)

	var scheduler *worker.Scheduler
	if cfg.SweepInterval > 0 {
		scheduler = worker.NewScheduler("sweep", cfg.SweepInterval, func(ctx context.Context) error {
			_, err := sweeper.Run(ctx, cfg.SweepBatchSize)
			return err
		}, clock, logger)
		scheduler.Start(ctx)
	}

	// 10. Seed demo data if RUN_SEED=true
	if cfg.RunSeed {
		if err := seeder.Seed(ctx, pool, jwtVerifier, clock.Now(), logger); err != nil {
			logger.Error().Err(err).Msg("seeding failed")
		}
	}

	// 11. HTTP
	handler := api.NewHandler(svc, sweeper, cfg.CronSecret, cfg.SweepBatchSize, tracer, logger)
	if scheduler != nil {
		handler.SetSweepStatus(scheduler)
	}
	router := api.NewRouter(api.RouterConfig{
		Handler:  handler,
		Identify: identify,
		Throttle: ratelimit.NewLimiter(rdb, cfg.RequestsPerMinute),
		Metrics:  metrics,
		Gatherer: reg,
		Ping: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
		Logger: logger,
	})

	// 12. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.GenerationTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("review digest starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown tracer provider")
	}
	logger.Info().Msg("server stopped")
}

func loadPlans(cfg *config.Config, logger zerolog.Logger) (*plan.Holder, error) {
	if cfg.PlansFile != "" {
		return plan.NewFileHolder(cfg.PlansFile, logger)
	}
	return plan.NewStaticHolder(plan.DefaultCatalog(plan.Defaults{
		FreeAnalyze:        cfg.FreeAnalyzeLimit,
		FreeReviews:        cfg.FreeReviewsLimit,
		FreeImport:         cfg.FreeImportLimit,
		ProAnalyze:         cfg.ProAnalyzeLimit,
		ProReviews:         cfg.ProReviewsLimit,
		ProImport:          cfg.ProImportLimit,
		AnonMonthlyAnalyze: cfg.AnonMonthlyAnalyzeLimit,
	})), nil
}

// buildBackends orders providers OpenAI, Gemini, Claude, skipping any
// without an API key.
func buildBackends(cfg *config.Config) []generator.Backend {
	client := &http.Client{Timeout: cfg.GenerationTimeout}
	var backends []generator.Backend
	if cfg.OpenAIAPIKey != "" {
		backends = append(backends, generator.Backend{
			Provider: openai.New(cfg.OpenAIAPIKey, provider.WithHTTPClient(client)),
			Model:    cfg.Model,
		})
	}
	if cfg.GeminiAPIKey != "" {
		backends = append(backends, generator.Backend{
			Provider: gemini.New(cfg.GeminiAPIKey, provider.WithHTTPClient(client)),
			Model:    cfg.GeminiModel,
		})
	}
	if cfg.AnthropicAPIKey != "" {
		backends = append(backends, generator.Backend{
			Provider: claude.New(cfg.AnthropicAPIKey, provider.WithHTTPClient(client)),
			Model:    cfg.ClaudeModel,
		})
	}
	return backends
}
