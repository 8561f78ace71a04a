package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Quota ledger backend: "postgres" or "redis"
	LedgerBackend string

	// Identity
	JWTSecret     string
	TokenCacheTTL time.Duration // default: 5m

	// Plans
	FreeAnalyzeLimit        int64 // default: 3
	FreeReviewsLimit        int64 // default: 500
	FreeImportLimit         int64 // default: 10
	ProAnalyzeLimit         int64 // default: 50
	ProReviewsLimit         int64 // default: 5000
	ProImportLimit          int64 // default: 100
	AnonMonthlyAnalyzeLimit int64 // default: 2
	PlansFile               string

	// Artifacts
	AnalysisTTL       time.Duration // ANALYSIS_TTL_HOURS, default: 24h
	GenerationTimeout time.Duration // default: 60s
	Model             string        // OPENAI_MODEL, default: gpt-4o-mini
	GeminiModel       string        // default: gemini-2.0-flash
	ClaudeModel       string        // default: claude-3-5-haiku-latest
	OutputLang        string        // default: en

	// Providers
	OpenAIAPIKey    string
	GeminiAPIKey    string
	AnthropicAPIKey string

	// Sweep
	SweepBatchSize   int           // default: 5, clamped to [1, 20]
	SweepInterval    time.Duration // 0 disables the timer
	SweepConcurrency int           // default: 2
	CronSecret       string

	// Demo data
	RunSeed bool

	// Rate Limiting
	RequestsPerMinute int64 // default: 120

	// Observability
	OTELExporterType     string // "stdout", "otlp" or "none"
	OTELExporterEndpoint string // default: "localhost:4317"
	LogLevel             string // default: info
	LogFormat            string // "json" or "console"
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		LedgerBackend:        getEnv("LEDGER_BACKEND", "postgres"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		PlansFile:            os.Getenv("PLANS_FILE"),
		Model:                getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		ClaudeModel:          getEnv("CLAUDE_MODEL", "claude-3-5-haiku-latest"),
		OutputLang:           getEnv("OUTPUT_LANG", "en"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		CronSecret:           os.Getenv("CRON_SECRET"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
		RunSeed:              os.Getenv("RUN_SEED") == "true",
	}

	ints := []struct {
		key      string
		fallback int64
		dst      *int64
	}{
		{"FREE_ANALYZE_LIMIT", 3, &cfg.FreeAnalyzeLimit},
		{"FREE_REVIEWS_LIMIT", 500, &cfg.FreeReviewsLimit},
		{"FREE_IMPORT_LIMIT", 10, &cfg.FreeImportLimit},
		{"PRO_ANALYZE_LIMIT", 50, &cfg.ProAnalyzeLimit},
		{"PRO_REVIEWS_LIMIT", 5000, &cfg.ProReviewsLimit},
		{"PRO_IMPORT_LIMIT", 100, &cfg.ProImportLimit},
		{"ANON_MONTHLY_ANALYZE_LIMIT", 2, &cfg.AnonMonthlyAnalyzeLimit},
		{"REQUESTS_PER_MINUTE", 120, &cfg.RequestsPerMinute},
	}
	for _, i := range ints {
		v, err := getInt(i.key, i.fallback)
		if err != nil {
			return nil, err
		}
		if v < 0 {
			return nil, fmt.Errorf("invalid %s: must not be negative", i.key)
		}
		*i.dst = v
	}

	ttlHours, err := strconv.ParseFloat(getEnv("ANALYSIS_TTL_HOURS", "24"), 64)
	if err != nil || ttlHours <= 0 {
		return nil, fmt.Errorf("invalid ANALYSIS_TTL_HOURS: must be a positive number")
	}
	cfg.AnalysisTTL = time.Duration(ttlHours * float64(time.Hour))

	if cfg.TokenCacheTTL, err = getDuration("TOKEN_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.GenerationTimeout, err = getDuration("GENERATION_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", 0); err != nil {
		return nil, err
	}

	batch, err := getInt("SWEEP_BATCH_SIZE", 5)
	if err != nil {
		return nil, err
	}
	cfg.SweepBatchSize = ClampBatchSize(int(batch))

	concurrency, err := getInt("SWEEP_CONCURRENCY", 2)
	if err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = 1
	}
	cfg.SweepConcurrency = int(concurrency)

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.LedgerBackend != "postgres" && cfg.LedgerBackend != "redis" {
		return nil, fmt.Errorf("invalid LEDGER_BACKEND %q: want postgres or redis", cfg.LedgerBackend)
	}
	if cfg.GenerationTimeout <= 0 {
		return nil, fmt.Errorf("GENERATION_TIMEOUT must be positive")
	}

	return cfg, nil
}

// ClampBatchSize bounds a sweep batch to [1, 20].
func ClampBatchSize(n int) int {
	if n < 1 {
		return 1
	}
	if n > 20 {
		return 20
	}
	return n
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int64) (int64, error) {
	s, ok := os.LookupEnv(key)
	if !ok || s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s, ok := os.LookupEnv(key)
	if !ok || s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
