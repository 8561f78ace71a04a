package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vnmchuo/review-digest/internal/artifact"
	"github.com/vnmchuo/review-digest/internal/summary"
	"github.com/vnmchuo/review-digest/internal/telemetry"
)

type StaleLister interface {
	ListStale(ctx context.Context, ttl time.Duration, limit int) ([]string, error)
}

type MissingLister interface {
	ListUncached(ctx context.Context, limit int) ([]string, error)
}

type Refresher interface {
	Refresh(ctx context.Context, resourceID string) (*artifact.Artifact, error)
}

// Sweeper regenerates stale and missing artifacts outside any actor's quota.
type Sweeper struct {
	stale       StaleLister
	missing     MissingLister
	refresher   Refresher
	ttl         time.Duration
	concurrency int
	metrics     *telemetry.Collector
	tracer      trace.Tracer
	logger      zerolog.Logger
}

func New(stale StaleLister, missing MissingLister, refresher Refresher, ttl time.Duration, concurrency int, metrics *telemetry.Collector, tracer trace.Tracer, logger zerolog.Logger) *Sweeper {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Sweeper{
		stale:       stale,
		missing:     missing,
		refresher:   refresher,
		ttl:         ttl,
		concurrency: concurrency,
		metrics:     metrics,
		tracer:      tracer,
		logger:      logger.With().Str("component", "sweep").Logger(),
	}
}

// Run picks up to batchSize candidates, stale rows first, and refreshes
// each. A failure to list candidates aborts the run; a failure on one
// resource is logged and skipped. The returned ids are those refreshed, in
// candidate order.
func (s *Sweeper) Run(ctx context.Context, batchSize int) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "sweep.Run")
	defer span.End()

	candidates, err := s.candidates(ctx, batchSize)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("sweep.candidates", len(candidates)))

	done := make([]bool, len(candidates))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range candidates {
		g.Go(func() error {
			done[i] = s.refresh(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	processed := make([]string, 0, len(candidates))
	for i, id := range candidates {
		if done[i] {
			processed = append(processed, id)
		}
	}

	span.SetAttributes(attribute.Int("sweep.processed", len(processed)))
	s.logger.Info().Int("candidates", len(candidates)).Int("processed", len(processed)).Msg("sweep finished")
	return processed, nil
}

func (s *Sweeper) candidates(ctx context.Context, batchSize int) ([]string, error) {
	if batchSize < 1 {
		return nil, nil
	}

	stale, err := s.stale.ListStale(ctx, s.ttl, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale artifacts: %w", err)
	}
	if len(stale) >= batchSize {
		return stale[:batchSize], nil
	}

	missing, err := s.missing.ListUncached(ctx, batchSize-len(stale))
	if err != nil {
		return nil, fmt.Errorf("failed to list uncached resources: %w", err)
	}

	seen := make(map[string]struct{}, len(stale)+len(missing))
	out := make([]string, 0, len(stale)+len(missing))
	for _, id := range append(stale, missing...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) > batchSize {
		out = out[:batchSize]
	}
	return out, nil
}

func (s *Sweeper) refresh(ctx context.Context, id string) bool {
	_, err := s.refresher.Refresh(ctx, id)
	switch {
	case err == nil:
		s.metrics.SweepProcessed.WithLabelValues("refreshed").Inc()
		return true
	case summary.KindOf(err) == summary.KindNoInputData:
		s.metrics.SweepProcessed.WithLabelValues("skipped").Inc()
		s.logger.Debug().Str("resource_id", id).Msg("no documents, skipping")
	default:
		s.metrics.SweepProcessed.WithLabelValues("failed").Inc()
		s.logger.Warn().Err(err).Str("resource_id", id).Msg("refresh failed, continuing")
	}
	return false
}
