package summary

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/vnmchuo/review-digest/internal/actor"
	"github.com/vnmchuo/review-digest/internal/artifact"
	"github.com/vnmchuo/review-digest/internal/document"
	"github.com/vnmchuo/review-digest/internal/plan"
	"github.com/vnmchuo/review-digest/internal/quota"
	"github.com/vnmchuo/review-digest/internal/telemetry"
)

const maxResourceIDLength = 128

type Cache interface {
	Get(ctx context.Context, resourceID string) (*artifact.Artifact, error)
	IsFresh(a *artifact.Artifact, ttl time.Duration) bool
	Upsert(ctx context.Context, resourceID string, body artifact.Body) (*artifact.Artifact, error)
}

type Ledger interface {
	CheckAndConsume(ctx context.Context, actorKey string, op quota.Operation, window quota.Window, ceiling int64) (quota.Result, error)
	UsageToday(ctx context.Context, actorKey string, ops []quota.Operation) (map[quota.Operation]int64, error)
	Today() string
}

type PolicyResolver interface {
	PolicyFor(ctx context.Context, a actor.Actor) plan.Policy
}

type Generator interface {
	Generate(ctx context.Context, docs []document.Document) (artifact.Body, error)
}

type Deps struct {
	Cache     Cache
	Ledger    Ledger
	Policies  PolicyResolver
	Documents document.Store
	Generator Generator
	Metrics   *telemetry.Collector
	Tracer    trace.Tracer
}

// Result is a served artifact.
type Result struct {
	Body            artifact.Body
	ServedFromCache bool
	ComputedAt      time.Time
}

type Service struct {
	deps       Deps
	ttl        time.Duration
	fetchLimit int
	flight     singleflight.Group
	logger     zerolog.Logger
}

func NewService(deps Deps, ttl time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		deps:       deps,
		ttl:        ttl,
		fetchLimit: document.DefaultFetchLimit,
		logger:     logger.With().Str("component", "summary").Logger(),
	}
}

// GetArtifact serves a fresh cached artifact without touching the ledger.
// Otherwise it consumes one analyze unit and regenerates. Every returned
// error is an *Error.
func (s *Service) GetArtifact(ctx context.Context, resourceID string, a actor.Actor, force bool) (*Result, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "summary.GetArtifact")
	defer span.End()
	span.SetAttributes(
		attribute.String("resource_id", resourceID),
		attribute.String("actor_kind", a.Kind.String()),
		attribute.Bool("force", force),
	)

	res, err := s.getArtifact(ctx, resourceID, a, force)
	if err != nil {
		kind := KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		s.deps.Metrics.ArtifactRequests.WithLabelValues(string(kind)).Inc()
		return nil, err
	}
	span.SetAttributes(attribute.Bool("served_from_cache", res.ServedFromCache))
	return res, nil
}

func (s *Service) getArtifact(ctx context.Context, resourceID string, a actor.Actor, force bool) (*Result, error) {
	if !ValidResourceID(resourceID) {
		return nil, newError(KindInvalidInput, nil)
	}

	if !force {
		cached, err := s.readCache(ctx, resourceID)
		if err != nil {
			return nil, err
		}
		if cached != nil && s.deps.Cache.IsFresh(cached, s.ttl) {
			s.deps.Metrics.ArtifactRequests.WithLabelValues("cache_hit").Inc()
			return fromArtifact(cached, true), nil
		}
	}

	policy := s.deps.Policies.PolicyFor(ctx, a)
	if err := s.consume(ctx, a, policy); err != nil {
		return nil, err
	}

	fresh, err := s.regenerate(ctx, resourceID)
	if err == nil {
		s.deps.Metrics.ArtifactRequests.WithLabelValues("generated").Inc()
		return fromArtifact(fresh, false), nil
	}
	if KindOf(err) != KindNoInputData {
		return nil, err
	}

	// No documents: fall back to whatever is cached, however old.
	cached, cerr := s.readCache(ctx, resourceID)
	if cerr != nil {
		return nil, cerr
	}
	if cached == nil {
		return nil, err
	}
	s.deps.Metrics.ArtifactRequests.WithLabelValues("stale_fallback").Inc()
	return fromArtifact(cached, true), nil
}

func (s *Service) consume(ctx context.Context, a actor.Actor, policy plan.Policy) error {
	op := quota.OpAnalyze
	res, err := s.deps.Ledger.CheckAndConsume(ctx, a.Key(), op, policy.Window(), policy.Ceiling(op))
	if err != nil {
		s.deps.Metrics.QuotaDecisions.WithLabelValues(string(op), "error").Inc()
		s.logger.Error().Err(err).Str("actor", a.Key()).Msg("quota check failed, denying")
		return newError(KindStoreUnavailable, err)
	}
	if res.Allowed {
		s.deps.Metrics.QuotaDecisions.WithLabelValues(string(op), "allowed").Inc()
		return nil
	}

	s.deps.Metrics.QuotaDecisions.WithLabelValues(string(op), "denied").Inc()
	kind := KindQuotaExceeded
	if !a.IsIdentified() {
		kind = KindSignInRequired
	}
	return &Error{Kind: kind, Remaining: 0, Plan: policy.Plan}
}

// Refresh regenerates resourceID without consulting the ledger. It returns a
// KindNoInputData error when the resource has no documents.
func (s *Service) Refresh(ctx context.Context, resourceID string) (*artifact.Artifact, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "summary.Refresh")
	defer span.End()
	span.SetAttributes(attribute.String("resource_id", resourceID))

	a, err := s.regenerate(ctx, resourceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return nil, err
	}
	return a, nil
}

// regenerate collapses concurrent regenerations of one resource into a
// single generator call. The shared work outlives any one caller's context;
// the generator's own timeout bounds it.
func (s *Service) regenerate(ctx context.Context, resourceID string) (*artifact.Artifact, error) {
	ch := s.flight.DoChan(resourceID, func() (interface{}, error) {
		return s.generate(context.WithoutCancel(ctx), resourceID)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*artifact.Artifact), nil
	case <-ctx.Done():
		return nil, newError(KindGenerationFailed, ctx.Err())
	}
}

func (s *Service) generate(ctx context.Context, resourceID string) (*artifact.Artifact, error) {
	docs, err := s.deps.Documents.Fetch(ctx, resourceID, s.fetchLimit)
	if err != nil {
		return nil, newError(KindStoreUnavailable, err)
	}
	if len(docs) == 0 {
		return nil, newError(KindNoInputData, nil)
	}

	start := time.Now()
	body, err := s.deps.Generator.Generate(ctx, docs)
	if err != nil {
		s.deps.Metrics.GenerationDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		s.logger.Warn().Err(err).Str("resource_id", resourceID).Int("documents", len(docs)).Msg("generation failed")
		return nil, newError(KindGenerationFailed, err)
	}
	s.deps.Metrics.GenerationDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	a, err := s.deps.Cache.Upsert(ctx, resourceID, body)
	if err != nil {
		return nil, newError(KindStoreUnavailable, err)
	}
	s.logger.Info().Str("resource_id", resourceID).Int("documents", len(docs)).Str("model", body.Model).Msg("artifact stored")
	return a, nil
}

func (s *Service) readCache(ctx context.Context, resourceID string) (*artifact.Artifact, error) {
	a, err := s.deps.Cache.Get(ctx, resourceID)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, nil
		}
		return nil, newError(KindStoreUnavailable, err)
	}
	return a, nil
}

func fromArtifact(a *artifact.Artifact, cached bool) *Result {
	return &Result{Body: a.Body, ServedFromCache: cached, ComputedAt: a.ComputedAt}
}

// ValidResourceID accepts non-empty ids without whitespace or control
// characters, up to a fixed length.
func ValidResourceID(id string) bool {
	if id == "" || len(id) > maxResourceIDLength {
		return false
	}
	return strings.IndexFunc(id, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r) || r == unicode.ReplacementChar
	}) < 0
}
