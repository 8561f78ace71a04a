package summary

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/review-digest/internal/actor"
	"github.com/vnmchuo/review-digest/internal/artifact"
	"github.com/vnmchuo/review-digest/internal/document"
	"github.com/vnmchuo/review-digest/internal/plan"
	"github.com/vnmchuo/review-digest/internal/quota"
	"github.com/vnmchuo/review-digest/internal/telemetry"
)

var (
	ttl   = 24 * time.Hour
	start = time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC)
)

type memArtifacts struct {
	mu   sync.Mutex
	rows map[string]artifact.Artifact
}

func (m *memArtifacts) Get(ctx context.Context, id string) (*artifact.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return nil, artifact.ErrNotFound
	}
	return &a, nil
}

func (m *memArtifacts) Upsert(ctx context.Context, a *artifact.Artifact) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[a.ResourceID] = *a
	return true, nil
}

func (m *memArtifacts) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	return nil, nil
}

type mockDocuments struct {
	docs map[string][]document.Document
	err  error
}

func (m *mockDocuments) Fetch(ctx context.Context, id string, limit int) ([]document.Document, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.docs[id], nil
}

func (m *mockDocuments) ListUncached(ctx context.Context, limit int) ([]string, error) {
	return nil, nil
}

type mockGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockGenerator) Generate(ctx context.Context, docs []document.Document) (artifact.Body, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return artifact.Body{}, m.err
	}
	return artifact.Body{Pros: []string{docs[0].Text}, Sentiment: artifact.Positive, Model: "mock"}, nil
}

func (m *mockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockProfiles struct {
	profiles map[string]*plan.Profile
}

func (m *mockProfiles) GetProfile(ctx context.Context, userID string) (*plan.Profile, error) {
	p, ok := m.profiles[userID]
	if !ok {
		return nil, plan.ErrProfileNotFound
	}
	return p, nil
}

type fixture struct {
	svc       *Service
	clock     *quartz.Mock
	ledger    *quota.Ledger
	cache     *artifact.Cache
	artifacts *memArtifacts
	docs      *mockDocuments
	gen       *mockGenerator
	profiles  *mockProfiles
	metrics   *telemetry.Collector
}

func setup(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := quartz.NewMock(t)
	clock.Set(start)
	tracer := noop.NewTracerProvider().Tracer("test")

	f := &fixture{
		clock:     clock,
		ledger:    quota.NewLedger(quota.NewRedisStore(rdb), clock, tracer),
		artifacts: &memArtifacts{rows: map[string]artifact.Artifact{}},
		docs: &mockDocuments{docs: map[string][]document.Document{
			"h1": {{ID: "d1", Text: "Great pool", Rating: 5}},
			"h2": {{ID: "d2", Text: "Tiny room", Rating: 2}},
			"h3": {{ID: "d3", Text: "Friendly staff", Rating: 4}},
		}},
		gen:      &mockGenerator{},
		profiles: &mockProfiles{profiles: map[string]*plan.Profile{}},
		metrics:  telemetry.NewCollector(prometheus.NewRegistry()),
	}
	f.cache = artifact.NewCache(f.artifacts, clock)

	catalog := plan.DefaultCatalog(plan.Defaults{
		FreeAnalyze: 3, FreeReviews: 500, FreeImport: 10,
		ProAnalyze: 50, ProReviews: 5000, ProImport: 100,
		AnonMonthlyAnalyze: 2,
	})
	resolver := plan.NewResolver(f.profiles, plan.NewStaticHolder(catalog), zerolog.Nop())

	f.svc = NewService(Deps{
		Cache:     f.cache,
		Ledger:    f.ledger,
		Policies:  resolver,
		Documents: f.docs,
		Generator: f.gen,
		Metrics:   f.metrics,
		Tracer:    tracer,
	}, ttl, zerolog.Nop())
	return f
}

func (f *fixture) analyzeUsed(t *testing.T, a actor.Actor) int64 {
	t.Helper()
	used, err := f.ledger.UsageToday(context.Background(), a.Key(), []quota.Operation{quota.OpAnalyze})
	if err != nil {
		t.Fatalf("UsageToday failed: %v", err)
	}
	return used[quota.OpAnalyze]
}

func requireKind(t *testing.T, err error, want Kind) *Error {
	t.Helper()
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("Expected *Error of kind %s, got %v", want, err)
	}
	if e.Kind != want {
		t.Fatalf("Expected kind %s, got %s (%v)", want, e.Kind, err)
	}
	return e
}

func TestGetArtifact_CacheMissThenHit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := actor.NewIdentified("u1")

	// Cache miss: quota consumed, generator invoked, cache populated.
	res, err := f.svc.GetArtifact(ctx, "h1", user, false)
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if res.ServedFromCache {
		t.Error("First call should not be served from cache")
	}
	if res.Body.Pros[0] != "Great pool" || !res.ComputedAt.Equal(start) {
		t.Errorf("Unexpected result %+v", res)
	}
	if used := f.analyzeUsed(t, user); used != 1 {
		t.Errorf("Expected used=1, got %d", used)
	}
	if f.gen.Calls() != 1 {
		t.Errorf("Expected 1 generator call, got %d", f.gen.Calls())
	}
	if _, err := f.cache.Get(ctx, "h1"); err != nil {
		t.Errorf("Cache should be populated: %v", err)
	}

	// Repeat within the TTL: served from cache, usage unchanged.
	f.clock.Advance(time.Hour)
	res, err = f.svc.GetArtifact(ctx, "h1", user, false)
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if !res.ServedFromCache {
		t.Error("Second call should be served from cache")
	}
	if used := f.analyzeUsed(t, user); used != 1 {
		t.Errorf("Cache hit must not consume quota, used=%d", used)
	}
	if f.gen.Calls() != 1 {
		t.Errorf("Cache hit must not call the generator, got %d calls", f.gen.Calls())
	}
	if got := testutil.ToFloat64(f.metrics.ArtifactRequests.WithLabelValues("cache_hit")); got != 1 {
		t.Errorf("Expected 1 cache_hit metric, got %v", got)
	}
}

func TestGetArtifact_AnonymousMonthlyCeiling(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	anon := actor.NewAnonymous("203.0.113.9")

	for _, id := range []string{"h1", "h2"} {
		if _, err := f.svc.GetArtifact(ctx, id, anon, false); err != nil {
			t.Fatalf("GetArtifact(%s) failed: %v", id, err)
		}
		// Spread usage across days; the monthly window still sums it.
		f.clock.Advance(24 * time.Hour)
	}

	_, err := f.svc.GetArtifact(ctx, "h3", anon, false)
	e := requireKind(t, err, KindSignInRequired)
	if e.Remaining != 0 || e.Plan != plan.Anonymous {
		t.Errorf("Unexpected denial details %+v", e)
	}
	if f.gen.Calls() != 2 {
		t.Errorf("Denied call must not reach the generator, got %d calls", f.gen.Calls())
	}
}

func TestGetArtifact_IdentifiedQuotaExceeded(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := actor.NewIdentified("u1")

	for i := 0; i < 3; i++ {
		if _, err := f.svc.GetArtifact(ctx, "h1", user, true); err != nil {
			t.Fatalf("Call %d failed: %v", i, err)
		}
	}

	_, err := f.svc.GetArtifact(ctx, "h1", user, true)
	e := requireKind(t, err, KindQuotaExceeded)
	if e.Remaining != 0 || e.Plan != plan.Free {
		t.Errorf("Expected remaining 0 on free plan, got %+v", e)
	}

	// A fresh cache entry is still served after the budget is gone.
	res, err := f.svc.GetArtifact(ctx, "h1", user, false)
	if err != nil || !res.ServedFromCache {
		t.Errorf("Expected cache hit after exhaustion, got %+v, %v", res, err)
	}

	// Next UTC day the budget is back.
	f.clock.Advance(24 * time.Hour)
	if _, err := f.svc.GetArtifact(ctx, "h1", user, true); err != nil {
		t.Errorf("Expected allowance after rollover, got %v", err)
	}
}

func TestGetArtifact_ProfileOverridesPlan(t *testing.T) {
	f := setup(t)
	f.profiles.profiles["vip"] = &plan.Profile{UserID: "vip", Plan: plan.Pro, Overrides: plan.Ceilings{quota.OpAnalyze: 1}}
	ctx := context.Background()
	vip := actor.NewIdentified("vip")

	if _, err := f.svc.GetArtifact(ctx, "h1", vip, false); err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	_, err := f.svc.GetArtifact(ctx, "h2", vip, false)
	e := requireKind(t, err, KindQuotaExceeded)
	if e.Plan != plan.Pro {
		t.Errorf("Expected pro plan in denial, got %s", e.Plan)
	}
}

func TestGetArtifact_ForceRefreshRegenerates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := actor.NewIdentified("u1")

	first, _ := f.svc.GetArtifact(ctx, "h1", user, false)
	f.clock.Advance(time.Minute)

	res, err := f.svc.GetArtifact(ctx, "h1", user, true)
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if res.ServedFromCache || !res.ComputedAt.After(first.ComputedAt) {
		t.Errorf("Forced refresh should regenerate, got %+v", res)
	}
	if used := f.analyzeUsed(t, user); used != 2 {
		t.Errorf("Forced refresh consumes quota, expected used=2, got %d", used)
	}
}

func TestGetArtifact_StaleEntryRegenerates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := actor.NewIdentified("u1")

	_, _ = f.svc.GetArtifact(ctx, "h1", user, false)
	f.clock.Advance(ttl)

	res, err := f.svc.GetArtifact(ctx, "h1", user, false)
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if res.ServedFromCache || f.gen.Calls() != 2 {
		t.Errorf("Stale entry should regenerate, cached=%v calls=%d", res.ServedFromCache, f.gen.Calls())
	}
}

func TestGetArtifact_NoDocuments(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := actor.NewIdentified("u1")

	_, err := f.svc.GetArtifact(ctx, "empty", user, false)
	requireKind(t, err, KindNoInputData)
	if f.gen.Calls() != 0 {
		t.Error("Generator must not run without documents")
	}
}

func TestGetArtifact_NoDocumentsFallsBackToStaleCache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := actor.NewIdentified("u1")

	old := start.Add(-72 * time.Hour)
	f.artifacts.rows["gone"] = artifact.Artifact{
		ResourceID: "gone",
		Body:       artifact.Body{Pros: []string{"was nice"}, Sentiment: artifact.Positive},
		ComputedAt: old,
	}

	res, err := f.svc.GetArtifact(ctx, "gone", user, false)
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if !res.ServedFromCache || !res.ComputedAt.Equal(old) || res.Body.Pros[0] != "was nice" {
		t.Errorf("Expected stale cached artifact, got %+v", res)
	}
}

func TestGetArtifact_GenerationFailureKeepsQuotaAndCache(t *testing.T) {
	f := setup(t)
	f.gen.err = errors.New("upstream 500")
	ctx := context.Background()
	user := actor.NewIdentified("u1")

	_, err := f.svc.GetArtifact(ctx, "h1", user, false)
	requireKind(t, err, KindGenerationFailed)

	if used := f.analyzeUsed(t, user); used != 1 {
		t.Errorf("Failed generation still consumes quota, expected used=1, got %d", used)
	}
	if _, err := f.cache.Get(ctx, "h1"); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("Failed generation must not write the cache, got %v", err)
	}
}

func TestGetArtifact_LedgerFailureFailsClosed(t *testing.T) {
	f := setup(t)
	f.svc.deps.Ledger = failingLedger{}

	_, err := f.svc.GetArtifact(context.Background(), "h1", actor.NewIdentified("u1"), false)
	requireKind(t, err, KindStoreUnavailable)
	if f.gen.Calls() != 0 {
		t.Error("Generator must not run when the ledger is unavailable")
	}
}

func TestGetArtifact_DocumentStoreFailure(t *testing.T) {
	f := setup(t)
	f.docs.err = errors.New("connection reset")

	_, err := f.svc.GetArtifact(context.Background(), "h1", actor.NewIdentified("u1"), false)
	requireKind(t, err, KindStoreUnavailable)
}

func TestGetArtifact_InvalidInput(t *testing.T) {
	f := setup(t)
	user := actor.NewIdentified("u1")

	for _, id := range []string{"", " h1", "h\n1", string(make([]byte, 200))} {
		_, err := f.svc.GetArtifact(context.Background(), id, user, false)
		requireKind(t, err, KindInvalidInput)
	}
	if used := f.analyzeUsed(t, user); used != 0 {
		t.Errorf("Invalid input must not touch the ledger, used=%d", used)
	}
}

func TestRefresh_BypassesLedger(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	a, err := f.svc.Refresh(ctx, "h2")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if a.Body.Pros[0] != "Tiny room" {
		t.Errorf("Unexpected body %+v", a.Body)
	}

	_, err = f.svc.Refresh(ctx, "empty")
	requireKind(t, err, KindNoInputData)
}

func TestGetUsage(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := actor.NewIdentified("u1")

	_, _ = f.svc.GetArtifact(ctx, "h1", user, false)

	u, err := f.svc.GetUsage(ctx, user)
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if u.Day != "2026-10-16" || u.Plan != plan.Free {
		t.Errorf("Unexpected usage header %+v", u)
	}
	want := map[quota.Operation]OperationUsage{
		quota.OpAnalyze: {Used: 1, Limit: 3, Remaining: 2},
		quota.OpReviews: {Used: 0, Limit: 500, Remaining: 500},
		quota.OpImport:  {Used: 0, Limit: 10, Remaining: 10},
	}
	for op, w := range want {
		if got := u.PerOperation[op]; got != w {
			t.Errorf("%s: expected %+v, got %+v", op, w, got)
		}
	}

	// Read-only: a second snapshot is identical.
	again, _ := f.svc.GetUsage(ctx, user)
	if again.PerOperation[quota.OpAnalyze].Used != 1 {
		t.Error("GetUsage must not consume quota")
	}
}

func TestGetUsage_AnonymousNeedsSignIn(t *testing.T) {
	f := setup(t)
	_, err := f.svc.GetUsage(context.Background(), actor.NewAnonymous("198.51.100.1"))
	requireKind(t, err, KindSignInRequired)
}

type failingLedger struct{}

func (failingLedger) CheckAndConsume(ctx context.Context, actorKey string, op quota.Operation, window quota.Window, ceiling int64) (quota.Result, error) {
	return quota.Result{}, quota.ErrStoreUnavailable
}

func (failingLedger) UsageToday(ctx context.Context, actorKey string, ops []quota.Operation) (map[quota.Operation]int64, error) {
	return nil, quota.ErrStoreUnavailable
}

func (failingLedger) Today() string { return "" }
