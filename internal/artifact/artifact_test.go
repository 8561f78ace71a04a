package artifact

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
)

// memStore mimics the Postgres store's upsert guard.
type memStore struct {
	mu   sync.Mutex
	rows map[string]Artifact
	err  error
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]Artifact{}}
}

func (m *memStore) Get(ctx context.Context, id string) (*Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *memStore) Upsert(ctx context.Context, a *Artifact) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if cur, ok := m.rows[a.ResourceID]; ok && cur.ComputedAt.After(a.ComputedAt) {
		return false, nil
	}
	m.rows[a.ResourceID] = *a
	return true, nil
}

func (m *memStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, a := range m.rows {
		if !a.ComputedAt.After(cutoff) && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, m.err
}

func TestIsFresh_Boundary(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	ttl := 24 * time.Hour

	if IsFresh(&Artifact{ComputedAt: now.Add(-ttl - time.Second)}, ttl, now) {
		t.Error("Artifact older than ttl should be stale")
	}
	if !IsFresh(&Artifact{ComputedAt: now.Add(-ttl + time.Second)}, ttl, now) {
		t.Error("Artifact younger than ttl should be fresh")
	}
	if IsFresh(&Artifact{ComputedAt: now.Add(-ttl)}, ttl, now) {
		t.Error("Artifact exactly ttl old should be stale")
	}
	if IsFresh(nil, ttl, now) {
		t.Error("Missing artifact is never fresh")
	}
}

func TestCache_UpsertThenGet(t *testing.T) {
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC))
	c := NewCache(newMemStore(), clock)
	ctx := context.Background()

	body := Body{Pros: []string{"quiet"}, Sentiment: Positive, Model: "m"}
	if _, err := c.Upsert(ctx, "h1", body); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	a, err := c.Get(ctx, "h1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if a.Body.Pros[0] != "quiet" || a.Body.Sentiment != Positive {
		t.Errorf("Unexpected body: %+v", a.Body)
	}
	if !a.ComputedAt.Equal(clock.Now()) {
		t.Errorf("Expected computedAt %s, got %s", clock.Now(), a.ComputedAt)
	}
	if !c.IsFresh(a, time.Nanosecond) {
		t.Error("Freshly written artifact should be fresh for any positive ttl")
	}

	// Repeated identical writes converge.
	if _, err := c.Upsert(ctx, "h1", body); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	again, _ := c.Get(ctx, "h1")
	if again.Body.Pros[0] != "quiet" || !again.ComputedAt.Equal(a.ComputedAt) {
		t.Errorf("Repeated upsert diverged: %+v", again)
	}
}

func TestCache_UpsertReturnsNewerStoredRow(t *testing.T) {
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC))
	store := newMemStore()
	newer := Artifact{
		ResourceID: "h1",
		Body:       Body{Pros: []string{"newer"}, Sentiment: Negative},
		ComputedAt: clock.Now().Add(time.Minute),
	}
	store.rows["h1"] = newer
	c := NewCache(store, clock)

	got, err := c.Upsert(context.Background(), "h1", Body{Pros: []string{"older"}, Sentiment: Positive})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if !got.ComputedAt.Equal(newer.ComputedAt) || got.Body.Pros[0] != "newer" {
		t.Errorf("Expected the stored newer row, got %+v", got)
	}
	if store.rows["h1"].Body.Pros[0] != "newer" {
		t.Error("Older write must not replace the newer row")
	}
}

func TestCache_GetMissing(t *testing.T) {
	c := NewCache(newMemStore(), quartz.NewMock(t))
	if _, err := c.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestCache_StoreErrorIsWrapped(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("db down")
	c := NewCache(store, quartz.NewMock(t))

	_, err := c.Get(context.Background(), "h1")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Expected wrapped store error, got %v", err)
	}
	if _, err := c.Upsert(context.Background(), "h1", Body{}); err == nil {
		t.Error("Expected upsert error")
	}
}

func TestCache_ListStale(t *testing.T) {
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
	c := NewCache(newMemStore(), clock)
	ctx := context.Background()

	_, _ = c.Upsert(ctx, "old", Body{})
	clock.Advance(30 * time.Hour)
	_, _ = c.Upsert(ctx, "new", Body{})

	ids, err := c.ListStale(ctx, 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("ListStale failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "old" {
		t.Errorf("Expected [old], got %v", ids)
	}
}

func TestParseSentiment(t *testing.T) {
	tests := map[string]Sentiment{
		"positive": Positive,
		"negative": Negative,
		"neutral":  Neutral,
		"ecstatic": Neutral,
		"":         Neutral,
	}
	for in, want := range tests {
		if got := ParseSentiment(in); got != want {
			t.Errorf("ParseSentiment(%q) = %s, want %s", in, got, want)
		}
	}
}
