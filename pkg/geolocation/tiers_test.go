package geolocation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"geoproxy/pkg/models"
)

type sharedEntry struct {
	result     models.GeolocationResult
	insertedAt time.Time
	ttl        time.Duration
}

type memorySharedCache struct {
	mu      sync.Mutex
	entries map[string]sharedEntry
	cleared []string
	failGet bool
}

func newMemorySharedCache() *memorySharedCache {
	return &memorySharedCache{entries: map[string]sharedEntry{}}
}

func (m *memorySharedCache) Get(_ context.Context, account, key string) (models.GeolocationResult, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return models.GeolocationResult{}, time.Time{}, false, errors.New("connection refused")
	}
	e, ok := m.entries[account+":"+key]
	return e.result, e.insertedAt, ok, nil
}

func (m *memorySharedCache) Set(_ context.Context, account, key string, result models.GeolocationResult, insertedAt time.Time, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[account+":"+key] = sharedEntry{result: result, insertedAt: insertedAt, ttl: ttl}
	return nil
}

func (m *memorySharedCache) ClearAccount(_ context.Context, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, account)
	return nil
}

func (m *memorySharedCache) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = map[string]sharedEntry{}
	m.cleared = append(m.cleared, "*")
	return nil
}

func TestSharedCacheWriteThrough(t *testing.T) {
	u := newUpstream(t)
	clock := newManualClock()
	shared := newMemorySharedCache()
	s := newTestService(t, u, clock, func(c *Config) { c.CacheExpiration = time.Hour }, WithSharedCache(shared))

	s.Lookup(context.Background(), "acme", models.LookupRequest{IP: "8.8.8.8"})

	e, ok := shared.entries["acme:ip:8.8.8.8"]
	if !ok {
		t.Fatal("successful lookup was not written to the shared cache")
	}
	if !e.insertedAt.Equal(clock.Now()) || e.ttl != time.Hour {
		t.Errorf("shared entry = %+v", e)
	}
}

func TestSharedCacheHit(t *testing.T) {
	u := newUpstream(t)
	clock := newManualClock()
	shared := newMemorySharedCache()
	insertedAt := clock.Now().Add(-10 * time.Minute)
	shared.entries["acme:ip:8.8.8.8"] = sharedEntry{
		result:     models.GeolocationResult{IP: "8.8.8.8", CountryCode: "US", Success: true},
		insertedAt: insertedAt,
	}
	s := newTestService(t, u, clock, nil, WithSharedCache(shared))

	r := s.Lookup(context.Background(), "acme", models.LookupRequest{IP: "8.8.8.8"})
	if !r.Cached || r.CountryCode != "US" {
		t.Fatalf("Lookup() = %+v, want a cached shared result", r)
	}
	if r.CacheTimestamp == nil || !r.CacheTimestamp.Equal(insertedAt) {
		t.Errorf("CacheTimestamp = %v, want %v", r.CacheTimestamp, insertedAt)
	}
	if u.calls.Load() != 0 {
		t.Error("shared cache hit still called the upstream")
	}
	if stats := s.CacheStats(); len(stats) != 1 || !stats[0].Oldest.Equal(insertedAt) {
		t.Errorf("shared hit not promoted to memory with its timestamp: %+v", stats)
	}
}

func TestSharedCacheExpiredOrFailing(t *testing.T) {
	u := newUpstream(t)
	clock := newManualClock()
	shared := newMemorySharedCache()
	shared.entries["acme:ip:8.8.8.8"] = sharedEntry{
		result:     models.GeolocationResult{IP: "8.8.8.8"},
		insertedAt: clock.Now().Add(-48 * time.Hour),
	}
	s := newTestService(t, u, clock, nil, WithSharedCache(shared))

	if r := s.Lookup(context.Background(), "acme", models.LookupRequest{IP: "8.8.8.8"}); r.Cached || !r.Success {
		t.Errorf("expired shared entry served: %+v", r)
	}

	shared.failGet = true
	if r := s.Lookup(context.Background(), "acme", models.LookupRequest{IP: "9.9.9.9"}); !r.Success {
		t.Errorf("shared cache failure broke the lookup: %+v", r)
	}
}

func TestClearPropagatesToSharedCache(t *testing.T) {
	shared := newMemorySharedCache()
	s := newTestService(t, newUpstream(t), newManualClock(), nil, WithSharedCache(shared))
	ctx := context.Background()

	if err := s.ClearAccountCache(ctx, "acme"); err != nil {
		t.Fatalf("ClearAccountCache() error = %v", err)
	}
	if err := s.ClearAllCache(ctx); err != nil {
		t.Fatalf("ClearAllCache() error = %v", err)
	}
	if len(shared.cleared) != 2 || shared.cleared[0] != "acme" || shared.cleared[1] != "*" {
		t.Errorf("shared clears = %v", shared.cleared)
	}
}

type staticFallback struct {
	calls int
}

func (f *staticFallback) Resolve(_ context.Context, req models.LookupRequest) (models.GeolocationResult, bool) {
	f.calls++
	return models.GeolocationResult{IP: req.IP, CountryCode: "DE", Success: true}, true
}

func TestFallbackOnUpstreamFailure(t *testing.T) {
	u := newUpstream(t)
	u.failAll.Store(true)
	fallback := &staticFallback{}
	s := newTestService(t, u, newManualClock(), nil, WithFallback(fallback))
	ctx := context.Background()

	r := s.Lookup(ctx, "acme", models.LookupRequest{IP: "8.8.8.8"})
	if !r.Success || r.CountryCode != "DE" || r.Cached {
		t.Errorf("Lookup() = %+v, want the fallback result", r)
	}
	if stats := s.CacheStats(); len(stats) != 0 {
		t.Error("fallback results must not be cached")
	}

	if r := s.Lookup(ctx, "acme", models.LookupRequest{Domain: "example.com"}); r.Success {
		t.Errorf("domain lookup used the IP fallback: %+v", r)
	}
	if fallback.calls != 1 {
		t.Errorf("fallback calls = %d, want 1", fallback.calls)
	}

	if status := s.HealthCheck(ctx); status.Healthy {
		t.Error("health check must not be satisfied by the fallback")
	}
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []*models.LookupRecord
}

func (m *memoryRecorder) Record(_ context.Context, record *models.LookupRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func TestRecorderJournalsLiveLookups(t *testing.T) {
	u := newUpstream(t)
	recorder := &memoryRecorder{}
	s := newTestService(t, u, newManualClock(), nil, WithRecorder(recorder))
	ctx := context.Background()

	s.Lookup(ctx, "acme", models.LookupRequest{IP: "8.8.8.8"})
	s.Lookup(ctx, "acme", models.LookupRequest{IP: "8.8.8.8"})
	s.Lookup(ctx, "acme", models.LookupRequest{IP: "fail-1"})
	s.HealthCheck(ctx)

	if len(recorder.records) != 1 {
		t.Fatalf("records = %d, want 1", len(recorder.records))
	}
	rec := recorder.records[0]
	if rec.Account != "acme" || rec.CacheKey != "ip:8.8.8.8" || rec.CountryCode != "US" || rec.RequestID == "" {
		t.Errorf("record = %+v", rec)
	}
}
