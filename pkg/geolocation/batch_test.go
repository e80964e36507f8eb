package geolocation

import (
	"context"
	"testing"
	"time"

	"geoproxy/pkg/models"
)

func TestLookupBatchOrdering(t *testing.T) {
	u := newUpstream(t)
	u.delay = 10 * time.Millisecond
	s := newTestService(t, u, newManualClock(), nil)

	reqs := make([]models.LookupRequest, 12)
	for i := range reqs {
		reqs[i] = models.LookupRequest{IP: ipN(i)}
	}
	reqs[3] = models.LookupRequest{IP: "fail-3"}
	reqs[7] = models.LookupRequest{IP: "fail-7"}

	results := s.LookupBatch(context.Background(), "acme", reqs)

	if len(results) != len(reqs) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(reqs))
	}
	for i, r := range results {
		if r.IP != reqs[i].IP {
			t.Errorf("results[%d].IP = %q, want %q", i, r.IP, reqs[i].IP)
		}
		wantSuccess := i != 3 && i != 7
		if r.Success != wantSuccess {
			t.Errorf("results[%d].Success = %v, want %v", i, r.Success, wantSuccess)
		}
		if wantSuccess && r.City != "city-"+reqs[i].IP {
			t.Errorf("results[%d].City = %q, want the city of %s", i, r.City, reqs[i].IP)
		}
	}

	if got := u.maxSeen.Load(); got > BatchWindow {
		t.Errorf("max concurrent upstream calls = %d, want at most %d", got, BatchWindow)
	}
}

func TestLookupBatchServesCachedItems(t *testing.T) {
	u := newUpstream(t)
	s := newTestService(t, u, newManualClock(), nil)
	ctx := context.Background()

	s.Lookup(ctx, "acme", models.LookupRequest{IP: "1.1.1.1"})
	results := s.LookupBatch(ctx, "acme", []models.LookupRequest{
		{IP: "1.1.1.1"},
		{IP: "9.9.9.9"},
	})

	if !results[0].Cached || results[1].Cached {
		t.Errorf("cached flags = %v, %v, want true, false", results[0].Cached, results[1].Cached)
	}
	if got := u.calls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}

func TestLookupBatchEmpty(t *testing.T) {
	s := newTestService(t, newUpstream(t), newManualClock(), nil)
	if results := s.LookupBatch(context.Background(), "acme", nil); len(results) != 0 {
		t.Errorf("LookupBatch(nil) = %v, want empty", results)
	}
}

type panickingFallback struct{}

func (panickingFallback) Resolve(context.Context, models.LookupRequest) (models.GeolocationResult, bool) {
	panic("fallback exploded")
}

func TestLookupBatchDegradesWindow(t *testing.T) {
	u := newUpstream(t)
	s := newTestService(t, u, newManualClock(), nil, WithFallback(panickingFallback{}))

	reqs := []models.LookupRequest{
		{IP: "1.1.1.1"},
		{IP: "fail-1"},
		{IP: "2.2.2.2"},
		{IP: "3.3.3.3"},
		{IP: "4.4.4.4"},
		{IP: "5.5.5.5"},
	}
	results := s.LookupBatch(context.Background(), "acme", reqs)

	if len(results) != len(reqs) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(reqs))
	}
	if results[1].Success || results[1].IP != "fail-1" {
		t.Errorf("degraded item = %+v, want a failed result for fail-1", results[1])
	}
	for _, i := range []int{0, 2, 3, 4, 5} {
		if !results[i].Success {
			t.Errorf("results[%d] = %+v, want success", i, results[i])
		}
	}
}
