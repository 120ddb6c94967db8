package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/costory/costory/internal/logging"
	"github.com/costory/costory/internal/provider"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testCatalog() *provider.ModelsConfig {
	return &provider.ModelsConfig{
		Default: "fallback:free",
		Models: []provider.ModelInfo{
			{ID: "a:free"}, {ID: "b:free"}, {ID: "c:free"}, {ID: "fallback:free"},
			{ID: "paid/x", Pricing: provider.ModelPricing{Input: decimal.NewFromInt(2), Output: decimal.NewFromInt(10)}},
		},
		Pools: map[provider.Pool][]string{
			provider.PoolFree:        {"a:free", "b:free", "c:free"},
			provider.PoolPaidPremium: {"paid/x"},
		},
	}
}

func newTestRegistry(t *testing.T) (*Registry, *fakeClock) {
	t.Helper()
	logging.Disable()
	clock := &fakeClock{now: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)}
	return New(testCatalog(), Options{Now: clock.Now}), clock
}

func TestRateLimitExpiry(t *testing.T) {
	r, clock := newTestRegistry(t)

	if r.IsRateLimited("a:free") {
		t.Fatal("fresh model should not be rate limited")
	}
	r.MarkRateLimited("a:free")
	if !r.IsRateLimited("a:free") {
		t.Fatal("expected rate limited immediately after mark")
	}

	clock.Advance(23*time.Hour + 59*time.Minute)
	if !r.IsRateLimited("a:free") {
		t.Fatal("expected still rate limited before 24h")
	}

	clock.Advance(2 * time.Minute)
	if r.IsRateLimited("a:free") {
		t.Fatal("expected expiry after 24h")
	}
	r.mu.RLock()
	_, present := r.rateLimited["a:free"]
	r.mu.RUnlock()
	if present {
		t.Error("expired entry should be evicted on check")
	}
}

func TestSelectBestAvailable(t *testing.T) {
	r, _ := newTestRegistry(t)

	tests := []struct {
		name        string
		excluded    map[string]bool
		rateLimited []string
		want        string
	}{
		{"first in order", nil, nil, "a:free"},
		{"skips excluded", map[string]bool{"a:free": true}, nil, "b:free"},
		{"skips rate limited", nil, []string{"a:free", "b:free"}, "c:free"},
		{"relaxes rate limit", map[string]bool{"a:free": true}, []string{"b:free", "c:free"}, "b:free"},
		{"all excluded falls back to default", map[string]bool{"a:free": true, "b:free": true, "c:free": true}, nil, "fallback:free"},
		{"default even when excluded", map[string]bool{"a:free": true, "b:free": true, "c:free": true, "fallback:free": true}, nil, "fallback:free"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r.mu.Lock()
			r.rateLimited = make(map[string]time.Time)
			r.mu.Unlock()
			for _, id := range tt.rateLimited {
				r.MarkRateLimited(id)
			}
			got := r.SelectBestAvailable(provider.PoolFree, tt.excluded)
			if got.ID != tt.want {
				t.Errorf("got %s, want %s", got.ID, tt.want)
			}
		})
	}
}

func TestSelectBestAvailableNeverReturnsExcludedMember(t *testing.T) {
	r, _ := newTestRegistry(t)
	pool := r.Pool(provider.PoolFree)
	// Every proper subset of exclusions must yield a non-excluded member.
	for mask := 0; mask < (1<<len(pool))-1; mask++ {
		excluded := map[string]bool{}
		for i, id := range pool {
			if mask&(1<<i) != 0 {
				excluded[id] = true
			}
		}
		got := r.SelectBestAvailable(provider.PoolFree, excluded)
		if excluded[got.ID] {
			t.Errorf("mask %b: returned excluded model %s", mask, got.ID)
		}
	}
}

func TestEstimateCost(t *testing.T) {
	r, _ := newTestRegistry(t)

	got := r.EstimateCost("paid/x", 1000, 500)
	// 1000 * 2/1M + 500 * 10/1M = 0.002 + 0.005
	if !got.Equal(decimal.RequireFromString("0.007")) {
		t.Errorf("cost = %s, want 0.007", got)
	}
	if !r.EstimateCost("unknown/model", 1000, 1000).IsZero() {
		t.Error("unknown model should cost zero")
	}
}

func TestRefreshPricing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[
			{"id":"paid/x","pricing":{"prompt":"0.000003","completion":"0.000015"},"context_length":200000},
			{"id":"not/tracked","pricing":{"prompt":"1","completion":"1"},"context_length":10}
		]}`))
	}))
	defer srv.Close()

	logging.Disable()
	r := New(testCatalog(), Options{CatalogURL: srv.URL})
	if err := r.RefreshPricing(context.Background()); err != nil {
		t.Fatalf("RefreshPricing: %v", err)
	}
	m, _ := r.Get("paid/x")
	if !m.Pricing.Input.Equal(decimal.NewFromInt(3)) || !m.Pricing.Output.Equal(decimal.NewFromInt(15)) {
		t.Errorf("pricing = %s/%s, want 3/15", m.Pricing.Input, m.Pricing.Output)
	}
	if m.ContextWindow != 200000 {
		t.Errorf("context = %d", m.ContextWindow)
	}
	if _, ok := r.Get("not/tracked"); ok {
		t.Error("untracked models must not be added")
	}
}

func TestRefreshPricingFailureLeavesDataIntact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	logging.Disable()
	r := New(testCatalog(), Options{CatalogURL: srv.URL})
	if err := r.RefreshPricing(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
	m, _ := r.Get("paid/x")
	if !m.Pricing.Input.Equal(decimal.NewFromInt(2)) {
		t.Errorf("pricing changed on failure: %s", m.Pricing.Input)
	}
}

func TestStartStop(t *testing.T) {
	hits := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"data":[]}`))
		select {
		case hits <- struct{}{}:
		default:
		}
	}))
	defer srv.Close()

	logging.Disable()
	r := New(testCatalog(), Options{CatalogURL: srv.URL, RefreshInterval: time.Hour})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-hits:
	case <-time.After(5 * time.Second):
		t.Fatal("expected an initial refresh on start")
	}
	r.Stop()
	r.Stop()
}
