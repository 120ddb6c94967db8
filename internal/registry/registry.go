// Package registry tracks known models, their live pricing and a
// process-local rate-limit blacklist.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/costory/costory/internal/logging"
	"github.com/costory/costory/internal/provider"
)

// DefaultRateLimitTTL is how long a 429'd model stays blacklisted.
const DefaultRateLimitTTL = 24 * time.Hour

var perMillion = decimal.NewFromInt(1_000_000)

// Options configures a Registry.
type Options struct {
	CatalogURL      string
	RefreshInterval time.Duration
	RateLimitTTL    time.Duration
	HTTPClient      *http.Client
	// Now is the clock; tests inject a fake.
	Now func() time.Time
}

// Registry owns model descriptors, pool membership and the blacklist.
// Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	models      map[string]provider.ModelInfo
	pools       map[provider.Pool][]string
	defaultID   string
	rateLimited map[string]time.Time // modelID -> expiry

	catalogURL string
	interval   time.Duration
	ttl        time.Duration
	client     *http.Client
	now        func() time.Time

	cronMu sync.Mutex
	cron   *cron.Cron
}

// New builds a registry from a catalog.
func New(cfg *provider.ModelsConfig, opts Options) *Registry {
	r := &Registry{
		rateLimited: make(map[string]time.Time),
		catalogURL:  opts.CatalogURL,
		interval:    opts.RefreshInterval,
		ttl:         opts.RateLimitTTL,
		client:      opts.HTTPClient,
		now:         opts.Now,
	}
	if r.interval <= 0 {
		r.interval = time.Hour
	}
	if r.ttl <= 0 {
		r.ttl = DefaultRateLimitTTL
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: 30 * time.Second}
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.Reload(cfg)
	return r
}

// Reload swaps descriptors and pools, keeping live pricing already fetched for
// models that stay in the catalog. The blacklist is untouched.
func (r *Registry) Reload(cfg *provider.ModelsConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	models := make(map[string]provider.ModelInfo, len(cfg.Models))
	for _, m := range cfg.Models {
		if old, ok := r.models[m.ID]; ok && !old.Pricing.Input.IsZero() && m.Pricing.Input.IsZero() {
			m.Pricing = old.Pricing
		}
		models[m.ID] = m
	}
	pools := make(map[provider.Pool][]string, len(cfg.Pools))
	for p, ids := range cfg.Pools {
		pools[p] = append([]string(nil), ids...)
	}
	r.models = models
	r.pools = pools
	r.defaultID = cfg.Default
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (provider.ModelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// Pool returns a copy of the ordered candidate ids of a pool.
func (r *Registry) Pool(p provider.Pool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.pools[p]...)
}

// InPool reports pool membership.
func (r *Registry) InPool(p provider.Pool, id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.pools[p] {
		if m == id {
			return true
		}
	}
	return false
}

// DefaultModel is the last-resort id used when every candidate is excluded.
func (r *Registry) DefaultModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultID
}

// Models returns every descriptor, unordered.
func (r *Registry) Models() []provider.ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]provider.ModelInfo, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	return out
}

// MarkRateLimited blacklists id until now + TTL.
func (r *Registry) MarkRateLimited(id string) {
	r.mu.Lock()
	r.rateLimited[id] = r.now().Add(r.ttl)
	r.mu.Unlock()
	logging.Warnf("[Registry] %s rate limited until %s", id, r.now().Add(r.ttl).Format(time.RFC3339))
}

// IsRateLimited reports an unexpired blacklist entry, evicting expired ones.
func (r *Registry) IsRateLimited(id string) bool {
	r.mu.RLock()
	until, ok := r.rateLimited[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if r.now().Before(until) {
		return true
	}
	r.mu.Lock()
	// Re-check under the write lock; a concurrent mark may have extended it.
	if cur, ok := r.rateLimited[id]; ok && !r.now().Before(cur) {
		delete(r.rateLimited, id)
	}
	r.mu.Unlock()
	return false
}

// SelectBestAvailable returns the first pool member that is neither excluded nor
// rate limited. If none, the first non-excluded member regardless of rate
// limiting. If still none, the fixed default model, whatever its health.
func (r *Registry) SelectBestAvailable(pool provider.Pool, excluded map[string]bool) provider.ModelInfo {
	candidates := r.Pool(pool)

	for _, id := range candidates {
		if excluded[id] || r.IsRateLimited(id) {
			continue
		}
		if m, ok := r.Get(id); ok {
			return m
		}
	}
	for _, id := range candidates {
		if excluded[id] {
			continue
		}
		if m, ok := r.Get(id); ok {
			return m
		}
	}

	def := r.DefaultModel()
	if m, ok := r.Get(def); ok {
		return m
	}
	return provider.ModelInfo{ID: def, DisplayName: def}
}

// EstimateCost prices a call in USD. Unknown models cost zero.
func (r *Registry) EstimateCost(id string, inputTokens, outputTokens int64) decimal.Decimal {
	m, ok := r.Get(id)
	if !ok {
		return decimal.Zero
	}
	in := m.Pricing.Input.Mul(decimal.NewFromInt(inputTokens))
	out := m.Pricing.Output.Mul(decimal.NewFromInt(outputTokens))
	return in.Add(out).Div(perMillion)
}

// catalogResponse is the OpenRouter /models payload. Prices are USD per token.
type catalogResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Pricing struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
		ContextLength int `json:"context_length"`
	} `json:"data"`
}

// RefreshPricing fetches the external catalog and overwrites price and context
// length of every locally tracked model present in it. On failure nothing is
// changed; the error is returned for callers that want to report it.
func (r *Registry) RefreshPricing(ctx context.Context) error {
	if r.catalogURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.catalogURL, nil)
	if err != nil {
		return fmt.Errorf("build catalog request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch catalog: status %d", resp.StatusCode)
	}

	var body catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode catalog: %w", err)
	}

	type update struct {
		pricing provider.ModelPricing
		context int
	}
	updates := make(map[string]update)
	for _, m := range body.Data {
		prompt, err1 := decimal.NewFromString(m.Pricing.Prompt)
		completion, err2 := decimal.NewFromString(m.Pricing.Completion)
		if err1 != nil || err2 != nil {
			continue
		}
		updates[m.ID] = update{
			pricing: provider.ModelPricing{Input: prompt.Mul(perMillion), Output: completion.Mul(perMillion)},
			context: m.ContextLength,
		}
	}

	r.mu.Lock()
	n := 0
	for id, m := range r.models {
		u, ok := updates[id]
		if !ok {
			continue
		}
		m.Pricing = u.pricing
		if u.context > 0 {
			m.ContextWindow = u.context
		}
		r.models[id] = m
		n++
	}
	r.mu.Unlock()

	logging.Infof("[Registry] refreshed pricing for %d models", n)
	return nil
}

// Start runs one refresh and schedules more on the configured interval.
func (r *Registry) Start(ctx context.Context) error {
	r.cronMu.Lock()
	defer r.cronMu.Unlock()
	if r.cron != nil {
		return nil
	}

	refresh := func() {
		rctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := r.RefreshPricing(rctx); err != nil {
			logging.Warnf("[Registry] pricing refresh failed: %v", err)
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", r.interval), refresh); err != nil {
		return fmt.Errorf("schedule pricing refresh: %w", err)
	}
	go refresh()
	c.Start()
	r.cron = c
	return nil
}

// Stop halts the refresh schedule and waits for a running refresh to finish.
func (r *Registry) Stop() {
	r.cronMu.Lock()
	defer r.cronMu.Unlock()
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.cron = nil
}
