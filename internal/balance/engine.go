// Package balance decides which model pool serves a request given the
// caller's tier and current-month usage.
package balance

import (
	"math/rand/v2"
	"sync"

	"github.com/costory/costory/internal/db"
	"github.com/costory/costory/internal/provider"
)

const (
	// PremiumWordCap is the tier3 monthly allowance on premium models.
	PremiumWordCap = 600_000
	// FreeExtraWordCap is the tier3 monthly allowance on free models.
	FreeExtraWordCap = 300_000

	tier1PaidRatio = 0.20
	tier2PaidRatio = 0.40
)

// Pools is the read side of the model registry the engine needs.
type Pools interface {
	Pool(p provider.Pool) []string
	InPool(p provider.Pool, id string) bool
}

// Selection is the routing decision.
type Selection struct {
	ModelID string
	Pool    provider.Pool
}

// Engine is pure apart from its random source.
type Engine struct {
	pools Pools
	mu    sync.Mutex
	rng   *rand.Rand
}

// New creates an engine. A nil rng draws from a randomly seeded source.
func New(pools Pools, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine{pools: pools, rng: rng}
}

// NewSeeded creates an engine with a fixed seed, for reproducible draws.
func NewSeeded(pools Pools, seed uint64) *Engine {
	return New(pools, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// Select routes a request. tier must already be the canonical routing tier
// (free, tier1, tier2, tier3). requested is honored only on the tier3 premium
// branch and only when it is a premium pool member.
func (e *Engine) Select(tier string, usage db.MonthlyUsage, requested string) Selection {
	switch tier {
	case "tier3":
		if usage.WordsPremium < PremiumWordCap {
			if requested != "" && e.pools.InPool(provider.PoolPaidPremium, requested) {
				return Selection{ModelID: requested, Pool: provider.PoolPaidPremium}
			}
			return e.pick(provider.PoolPaidPremium)
		}
		// Both allowances spent still routes to free; the ledger refuses
		// the request on the combined ceiling, not the engine.
		return e.pick(provider.PoolFree)
	case "tier1":
		return e.split(tier1PaidRatio)
	case "tier2":
		return e.split(tier2PaidRatio)
	default:
		return e.pick(provider.PoolFree)
	}
}

func (e *Engine) split(paidRatio float64) Selection {
	e.mu.Lock()
	draw := e.rng.Float64()
	e.mu.Unlock()
	if draw < paidRatio {
		return e.pick(provider.PoolPaidLow)
	}
	return e.pick(provider.PoolFree)
}

func (e *Engine) pick(p provider.Pool) Selection {
	ids := e.pools.Pool(p)
	if len(ids) == 0 {
		return Selection{Pool: p}
	}
	e.mu.Lock()
	i := e.rng.IntN(len(ids))
	e.mu.Unlock()
	return Selection{ModelID: ids[i], Pool: p}
}

// IsPremium reports whether words produced by modelID count against the
// premium allowance.
func (e *Engine) IsPremium(modelID string) bool {
	if provider.IsFreeID(modelID) {
		return false
	}
	return !e.pools.InPool(provider.PoolFree, modelID)
}
