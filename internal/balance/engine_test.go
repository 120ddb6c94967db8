package balance

import (
	"math"
	"testing"

	"github.com/costory/costory/internal/db"
	"github.com/costory/costory/internal/provider"
	"github.com/costory/costory/internal/registry"
)

func testPools() Pools {
	return registry.New(provider.Default(), registry.Options{})
}

func TestPaidFractionConverges(t *testing.T) {
	tests := []struct {
		tier string
		want float64
	}{
		{"tier1", 0.20},
		{"tier2", 0.40},
	}
	for _, tt := range tests {
		t.Run(tt.tier, func(t *testing.T) {
			e := NewSeeded(testPools(), 42)
			const n = 10_000
			paid := 0
			for i := 0; i < n; i++ {
				sel := e.Select(tt.tier, db.MonthlyUsage{}, "")
				switch sel.Pool {
				case provider.PoolPaidLow:
					paid++
				case provider.PoolFree:
				default:
					t.Fatalf("unexpected pool %s", sel.Pool)
				}
			}
			got := float64(paid) / n
			if math.Abs(got-tt.want) > 0.02 {
				t.Errorf("paid fraction = %.4f, want %.2f +- 0.02", got, tt.want)
			}
		})
	}
}

func TestFreeTierAlwaysFree(t *testing.T) {
	e := NewSeeded(testPools(), 1)
	for i := 0; i < 500; i++ {
		sel := e.Select("free", db.MonthlyUsage{}, "openai/gpt-4o")
		if sel.Pool != provider.PoolFree || !provider.IsFreeID(sel.ModelID) {
			t.Fatalf("free tier routed to %s (%s)", sel.ModelID, sel.Pool)
		}
	}
}

func TestTier3PremiumBoundary(t *testing.T) {
	e := NewSeeded(testPools(), 7)

	sel := e.Select("tier3", db.MonthlyUsage{WordsPremium: 599_999}, "openai/gpt-4o")
	if sel.ModelID != "openai/gpt-4o" || sel.Pool != provider.PoolPaidPremium {
		t.Errorf("below cap: got %+v, want requested premium model", sel)
	}

	sel = e.Select("tier3", db.MonthlyUsage{WordsPremium: 600_001}, "openai/gpt-4o")
	if sel.Pool != provider.PoolFree {
		t.Errorf("above cap: got pool %s, want free", sel.Pool)
	}

	// Both allowances exhausted still returns a free pick.
	sel = e.Select("tier3", db.MonthlyUsage{WordsPremium: 600_000, WordsFreeExtra: 300_000}, "")
	if sel.Pool != provider.PoolFree || sel.ModelID == "" {
		t.Errorf("exhausted: got %+v, want free-pool pick", sel)
	}
}

func TestTier3UnknownRequestGetsPremiumDefault(t *testing.T) {
	e := NewSeeded(testPools(), 3)
	sel := e.Select("tier3", db.MonthlyUsage{}, "deepseek/deepseek-chat")
	if sel.Pool != provider.PoolPaidPremium {
		t.Fatalf("pool = %s", sel.Pool)
	}
	if sel.ModelID == "deepseek/deepseek-chat" {
		t.Error("non-premium request must not be honored on premium branch")
	}
}

func TestIsPremium(t *testing.T) {
	e := New(testPools(), nil)
	tests := []struct {
		id   string
		want bool
	}{
		{"openai/gpt-4o", true},
		{"deepseek/deepseek-chat", true},
		{"google/gemini-2.0-flash-exp:free", false},
		{"some/unlisted:free", false},
		{"some/unlisted", true},
	}
	for _, tt := range tests {
		if got := e.IsPremium(tt.id); got != tt.want {
			t.Errorf("IsPremium(%s) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
