package quota

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/costory/costory/internal/db"
	"github.com/costory/costory/internal/logging"
	"github.com/costory/costory/internal/provider"
	"github.com/costory/costory/internal/registry"
)

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *db.Store) {
	t.Helper()
	logging.Disable()
	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "quota.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	reg := registry.New(provider.Default(), registry.Options{})
	return NewLedger(store, reg, WithClock(func() time.Time { return testNow })), store
}

func seedUser(t *testing.T, store *db.Store, id string, tier Tier, words int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertAccount(ctx, db.Account{ID: id, Tier: string(tier), SubscriptionStatus: StatusActive}))
	if words > 0 {
		require.NoError(t, store.IncrementUsage(ctx, id, MonthKey(testNow), db.UsageDelta{Words: words, FreeExtra: words}))
	}
}

func TestAdmitGenerationBoundaries(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	tiers := []Tier{TierFree, TierScribe, TierStoryteller, TierPro, Tier1, Tier2}
	for _, tier := range tiers {
		limit := tier.Limits().Words
		for _, tc := range []struct {
			words   int64
			wantErr bool
		}{
			{limit - 1, false},
			{limit, true},
			{limit + 1, true},
		} {
			id := fmt.Sprintf("%s-%d", tier, tc.words)
			seedUser(t, store, id, tier, tc.words)
			_, err := ledger.AdmitGeneration(ctx, id)
			if tc.wantErr {
				require.Error(t, err, "%s at %d", tier, tc.words)
				require.True(t, IsQuotaExceeded(err), "%s at %d: %v", tier, tc.words, err)
			} else {
				require.NoError(t, err, "%s at %d", tier, tc.words)
			}
		}
	}
}

func TestAdmitGenerationTier3Combined(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	seedUser(t, store, "below", Tier3, CombinedWordCap-1)
	adm, err := ledger.AdmitGeneration(ctx, "below")
	require.NoError(t, err)
	require.Equal(t, Tier3, adm.Effective)

	seedUser(t, store, "at", Tier3, CombinedWordCap)
	_, err = ledger.AdmitGeneration(ctx, "at")
	require.True(t, IsQuotaExceeded(err))

	// architect is the legacy name for tier3 and shares the combined ceiling.
	seedUser(t, store, "arch", TierArchitect, CombinedWordCap-1)
	_, err = ledger.AdmitGeneration(ctx, "arch")
	require.NoError(t, err)
}

func TestAdmitGenerationPremiumExhaustedStillAdmitted(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	seedUser(t, store, "u", Tier3, 0)
	require.NoError(t, store.IncrementUsage(ctx, "u", MonthKey(testNow), db.UsageDelta{Words: 600_000, Premium: 600_000}))

	adm, err := ledger.AdmitGeneration(ctx, "u")
	require.NoError(t, err)
	require.Equal(t, int64(600_000), adm.Usage.WordsPremium)
}

func TestQuotaMessage(t *testing.T) {
	ledger, store := newTestLedger(t)
	seedUser(t, store, "u", TierFree, 3_000)

	_, err := ledger.AdmitGeneration(context.Background(), "u")
	require.Error(t, err)
	msg := err.Error()
	require.Contains(t, msg, "3000/3000")
	require.Contains(t, msg, "Resets in 18 day(s)")
	require.Contains(t, msg, "Upgrade")
}

func TestDaysUntilReset(t *testing.T) {
	tests := []struct {
		now  time.Time
		want int
	}{
		{time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC), 18},
		{time.Date(2026, 10, 31, 23, 0, 0, 0, time.UTC), 1},
		{time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC), 31},
		{time.Date(2027, 2, 1, 0, 0, 1, 0, time.UTC), 28},
	}
	for _, tt := range tests {
		if got := DaysUntilReset(tt.now); got != tt.want {
			t.Errorf("DaysUntilReset(%s) = %d, want %d", tt.now, got, tt.want)
		}
	}
}

func TestInactivePaidTierTreatedAsFree(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertAccount(ctx, db.Account{ID: "u", Tier: "tier2", SubscriptionStatus: StatusPastDue}))

	adm, err := ledger.AdmitGeneration(ctx, "u")
	require.NoError(t, err)
	require.Equal(t, Tier("tier2"), adm.Tier)
	require.Equal(t, TierFree, adm.Effective)
}

func TestCreditBalance(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertAccount(ctx, db.Account{ID: "neg", Tier: "tier1", SubscriptionStatus: StatusActive,
		CreditBalance: decimal.RequireFromString("-0.0001")}))
	require.NoError(t, store.UpsertAccount(ctx, db.Account{ID: "zero", Tier: "tier1", SubscriptionStatus: StatusActive}))

	err := ledger.CheckCreditBalance(ctx, "neg")
	require.True(t, IsInsufficientCredits(err), "got %v", err)
	_, err = ledger.AdmitGeneration(ctx, "neg")
	require.True(t, IsInsufficientCredits(err), "got %v", err)

	require.NoError(t, ledger.CheckCreditBalance(ctx, "zero"))

	err = ledger.CheckCreditBalance(ctx, "missing")
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestAdmitContext(t *testing.T) {
	ledger, _ := newTestLedger(t)

	require.NoError(t, ledger.AdmitContext(TierFree, 0, 2_999))
	err := ledger.AdmitContext(TierFree, 2, 10)
	require.True(t, IsQuotaExceeded(err))
	require.True(t, strings.Contains(err.Error(), "first chapter"))
	require.True(t, IsQuotaExceeded(ledger.AdmitContext(TierFree, 0, 3_000)))

	require.NoError(t, ledger.AdmitContext(Tier1, 7, 50_000))
	require.NoError(t, ledger.AdmitContext(TierScribe, 4, 0))
}

func TestAdmitListCreation(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	seedUser(t, store, "u", TierFree, 0)

	require.NoError(t, store.CreateReadingList(ctx, "saved", "u", "Saved"))
	require.NoError(t, ledger.AdmitListCreation(ctx, "u"))

	require.NoError(t, store.CreateReadingList(ctx, "l1", "u", "Mysteries"))
	require.True(t, IsQuotaExceeded(ledger.AdmitListCreation(ctx, "u")))

	seedUser(t, store, "big", TierStoryteller, 0)
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.CreateReadingList(ctx, "big-"+id, "big", id))
	}
	require.NoError(t, ledger.AdmitListCreation(ctx, "big"))
}

func TestRecordUsageCounters(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	seedUser(t, store, "u", Tier3, 0)

	require.NoError(t, ledger.RecordUsage(ctx, "u", 120, true))
	u, err := store.GetMonthlyUsage(ctx, "u", MonthKey(testNow))
	require.NoError(t, err)
	require.Equal(t, int64(120), u.WordsPremium)
	require.Equal(t, int64(120), u.WordsGenerated)
	require.Zero(t, u.WordsFreeExtra)

	require.NoError(t, ledger.RecordUsage(ctx, "u", 30, false))
	u, err = store.GetMonthlyUsage(ctx, "u", MonthKey(testNow))
	require.NoError(t, err)
	require.Equal(t, int64(120), u.WordsPremium)
	require.Equal(t, int64(30), u.WordsFreeExtra)
	require.Equal(t, int64(150), u.WordsGenerated)
	require.Equal(t, int64(2), u.ChaptersGenerated)
	require.Equal(t, u.WordsGenerated, u.WordsPremium+u.WordsFreeExtra)

	// Replays double count.
	require.NoError(t, ledger.RecordUsage(ctx, "u", 30, false))
	u, _ = store.GetMonthlyUsage(ctx, "u", MonthKey(testNow))
	require.Equal(t, int64(60), u.WordsFreeExtra)
}

func TestRecordDirectWordCount(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	seedUser(t, store, "u", Tier1, 0)

	require.NoError(t, ledger.RecordDirectWordCount(ctx, "u", 250))
	u, err := store.GetMonthlyUsage(ctx, "u", MonthKey(testNow))
	require.NoError(t, err)
	require.Equal(t, int64(250), u.WordsGenerated)
	require.Equal(t, int64(250), u.WordsFreeExtra)
	require.Zero(t, u.ChaptersGenerated)
}

func TestBillGeneration(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertAccount(ctx, db.Account{ID: "u", Tier: "tier3", SubscriptionStatus: StatusActive,
		CreditBalance: decimal.NewFromInt(10)}))

	// gpt-4o: 2.50 in / 10.00 out per 1M tokens.
	bill, err := ledger.BillGeneration(ctx, Charge{UserID: "u", Tier: Tier3, SessionType: "chat",
		ModelUsed: "openai/gpt-4o", InputTokens: 1_000_000, OutputTokens: 100_000, Success: true})
	require.NoError(t, err)
	require.True(t, bill.Cost.Equal(decimal.RequireFromString("3.5")), "cost %s", bill.Cost)
	require.True(t, bill.Price.Equal(decimal.RequireFromString("17.5")), "price %s", bill.Price)
	require.True(t, bill.Balance.Equal(decimal.RequireFromString("-7.5")), "balance %s", bill.Balance)

	override := decimal.RequireFromString("0.01")
	bill, err = ledger.BillGeneration(ctx, Charge{UserID: "u", ModelUsed: "unknown", OverrideCost: &override})
	require.NoError(t, err)
	require.True(t, bill.Price.Equal(decimal.RequireFromString("0.05")))

	logs, err := store.ListUsageLogs(ctx, "u", 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	// Negative balance now blocks further generations.
	require.True(t, IsInsufficientCredits(ledger.CheckCreditBalance(ctx, "u")))
}

func TestBillGenerationFailureIsReturned(t *testing.T) {
	ledger, _ := newTestLedger(t)
	_, err := ledger.BillGeneration(context.Background(), Charge{UserID: "ghost", ModelUsed: "openai/gpt-4o", InputTokens: 1})
	require.Error(t, err)
}

func TestUsageReport(t *testing.T) {
	ledger, store := newTestLedger(t)
	seedUser(t, store, "u", TierScribe, 1_234)

	r, err := ledger.Usage(context.Background(), "u")
	require.NoError(t, err)
	require.Equal(t, "2026-10", r.Month)
	require.Equal(t, int64(90_000), r.WordLimit)
	require.Equal(t, 3, r.ListLimit)
	require.Equal(t, int64(1_234), r.Usage.WordsGenerated)
}

func TestTierCanonical(t *testing.T) {
	tests := map[Tier]Tier{
		TierFree: TierFree, "": TierFree, "bogus": TierFree,
		TierScribe: Tier1, Tier1: Tier1,
		TierStoryteller: Tier2, TierPro: Tier2, Tier2: Tier2,
		TierArchitect: Tier3, Tier3: Tier3,
	}
	for in, want := range tests {
		if got := in.Canonical(); got != want {
			t.Errorf("%q.Canonical() = %q, want %q", in, got, want)
		}
	}
}

func TestTierAndStatusValidation(t *testing.T) {
	for _, tier := range []Tier{TierFree, TierScribe, TierPro, Tier1, Tier3} {
		if !tier.Known() {
			t.Errorf("%q should be known", tier)
		}
	}
	if Tier("platinum").Known() {
		t.Error("platinum should be unknown")
	}
	for _, s := range []string{StatusActive, StatusPastDue, StatusCanceled, StatusFree} {
		if !ValidStatus(s) {
			t.Errorf("status %q should be valid", s)
		}
	}
	if ValidStatus("trialing") {
		t.Error("trialing is not a stored status")
	}
}
