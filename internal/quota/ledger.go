// Package quota enforces monthly word and list ceilings and bills generations
// against a credit balance.
package quota

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/costory/costory/internal/db"
	"github.com/costory/costory/internal/logging"
)

// DefaultMarkup converts provider cost into user-facing price.
const DefaultMarkup = 5

// FreeChapterWordCap bounds the single chapter a free user may write with AI.
const FreeChapterWordCap = 3_000

// Store is the persistence the ledger needs.
type Store interface {
	GetAccount(ctx context.Context, userID string) (*db.Account, error)
	GetMonthlyUsage(ctx context.Context, userID, month string) (db.MonthlyUsage, error)
	IncrementUsage(ctx context.Context, userID, month string, d db.UsageDelta) error
	CountReadingLists(ctx context.Context, userID string) (int, error)
	RecordBilledGeneration(ctx context.Context, e db.UsageLogEntry) (decimal.Decimal, error)
}

// Coster prices a model call in USD.
type Coster interface {
	EstimateCost(modelID string, inputTokens, outputTokens int64) decimal.Decimal
}

// Ledger reads and writes usage counters and balances.
type Ledger struct {
	store  Store
	costs  Coster
	markup decimal.Decimal
	now    func() time.Time
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock injects the clock used for month keys and reset countdowns.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithMarkup overrides DefaultMarkup.
func WithMarkup(m float64) Option {
	return func(l *Ledger) {
		if m > 0 {
			l.markup = decimal.NewFromFloat(m)
		}
	}
}

func NewLedger(store Store, costs Coster, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		costs:  costs,
		markup: decimal.NewFromInt(DefaultMarkup),
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Admission is the outcome of a successful admission check.
type Admission struct {
	UserID string
	// Tier is the stored tier name. Effective is the tier that governs routing and
	// limits after the subscription status check.
	Tier      Tier
	Effective Tier
	Usage     db.MonthlyUsage
	Balance   decimal.Decimal
}

// MonthKey returns the "YYYY-MM" key of t in UTC.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// DaysUntilReset counts whole days, rounded up, to the first of next month (UTC).
func DaysUntilReset(now time.Time) int {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	return int(math.Ceil(next.Sub(now).Hours() / 24))
}

// AdmitGeneration runs tier status, word quota and credit balance checks in that
// order. It has no side effects.
func (l *Ledger) AdmitGeneration(ctx context.Context, userID string) (*Admission, error) {
	adm, err := l.checkTierStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := l.checkWordQuota(ctx, adm); err != nil {
		return nil, err
	}
	if err := checkBalance(adm.Balance); err != nil {
		return nil, err
	}
	return adm, nil
}

func (l *Ledger) checkTierStatus(ctx context.Context, userID string) (*Admission, error) {
	acct, err := l.store.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, &Error{Kind: KindNotFound, Msg: "User not found", Err: err}
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	stored := Tier(acct.Tier)
	if stored == "" {
		stored = TierFree
	}
	effective := stored
	// A paid tier without an active subscription is served as free.
	if stored != TierFree && acct.SubscriptionStatus != StatusActive {
		effective = TierFree
	}
	return &Admission{UserID: userID, Tier: stored, Effective: effective, Balance: acct.CreditBalance}, nil
}

func (l *Ledger) checkWordQuota(ctx context.Context, adm *Admission) error {
	now := l.now()
	usage, err := l.store.GetMonthlyUsage(ctx, adm.UserID, MonthKey(now))
	if err != nil {
		return fmt.Errorf("load usage: %w", err)
	}
	adm.Usage = usage
	days := DaysUntilReset(now)

	if adm.Effective.Canonical() == Tier3 {
		if usage.WordsGenerated >= CombinedWordCap {
			return quotaExceeded("Monthly word generation limit reached for %s tier (%d/%d words). Resets in %d day(s).",
				adm.Effective, usage.WordsGenerated, CombinedWordCap, days)
		}
		return nil
	}

	limit := adm.Effective.Limits().Words
	if usage.WordsGenerated >= limit {
		return quotaExceeded("Monthly word generation limit reached for %s tier (%d/%d). Resets in %d day(s). Upgrade to create more.",
			adm.Effective, usage.WordsGenerated, limit, days)
	}
	return nil
}

func checkBalance(balance decimal.Decimal) error {
	if balance.IsNegative() {
		return &Error{
			Kind: KindInsufficientCredits,
			Msg:  fmt.Sprintf("Insufficient credits (balance %s). Please top up to continue.", balance.StringFixed(4)),
		}
	}
	return nil
}

// CheckCreditBalance fails when the balance is strictly negative.
func (l *Ledger) CheckCreditBalance(ctx context.Context, userID string) error {
	acct, err := l.store.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return &Error{Kind: KindNotFound, Msg: "User not found", Err: err}
		}
		return fmt.Errorf("load account: %w", err)
	}
	return checkBalance(acct.CreditBalance)
}

// AdmitContext restricts free users to their first chapter, below the free
// chapter word cap. Paid tiers always pass.
func (l *Ledger) AdmitContext(tier Tier, chapterIndex, chapterWords int) error {
	if !tier.IsFree() {
		return nil
	}
	if chapterIndex != 0 {
		return quotaExceeded("The free plan includes AI assistance on the first chapter only. Upgrade to continue with chapter %d.", chapterIndex+1)
	}
	if chapterWords >= FreeChapterWordCap {
		return quotaExceeded("The free plan's first chapter is limited to %d words (%d used). Upgrade to keep writing.", FreeChapterWordCap, chapterWords)
	}
	return nil
}

// AdmitListCreation fails when the user already has as many non-default
// reading lists as the tier allows.
func (l *Ledger) AdmitListCreation(ctx context.Context, userID string) error {
	adm, err := l.checkTierStatus(ctx, userID)
	if err != nil {
		return err
	}
	n, err := l.store.CountReadingLists(ctx, userID)
	if err != nil {
		return fmt.Errorf("count lists: %w", err)
	}
	limit := adm.Effective.Limits().Lists
	if n >= limit {
		return quotaExceeded("Reading list limit reached for %s tier (%d/%d). Upgrade to create more.", adm.Effective, n, limit)
	}
	return nil
}

// RecordUsage adds words to exactly one of the premium or free-extra counters,
// plus the total and chapter count, in one atomic upsert. Replays double-count.
func (l *Ledger) RecordUsage(ctx context.Context, userID string, words int64, isPremium bool) error {
	if words < 0 {
		return fmt.Errorf("record usage: negative word count %d", words)
	}
	d := db.UsageDelta{Chapters: 1, Words: words}
	if isPremium {
		d.Premium = words
	} else {
		d.FreeExtra = words
	}
	if err := l.store.IncrementUsage(ctx, userID, MonthKey(l.now()), d); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// RecordDirectWordCount attributes words not tied to a model call to free-extra.
func (l *Ledger) RecordDirectWordCount(ctx context.Context, userID string, words int64) error {
	if words <= 0 {
		return nil
	}
	d := db.UsageDelta{Words: words, FreeExtra: words}
	if err := l.store.IncrementUsage(ctx, userID, MonthKey(l.now()), d); err != nil {
		return fmt.Errorf("record direct word count: %w", err)
	}
	return nil
}

// Charge describes one generation to bill.
type Charge struct {
	UserID         string
	Tier           Tier
	SessionType    string
	ModelRequested string
	ModelUsed      string
	InputTokens    int64
	OutputTokens   int64
	// OverrideCost replaces the registry estimate when set.
	OverrideCost *decimal.Decimal
	Success      bool
	ErrorMessage string
}

// Bill is the result of a successful BillGeneration.
type Bill struct {
	Cost    decimal.Decimal
	Price   decimal.Decimal
	Balance decimal.Decimal
}

// BillGeneration prices the call, applies the markup, and appends the usage log
// entry and debits the balance in one transaction. Failures are logged here;
// callers on the response path must not surface them.
func (l *Ledger) BillGeneration(ctx context.Context, c Charge) (*Bill, error) {
	var cost decimal.Decimal
	if c.OverrideCost != nil {
		cost = *c.OverrideCost
	} else if l.costs != nil {
		cost = l.costs.EstimateCost(c.ModelUsed, c.InputTokens, c.OutputTokens)
	}
	price := cost.Mul(l.markup)

	balance, err := l.store.RecordBilledGeneration(ctx, db.UsageLogEntry{
		UserID:         c.UserID,
		Tier:           string(c.Tier),
		SessionType:    c.SessionType,
		ModelRequested: c.ModelRequested,
		ModelUsed:      c.ModelUsed,
		TokensIn:       c.InputTokens,
		TokensOut:      c.OutputTokens,
		CostEstimated:  cost,
		PriceCharged:   price,
		Success:        c.Success,
		ErrorMessage:   c.ErrorMessage,
		CreatedAt:      l.now(),
	})
	if err != nil {
		logging.Errorf("[Ledger] BILLING FAILED user=%s model=%s in=%d out=%d price=%s: %v",
			c.UserID, c.ModelUsed, c.InputTokens, c.OutputTokens, price.String(), err)
		return nil, fmt.Errorf("bill generation: %w", err)
	}
	return &Bill{Cost: cost, Price: price, Balance: balance}, nil
}

// Report is the current-month usage summary of a user.
type Report struct {
	Tier           Tier            `json:"tier"`
	Effective      Tier            `json:"effective_tier"`
	Month          string          `json:"month"`
	WordLimit      int64           `json:"word_limit"`
	ListLimit      int             `json:"list_limit"`
	Usage          db.MonthlyUsage `json:"usage"`
	DaysUntilReset int             `json:"days_until_reset"`
	Balance        decimal.Decimal `json:"credit_balance"`
}

// Usage reports tier, limits and counters for the current month.
func (l *Ledger) Usage(ctx context.Context, userID string) (*Report, error) {
	adm, err := l.checkTierStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := l.now()
	month := MonthKey(now)
	usage, err := l.store.GetMonthlyUsage(ctx, userID, month)
	if err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}
	limits := adm.Effective.Limits()
	return &Report{
		Tier:           adm.Tier,
		Effective:      adm.Effective,
		Month:          month,
		WordLimit:      limits.Words,
		ListLimit:      limits.Lists,
		Usage:          usage,
		DaysUntilReset: DaysUntilReset(now),
		Balance:        adm.Balance,
	}, nil
}
