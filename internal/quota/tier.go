package quota

import "math"

// Unlimited marks a list ceiling with no practical limit.
const Unlimited = math.MaxInt32

// Tier is a subscription level as stored on the account, aliases included.
type Tier string

const (
	TierFree        Tier = "free"
	TierScribe      Tier = "scribe"
	TierStoryteller Tier = "storyteller"
	TierArchitect   Tier = "architect"
	TierPro         Tier = "pro"
	Tier1           Tier = "tier1"
	Tier2           Tier = "tier2"
	Tier3           Tier = "tier3"
)

// CombinedWordCap is the tier3 ceiling spanning premium and free-extra words.
const CombinedWordCap = 900_000

// Limits holds a tier's monthly word ceiling and reading-list ceiling.
type Limits struct {
	Words int64
	Lists int
}

var tierLimits = map[Tier]Limits{
	TierFree:        {Words: 3_000, Lists: 1},
	TierScribe:      {Words: 90_000, Lists: 3},
	TierStoryteller: {Words: 300_000, Lists: Unlimited},
	TierArchitect:   {Words: 900_000, Lists: Unlimited},
	TierPro:         {Words: 300_000, Lists: Unlimited},
	Tier1:           {Words: 90_000, Lists: 5},
	Tier2:           {Words: 300_000, Lists: 20},
	Tier3:           {Words: CombinedWordCap, Lists: Unlimited},
}

// Limits returns the tier's ceilings; unknown tiers get the free limits.
func (t Tier) Limits() Limits {
	if l, ok := tierLimits[t]; ok {
		return l
	}
	return tierLimits[TierFree]
}

// Canonical maps legacy names onto the routing tiers free, tier1, tier2, tier3.
func (t Tier) Canonical() Tier {
	switch t {
	case TierScribe, Tier1:
		return Tier1
	case TierStoryteller, TierPro, Tier2:
		return Tier2
	case TierArchitect, Tier3:
		return Tier3
	default:
		return TierFree
	}
}

// Known reports whether the tier has its own limits.
func (t Tier) Known() bool {
	_, ok := tierLimits[t]
	return ok
}

// IsFree reports whether the tier routes as free.
func (t Tier) IsFree() bool {
	return t.Canonical() == TierFree
}

// SubscriptionStatus values stored on the account.
const (
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
	StatusFree     = "free"
)

// ValidStatus reports whether s is one of the stored subscription statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusActive, StatusPastDue, StatusCanceled, StatusFree:
		return true
	}
	return false
}
