package db

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/costory/costory/internal/logging"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logging.Disable()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccountRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAccount(ctx, Account{
		ID: "u1", Tier: "tier2", SubscriptionStatus: "active", CreditBalance: decimal.RequireFromString("12.50"),
	}))
	a, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "tier2", a.Tier)
	require.True(t, a.CreditBalance.Equal(decimal.RequireFromString("12.5")))

	_, err = s.GetAccount(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestIncrementUsageCreatesAndAccumulates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertAccount(ctx, Account{ID: "u1", Tier: "free", SubscriptionStatus: "active"}))

	u, err := s.GetMonthlyUsage(ctx, "u1", "2026-10")
	require.NoError(t, err)
	require.Zero(t, u.WordsGenerated)

	require.NoError(t, s.IncrementUsage(ctx, "u1", "2026-10", UsageDelta{Chapters: 1, Words: 100, Premium: 100}))
	require.NoError(t, s.IncrementUsage(ctx, "u1", "2026-10", UsageDelta{Chapters: 1, Words: 40, FreeExtra: 40}))

	u, err = s.GetMonthlyUsage(ctx, "u1", "2026-10")
	require.NoError(t, err)
	require.Equal(t, int64(2), u.ChaptersGenerated)
	require.Equal(t, int64(140), u.WordsGenerated)
	require.Equal(t, int64(100), u.WordsPremium)
	require.Equal(t, int64(40), u.WordsFreeExtra)

	other, err := s.GetMonthlyUsage(ctx, "u1", "2026-11")
	require.NoError(t, err)
	require.Zero(t, other.WordsGenerated)
}

func TestIncrementUsageConcurrent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertAccount(ctx, Account{ID: "u1", Tier: "tier1", SubscriptionStatus: "active"}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.IncrementUsage(ctx, "u1", "2026-10", UsageDelta{Chapters: 1, Words: 5, FreeExtra: 5}); err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	u, err := s.GetMonthlyUsage(ctx, "u1", "2026-10")
	require.NoError(t, err)
	require.Equal(t, int64(100), u.WordsGenerated)
	require.Equal(t, int64(20), u.ChaptersGenerated)
}

func TestRecordBilledGenerationDebits(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertAccount(ctx, Account{ID: "u1", Tier: "tier3", SubscriptionStatus: "active", CreditBalance: decimal.NewFromInt(1)}))

	bal, err := s.RecordBilledGeneration(ctx, UsageLogEntry{
		UserID: "u1", ModelUsed: "openai/gpt-4o", TokensIn: 10, TokensOut: 20,
		CostEstimated: decimal.RequireFromString("0.0002"), PriceCharged: decimal.RequireFromString("0.001"), Success: true,
	})
	require.NoError(t, err)
	require.True(t, bal.Equal(decimal.RequireFromString("0.999")), "balance %s", bal)

	logs, err := s.ListUsageLogs(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "openai/gpt-4o", logs[0].ModelUsed)
	require.True(t, logs[0].Success)
}

func TestRecordBilledGenerationRollsBackForUnknownUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.RecordBilledGeneration(ctx, UsageLogEntry{UserID: "ghost", ModelUsed: "m", PriceCharged: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ErrNotFound)

	logs, err := s.ListUsageLogs(ctx, "ghost", 10)
	require.NoError(t, err)
	require.Empty(t, logs)
}

func TestCountReadingListsSkipsSaved(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateReadingList(ctx, "l1", "u1", "Saved"))
	require.NoError(t, s.CreateReadingList(ctx, "l2", "u1", "Favourites"))

	n, err := s.CountReadingLists(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestChatHistoryWindowAndSummary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sm := NewSessionManager(s)

	for i := 0; i < 25; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		_, err := sm.AppendTurn(ctx, "story1", role, fmt.Sprintf("turn %d", i))
		require.NoError(t, err)
	}

	recent, err := sm.RecentTurns(ctx, "story1", 20)
	require.NoError(t, err)
	require.Len(t, recent, 20)
	require.Equal(t, "turn 5", recent[0].Content)
	require.Equal(t, "turn 24", recent[19].Content)

	old, err := sm.UnsummarizedBeyond(ctx, "story1", 20)
	require.NoError(t, err)
	require.Len(t, old, 5)
	require.Equal(t, "turn 0", old[0].Content)

	ids := make([]int64, len(old))
	for i, turn := range old {
		ids[i] = turn.ID
	}
	require.NoError(t, sm.ApplySummary(ctx, "story1", "the story so far", ids))

	summary, err := sm.GetSummary(ctx, "story1")
	require.NoError(t, err)
	require.Equal(t, "the story so far", summary)

	old, err = sm.UnsummarizedBeyond(ctx, "story1", 20)
	require.NoError(t, err)
	require.Empty(t, old)

	require.NoError(t, sm.Clear(ctx, "story1"))
	recent, err = sm.RecentTurns(ctx, "story1", 20)
	require.NoError(t, err)
	require.Empty(t, recent)
}

func TestChaptersAndWorld(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	storyID, err := s.CreateStory(ctx, Story{UserID: "u1", Title: "The Glass Tide"})
	require.NoError(t, err)
	_, err = s.UpsertChapter(ctx, Chapter{StoryID: storyID, Index: 0, Title: "Arrival", Content: "The tide rose."})
	require.NoError(t, err)

	c, err := s.GetChapterByIndex(ctx, storyID, 0)
	require.NoError(t, err)
	require.Equal(t, "Arrival", c.Title)

	_, err = s.GetChapterByIndex(ctx, storyID, 3)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.CreateWorldEntity(ctx, WorldEntity{StoryID: storyID, Name: "Mara Vell", Type: "character",
		Description: "A lighthouse keeper.", Attributes: map[string]string{"age": "41"}})
	require.NoError(t, err)
	ents, err := s.ListWorldEntities(ctx, storyID)
	require.NoError(t, err)
	require.Len(t, ents, 1)
	require.Equal(t, "41", ents[0].Attributes["age"])
}
