package summarizer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/costory/costory/internal/agent/ai"
	"github.com/costory/costory/internal/db"
	"github.com/costory/costory/internal/logging"
	"github.com/costory/costory/internal/provider"
)

// mockProvider implements ai.Provider for testing
type mockProvider struct {
	mu       sync.Mutex
	text     string
	err      error
	requests []*ai.ChatRequest
}

func (m *mockProvider) ID() string {
	return "mock"
}

func (m *mockProvider) Stream(ctx context.Context, req *ai.ChatRequest) (<-chan ai.StreamEvent, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	ch := make(chan ai.StreamEvent, 3)
	if m.err != nil {
		ch <- ai.StreamEvent{Type: ai.EventTypeError, Error: m.err}
	} else {
		ch <- ai.StreamEvent{Type: ai.EventTypeText, Text: m.text}
		ch <- ai.StreamEvent{Type: ai.EventTypeDone}
	}
	close(ch)
	return ch, nil
}

type freePicker struct {
	pool provider.Pool
}

func (f *freePicker) SelectBestAvailable(pool provider.Pool, _ map[string]bool) provider.ModelInfo {
	f.pool = pool
	return provider.ModelInfo{ID: "google/gemini-2.0-flash-exp:free"}
}

func setup(t *testing.T, turns int) (*db.SessionManager, string) {
	t.Helper()
	logging.Disable()
	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	if err := store.UpsertAccount(ctx, db.Account{ID: "u1", Tier: "free"}); err != nil {
		t.Fatalf("upsert account: %v", err)
	}
	storyID, err := store.CreateStory(ctx, db.Story{UserID: "u1", Title: "Salt Roads"})
	if err != nil {
		t.Fatalf("create story: %v", err)
	}

	sessions := db.NewSessionManager(store)
	for i := 0; i < turns; i++ {
		role := ai.RoleUser
		if i%2 == 1 {
			role = ai.RoleAssistant
		}
		if _, err := sessions.AppendTurn(ctx, storyID, role, fmt.Sprintf("turn %d", i+1)); err != nil {
			t.Fatalf("append turn: %v", err)
		}
	}
	return sessions, storyID
}

func TestMaybeSummarizeTwentyFiveTurns(t *testing.T) {
	sessions, storyID := setup(t, 25)
	ctx := context.Background()
	p := &mockProvider{text: "  Mira reached Port Ash.  "}
	picker := &freePicker{}

	s := New(sessions, picker, p, Options{})
	done, err := s.MaybeSummarize(ctx, storyID)
	if err != nil {
		t.Fatalf("MaybeSummarize: %v", err)
	}
	if !done {
		t.Fatal("expected a summary to be written")
	}
	if picker.pool != provider.PoolFree {
		t.Errorf("summaries should use the free pool, got %q", picker.pool)
	}

	summary, err := sessions.GetSummary(ctx, storyID)
	if err != nil {
		t.Fatal(err)
	}
	if summary != "Mira reached Port Ash." {
		t.Errorf("summary = %q", summary)
	}

	left, err := sessions.UnsummarizedBeyond(ctx, storyID, DefaultKeepRecent)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("%d candidate turns still unsummarized", len(left))
	}

	recent, err := sessions.RecentTurns(ctx, storyID, 25)
	if err != nil {
		t.Fatal(err)
	}
	flagged := 0
	for i, turn := range recent {
		if turn.Summarized {
			flagged++
			if i >= 5 {
				t.Errorf("turn %d inside the keep window was flagged", i+1)
			}
		}
	}
	if flagged != 5 {
		t.Errorf("flagged = %d, want 5", flagged)
	}

	req := p.requests[0]
	prompt := req.Messages[0].Content
	if !strings.Contains(prompt, "turn 1") || !strings.Contains(prompt, "turn 5") || strings.Contains(prompt, "turn 6") {
		t.Errorf("merge prompt should carry exactly the 5 oldest turns:\n%s", prompt)
	}
	if !strings.HasSuffix(req.Model, ":free") {
		t.Errorf("model = %q", req.Model)
	}
}

func TestMaybeSummarizeTooFewCandidates(t *testing.T) {
	sessions, storyID := setup(t, 24)
	p := &mockProvider{text: "unused"}

	done, err := New(sessions, &freePicker{}, p, Options{}).MaybeSummarize(context.Background(), storyID)
	if err != nil {
		t.Fatal(err)
	}
	if done || len(p.requests) != 0 {
		t.Errorf("4 candidates must not trigger a model call (done=%v calls=%d)", done, len(p.requests))
	}
}

func TestMaybeSummarizeMergesExisting(t *testing.T) {
	sessions, storyID := setup(t, 25)
	ctx := context.Background()
	if err := sessions.ApplySummary(ctx, storyID, "The story opened at sea.", nil); err != nil {
		t.Fatal(err)
	}
	p := &mockProvider{text: "merged"}
	if _, err := New(sessions, &freePicker{}, p, Options{}).MaybeSummarize(ctx, storyID); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p.requests[0].Messages[0].Content, "The story opened at sea.") {
		t.Error("merge prompt should include the existing summary")
	}
}

func TestMaybeSummarizeFailureLeavesTurns(t *testing.T) {
	sessions, storyID := setup(t, 25)
	ctx := context.Background()
	p := &mockProvider{err: errors.New("upstream down")}

	done, err := New(sessions, &freePicker{}, p, Options{}).MaybeSummarize(ctx, storyID)
	if err == nil || done {
		t.Fatalf("expected failure, got done=%v err=%v", done, err)
	}
	left, _ := sessions.UnsummarizedBeyond(ctx, storyID, DefaultKeepRecent)
	if len(left) != 5 {
		t.Errorf("failed summarization must not flag turns, %d left", len(left))
	}

	// Trigger swallows the error.
	New(sessions, &freePicker{}, p, Options{}).Trigger(ctx, storyID)
}

func TestMaybeSummarizeEmptyOutput(t *testing.T) {
	sessions, storyID := setup(t, 26)
	p := &mockProvider{text: "   "}
	if _, err := New(sessions, &freePicker{}, p, Options{}).MaybeSummarize(context.Background(), storyID); err == nil {
		t.Error("blank summary should be an error")
	}
}

func TestMergePromptTruncates(t *testing.T) {
	long := strings.Repeat("a", maxTurnChars+50)
	got := MergePrompt("", []db.ChatTurn{{Role: "user", Content: long}})
	if !strings.Contains(got, "(none)") {
		t.Error("missing placeholder for empty summary")
	}
	if strings.Contains(got, long) || !strings.Contains(got, "...") {
		t.Error("long turns should be truncated")
	}
}

func TestMergePromptTruncatesOnRuneBoundary(t *testing.T) {
	long := "a" + strings.Repeat("é", maxTurnChars+500)
	got := MergePrompt("", []db.ChatTurn{{Role: "assistant", Content: long}})
	if !utf8.ValidString(got) {
		t.Fatal("prompt is not valid UTF-8 after truncation")
	}
	want := "a" + strings.Repeat("é", maxTurnChars-1) + "..."
	if !strings.Contains(got, "assistant: "+want+"\n") {
		t.Errorf("turn not cut at %d characters", maxTurnChars)
	}
}
