// Package summarizer folds chat turns that fell out of the replay window into
// the story's rolling summary.
package summarizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/costory/costory/internal/agent/ai"
	"github.com/costory/costory/internal/db"
	"github.com/costory/costory/internal/logging"
	"github.com/costory/costory/internal/provider"
)

const (
	DefaultKeepRecent    = 20
	DefaultMinCandidates = 5
	DefaultTimeout       = time.Minute

	// maxTurnChars truncates a single turn in the transcript, in runes.
	maxTurnChars = 2000
	maxTokens    = 800
)

// History is the chat storage the summarizer works on.
type History interface {
	UnsummarizedBeyond(ctx context.Context, storyID string, keep int) ([]db.ChatTurn, error)
	GetSummary(ctx context.Context, storyID string) (string, error)
	ApplySummary(ctx context.Context, storyID, summary string, turnIDs []int64) error
}

// ModelPicker chooses the model that writes summaries.
type ModelPicker interface {
	SelectBestAvailable(pool provider.Pool, excluded map[string]bool) provider.ModelInfo
}

// Options tunes the summarizer; zero values take the defaults.
type Options struct {
	KeepRecent    int
	MinCandidates int
	Timeout       time.Duration
}

// Summarizer compacts old chat history.
type Summarizer struct {
	history  History
	models   ModelPicker
	provider ai.Provider
	opts     Options
}

// New creates a summarizer.
func New(history History, models ModelPicker, p ai.Provider, opts Options) *Summarizer {
	if opts.KeepRecent <= 0 {
		opts.KeepRecent = DefaultKeepRecent
	}
	if opts.MinCandidates <= 0 {
		opts.MinCandidates = DefaultMinCandidates
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Summarizer{history: history, models: models, provider: p, opts: opts}
}

// MaybeSummarize folds unsummarized turns older than the keep window into the
// rolling summary once there are at least MinCandidates of them. It reports
// whether a new summary was written.
func (s *Summarizer) MaybeSummarize(ctx context.Context, storyID string) (bool, error) {
	candidates, err := s.history.UnsummarizedBeyond(ctx, storyID, s.opts.KeepRecent)
	if err != nil {
		return false, err
	}
	if len(candidates) < s.opts.MinCandidates {
		return false, nil
	}

	existing, err := s.history.GetSummary(ctx, storyID)
	if err != nil {
		return false, err
	}

	model := s.models.SelectBestAvailable(provider.PoolFree, nil)
	logging.Infof("[Summarizer] Folding %d turns of story %s with %s", len(candidates), storyID, model.ID)

	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	resp, err := ai.Collect(callCtx, s.provider, &ai.ChatRequest{
		Model:     model.ID,
		System:    systemPrompt,
		Messages:  []ai.Message{{Role: ai.RoleUser, Content: MergePrompt(existing, candidates)}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return false, fmt.Errorf("summarize with %s: %w", model.ID, err)
	}
	summary := strings.TrimSpace(resp.Content())
	if summary == "" {
		return false, fmt.Errorf("summarize with %s: empty summary", model.ID)
	}

	ids := make([]int64, len(candidates))
	for i, t := range candidates {
		ids[i] = t.ID
	}
	if err := s.history.ApplySummary(ctx, storyID, summary, ids); err != nil {
		return false, err
	}
	return true, nil
}

// Trigger runs MaybeSummarize and logs the outcome. Safe to call from a
// detached goroutine.
func (s *Summarizer) Trigger(ctx context.Context, storyID string) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("[Summarizer] PANIC recovered for story %s: %v", storyID, r)
		}
	}()
	done, err := s.MaybeSummarize(ctx, storyID)
	if err != nil {
		logging.Warnf("[Summarizer] story %s: %v", storyID, err)
		return
	}
	if done {
		logging.Infof("[Summarizer] story %s summary updated", storyID)
	}
}

const systemPrompt = `You maintain the running summary of a conversation between a writer and their writing assistant.
Merge the existing summary with the new messages into ONE updated summary.
Keep decisions about plot, characters, tone and open questions. Drop greetings and filler.
Write plain prose, at most 300 words, in the language of the conversation. Return only the summary.`

// MergePrompt renders the existing summary and the turns to fold.
func MergePrompt(existing string, turns []db.ChatTurn) string {
	var sb strings.Builder
	sb.WriteString("Existing summary:\n")
	if strings.TrimSpace(existing) == "" {
		sb.WriteString("(none)\n")
	} else {
		sb.WriteString(strings.TrimSpace(existing))
		sb.WriteString("\n")
	}
	sb.WriteString("\nNew messages:\n")
	for _, t := range turns {
		content := t.Content
		if r := []rune(content); len(r) > maxTurnChars {
			content = string(r[:maxTurnChars]) + "..."
		}
		fmt.Fprintf(&sb, "%s: %s\n", t.Role, content)
	}
	return sb.String()
}
