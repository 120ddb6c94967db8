// Package prompt assembles the system prompt and the bounded chat history
// sent to the model for one co-writing request.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/costory/costory/internal/agent/ai"
	"github.com/costory/costory/internal/db"
	"github.com/costory/costory/internal/quota"
)

// Mode selects the assistant persona.
type Mode string

const (
	ModeNarrative   Mode = "narrative"
	ModeTherapeutic Mode = "therapeutic"
	ModeCoauthor    Mode = "coauthor"
	ModeStructural  Mode = "structural"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeNarrative, ModeTherapeutic, ModeCoauthor, ModeStructural:
		return true
	}
	return false
}

func (m Mode) persona() string {
	switch m {
	case ModeNarrative:
		return personaNarrative
	case ModeTherapeutic:
		return personaTherapeutic
	case ModeCoauthor:
		return personaCoauthor
	case ModeStructural:
		return personaStructural
	}
	return personaDefault
}

const (
	// HistoryWindow is how many raw chat turns are replayed to the model.
	HistoryWindow = 20
	// FreeReplyWordCap bounds free plan replies.
	FreeReplyWordCap = 500
)

type StoryInfo struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Summary     string `json:"summary,omitempty"`
}

type ChapterInfo struct {
	Title   string `json:"title"`
	Index   int    `json:"index"`
	Content string `json:"content"`
}

type ChapterSummary struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// EntityRef names a codex entry without its details.
type EntityRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// StoryContext is what the model knows about the story up front. Every field
// is optional.
type StoryContext struct {
	Story          *StoryInfo       `json:"story,omitempty"`
	Chapter        *ChapterInfo     `json:"chapter,omitempty"`
	PriorSummaries []ChapterSummary `json:"prior_summaries,omitempty"`
	Outline        []string         `json:"outline,omitempty"`
	World          []EntityRef      `json:"world,omitempty"`
}

// Validate rejects malformed caller-supplied context.
func (c *StoryContext) Validate() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Chapter != nil && c.Chapter.Index < 0 {
		errs = append(errs, fmt.Errorf("chapter index %d is negative", c.Chapter.Index))
	}
	for i, s := range c.PriorSummaries {
		if s.Index < 0 {
			errs = append(errs, fmt.Errorf("prior summary %d: negative index", i))
		}
	}
	for i, e := range c.World {
		if strings.TrimSpace(e.Name) == "" {
			errs = append(errs, fmt.Errorf("world entity %d: name is required", i))
		}
	}
	return errors.Join(errs...)
}

// Empty reports whether the context carries nothing.
func (c *StoryContext) Empty() bool {
	return c == nil || (c.Story == nil && c.Chapter == nil && len(c.PriorSummaries) == 0 &&
		len(c.Outline) == 0 && len(c.World) == 0)
}

// ChapterIndex returns the current chapter index, 0 when unset.
func (c *StoryContext) ChapterIndex() int {
	if c == nil || c.Chapter == nil {
		return 0
	}
	return c.Chapter.Index
}

// HistoryStore is the chat history access the builder needs.
type HistoryStore interface {
	RecentTurns(ctx context.Context, storyID string, limit int) ([]db.ChatTurn, error)
	GetSummary(ctx context.Context, storyID string) (string, error)
}

// StoryStore loads story context from storage.
type StoryStore interface {
	GetStory(ctx context.Context, storyID string) (*db.Story, error)
	ListChapters(ctx context.Context, storyID string) ([]db.Chapter, error)
	ListWorldEntities(ctx context.Context, storyID string) ([]db.WorldEntity, error)
}

// Builder composes prompts and history.
type Builder struct {
	history HistoryStore
	stories StoryStore
}

// NewBuilder creates a prompt builder. stories may be nil when callers always
// supply their own context.
func NewBuilder(history HistoryStore, stories StoryStore) *Builder {
	return &Builder{history: history, stories: stories}
}

// System assembles the system prompt. Sections are joined in a fixed order:
// persona, story context, rolling summary, free plan restrictions, actions.
func (b *Builder) System(mode Mode, sc *StoryContext, chatSummary string, tier quota.Tier) string {
	parts := []string{mode.persona(), sectionLanguage}

	if !sc.Empty() {
		parts = append(parts, contextSection(sc))
		if len(sc.World) > 0 {
			parts = append(parts, sectionTools)
		}
	}
	if s := strings.TrimSpace(chatSummary); s != "" {
		parts = append(parts, "## Conversation So Far\nSummary of the earlier conversation about this story:\n"+s)
	}
	if tier.IsFree() {
		parts = append(parts, fmt.Sprintf(sectionFreemium, FreeReplyWordCap))
	}
	parts = append(parts, sectionActions)

	return strings.Join(parts, "\n\n")
}

func contextSection(sc *StoryContext) string {
	var sb strings.Builder
	sb.WriteString("=== CURRENT STORY CONTEXT ===\n")

	if st := sc.Story; st != nil {
		fmt.Fprintf(&sb, "Book title: %q\n", st.Title)
		if st.Description != "" {
			fmt.Fprintf(&sb, "Description: %s\n", st.Description)
		}
		if st.Summary != "" {
			fmt.Fprintf(&sb, "Story summary: %s\n", st.Summary)
		}
	}

	if len(sc.PriorSummaries) > 0 {
		sb.WriteString("\nEarlier chapters:\n")
		for _, s := range sc.PriorSummaries {
			fmt.Fprintf(&sb, "- Chapter %d %q: %s\n", s.Index, s.Title, s.Summary)
		}
	}

	if ch := sc.Chapter; ch != nil {
		fmt.Fprintf(&sb, "\nCurrent chapter (index %d): %q\n", ch.Index, ch.Title)
		content := ch.Content
		if strings.TrimSpace(content) == "" {
			content = "(empty chapter)"
		}
		fmt.Fprintf(&sb, "Chapter content (WHAT WE ARE WRITING):\n\"\"\"\n%s\n\"\"\"\n", content)
	}

	if len(sc.Outline) > 0 {
		fmt.Fprintf(&sb, "\nChapter outline: %s\n", strings.Join(sc.Outline, ", "))
	}

	if len(sc.World) > 0 {
		sb.WriteString("\nWorld codex (names only, READ ONLY, use actions to modify):\n")
		for _, e := range sc.World {
			if e.ID != "" {
				fmt.Fprintf(&sb, "- [%s] %s (ID: %s)\n", e.Type, e.Name, e.ID)
			} else {
				fmt.Fprintf(&sb, "- [%s] %s\n", e.Type, e.Name)
			}
		}
	}

	sb.WriteString("=== END OF CONTEXT ===\nUse this context in your answers. When asked to continue, build on the chapter content.")
	return sb.String()
}

// History loads the last HistoryWindow turns and the rolling summary. A final
// user turn equal to pending is dropped, since pending is sent separately.
func (b *Builder) History(ctx context.Context, storyID, pending string) ([]ai.Message, string, error) {
	turns, err := b.history.RecentTurns(ctx, storyID, HistoryWindow)
	if err != nil {
		return nil, "", fmt.Errorf("load history: %w", err)
	}
	summary, err := b.history.GetSummary(ctx, storyID)
	if err != nil {
		return nil, "", fmt.Errorf("load summary: %w", err)
	}

	if n := len(turns); n > 0 {
		last := turns[n-1]
		if last.Role == ai.RoleUser && last.Content == pending {
			turns = turns[:n-1]
		}
	}

	msgs := make([]ai.Message, 0, len(turns))
	for _, t := range turns {
		if t.Role != ai.RoleUser && t.Role != ai.RoleAssistant {
			continue
		}
		msgs = append(msgs, ai.Message{Role: t.Role, Content: t.Content})
	}
	return msgs, summary, nil
}

// LoadContext builds a StoryContext from storage for the chapter at index.
// Chapters before index contribute their summaries; the whole codex is listed
// by name.
func (b *Builder) LoadContext(ctx context.Context, storyID string, index int) (*StoryContext, error) {
	if b.stories == nil {
		return nil, errors.New("no story store configured")
	}
	st, err := b.stories.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	chapters, err := b.stories.ListChapters(ctx, storyID)
	if err != nil {
		return nil, err
	}
	entities, err := b.stories.ListWorldEntities(ctx, storyID)
	if err != nil {
		return nil, err
	}

	sc := &StoryContext{
		Story: &StoryInfo{Title: st.Title, Description: st.Description, Summary: st.Summary},
	}
	for _, c := range chapters {
		sc.Outline = append(sc.Outline, c.Title)
		switch {
		case c.Index == index:
			sc.Chapter = &ChapterInfo{Title: c.Title, Index: c.Index, Content: c.Content}
		case c.Index < index && c.Summary != "":
			sc.PriorSummaries = append(sc.PriorSummaries, ChapterSummary{Index: c.Index, Title: c.Title, Summary: c.Summary})
		}
	}
	if sc.Chapter == nil {
		sc.Chapter = &ChapterInfo{Index: index}
	}
	for _, e := range entities {
		sc.World = append(sc.World, EntityRef{ID: e.ID, Name: e.Name, Type: e.Type})
	}
	return sc, nil
}
