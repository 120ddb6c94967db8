package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/costory/costory/internal/agent/ai"
	"github.com/costory/costory/internal/db"
)

type fakeStore struct {
	chapters map[string][]db.Chapter
	entities map[string][]db.WorldEntity
}

func (f *fakeStore) GetChapterByIndex(_ context.Context, storyID string, index int) (*db.Chapter, error) {
	for _, c := range f.chapters[storyID] {
		if c.Index == index {
			c := c
			return &c, nil
		}
	}
	return nil, fmt.Errorf("chapter %d: %w", index, db.ErrNotFound)
}

func (f *fakeStore) ListWorldEntities(_ context.Context, storyID string) ([]db.WorldEntity, error) {
	return f.entities[storyID], nil
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chapters: map[string][]db.Chapter{
			"s1": {
				{ID: "c0", StoryID: "s1", Index: 0, Title: "Arrival", Content: "The ship docked at dawn."},
				{ID: "c1", StoryID: "s1", Index: 1, Title: "The Market", Content: ""},
			},
		},
		entities: map[string][]db.WorldEntity{
			"s1": {
				{ID: "e1", Name: "Captain Mira Vell", Type: "character", Description: "Smuggler with a conscience.",
					Attributes: map[string]string{"ship": "Gull", "age": "34"}},
				{ID: "e2", Name: "Port Ash", Type: "location", Description: "A harbour town."},
				{ID: "e3", Name: "Mirror of Tides", Type: "item"},
			},
		},
	}
}

func call(name, input string) *ai.ToolCall {
	return &ai.ToolCall{ID: "call_1", Name: name, Input: json.RawMessage(input)}
}

func TestReadChapter(t *testing.T) {
	reg := NewStoryRegistry(newFakeStore())
	ctx := WithStory(context.Background(), "s1")

	res := reg.Execute(ctx, call("read_chapter", `{"index": 0}`))
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	if !strings.Contains(res.Content, "Chapter 0: Arrival") || !strings.Contains(res.Content, "docked at dawn") {
		t.Errorf("content = %q", res.Content)
	}
	if res.Status == "" {
		t.Error("expected a status line")
	}

	res = reg.Execute(ctx, call("read_chapter", `{"index": 1}`))
	if !strings.Contains(res.Content, "(empty chapter)") {
		t.Errorf("empty chapter content = %q", res.Content)
	}
}

func TestReadChapterNotFound(t *testing.T) {
	reg := NewStoryRegistry(newFakeStore())
	ctx := WithStory(context.Background(), "s1")

	for _, idx := range []int{3, -1} {
		res := reg.Execute(ctx, call("read_chapter", fmt.Sprintf(`{"index": %d}`, idx)))
		if res.IsError {
			t.Errorf("index %d: not-found must not be an error result", idx)
		}
		if res.Content != NotFoundChapter(idx) {
			t.Errorf("index %d: content = %q", idx, res.Content)
		}
	}

	// Chapters of other stories are not visible.
	res := reg.Execute(WithStory(context.Background(), "other"), call("read_chapter", `{"index": 0}`))
	if res.Content != NotFoundChapter(0) {
		t.Errorf("cross-story read: %q", res.Content)
	}
}

func TestReadChapterBadInput(t *testing.T) {
	reg := NewStoryRegistry(newFakeStore())
	ctx := WithStory(context.Background(), "s1")

	if res := reg.Execute(ctx, call("read_chapter", `{}`)); !res.IsError {
		t.Error("missing index should be an error result")
	}
	if res := reg.Execute(ctx, call("read_chapter", `{"index": "x"}`)); !res.IsError {
		t.Error("malformed input should be an error result")
	}
	if res := reg.Execute(context.Background(), call("read_chapter", `{"index": 0}`)); !res.IsError {
		t.Error("missing story scope should be an error result")
	}
}

func TestReadWorldEntity(t *testing.T) {
	reg := NewStoryRegistry(newFakeStore())
	ctx := WithStory(context.Background(), "s1")

	tests := []struct {
		query string
		want  string
	}{
		{"Captain Mira Vell", "Captain Mira Vell"},
		{"mira", "Captain Mira Vell"},
		{"port", "Port Ash"},
		{"Port Ashe", "Port Ash"},
		{"mirror", "Mirror of Tides"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res := reg.Execute(ctx, call("read_world_entity", fmt.Sprintf(`{"name": %q}`, tt.query)))
			if res.IsError {
				t.Fatalf("unexpected error: %s", res.Content)
			}
			if !strings.Contains(res.Content, tt.want) {
				t.Errorf("content = %q, want it to mention %q", res.Content, tt.want)
			}
			if !strings.HasPrefix(res.Status, "Found in codex") {
				t.Errorf("status = %q", res.Status)
			}
		})
	}
}

func TestReadWorldEntityDetails(t *testing.T) {
	reg := NewStoryRegistry(newFakeStore())
	ctx := WithStory(context.Background(), "s1")

	res := reg.Execute(ctx, call("read_world_entity", `{"name": "Captain Mira Vell"}`))
	for _, want := range []string{"[character]", "ID: e1", "Smuggler", "- age: 34", "- ship: Gull"} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("content missing %q: %q", want, res.Content)
		}
	}
	if strings.Contains(res.Content, "Mirror of Tides") {
		t.Error("exact match should hide weaker candidates")
	}
}

func TestReadWorldEntityNotFound(t *testing.T) {
	reg := NewStoryRegistry(newFakeStore())
	ctx := WithStory(context.Background(), "s1")

	res := reg.Execute(ctx, call("read_world_entity", `{"name": "Dragon"}`))
	if res.IsError {
		t.Fatal("not-found must not be an error result")
	}
	if res.Content != NotFoundEntity("Dragon") {
		t.Errorf("content = %q", res.Content)
	}
	if res := reg.Execute(ctx, call("read_world_entity", `{"name": "  "}`)); !res.IsError {
		t.Error("blank name should be an error result")
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewStoryRegistry(newFakeStore())
	res := reg.Execute(context.Background(), call("web_search", `{}`))
	if !res.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(res.Content, "read_chapter, read_world_entity") {
		t.Errorf("content should list available tools: %q", res.Content)
	}
}

func TestRegistryList(t *testing.T) {
	defs := NewStoryRegistry(newFakeStore()).List()
	if len(defs) != 2 || defs[0].Name != "read_chapter" || defs[1].Name != "read_world_entity" {
		t.Fatalf("defs = %+v", defs)
	}
	for _, d := range defs {
		var schema map[string]any
		if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
			t.Errorf("%s schema: %v", d.Name, err)
		}
	}
}

func TestBoundedLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		max  int
		want int // -1 means nil
	}{
		{"mira", "mira", 1, 0},
		{"mira", "mirra", 1, 1},
		{"prtash", "portash", 1, 1},
		{"abc", "xyz", 1, -1},
		{"a", "abcdef", 2, -1},
		{"", "abc", 3, -1},
	}
	for _, tt := range tests {
		got := boundedLevenshtein(tt.a, tt.b, tt.max)
		if tt.want < 0 {
			if got != nil {
				t.Errorf("boundedLevenshtein(%q, %q) = %d, want nil", tt.a, tt.b, *got)
			}
			continue
		}
		if got == nil || *got != tt.want {
			t.Errorf("boundedLevenshtein(%q, %q) = %v, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
