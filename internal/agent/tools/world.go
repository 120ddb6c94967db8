package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/costory/costory/internal/db"
)

// EntityReader lists the codex of a story.
type EntityReader interface {
	ListWorldEntities(ctx context.Context, storyID string) ([]db.WorldEntity, error)
}

// maxEntityMatches caps how many codex entries one lookup returns.
const maxEntityMatches = 3

// ReadWorldEntityTool looks up codex entries by approximate name.
type ReadWorldEntityTool struct {
	entities EntityReader
}

// NewReadWorldEntityTool creates a read_world_entity tool
func NewReadWorldEntityTool(entities EntityReader) *ReadWorldEntityTool {
	return &ReadWorldEntityTool{entities: entities}
}

func (t *ReadWorldEntityTool) Name() string {
	return "read_world_entity"
}

func (t *ReadWorldEntityTool) Description() string {
	return `Look up a character, location, item or lore entry of the current story's world codex by name.
Names are matched approximately, so partial names and small typos work. Returns the description and attributes.`
}

func (t *ReadWorldEntityTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {
				"type": "string",
				"description": "Name of the entity to look up"
			}
		},
		"required": ["name"]
	}`)
}

// ReadWorldEntityInput represents the tool input
type ReadWorldEntityInput struct {
	Name string `json:"name"`
}

// NotFoundEntity is the result text when nothing in the codex matches.
func NotFoundEntity(name string) string {
	return fmt.Sprintf("[NOT FOUND] No world entity matches %q in this story.", name)
}

func (t *ReadWorldEntityTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var in ReadWorldEntityInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return &ToolResult{Content: "Error: name is required", IsError: true}, nil
	}
	storyID, ok := StoryFrom(ctx)
	if !ok {
		return nil, errors.New("no story in scope")
	}

	all, err := t.entities.ListWorldEntities(ctx, storyID)
	if err != nil {
		return nil, err
	}

	matches := MatchEntities(name, all)
	if len(matches) == 0 {
		return &ToolResult{
			Content: NotFoundEntity(name),
			Status:  fmt.Sprintf("Nothing about %q in the codex", name),
		}, nil
	}

	names := make([]string, len(matches))
	var sb strings.Builder
	for i, e := range matches {
		names[i] = e.Name
		if i > 0 {
			sb.WriteString("\n\n")
		}
		writeEntity(&sb, e)
	}
	return &ToolResult{
		Content: sb.String(),
		Status:  "Found in codex: " + strings.Join(names, ", "),
	}, nil
}

func writeEntity(sb *strings.Builder, e db.WorldEntity) {
	fmt.Fprintf(sb, "[%s] %s (ID: %s)\n", e.Type, e.Name, e.ID)
	if e.Description != "" {
		sb.WriteString(e.Description)
	} else {
		sb.WriteString("No description")
	}
	if len(e.Attributes) == 0 {
		return
	}
	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(sb, "\n- %s: %s", k, e.Attributes[k])
	}
}

// MatchEntities returns the best matches for query, best first.
func MatchEntities(query string, entities []db.WorldEntity) []db.WorldEntity {
	type scored struct {
		entity db.WorldEntity
		score  int
	}
	var candidates []scored
	for _, e := range entities {
		if s := nameScore(query, e.Name); s > 0 {
			candidates = append(candidates, scored{e, s})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	// An exact hit hides weaker guesses.
	if len(candidates) > 0 && candidates[0].score == scoreExact {
		n := 0
		for n < len(candidates) && candidates[n].score == scoreExact {
			n++
		}
		candidates = candidates[:n]
	}
	if len(candidates) > maxEntityMatches {
		candidates = candidates[:maxEntityMatches]
	}
	out := make([]db.WorldEntity, len(candidates))
	for i, c := range candidates {
		out[i] = c.entity
	}
	return out
}
