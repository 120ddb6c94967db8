package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/costory/costory/internal/db"
)

// ChapterReader loads one chapter of a story.
type ChapterReader interface {
	GetChapterByIndex(ctx context.Context, storyID string, index int) (*db.Chapter, error)
}

// ReadChapterTool returns the full text of a chapter in the current story.
type ReadChapterTool struct {
	chapters ChapterReader
}

// NewReadChapterTool creates a read_chapter tool
func NewReadChapterTool(chapters ChapterReader) *ReadChapterTool {
	return &ReadChapterTool{chapters: chapters}
}

func (t *ReadChapterTool) Name() string {
	return "read_chapter"
}

func (t *ReadChapterTool) Description() string {
	return `Read the full text of a chapter of the current story by its index.
Chapter indexes start at 0. Use this when you need details from a chapter other than the one being written.`
}

func (t *ReadChapterTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"index": {
				"type": "integer",
				"description": "Chapter index, starting at 0"
			}
		},
		"required": ["index"]
	}`)
}

// ReadChapterInput represents the tool input
type ReadChapterInput struct {
	Index *int `json:"index"`
}

// NotFoundChapter is the result text for a missing chapter.
func NotFoundChapter(index int) string {
	return fmt.Sprintf("[NOT FOUND] Chapter %d does not exist in this story.", index)
}

func (t *ReadChapterTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var in ReadChapterInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Index == nil {
		return &ToolResult{Content: "Error: index is required", IsError: true}, nil
	}
	storyID, ok := StoryFrom(ctx)
	if !ok {
		return nil, errors.New("no story in scope")
	}

	index := *in.Index
	status := fmt.Sprintf("Reading chapter %d...", index)
	if index < 0 {
		return &ToolResult{Content: NotFoundChapter(index), Status: status}, nil
	}

	ch, err := t.chapters.GetChapterByIndex(ctx, storyID, index)
	if errors.Is(err, db.ErrNotFound) {
		return &ToolResult{Content: NotFoundChapter(index), Status: status}, nil
	}
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Chapter %d: %s\n\n", ch.Index, ch.Title)
	if strings.TrimSpace(ch.Content) == "" {
		sb.WriteString("(empty chapter)")
	} else {
		sb.WriteString(ch.Content)
	}
	return &ToolResult{Content: sb.String(), Status: status}, nil
}
