// Package action decodes the [[ACTION: {...}]] block an assistant reply may
// end with. Models do not always emit strict JSON, so decoding tolerates bare
// object keys and raw newlines or tabs inside string values.
package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Type is the discriminant of an action.
type Type string

const (
	UpdateStoryTitle     Type = "update_story_title"
	UpdateChapterTitle   Type = "update_chapter_title"
	UpdateChapterContent Type = "update_chapter_content"
	CreateChapter        Type = "create_chapter"
	AppendChapterContent Type = "append_chapter_content"
	CreateWorldEntity    Type = "create_world_entity"
	UpdateWorldEntity    Type = "update_world_entity"
)

const (
	openTag  = "[[ACTION:"
	closeTag = "]]"
)

var (
	// ErrNoAction means the content carries no action block.
	ErrNoAction = errors.New("no action block")
	// ErrUnknownType means the block decoded but its type is not one we handle.
	ErrUnknownType = errors.New("unknown action type")
)

// Action is a tagged union: exactly the payload matching Type is set.
type Action struct {
	Type Type

	Title   *TitleData
	Content *ContentData
	Chapter *ChapterData
	Entity  *EntityData
}

type TitleData struct {
	Title string `json:"title"`
}

type ContentData struct {
	Content string `json:"content"`
}

type ChapterData struct {
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
}

type EntityData struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Parse splits content into the visible reply text and the trailing action,
// if any. Only the last block counts. When the block is present but cannot be
// decoded the text is still returned, along with the error.
func Parse(content string) (string, *Action, error) {
	start := strings.LastIndex(content, openTag)
	if start < 0 {
		return content, nil, ErrNoAction
	}
	body := content[start+len(openTag):]
	end := matchingClose(body)
	if end < 0 {
		return content, nil, fmt.Errorf("unterminated action block")
	}
	text := strings.TrimSpace(content[:start] + body[end+len(closeTag):])

	act, err := Decode(strings.TrimSpace(body[:end]))
	if err != nil {
		return text, nil, err
	}
	return text, act, nil
}

// matchingClose finds the "]]" closing the block, skipping brackets that
// appear inside the JSON payload or its strings.
func matchingClose(body string) int {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(body); i++ {
		c := body[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}':
			depth--
		case ']':
			if depth == 0 && strings.HasPrefix(body[i:], closeTag) {
				return i
			}
			depth--
		}
	}
	return -1
}

// Decode parses one action payload, first strictly and then after repair.
func Decode(raw string) (*Action, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		repaired := Repair(raw)
		if err2 := json.Unmarshal([]byte(repaired), &env); err2 != nil {
			return nil, fmt.Errorf("decode action: %w", err)
		}
	}
	return fromEnvelope(env)
}

func fromEnvelope(env envelope) (*Action, error) {
	act := &Action{Type: env.Type}
	data := env.Data
	if len(bytes.TrimSpace(data)) == 0 || string(bytes.TrimSpace(data)) == "null" {
		data = json.RawMessage(`{}`)
	}

	var target any
	switch env.Type {
	case UpdateStoryTitle, UpdateChapterTitle:
		act.Title = &TitleData{}
		target = act.Title
	case UpdateChapterContent, AppendChapterContent:
		act.Content = &ContentData{}
		target = act.Content
	case CreateChapter:
		act.Chapter = &ChapterData{}
		target = act.Chapter
	case CreateWorldEntity, UpdateWorldEntity:
		act.Entity = &EntityData{}
		target = act.Entity
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("decode %s data: %w", env.Type, err)
	}
	if env.Type == UpdateWorldEntity && act.Entity.ID == "" {
		return nil, fmt.Errorf("%s requires an id", env.Type)
	}
	return act, nil
}

var bareKey = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)

// Repair quotes bare object keys and escapes raw control characters inside
// string values. It does not try to fix anything else.
func Repair(raw string) string {
	var sb strings.Builder
	sb.Grow(len(raw) + 16)

	// Escape control characters in strings first so key quoting below only
	// ever sees structural text.
	inString, escaped := false, false
	var outside strings.Builder
	var segments []string // alternating: outside, string, outside, ...
	var cur strings.Builder
	for _, r := range raw {
		if inString {
			switch {
			case escaped:
				escaped = false
				cur.WriteRune(r)
			case r == '\\':
				escaped = true
				cur.WriteRune(r)
			case r == '"':
				cur.WriteRune(r)
				segments = append(segments, cur.String())
				cur.Reset()
				inString = false
			case r == '\n':
				cur.WriteString(`\n`)
			case r == '\r':
				cur.WriteString(`\r`)
			case r == '\t':
				cur.WriteString(`\t`)
			default:
				cur.WriteRune(r)
			}
			continue
		}
		if r == '"' {
			segments = append(segments, outside.String())
			outside.Reset()
			cur.WriteRune(r)
			inString = true
			continue
		}
		outside.WriteRune(r)
	}
	if inString {
		segments = append(segments, cur.String())
	} else {
		segments = append(segments, outside.String())
	}

	for i, seg := range segments {
		if i%2 == 0 {
			seg = bareKey.ReplaceAllString(seg, `$1"$2"$3`)
		}
		sb.WriteString(seg)
	}
	return sb.String()
}

// Format renders an action as the block a model is asked to emit. The payload
// set on a must be exactly the one its Type carries.
func Format(a Action) (string, error) {
	var data any
	var set bool
	switch a.Type {
	case UpdateStoryTitle, UpdateChapterTitle:
		data, set = a.Title, a.Title != nil
	case UpdateChapterContent, AppendChapterContent:
		data, set = a.Content, a.Content != nil
	case CreateChapter:
		data, set = a.Chapter, a.Chapter != nil
	case CreateWorldEntity, UpdateWorldEntity:
		data, set = a.Entity, a.Entity != nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, a.Type)
	}
	if !set || payloads(a) != 1 {
		return "", fmt.Errorf("%s: payload does not match the action type", a.Type)
	}
	if a.Type == UpdateWorldEntity && a.Entity.ID == "" {
		return "", fmt.Errorf("%s requires an id", a.Type)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(envelope{Type: a.Type, Data: raw})
	if err != nil {
		return "", err
	}
	return openTag + " " + string(b) + closeTag, nil
}

func payloads(a Action) int {
	n := 0
	for _, set := range []bool{a.Title != nil, a.Content != nil, a.Chapter != nil, a.Entity != nil} {
		if set {
			n++
		}
	}
	return n
}

// WordCount counts the words an action writes into the story. Title and
// codex changes count as zero.
func WordCount(a *Action) int {
	if a == nil {
		return 0
	}
	switch {
	case a.Content != nil:
		return Words(a.Content.Content)
	case a.Chapter != nil:
		return Words(a.Chapter.Content)
	}
	return 0
}

// Words counts whitespace-separated words.
func Words(s string) int {
	return len(strings.Fields(s))
}
