package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type Story struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Summary     string `json:"summary"`
}

type Chapter struct {
	ID      string `json:"id"`
	StoryID string `json:"story_id"`
	Index   int    `json:"chapter_index"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Summary string `json:"summary"`
}

// WorldEntity is one codex record: a character, location, item or lore entry.
type WorldEntity struct {
	ID          string            `json:"id"`
	StoryID     string            `json:"story_id"`
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

func (s *Store) GetStory(ctx context.Context, storyID string) (*Story, error) {
	var st Story
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, description, summary FROM stories WHERE id = ?`, storyID,
	).Scan(&st.ID, &st.UserID, &st.Title, &st.Description, &st.Summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("story %s: %w", storyID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get story: %w", err)
	}
	return &st, nil
}

func (s *Store) CreateStory(ctx context.Context, st Story) (string, error) {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stories (id, user_id, title, description, summary) VALUES (?, ?, ?, ?, ?)`,
		st.ID, st.UserID, st.Title, st.Description, st.Summary)
	if err != nil {
		return "", fmt.Errorf("create story: %w", err)
	}
	return st.ID, nil
}

// GetChapterByIndex returns ErrNotFound when the story has no chapter at index.
func (s *Store) GetChapterByIndex(ctx context.Context, storyID string, index int) (*Chapter, error) {
	var c Chapter
	err := s.db.QueryRowContext(ctx,
		`SELECT id, story_id, chapter_index, title, content, summary FROM chapters
		 WHERE story_id = ? AND chapter_index = ?`, storyID, index,
	).Scan(&c.ID, &c.StoryID, &c.Index, &c.Title, &c.Content, &c.Summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chapter %d of %s: %w", index, storyID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chapter: %w", err)
	}
	return &c, nil
}

// ListChapters returns chapters ordered by index.
func (s *Store) ListChapters(ctx context.Context, storyID string) ([]Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, story_id, chapter_index, title, content, summary FROM chapters
		 WHERE story_id = ? ORDER BY chapter_index ASC`, storyID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()
	var out []Chapter
	for rows.Next() {
		var c Chapter
		if err := rows.Scan(&c.ID, &c.StoryID, &c.Index, &c.Title, &c.Content, &c.Summary); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpsertChapter(ctx context.Context, c Chapter) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chapters (id, story_id, chapter_index, title, content, summary) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(story_id, chapter_index) DO UPDATE SET
		   title = excluded.title, content = excluded.content, summary = excluded.summary`,
		c.ID, c.StoryID, c.Index, c.Title, c.Content, c.Summary)
	if err != nil {
		return "", fmt.Errorf("upsert chapter: %w", err)
	}
	return c.ID, nil
}

// ListWorldEntities returns every codex entry of a story.
func (s *Store) ListWorldEntities(ctx context.Context, storyID string) ([]WorldEntity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, story_id, name, type, description, attributes FROM world_entities
		 WHERE story_id = ? ORDER BY name ASC`, storyID)
	if err != nil {
		return nil, fmt.Errorf("list world entities: %w", err)
	}
	defer rows.Close()
	var out []WorldEntity
	for rows.Next() {
		var (
			e     WorldEntity
			attrs string
		)
		if err := rows.Scan(&e.ID, &e.StoryID, &e.Name, &e.Type, &e.Description, &attrs); err != nil {
			return nil, fmt.Errorf("scan world entity: %w", err)
		}
		if attrs != "" {
			_ = json.Unmarshal([]byte(attrs), &e.Attributes)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CreateWorldEntity(ctx context.Context, e WorldEntity) (string, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	attrs := []byte("{}")
	if len(e.Attributes) > 0 {
		var err error
		if attrs, err = json.Marshal(e.Attributes); err != nil {
			return "", fmt.Errorf("encode attributes: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO world_entities (id, story_id, name, type, description, attributes) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.StoryID, e.Name, e.Type, e.Description, string(attrs))
	if err != nil {
		return "", fmt.Errorf("create world entity: %w", err)
	}
	return e.ID, nil
}
