package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ChatTurn is one persisted chat message for a story.
type ChatTurn struct {
	ID         int64     `json:"id"`
	StoryID    string    `json:"story_id"`
	Role       string    `json:"role"` // user, assistant
	Content    string    `json:"content"`
	Summarized bool      `json:"summarized"`
	CreatedAt  time.Time `json:"created_at"`
}

// SessionManager owns per-story chat history and its rolling summary.
type SessionManager struct {
	store *Store
}

// NewSessionManager creates a session manager from a Store
func NewSessionManager(store *Store) *SessionManager {
	return &SessionManager{store: store}
}

// AppendTurn persists a chat message and returns its id.
func (m *SessionManager) AppendTurn(ctx context.Context, storyID, role, content string) (int64, error) {
	res, err := m.store.db.ExecContext(ctx,
		`INSERT INTO story_chats (story_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		storyID, role, content, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("append chat turn: %w", err)
	}
	return res.LastInsertId()
}

// RecentTurns returns up to limit latest turns in chronological order.
func (m *SessionManager) RecentTurns(ctx context.Context, storyID string, limit int) ([]ChatTurn, error) {
	rows, err := m.store.db.QueryContext(ctx,
		`SELECT id, story_id, role, content, summarized, created_at FROM (
		   SELECT * FROM story_chats WHERE story_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`, storyID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	return scanTurns(rows)
}

// UnsummarizedBeyond returns turns older than the keep most recent ones that have
// not yet been folded into the summary, oldest first.
func (m *SessionManager) UnsummarizedBeyond(ctx context.Context, storyID string, keep int) ([]ChatTurn, error) {
	rows, err := m.store.db.QueryContext(ctx,
		`SELECT id, story_id, role, content, summarized, created_at FROM story_chats
		 WHERE story_id = ? AND summarized = 0 AND id NOT IN (
		   SELECT id FROM story_chats WHERE story_id = ? ORDER BY id DESC LIMIT ?
		 )
		 ORDER BY id ASC`, storyID, storyID, keep)
	if err != nil {
		return nil, fmt.Errorf("unsummarized turns: %w", err)
	}
	return scanTurns(rows)
}

func scanTurns(rows *sql.Rows) ([]ChatTurn, error) {
	defer rows.Close()
	var out []ChatTurn
	for rows.Next() {
		var (
			t       ChatTurn
			created int64
		)
		if err := rows.Scan(&t.ID, &t.StoryID, &t.Role, &t.Content, &t.Summarized, &created); err != nil {
			return nil, fmt.Errorf("scan chat turn: %w", err)
		}
		t.CreatedAt = time.Unix(created, 0)
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetSummary retrieves the rolling summary for a story (empty if none).
func (m *SessionManager) GetSummary(ctx context.Context, storyID string) (string, error) {
	var summary string
	err := m.store.db.QueryRowContext(ctx,
		`SELECT summary FROM chat_summaries WHERE story_id = ?`, storyID).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get summary: %w", err)
	}
	return summary, nil
}

// ApplySummary overwrites the rolling summary and marks the folded turns as
// summarized in one transaction.
func (m *SessionManager) ApplySummary(ctx context.Context, storyID, summary string, turnIDs []int64) error {
	return m.store.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_summaries (story_id, summary, updated_at) VALUES (?, ?, unixepoch())
			 ON CONFLICT(story_id) DO UPDATE SET summary = excluded.summary, updated_at = unixepoch()`,
			storyID, summary,
		); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
		if len(turnIDs) == 0 {
			return nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(turnIDs)), ",")
		args := make([]any, 0, len(turnIDs)+1)
		args = append(args, storyID)
		for _, id := range turnIDs {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE story_chats SET summarized = 1 WHERE story_id = ? AND id IN (`+placeholders+`)`,
			args...,
		); err != nil {
			return fmt.Errorf("flag summarized turns: %w", err)
		}
		return nil
	})
}

// Clear deletes all chat turns and the summary for a story.
func (m *SessionManager) Clear(ctx context.Context, storyID string) error {
	return m.store.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM story_chats WHERE story_id = ?`, storyID); err != nil {
			return fmt.Errorf("clear chat: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_summaries WHERE story_id = ?`, storyID); err != nil {
			return fmt.Errorf("clear summary: %w", err)
		}
		return nil
	})
}
