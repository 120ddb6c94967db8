package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MonthlyUsage holds one (user, "YYYY-MM") counter row.
// WordsGenerated == WordsPremium + WordsFreeExtra under correct accounting.
type MonthlyUsage struct {
	UserID            string `json:"user_id"`
	Month             string `json:"month"`
	ChaptersGenerated int64  `json:"chapters_generated"`
	WordsGenerated    int64  `json:"words_generated"`
	WordsPremium      int64  `json:"words_premium"`
	WordsFreeExtra    int64  `json:"words_free_extra"`
}

// UsageDelta is an additive change applied to a MonthlyUsage row.
type UsageDelta struct {
	Chapters  int64
	Words     int64
	Premium   int64
	FreeExtra int64
}

// UsageLogEntry is one billed generation. Append-only.
type UsageLogEntry struct {
	ID             string
	UserID         string
	Tier           string
	SessionType    string
	ModelRequested string
	ModelUsed      string
	TokensIn       int64
	TokensOut      int64
	CostEstimated  decimal.Decimal
	PriceCharged   decimal.Decimal
	Success        bool
	ErrorMessage   string
	CreatedAt      time.Time
}

// GetMonthlyUsage returns the row for (user, month), or a zero row if absent.
func (s *Store) GetMonthlyUsage(ctx context.Context, userID, month string) (MonthlyUsage, error) {
	u := MonthlyUsage{UserID: userID, Month: month}
	err := s.db.QueryRowContext(ctx,
		`SELECT chapters_generated, words_generated, words_premium, words_free_extra
		 FROM monthly_usage WHERE user_id = ? AND month = ?`, userID, month,
	).Scan(&u.ChaptersGenerated, &u.WordsGenerated, &u.WordsPremium, &u.WordsFreeExtra)
	if errors.Is(err, sql.ErrNoRows) {
		return u, nil
	}
	if err != nil {
		return u, fmt.Errorf("get monthly usage: %w", err)
	}
	return u, nil
}

// IncrementUsage adds d to the (user, month) row in one statement, creating the
// row on first use. Concurrent increments never lose updates.
func (s *Store) IncrementUsage(ctx context.Context, userID, month string, d UsageDelta) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO monthly_usage (user_id, month, chapters_generated, words_generated, words_premium, words_free_extra)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, month) DO UPDATE SET
		   chapters_generated = chapters_generated + excluded.chapters_generated,
		   words_generated = words_generated + excluded.words_generated,
		   words_premium = words_premium + excluded.words_premium,
		   words_free_extra = words_free_extra + excluded.words_free_extra,
		   updated_at = unixepoch()`,
		userID, month, d.Chapters, d.Words, d.Premium, d.FreeExtra,
	)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

// RecordBilledGeneration appends the log entry and debits the charged price from
// the user's balance in one transaction. Either both land or neither does.
func (s *Store) RecordBilledGeneration(ctx context.Context, e UsageLogEntry) (decimal.Decimal, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	var balance decimal.Decimal
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ai_usage_logs (id, user_id, tier, session_type, model_requested, model_used,
			   tokens_in, tokens_out, cost_estimated, price_charged, success, error_message, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.UserID, e.Tier, e.SessionType, e.ModelRequested, e.ModelUsed,
			e.TokensIn, e.TokensOut, e.CostEstimated.String(), e.PriceCharged.String(),
			e.Success, e.ErrorMessage, e.CreatedAt.Unix(),
		); err != nil {
			return fmt.Errorf("insert usage log: %w", err)
		}
		var err error
		balance, err = adjustBalance(ctx, tx, e.UserID, e.PriceCharged.Neg())
		return err
	})
	return balance, err
}

// ListUsageLogs returns the newest entries for a user, for audit tooling.
func (s *Store) ListUsageLogs(ctx context.Context, userID string, limit int) ([]UsageLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, tier, session_type, model_requested, model_used, tokens_in, tokens_out,
		   cost_estimated, price_charged, success, error_message, created_at
		 FROM ai_usage_logs WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage logs: %w", err)
	}
	defer rows.Close()

	var out []UsageLogEntry
	for rows.Next() {
		var (
			e             UsageLogEntry
			cost, charged string
			created       int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Tier, &e.SessionType, &e.ModelRequested, &e.ModelUsed,
			&e.TokensIn, &e.TokensOut, &cost, &charged, &e.Success, &e.ErrorMessage, &created); err != nil {
			return nil, fmt.Errorf("scan usage log: %w", err)
		}
		e.CostEstimated, _ = decimal.NewFromString(cost)
		e.PriceCharged, _ = decimal.NewFromString(charged)
		e.CreatedAt = time.Unix(created, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}
