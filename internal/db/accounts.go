package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Account is the slice of a user record the arbitration core reads.
type Account struct {
	ID                 string          `json:"id"`
	Email              string          `json:"email,omitempty"`
	Tier               string          `json:"subscription_tier"`
	SubscriptionStatus string          `json:"subscription_status"`
	CreditBalance      decimal.Decimal `json:"credit_balance"`
	CreatedAt          time.Time       `json:"created_at"`
}

// GetAccount loads a user by id.
func (s *Store) GetAccount(ctx context.Context, userID string) (*Account, error) {
	var (
		a       Account
		balance string
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, subscription_tier, subscription_status, credit_balance, created_at
		 FROM users WHERE id = ?`, userID,
	).Scan(&a.ID, &a.Email, &a.Tier, &a.SubscriptionStatus, &balance, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	a.CreditBalance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("parse credit balance for %s: %w", userID, err)
	}
	a.CreatedAt = time.Unix(created, 0)
	return &a, nil
}

// UpsertAccount inserts or replaces the tier, status and balance of a user.
func (s *Store) UpsertAccount(ctx context.Context, a Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, subscription_tier, subscription_status, credit_balance)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   email = excluded.email,
		   subscription_tier = excluded.subscription_tier,
		   subscription_status = excluded.subscription_status,
		   credit_balance = excluded.credit_balance,
		   updated_at = unixepoch()`,
		a.ID, a.Email, a.Tier, a.SubscriptionStatus, a.CreditBalance.String(),
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// SetSubscription updates tier and status.
func (s *Store) SetSubscription(ctx context.Context, userID, tier, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET subscription_tier = ?, subscription_status = ?, updated_at = unixepoch() WHERE id = ?`,
		tier, status, userID,
	)
	if err != nil {
		return fmt.Errorf("set subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", userID, ErrNotFound)
	}
	return nil
}

// AddCredits adjusts the balance by delta, which may be negative.
func (s *Store) AddCredits(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = adjustBalance(ctx, tx, userID, delta)
		return err
	})
	return out, err
}

// adjustBalance does the decimal arithmetic in Go so the column never
// degrades to a float.
func adjustBalance(ctx context.Context, tx *sql.Tx, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT credit_balance FROM users WHERE id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("account %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}
	current, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance: %w", err)
	}
	next := current.Add(delta)
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET credit_balance = ?, updated_at = unixepoch() WHERE id = ?`,
		next.String(), userID,
	); err != nil {
		return decimal.Zero, fmt.Errorf("write balance: %w", err)
	}
	return next, nil
}

// CountReadingLists counts a user's lists, excluding the default "Saved" list.
func (s *Store) CountReadingLists(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reading_lists WHERE user_id = ? AND name != 'Saved'`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count reading lists: %w", err)
	}
	return n, nil
}

// CreateReadingList inserts a list row.
func (s *Store) CreateReadingList(ctx context.Context, id, userID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reading_lists (id, user_id, name) VALUES (?, ?, ?)`, id, userID, name)
	if err != nil {
		return fmt.Errorf("create reading list: %w", err)
	}
	return nil
}
