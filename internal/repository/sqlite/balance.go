package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/waste-rewards/internal/apperror"
	"github.com/sakif/waste-rewards/internal/model"
)

const balanceColumns = `user_id, points, level, is_available, version, created_at, updated_at`

// EnsureBalance is the atomic get-or-create for a balance row.
//
// WHY NOT SELECT-THEN-INSERT?
// Two callers can both SELECT "no row" and both INSERT. With
// ON CONFLICT (user_id) DO NOTHING the insert itself decides the winner:
// the loser's insert is a no-op, and the SELECT that follows returns the
// winner's row. No duplicate, no error.
func (t *tx) EnsureBalance(ctx context.Context, userID string) (*model.RewardBalance, error) {
	now := time.Now().UTC()
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO reward_balances (`+balanceColumns+`)
		 VALUES (?, ?, ?, 1, 0, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, model.InitialPoints, model.InitialLevel, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ensuring balance for user %s: %w", userID, err)
	}
	return getBalance(ctx, t.q, userID)
}

// LockBalance is EnsureBalance. The immediate transaction already holds the
// database write lock, so the row cannot change under us until commit.
func (t *tx) LockBalance(ctx context.Context, userID string) (*model.RewardBalance, error) {
	return t.EnsureBalance(ctx, userID)
}

// UpdateBalance writes b back if nobody else has written since it was read.
//
// The WHERE version = ? clause is the optimistic half of the concurrency
// control. Under an immediate transaction it can't fire, but it turns any
// future misuse (a write outside RunInTx, a stale copy) into a clean
// ErrConcurrency instead of a lost update.
func (t *tx) UpdateBalance(ctx context.Context, b *model.RewardBalance) error {
	now := time.Now().UTC()
	result, err := t.q.ExecContext(ctx,
		`UPDATE reward_balances
		 SET points = ?, level = ?, is_available = ?, version = version + 1, updated_at = ?
		 WHERE user_id = ? AND version = ?`,
		b.Points, b.Level, b.IsAvailable, now, b.UserID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating balance for user %s: %w", b.UserID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.ConcurrencyConflict("update balance", nil)
	}

	b.Version++
	b.UpdatedAt = now
	return nil
}

// GetBalance reads a balance without creating it.
func (db *DB) GetBalance(ctx context.Context, userID string) (*model.RewardBalance, error) {
	b, err := getBalance(ctx, db.conn, userID)
	if err != nil {
		return nil, classify("sqlite: getting balance", err)
	}
	return b, nil
}

// ListBalanceUserIDs returns the owners of every balance row, for audits.
func (db *DB) ListBalanceUserIDs(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT user_id FROM reward_balances ORDER BY user_id`)
	if err != nil {
		return nil, classify("sqlite: listing balances", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("sqlite: scanning balance row", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("sqlite: iterating balances", err)
	}
	return ids, nil
}

func getBalance(ctx context.Context, q querier, userID string) (*model.RewardBalance, error) {
	var b model.RewardBalance
	err := q.QueryRowContext(ctx,
		`SELECT `+balanceColumns+` FROM reward_balances WHERE user_id = ?`,
		userID,
	).Scan(
		&b.UserID,
		&b.Points,
		&b.Level,
		&b.IsAvailable,
		&b.Version,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("balance", userID)
		}
		return nil, fmt.Errorf("sqlite: getting balance for user %s: %w", userID, err)
	}
	return &b, nil
}
