package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/xid"

	"github.com/sakif/waste-rewards/internal/apperror"
	"github.com/sakif/waste-rewards/internal/model"
)

const balanceColumns = `user_id, points, level, is_available, version, created_at, updated_at`

func (t *tx) GetUser(ctx context.Context, userID string) (*model.User, error) {
	u, err := scanUser(t.q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("user", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: getting user %s: %w", userID, err)
	}
	return u, nil
}

func (t *tx) EnsureBalance(ctx context.Context, userID string) (*model.RewardBalance, error) {
	if err := t.insertDefaultBalance(ctx, userID); err != nil {
		return nil, err
	}
	return getBalance(ctx, t.q, userID, false)
}

// LockBalance inserts the default row if needed and then locks it.
// Under READ COMMITTED the loser of a concurrent insert waits for the
// winner and its ON CONFLICT DO NOTHING then sees the committed row.
func (t *tx) LockBalance(ctx context.Context, userID string) (*model.RewardBalance, error) {
	if err := t.insertDefaultBalance(ctx, userID); err != nil {
		return nil, err
	}
	return getBalance(ctx, t.q, userID, true)
}

func (t *tx) insertDefaultBalance(ctx context.Context, userID string) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO reward_balances (`+balanceColumns+`)
		 VALUES ($1, $2, $3, TRUE, 0, NOW(), NOW())
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, model.InitialPoints, model.InitialLevel,
	)
	if err != nil {
		return fmt.Errorf("postgres: ensuring balance for user %s: %w", userID, err)
	}
	return nil
}

func (t *tx) UpdateBalance(ctx context.Context, b *model.RewardBalance) error {
	var updatedAt time.Time
	err := t.q.QueryRow(ctx,
		`UPDATE reward_balances
		 SET points = $1, level = $2, is_available = $3, version = version + 1, updated_at = NOW()
		 WHERE user_id = $4 AND version = $5
		 RETURNING updated_at`,
		b.Points, b.Level, b.IsAvailable, b.UserID, b.Version,
	).Scan(&updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.ConcurrencyConflict("update balance", nil)
	}
	if err != nil {
		return fmt.Errorf("postgres: updating balance for user %s: %w", b.UserID, err)
	}
	b.Version++
	b.UpdatedAt = updatedAt
	return nil
}

func (t *tx) AppendTransaction(ctx context.Context, txn *model.Transaction) error {
	txn.ID = xid.New().String()
	err := t.q.QueryRow(ctx,
		`INSERT INTO transactions (id, user_id, type, amount, description)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING seq, created_at`,
		txn.ID, txn.UserID, string(txn.Type), txn.Amount, txn.Description,
	).Scan(&txn.Seq, &txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: appending transaction for user %s: %w", txn.UserID, err)
	}
	return nil
}

func (t *tx) GetRewardItem(ctx context.Context, id string) (*model.RewardItem, error) {
	return getRewardItem(ctx, t.q, id)
}

func (t *tx) CreateReport(ctx context.Context, r *model.Report) error {
	r.ID = xid.New().String()
	r.Status = model.ReportPending
	err := t.q.QueryRow(ctx,
		`INSERT INTO reports (id, user_id, location, waste_type, amount, image_url, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		r.ID, r.UserID, r.Location, r.WasteType, r.Amount.String(), r.ImageURL, string(r.Status),
	).Scan(&r.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: creating report for user %s: %w", r.UserID, err)
	}
	return nil
}

func (db *DB) GetBalance(ctx context.Context, userID string) (*model.RewardBalance, error) {
	b, err := getBalance(ctx, db.pool, userID, false)
	if err != nil {
		return nil, classify("postgres: getting balance", err)
	}
	return b, nil
}

func (db *DB) ListBalanceUserIDs(ctx context.Context) ([]string, error) {
	rows, err := db.pool.Query(ctx, `SELECT user_id FROM reward_balances ORDER BY user_id`)
	if err != nil {
		return nil, classify("postgres: listing balances", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify("postgres: scanning balances", err)
	}
	return ids, nil
}

func (db *DB) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, seq, user_id, type, amount, description, created_at
		 FROM transactions
		 WHERE user_id = $1
		 ORDER BY seq ASC`,
		userID,
	)
	if err != nil {
		return nil, classify("postgres: listing transactions", err)
	}
	defer rows.Close()

	txs := make([]model.Transaction, 0)
	for rows.Next() {
		var t model.Transaction
		var typ string
		if err := rows.Scan(&t.ID, &t.Seq, &t.UserID, &typ, &t.Amount, &t.Description, &t.CreatedAt); err != nil {
			return nil, classify("postgres: scanning transaction row", err)
		}
		t.Type = model.TransactionType(typ)
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("postgres: iterating transactions", err)
	}
	return txs, nil
}

func getBalance(ctx context.Context, q querier, userID string, forUpdate bool) (*model.RewardBalance, error) {
	query := `SELECT ` + balanceColumns + ` FROM reward_balances WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var b model.RewardBalance
	err := q.QueryRow(ctx, query, userID).Scan(
		&b.UserID, &b.Points, &b.Level, &b.IsAvailable, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("balance", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: getting balance for user %s: %w", userID, err)
	}
	return &b, nil
}
