package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/waste-rewards/internal/model"
)

// AppendTransaction inserts one ledger entry.
//
// seq is an AUTOINCREMENT rowid, assigned while the unit holds the write
// lock. It never repeats and never goes backwards, which makes it the
// tiebreaker (and in practice the order) for a user's history.
func (t *tx) AppendTransaction(ctx context.Context, txn *model.Transaction) error {
	txn.ID = xid.New().String()
	txn.CreatedAt = time.Now().UTC()

	result, err := t.q.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, type, amount, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.UserID,
		string(txn.Type),
		txn.Amount,
		txn.Description,
		txn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: appending transaction for user %s: %w", txn.UserID, err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading transaction seq: %w", err)
	}
	txn.Seq = seq
	return nil
}

// ListTransactions returns the user's full history, oldest first.
func (db *DB) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, seq, user_id, type, amount, description, created_at
		 FROM transactions
		 WHERE user_id = ?
		 ORDER BY seq ASC`,
		userID,
	)
	if err != nil {
		return nil, classify("sqlite: listing transactions", err)
	}
	defer rows.Close()

	txs := make([]model.Transaction, 0)
	for rows.Next() {
		var t model.Transaction
		var typ string
		if err := rows.Scan(
			&t.ID, &t.Seq, &t.UserID, &typ, &t.Amount, &t.Description, &t.CreatedAt,
		); err != nil {
			return nil, classify("sqlite: scanning transaction row", err)
		}
		t.Type = model.TransactionType(typ)
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("sqlite: iterating transactions", err)
	}
	return txs, nil
}
