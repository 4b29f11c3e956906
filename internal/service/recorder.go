package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/waste-rewards/internal/apperror"
	"github.com/sakif/waste-rewards/internal/model"
	"github.com/sakif/waste-rewards/internal/repository"
)

// snapshotAttempts bounds how often Reconcile re-reads when a write lands
// between its balance read and its history read.
const snapshotAttempts = 3

// Recorder is the Transaction Recorder: the only writer of ledger entries
// and the read side used for audits.
type Recorder struct {
	store  repository.LedgerStore
	logger *slog.Logger
}

func NewRecorder(store repository.LedgerStore, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Append records one entry inside an atomic unit. There is deliberately no
// way to append outside a unit: an entry without its balance change would
// stop the history from summing to the balance the moment it committed.
//
// The sign of amount must match the type: earn types are positive,
// redemptions negative.
func (r *Recorder) Append(ctx context.Context, tx repository.Tx, userID string, typ model.TransactionType, amount int64, description string) (*model.Transaction, error) {
	switch {
	case amount == 0:
		return nil, apperror.ValidationFailed("amount", "transaction amount must not be zero")
	case typ.IsEarn() && amount < 0:
		return nil, apperror.ValidationFailed("amount", fmt.Sprintf("%s amount must be positive", typ))
	case typ == model.TxRedeemed && amount > 0:
		return nil, apperror.ValidationFailed("amount", "redeemed amount must be negative")
	case !typ.IsEarn() && typ != model.TxRedeemed:
		return nil, apperror.ValidationFailed("type", fmt.Sprintf("unknown transaction type %q", typ))
	}

	txn := &model.Transaction{
		UserID:      userID,
		Type:        typ,
		Amount:      amount,
		Description: strings.TrimSpace(description),
	}
	if err := tx.AppendTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("appending %s transaction: %w", typ, err)
	}
	return txn, nil
}

// History returns the user's entries, oldest first.
func (r *Recorder) History(ctx context.Context, userID string) ([]model.Transaction, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperror.ValidationFailed("userId", "user ID is required")
	}

	txs, err := r.store.ListTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions for user %s: %w", userID, err)
	}
	return txs, nil
}

// Reconciliation compares a stored balance with the replay of its history.
type Reconciliation struct {
	UserID       string `json:"userId"`
	Stored       int64  `json:"stored"`
	Replayed     int64  `json:"replayed"`
	Transactions int    `json:"transactions"`
	Consistent   bool   `json:"consistent"`
}

// Reconcile replays the user's history and checks it against the stored
// balance. A registered user who never touched the ledger reconciles as
// zero against an empty history; an unknown id is apperror.ErrNotFound.
//
// SNAPSHOT WITHOUT A LOCK:
// Every commit that appends an entry also bumps the balance version. So if
// the version is the same before and after reading the history, nothing was
// committed in between and the two reads describe the same instant.
func (r *Recorder) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperror.ValidationFailed("userId", "user ID is required")
	}

	for attempt := 1; ; attempt++ {
		before, err := r.storedBalance(ctx, userID)
		if err != nil {
			return nil, err
		}
		if before.Version < 0 && attempt == 1 {
			if err := r.requireUser(ctx, userID); err != nil {
				return nil, err
			}
		}
		txs, err := r.store.ListTransactions(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("listing transactions for user %s: %w", userID, err)
		}
		after, err := r.storedBalance(ctx, userID)
		if err != nil {
			return nil, err
		}

		if before.Version != after.Version {
			if attempt < snapshotAttempts {
				continue
			}
			return nil, apperror.ConcurrencyConflict("reconcile", nil)
		}

		replayed := model.SumAmounts(txs)
		return &Reconciliation{
			UserID:       userID,
			Stored:       after.Points,
			Replayed:     replayed,
			Transactions: len(txs),
			Consistent:   replayed == after.Points,
		}, nil
	}
}

func (r *Recorder) requireUser(ctx context.Context, userID string) error {
	return r.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.GetUser(ctx, userID)
		return err
	})
}

// storedBalance reads the balance row, treating "never created" as zero.
func (r *Recorder) storedBalance(ctx context.Context, userID string) (model.RewardBalance, error) {
	b, err := r.store.GetBalance(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return model.RewardBalance{UserID: userID, Version: -1}, nil
	}
	if err != nil {
		return model.RewardBalance{}, fmt.Errorf("reading balance for user %s: %w", userID, err)
	}
	return *b, nil
}

// ReconcileAll audits every balance row and logs each inconsistency.
// It keeps going past per-user failures and returns the first of them.
func (r *Recorder) ReconcileAll(ctx context.Context) ([]Reconciliation, error) {
	ids, err := r.store.ListBalanceUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing balances: %w", err)
	}

	results := make([]Reconciliation, 0, len(ids))
	var firstErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		rec, err := r.Reconcile(ctx, id)
		if err != nil {
			r.logger.Warn("reconcile failed", slog.String("userID", id), slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !rec.Consistent {
			r.logger.Error("ledger inconsistency",
				slog.String("userID", id),
				slog.Int64("stored", rec.Stored),
				slog.Int64("replayed", rec.Replayed),
				slog.Int("transactions", rec.Transactions),
			)
		}
		results = append(results, *rec)
	}
	return results, firstErr
}
