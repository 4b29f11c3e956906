// Package repository declares the storage contracts the services compose.
//
// THE ATOMIC UNIT:
// Store.RunInTx is the one capability the ledger cannot live without. Every
// balance change runs as
//
//	LockBalance → mutate → UpdateBalance → AppendTransaction
//
// inside a single RunInTx call, so no other operation can observe (or race)
// the intermediate state. Implementations serialize concurrent units for the
// same user: SQLite with immediate write transactions, Postgres with a row
// lock on the balance. If fn returns an error, nothing it did is visible.
package repository

import (
	"context"

	"github.com/sakif/waste-rewards/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// Tx is the set of primitives available inside an atomic unit.
// A Tx must not be used after the fn passed to RunInTx returns.
type Tx interface {
	// GetUser returns apperror.ErrNotFound for unknown ids.
	GetUser(ctx context.Context, userID string) (*model.User, error)

	// EnsureBalance is an atomic get-or-create: it inserts the default row
	// if none exists and returns whichever row survived.
	EnsureBalance(ctx context.Context, userID string) (*model.RewardBalance, error)

	// LockBalance is EnsureBalance plus a write lock on the row that is held
	// until the unit commits or rolls back.
	LockBalance(ctx context.Context, userID string) (*model.RewardBalance, error)

	// UpdateBalance writes Points/Level/IsAvailable if the stored Version
	// still equals b.Version, and bumps b.Version. A mismatch returns
	// apperror.ErrConcurrency.
	UpdateBalance(ctx context.Context, b *model.RewardBalance) error

	// AppendTransaction fills ID, Seq and CreatedAt.
	AppendTransaction(ctx context.Context, t *model.Transaction) error

	GetRewardItem(ctx context.Context, rewardID string) (*model.RewardItem, error)

	CreateReport(ctx context.Context, r *model.Report) error
}

// LedgerStore is the Ledger Store: atomic units plus the read side.
type LedgerStore interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// GetBalance returns apperror.ErrNotFound if the user never touched the ledger.
	GetBalance(ctx context.Context, userID string) (*model.RewardBalance, error)

	// ListTransactions returns a user's history, oldest first.
	ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error)

	// ListBalanceUserIDs returns every user that owns a balance row.
	ListBalanceUserIDs(ctx context.Context) ([]string, error)
}

type UserRepository interface {
	// GetOrCreateByEmail returns the existing user for email or inserts u.
	// Concurrent callers with the same email all get the same row.
	GetOrCreateByEmail(ctx context.Context, u *model.User) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
}

type RewardCatalogRepository interface {
	ListRewardItems(ctx context.Context, availableOnly bool) ([]model.RewardItem, error)
	GetRewardItem(ctx context.Context, id string) (*model.RewardItem, error)
	// UpsertRewardItem is used by the catalog seed only.
	UpsertRewardItem(ctx context.Context, item *model.RewardItem) error
}

type ReportRepository interface {
	ListReportsByUser(ctx context.Context, userID string, opts ListOptions) ([]model.Report, error)
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]model.Notification, error)
	// MarkNotificationRead returns apperror.ErrNotFound unless id belongs to userID.
	MarkNotificationRead(ctx context.Context, userID, id string) (*model.Notification, error)
}

// Store is everything a backend provides. *sqlite.DB and *postgres.DB
// both satisfy it.
type Store interface {
	LedgerStore
	UserRepository
	RewardCatalogRepository
	ReportRepository
	NotificationRepository
	Close() error
}
