// Package service contains the business logic of the rewards ledger.
//
// THE LAYERS:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates, enforces the ledger invariants
//	Repository (data layer)  → atomic units and reads
//
// Services take repository interfaces, never *sqlite.DB or *postgres.DB, so
// the same engine runs on either backend and in tests against a temp file.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/waste-rewards/internal/apperror"
	"github.com/sakif/waste-rewards/internal/model"
	"github.com/sakif/waste-rewards/internal/repository"
)

const (
	// ReportAward is what every accepted report earns.
	ReportAward = 10

	MaxAwardAmount  = 100000
	MaxReasonLength = 100

	DefaultTxTimeout   = 5 * time.Second
	DefaultMaxAttempts = 5
	defaultRetryDelay  = 10 * time.Millisecond
)

// EngineOptions tunes the atomic-unit runner. Zero values take defaults.
type EngineOptions struct {
	// TxTimeout bounds one attempt of an atomic unit.
	TxTimeout time.Duration
	// MaxAttempts bounds retries of a unit that lost a race.
	MaxAttempts int
	// RetryDelay is multiplied by the attempt number between retries.
	RetryDelay time.Duration
}

// PointsEngine is the only code that changes balances.
//
// EVERY MUTATION IS ONE ATOMIC UNIT:
//
//	GetUser → LockBalance → Apply(delta) → UpdateBalance → Recorder.Append
//
// runs inside a single store.RunInTx. The store serializes units for the
// same user, so two calls can never both read the same pre-mutation balance
// and both commit. Notifications are written only after the commit and
// never undo it.
type PointsEngine struct {
	store    repository.LedgerStore
	recorder *Recorder
	notifier *Notifier
	logger   *slog.Logger
	opts     EngineOptions
}

func NewPointsEngine(
	store repository.LedgerStore,
	recorder *Recorder,
	notifier *Notifier,
	logger *slog.Logger,
	opts EngineOptions,
) *PointsEngine {
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = DefaultTxTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	return &PointsEngine{
		store:    store,
		recorder: recorder,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
	}
}

// Redemption is the result of a successful RedeemReward.
type Redemption struct {
	Balance     *model.RewardBalance `json:"balance"`
	Reward      *model.RewardItem    `json:"reward"`
	Transaction *model.Transaction   `json:"transaction"`
}

// ReportSubmission is the result of a successful SubmitReport.
type ReportSubmission struct {
	Report      *model.Report        `json:"report"`
	Balance     *model.RewardBalance `json:"balance"`
	Transaction *model.Transaction   `json:"transaction"`
}

// GetOrCreateBalance returns the user's balance, creating the default row
// (0 points, level 1, available) on first touch. Concurrent first touches
// produce exactly one row; every caller gets that row back.
func (e *PointsEngine) GetOrCreateBalance(ctx context.Context, userID string) (*model.RewardBalance, error) {
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}

	var balance *model.RewardBalance
	err = e.runUnit(ctx, "get balance", func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		b, err := tx.EnsureBalance(ctx, userID)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("getting balance for user %s: %w", userID, err)
	}
	return balance, nil
}

// AwardPoints adds amount to the user's balance and records why.
func (e *PointsEngine) AwardPoints(ctx context.Context, userID string, amount int64, reason string) (*model.RewardBalance, error) {
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}
	reason, err = validateAward(amount, reason)
	if err != nil {
		return nil, err
	}

	var balance *model.RewardBalance
	err = e.runUnit(ctx, "award points", func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		b, _, err := e.award(ctx, tx, userID, amount, reason)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	if err != nil {
		e.logFailure("award points failed", userID, err)
		return nil, fmt.Errorf("awarding %d points to user %s: %w", amount, userID, err)
	}

	e.logger.Info("points awarded",
		slog.String("userID", userID),
		slog.Int64("amount", amount),
		slog.String("reason", reason),
		slog.Int64("balance", balance.Points),
	)
	e.notifier.notifyAfterCommit(ctx, userID, awardMessage(amount, reason))

	return balance, nil
}

// RedeemReward exchanges points for a catalog reward.
//
// The reward lookup, the balance check and the decrement all happen inside
// one unit, so the balance compared against the cost is the one the
// decrement applies to. A redemption the balance can't cover fails with
// apperror.ErrInsufficientPoints and changes nothing.
func (e *PointsEngine) RedeemReward(ctx context.Context, userID, rewardID string) (*Redemption, error) {
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}
	rewardID = strings.TrimSpace(rewardID)
	if rewardID == "" {
		return nil, apperror.ValidationFailed("rewardId", "reward ID is required")
	}

	var result Redemption
	err = e.runUnit(ctx, "redeem reward", func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}

		reward, err := tx.GetRewardItem(ctx, rewardID)
		if err != nil {
			return err
		}
		if !reward.IsAvailable {
			return apperror.ValidationFailed("rewardId",
				fmt.Sprintf("reward %s is not available", reward.ID))
		}

		b, err := tx.LockBalance(ctx, userID)
		if err != nil {
			return err
		}
		if b.Points < reward.PointsCost {
			return apperror.InsufficientPoints(b.Points, reward.PointsCost)
		}

		next := b.Apply(-reward.PointsCost)
		if err := tx.UpdateBalance(ctx, &next); err != nil {
			return err
		}
		txn, err := e.recorder.Append(ctx, tx, userID, model.TxRedeemed,
			-reward.PointsCost, "Redeemed "+reward.Name)
		if err != nil {
			return err
		}

		result = Redemption{Balance: &next, Reward: reward, Transaction: txn}
		return nil
	})
	if err != nil {
		e.logFailure("redeem reward failed", userID, err, slog.String("rewardID", rewardID))
		return nil, fmt.Errorf("redeeming reward %s for user %s: %w", rewardID, userID, err)
	}

	e.logger.Info("reward redeemed",
		slog.String("userID", userID),
		slog.String("rewardID", result.Reward.ID),
		slog.Int64("cost", result.Reward.PointsCost),
		slog.Int64("balance", result.Balance.Points),
	)
	e.notifier.notifyAfterCommit(ctx, userID,
		fmt.Sprintf("You have redeemed %s for %d points.", result.Reward.Name, result.Reward.PointsCost))

	return &result, nil
}

// SubmitReport stores a validated report and awards ReportAward points for
// it in the same unit: either both are committed or neither is, so a caller
// never has to work out whether a failed submission was half-applied.
//
// report.UserID is overwritten with userID.
func (e *PointsEngine) SubmitReport(ctx context.Context, userID string, report *model.Report) (*ReportSubmission, error) {
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, apperror.ValidationFailed("report", "report is required")
	}

	var result ReportSubmission
	err = e.runUnit(ctx, "submit report", func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}

		r := *report
		r.UserID = userID
		if err := tx.CreateReport(ctx, &r); err != nil {
			return err
		}
		b, txn, err := e.award(ctx, tx, userID, ReportAward, model.ReasonReportSubmission)
		if err != nil {
			return err
		}

		result = ReportSubmission{Report: &r, Balance: b, Transaction: txn}
		return nil
	})
	if err != nil {
		e.logFailure("submit report failed", userID, err)
		return nil, fmt.Errorf("submitting report for user %s: %w", userID, err)
	}

	e.logger.Info("report submitted",
		slog.String("userID", userID),
		slog.String("reportID", result.Report.ID),
		slog.Int64("balance", result.Balance.Points),
	)
	e.notifier.notifyAfterCommit(ctx, userID, awardMessage(ReportAward, "reporting waste"))

	return &result, nil
}

// award is the shared body of every earn event. It must run inside a unit.
func (e *PointsEngine) award(ctx context.Context, tx repository.Tx, userID string, amount int64, reason string) (*model.RewardBalance, *model.Transaction, error) {
	b, err := tx.LockBalance(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	next := b.Apply(amount)
	if err := tx.UpdateBalance(ctx, &next); err != nil {
		return nil, nil, err
	}
	txn, err := e.recorder.Append(ctx, tx, userID, model.TypeForReason(reason),
		amount, "Points earned for "+reason)
	if err != nil {
		return nil, nil, err
	}
	return &next, txn, nil
}

// runUnit runs fn as an atomic unit, retrying lost races.
//
// Each attempt gets its own TxTimeout so a stuck store surfaces as an error
// instead of a hung request. Only apperror.ErrConcurrency is retried; after
// MaxAttempts it is returned as is, which callers treat as transient.
func (e *PointsEngine) runUnit(ctx context.Context, op string, fn func(ctx context.Context, tx repository.Tx) error) error {
	var err error
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, e.opts.TxTimeout)
		err = e.store.RunInTx(attemptCtx, fn)
		cancel()

		if err == nil || !errors.Is(err, apperror.ErrConcurrency) {
			return err
		}

		e.logger.Debug("atomic unit lost a race, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		if attempt == e.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * e.opts.RetryDelay):
		}
	}
	return err
}

// logFailure logs store failures at error level and expected rejections
// (validation, insufficient points, unknown ids) at debug.
func (e *PointsEngine) logFailure(msg, userID string, err error, attrs ...any) {
	args := append([]any{slog.String("userID", userID), slog.String("error", err.Error())}, attrs...)
	if apperror.IsRetryable(err) || !isDomainError(err) {
		e.logger.Error(msg, args...)
		return
	}
	e.logger.Debug(msg, args...)
}

func isDomainError(err error) bool {
	var appErr *apperror.AppError
	return errors.As(err, &appErr)
}

func requireUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", apperror.ValidationFailed("userId", "user ID is required")
	}
	return userID, nil
}

func validateAward(amount int64, reason string) (string, error) {
	if amount <= 0 {
		return "", apperror.ValidationFailed("amount", "award amount must be positive")
	}
	if amount > MaxAwardAmount {
		return "", apperror.ValidationFailed("amount",
			fmt.Sprintf("award amount must be %d or less", MaxAwardAmount))
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", apperror.ValidationFailed("reason", "award reason is required")
	}
	if len(reason) > MaxReasonLength {
		return "", apperror.ValidationFailed("reason",
			fmt.Sprintf("award reason must be %d characters or less", MaxReasonLength))
	}
	return reason, nil
}

func awardMessage(amount int64, reason string) string {
	return fmt.Sprintf("You've earned %d points for %s!", amount, reason)
}
