package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/waste-rewards/internal/apperror"
	"github.com/sakif/waste-rewards/internal/model"
	"github.com/sakif/waste-rewards/internal/repository"
	sqliteRepo "github.com/sakif/waste-rewards/internal/repository/sqlite"
)

// =========================================================================
// TEST ENVIRONMENT
// =========================================================================
//
// The engine's guarantees are about concurrency, so these tests run against
// a real SQLite file rather than a mock: a mock would only prove that the
// mock serializes. Wrapper stores below inject faults around the real one.

type testEnv struct {
	db       *sqliteRepo.DB
	engine   *PointsEngine
	recorder *Recorder
	notifier *Notifier
	users    *UserService
	reports  *ReportService
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestDB(t *testing.T) *sqliteRepo.DB {
	t.Helper()
	db, err := sqliteRepo.New(filepath.Join(t.TempDir(), "ledger.db"), sqliteRepo.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// newTestEnv wires the services. ledger and notifications default to db.
func newTestEnv(t *testing.T, ledger repository.LedgerStore, notifications repository.NotificationRepository) *testEnv {
	t.Helper()
	db := newTestDB(t)
	if ledger == nil {
		ledger = db
	}
	if notifications == nil {
		notifications = db
	}
	return newTestEnvWithDB(t, db, ledger, notifications)
}

func newTestEnvWithDB(t *testing.T, db *sqliteRepo.DB, ledger repository.LedgerStore, notifications repository.NotificationRepository) *testEnv {
	t.Helper()
	logger := testLogger()
	recorder := NewRecorder(ledger, logger)
	notifier := NewNotifier(notifications, logger)
	engine := NewPointsEngine(ledger, recorder, notifier, logger, EngineOptions{})
	return &testEnv{
		db:       db,
		engine:   engine,
		recorder: recorder,
		notifier: notifier,
		users:    NewUserService(db, logger),
		reports:  NewReportService(engine, db, logger),
	}
}

func (env *testEnv) newUser(t *testing.T, email string) *model.User {
	t.Helper()
	u, err := env.users.Register(context.Background(), email, "Test User")
	require.NoError(t, err)
	return u
}

func (env *testEnv) addReward(t *testing.T, id string, cost int64, available bool) {
	t.Helper()
	item := &model.RewardItem{ID: id, Name: "Reward " + id, PointsCost: cost, IsAvailable: available}
	require.NoError(t, env.db.UpsertRewardItem(context.Background(), item))
}

// assertLedgerConsistent checks that the history sums to the balance and the balance is not negative.
func (env *testEnv) assertLedgerConsistent(t *testing.T, userID string) {
	t.Helper()
	rec, err := env.recorder.Reconcile(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent, "stored %d != replayed %d", rec.Stored, rec.Replayed)
	assert.GreaterOrEqual(t, rec.Stored, int64(0))
}

func (env *testEnv) notifications(t *testing.T, userID string) []model.Notification {
	t.Helper()
	list, err := env.notifier.ListForUser(context.Background(), userID, false)
	require.NoError(t, err)
	return list
}

// =========================================================================
// SCENARIOS
// =========================================================================

func TestAwardPoints_NewUser(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	u := env.newUser(t, "a@example.com")

	b, err := env.engine.AwardPoints(ctx, u.ID, 10, "report submission")
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.Points)
	assert.Equal(t, 1, b.Level)

	txs, err := env.recorder.History(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(10), txs[0].Amount)
	assert.Equal(t, model.TxEarnedReport, txs[0].Type)
	assert.Equal(t, "Points earned for report submission", txs[0].Description)

	notes := env.notifications(t, u.ID)
	require.Len(t, notes, 1)
	assert.Equal(t, "You've earned 10 points for report submission!", notes[0].Message)
	assert.Equal(t, model.NotificationReward, notes[0].Type)
	assert.False(t, notes[0].Read)

	env.assertLedgerConsistent(t, u.ID)
}

func TestRedeemReward_InsufficientPoints(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	u := env.newUser(t, "b@example.com")
	env.addReward(t, "mug", 15, true)

	_, err := env.engine.AwardPoints(ctx, u.ID, 10, "welcome bonus")
	require.NoError(t, err)

	_, err = env.engine.RedeemReward(ctx, u.ID, "mug")
	require.ErrorIs(t, err, apperror.ErrInsufficientPoints)
	assert.False(t, apperror.IsRetryable(err))

	b, err := env.engine.GetOrCreateBalance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.Points)

	txs, err := env.recorder.History(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1, "a rejected redemption must not append a transaction")
	assert.Len(t, env.notifications(t, u.ID), 1, "a rejected redemption must not notify")
}

func TestRedeemReward_ExactBalance(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	u := env.newUser(t, "c@example.com")
	env.addReward(t, "tote", 20, true)

	_, err := env.engine.AwardPoints(ctx, u.ID, 20, "welcome bonus")
	require.NoError(t, err)

	res, err := env.engine.RedeemReward(ctx, u.ID, "tote")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Balance.Points)
	assert.Equal(t, "tote", res.Reward.ID)
	assert.Equal(t, int64(-20), res.Transaction.Amount)
	assert.Equal(t, model.TxRedeemed, res.Transaction.Type)

	txs, err := env.recorder.History(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, model.TxRedeemed, txs[1].Type)
	assert.Equal(t, int64(-20), txs[1].Amount)

	notes := env.notifications(t, u.ID)
	require.Len(t, notes, 2)
	assert.Contains(t, notes[0].Message+notes[1].Message, "You have redeemed Reward tote for 20 points.")

	env.assertLedgerConsistent(t, u.ID)
}

func TestAwardPoints_ConcurrentSameUser(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	u := env.newUser(t, "d@example.com")

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.AwardPoints(ctx, u.ID, 10, "report submission")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	b, err := env.engine.GetOrCreateBalance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.Points)
	assert.Equal(t, 2, b.Level)

	txs, err := env.recorder.History(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, txs, n)
	assert.Equal(t, int64(100), model.SumAmounts(txs))
}

func TestRedeemReward_ConcurrentRaceForOneReward(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	u := env.newUser(t, "race@example.com")
	env.addReward(t, "bottle", 25, true)

	_, err := env.engine.AwardPoints(ctx, u.ID, 25, "welcome bonus")
	require.NoError(t, err)

	const n = 8
	var succeeded, insufficient atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.RedeemReward(ctx, u.ID, "bottle")
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, apperror.ErrInsufficientPoints):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(n-1), insufficient.Load())

	b, err := env.engine.GetOrCreateBalance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Points)
	env.assertLedgerConsistent(t, u.ID)
}

func TestAwardAndRedeem_ConcurrentMix(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	u := env.newUser(t, "mix@example.com")
	env.addReward(t, "sticker", 5, true)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := env.engine.AwardPoints(ctx, u.ID, 5, "waste collection")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := env.engine.RedeemReward(ctx, u.ID, "sticker")
			if err != nil && !errors.Is(err, apperror.ErrInsufficientPoints) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	env.assertLedgerConsistent(t, u.ID)
}

func TestGetOrCreateBalance_ConcurrentNewUser(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	u := env.newUser(t, "fresh@example.com")

	const n = 2
	results := make([]*model.RewardBalance, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := env.engine.GetOrCreateBalance(ctx, u.ID)
			assert.NoError(t, err)
			results[i] = b
		}(i)
	}
	wg.Wait()

	for _, b := range results {
		require.NotNil(t, b)
		assert.Equal(t, int64(0), b.Points)
		assert.Equal(t, 1, b.Level)
		assert.True(t, b.IsAvailable)
	}

	ids, err := env.db.ListBalanceUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{u.ID}, ids)
}

func TestLedger_ReplayMatchesAfterEveryOperation(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	u := env.newUser(t, "replay@example.com")
	env.addReward(t, "cup", 30, true)
	env.addReward(t, "bike", 1000, true)

	steps := []func() error{
		func() error { _, err := env.engine.GetOrCreateBalance(ctx, u.ID); return err },
		func() error { _, err := env.engine.AwardPoints(ctx, u.ID, 25, "welcome bonus"); return err },
		func() error { _, err := env.engine.RedeemReward(ctx, u.ID, "cup"); return err },
		func() error { _, err := env.engine.AwardPoints(ctx, u.ID, 10, "report submission"); return err },
		func() error { _, err := env.engine.RedeemReward(ctx, u.ID, "cup"); return err },
		func() error { _, err := env.engine.RedeemReward(ctx, u.ID, "bike"); return err },
	}
	for i, step := range steps {
		err := step()
		if err != nil && !errors.Is(err, apperror.ErrInsufficientPoints) {
			t.Fatalf("step %d: %v", i, err)
		}
		env.assertLedgerConsistent(t, u.ID)
	}

	b, err := env.engine.GetOrCreateBalance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), b.Points)
}

// =========================================================================
// VALIDATION AND NOT-FOUND
// =========================================================================

func TestAwardPoints_Validation(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	u := env.newUser(t, "v@example.com")

	tests := []struct {
		name   string
		userID string
		amount int64
		reason string
		want   error
	}{
		{"zero amount", u.ID, 0, "bonus", apperror.ErrValidation},
		{"negative amount", u.ID, -5, "bonus", apperror.ErrValidation},
		{"too large", u.ID, MaxAwardAmount + 1, "bonus", apperror.ErrValidation},
		{"blank reason", u.ID, 5, "   ", apperror.ErrValidation},
		{"blank user", "", 5, "bonus", apperror.ErrValidation},
		{"unknown user", "no-such-user", 5, "bonus", apperror.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.AwardPoints(context.Background(), tt.userID, tt.amount, tt.reason)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// None of the rejected calls may have created a balance row.
	ids, err := env.db.ListBalanceUserIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRedeemReward_Errors(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	u := env.newUser(t, "e@example.com")
	env.addReward(t, "retired", 5, false)
	_, err := env.engine.AwardPoints(ctx, u.ID, 50, "welcome bonus")
	require.NoError(t, err)

	_, err = env.engine.RedeemReward(ctx, u.ID, "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = env.engine.RedeemReward(ctx, u.ID, "retired")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = env.engine.RedeemReward(ctx, "ghost", "retired")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = env.engine.RedeemReward(ctx, u.ID, " ")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	b, err := env.engine.GetOrCreateBalance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), b.Points)
}

func TestGetOrCreateBalance_UnknownUser(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	_, err := env.engine.GetOrCreateBalance(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

// =========================================================================
// REPORT SUBMISSION
// =========================================================================

func TestSubmitReport_CreatesReportAndAward(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	u := env.newUser(t, "r@example.com")

	sub, err := env.reports.Submit(ctx, u.ID, ReportInput{
		Location:  "Riverside Park",
		WasteType: "plastic",
		Amount:    "2.5 kg",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sub.Report.ID)
	assert.Equal(t, model.ReportPending, sub.Report.Status)
	assert.Equal(t, u.ID, sub.Report.UserID)
	assert.Equal(t, int64(ReportAward), sub.Balance.Points)
	assert.Equal(t, model.TxEarnedReport, sub.Transaction.Type)

	reports, err := env.reports.List(ctx, u.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "2.5", reports[0].Amount.String())

	notes := env.notifications(t, u.ID)
	require.Len(t, notes, 1)
	assert.Equal(t, "You've earned 10 points for reporting waste!", notes[0].Message)
}

// failingAppendStore fails every AppendTransaction inside a unit.
type failingAppendStore struct {
	repository.LedgerStore
}

type failingAppendTx struct {
	repository.Tx
}

func (s *failingAppendStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return s.LedgerStore.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return fn(ctx, &failingAppendTx{Tx: tx})
	})
}

func (failingAppendTx) AppendTransaction(context.Context, *model.Transaction) error {
	return apperror.Unavailable("append transaction", errors.New("disk full"))
}

func TestSubmitReport_AllOrNothing(t *testing.T) {
	db := newTestDB(t)
	env := newTestEnvWithDB(t, db, &failingAppendStore{LedgerStore: db}, db)
	ctx := context.Background()
	u := env.newUser(t, "atomic@example.com")

	_, err := env.reports.Submit(ctx, u.ID, ReportInput{Location: "Dock 4", WasteType: "glass", Amount: "1"})
	require.ErrorIs(t, err, apperror.ErrUnavailable)
	assert.True(t, apperror.IsRetryable(err))

	reports, err := env.reports.List(ctx, u.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, reports, "the report must roll back with its award")

	_, err = db.GetBalance(ctx, u.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound, "the balance row must roll back too")
	assert.Empty(t, env.notifications(t, u.ID))
}

func TestSubmitReport_Validation(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	u := env.newUser(t, "bad@example.com")

	tests := []struct {
		name  string
		in    ReportInput
		field string
	}{
		{"missing location", ReportInput{WasteType: "paper", Amount: "1"}, "location"},
		{"markup only location", ReportInput{Location: "<b></b>", WasteType: "paper", Amount: "1"}, "location"},
		{"missing waste type", ReportInput{Location: "x", Amount: "1"}, "wasteType"},
		{"missing amount", ReportInput{Location: "x", WasteType: "paper"}, "amount"},
		{"non numeric amount", ReportInput{Location: "x", WasteType: "paper", Amount: "lots"}, "amount"},
		{"zero amount", ReportInput{Location: "x", WasteType: "paper", Amount: "0kg"}, "amount"},
		{"huge amount", ReportInput{Location: "x", WasteType: "paper", Amount: "20000"}, "amount"},
		{"exponent amount", ReportInput{Location: "x", WasteType: "paper", Amount: "1e-50000000"}, "amount"},
		{"exponent amount with unit", ReportInput{Location: "x", WasteType: "paper", Amount: "2E3kg"}, "amount"},
		{"long amount", ReportInput{Location: "x", WasteType: "paper", Amount: "0.00000000000000001"}, "amount"},
		{"amount rounds to zero", ReportInput{Location: "x", WasteType: "paper", Amount: "0.0004"}, "amount"},
		{"location too long once decoded", ReportInput{Location: strings.Repeat("a", MaxLocationLength+1), WasteType: "paper", Amount: "1"}, "location"},
		{"bad image url", ReportInput{Location: "x", WasteType: "paper", Amount: "1", ImageURL: "javascript:alert(1)"}, "imageUrl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.reports.Submit(context.Background(), u.ID, tt.in)
			require.ErrorIs(t, err, apperror.ErrValidation)

			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
}

func TestParseReport_SanitizesText(t *testing.T) {
	r, err := ParseReport(ReportInput{
		Location:  "  <script>alert(1)</script>Main Street ",
		WasteType: "<i>plastic</i>",
		Amount:    "3KG",
		ImageURL:  "https://img.example.com/a.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "Main Street", r.Location)
	assert.Equal(t, "plastic", r.WasteType)
	assert.Equal(t, "3", r.Amount.String())
	assert.Equal(t, "https://img.example.com/a.png", r.ImageURL)
}

func TestParseReport_KeepsPlainTextVerbatim(t *testing.T) {
	r, err := ParseReport(ReportInput{
		Location:  "Smith & Sons, O'Brien St",
		WasteType: `"mixed" <b>glass</b> &amp; cans`,
		Amount:    "2.34567 kg",
	})
	require.NoError(t, err)
	assert.Equal(t, "Smith & Sons, O'Brien St", r.Location)
	assert.Equal(t, `"mixed" glass & cans`, r.WasteType)
	assert.Equal(t, "2.346", r.Amount.String())

	// Escaped markup is decoded before stripping, so it cannot survive as a tag.
	r, err = ParseReport(ReportInput{Location: "&lt;script&gt;alert(1)&lt;/script&gt;Dock 4", WasteType: "metal", Amount: "1"})
	require.NoError(t, err)
	assert.Equal(t, "Dock 4", r.Location)

	// Length is measured on the stored text, not on its escaped form.
	full := strings.Repeat("&", MaxLocationLength)
	r, err = ParseReport(ReportInput{Location: full, WasteType: "metal", Amount: "1"})
	require.NoError(t, err)
	assert.Equal(t, full, r.Location)
}

// =========================================================================
// FAILURE HANDLING
// =========================================================================

// failingNotifications rejects every write.
type failingNotifications struct {
	repository.NotificationRepository
}

func (failingNotifications) CreateNotification(context.Context, *model.Notification) error {
	return apperror.Unavailable("create notification", errors.New("notifications table locked"))
}

func TestNotificationFailure_DoesNotRollBack(t *testing.T) {
	db := newTestDB(t)
	env := newTestEnvWithDB(t, db, db, failingNotifications{NotificationRepository: db})
	ctx := context.Background()
	u := env.newUser(t, "quiet@example.com")

	b, err := env.engine.AwardPoints(ctx, u.ID, 15, "welcome bonus")
	require.NoError(t, err)
	assert.Equal(t, int64(15), b.Points)

	txs, err := env.recorder.History(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Empty(t, env.notifications(t, u.ID))
}

// flakyStore fails the first failures units with a concurrency conflict.
type flakyStore struct {
	repository.LedgerStore
	failures int32
	calls    atomic.Int32
}

func (s *flakyStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if s.calls.Add(1) <= s.failures {
		return apperror.ConcurrencyConflict("test", errors.New("database is locked"))
	}
	return s.LedgerStore.RunInTx(ctx, fn)
}

func TestRunUnit_RetriesConcurrencyConflicts(t *testing.T) {
	db := newTestDB(t)
	store := &flakyStore{LedgerStore: db, failures: 2}
	env := newTestEnvWithDB(t, db, store, db)
	u := env.newUser(t, "retry@example.com")

	b, err := env.engine.AwardPoints(context.Background(), u.ID, 7, "welcome bonus")
	require.NoError(t, err)
	assert.Equal(t, int64(7), b.Points)
	assert.Equal(t, int32(3), store.calls.Load())
}

func TestRunUnit_GivesUpAfterMaxAttempts(t *testing.T) {
	db := newTestDB(t)
	store := &flakyStore{LedgerStore: db, failures: 1 << 30}
	env := newTestEnvWithDB(t, db, store, db)
	u := env.newUser(t, "giveup@example.com")

	_, err := env.engine.AwardPoints(context.Background(), u.ID, 7, "welcome bonus")
	require.ErrorIs(t, err, apperror.ErrConcurrency)
	assert.True(t, apperror.IsRetryable(err))
	assert.Equal(t, int32(DefaultMaxAttempts), store.calls.Load())

	_, err = db.GetBalance(context.Background(), u.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestRunUnit_DoesNotRetryDomainErrors(t *testing.T) {
	db := newTestDB(t)
	store := &flakyStore{LedgerStore: db}
	env := newTestEnvWithDB(t, db, store, db)
	u := env.newUser(t, "noretry@example.com")
	env.addReward(t, "mug", 15, true)

	_, err := env.engine.RedeemReward(context.Background(), u.ID, "mug")
	require.ErrorIs(t, err, apperror.ErrInsufficientPoints)
	assert.Equal(t, int32(1), store.calls.Load())
}
