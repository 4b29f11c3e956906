package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/waste-rewards/internal/apperror"
	"github.com/sakif/waste-rewards/internal/model"
	"github.com/sakif/waste-rewards/internal/repository"
)

func TestRecorderAppend_SignMustMatchType(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	u := env.newUser(t, "sign@example.com")

	tests := []struct {
		name    string
		typ     model.TransactionType
		amount  int64
		wantErr bool
	}{
		{"earn positive", model.TxEarnedReport, 10, false},
		{"earn negative", model.TxEarnedCollect, -10, true},
		{"redeem negative", model.TxRedeemed, -10, false},
		{"redeem positive", model.TxRedeemed, 10, true},
		{"zero", model.TxEarnedBonus, 0, true},
		{"unknown type", model.TransactionType("refund"), 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *model.Transaction
			err := env.db.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
				var err error
				got, err = env.recorder.Append(ctx, tx, u.ID, tt.typ, tt.amount, " note ")
				return err
			})
			if tt.wantErr {
				assert.ErrorIs(t, err, apperror.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, got.ID)
			assert.Positive(t, got.Seq)
			assert.Equal(t, "note", got.Description)
		})
	}
}

func TestRecorderHistory_OldestFirst(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	u := env.newUser(t, "order@example.com")

	for _, amount := range []int64{3, 1, 4, 1, 5} {
		_, err := env.engine.AwardPoints(ctx, u.ID, amount, "welcome bonus")
		require.NoError(t, err)
	}

	txs, err := env.recorder.History(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, txs, 5)
	for i, want := range []int64{3, 1, 4, 1, 5} {
		assert.Equal(t, want, txs[i].Amount)
	}

	_, err = env.recorder.History(ctx, "")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestReconcile_UntouchedUser(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	u := env.newUser(t, "untouched@example.com")

	rec, err := env.recorder.Reconcile(context.Background(), u.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.Zero(t, rec.Stored)
	assert.Zero(t, rec.Transactions)
}

func TestReconcile_UnknownUser(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec, err := env.recorder.Reconcile(context.Background(), "no-such-user")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Nil(t, rec)
}

func TestReconcileAll_FlagsDrift(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	good := env.newUser(t, "good@example.com")
	bad := env.newUser(t, "bad@example.com")

	_, err := env.engine.AwardPoints(ctx, good.ID, 10, "welcome bonus")
	require.NoError(t, err)
	_, err = env.engine.AwardPoints(ctx, bad.ID, 10, "welcome bonus")
	require.NoError(t, err)

	// Write a balance change with no ledger entry, the exact bug the
	// audit exists to catch.
	err = env.db.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		b, err := tx.LockBalance(ctx, bad.ID)
		if err != nil {
			return err
		}
		drifted := b.Apply(5)
		return tx.UpdateBalance(ctx, &drifted)
	})
	require.NoError(t, err)

	results, err := env.recorder.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byUser := map[string]Reconciliation{}
	for _, r := range results {
		byUser[r.UserID] = r
	}
	assert.True(t, byUser[good.ID].Consistent)
	assert.False(t, byUser[bad.ID].Consistent)
	assert.Equal(t, int64(15), byUser[bad.ID].Stored)
	assert.Equal(t, int64(10), byUser[bad.ID].Replayed)
}
