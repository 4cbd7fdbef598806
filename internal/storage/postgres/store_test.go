package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"yieldscope/internal/model"
)

// Runs only when YIELDSCOPE_TEST_PG_DSN points at a disposable database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("YIELDSCOPE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("YIELDSCOPE_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.EnsureSchema(ctx))
	return store
}

func TestStoreSnapshotHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pool := "pg-test-" + uuid.NewString()
	base := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, store.AppendSnapshots(ctx, []model.PoolMetricSnapshot{
		{PoolID: pool, APY: 0.02, RecordedAt: base.Add(-time.Hour)},
		{PoolID: pool, APY: 0.03, RecordedAt: base},
	}))

	latest, err := store.LatestSnapshot(ctx, pool)
	require.NoError(t, err)
	require.Equal(t, 0.03, latest.APY)

	history, err := store.SnapshotsSince(ctx, pool, base.Add(-2*time.Hour))
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.True(t, history[0].RecordedAt.Before(history[1].RecordedAt))

	_, err = store.LatestSnapshot(ctx, pool+"-missing")
	require.True(t, errors.Is(err, model.ErrNotFound))
}

func TestStoreActionLegsAndDuplicateTxHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := "pg-user-" + uuid.NewString()
	from, to := "pool-a", "pool-b"
	group := uuid.New()

	written, err := store.AppendActions(ctx, []model.UserAction{
		{UserID: user, PoolID: &from, Kind: model.KindRebalance, Amount: decimal.NewFromInt(-40), GroupID: &group,
			Details: model.RebalanceDetails{OldPool: from, NewPool: to}},
		{UserID: user, PoolID: &to, Kind: model.KindRebalance, Amount: decimal.NewFromInt(40), GroupID: &group,
			Details: model.RebalanceDetails{OldPool: from, NewPool: to}},
	})
	require.NoError(t, err)
	require.Len(t, written, 2)
	require.Less(t, written[0].Seq, written[1].Seq)

	actions, err := store.ActionsForUserPool(ctx, user, to)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.True(t, actions[0].Amount.Equal(decimal.NewFromInt(40)))
	require.Equal(t, group, *actions[0].GroupID)
	_, ok := actions[0].Details.(model.RebalanceDetails)
	require.True(t, ok)

	hash := "0x" + uuid.NewString()
	deposit := model.UserAction{UserID: user, PoolID: &to, Kind: model.KindDeposit, Amount: decimal.NewFromInt(1),
		Details: model.DepositDetails{TxHash: hash}}
	_, err = store.AppendActions(ctx, []model.UserAction{deposit})
	require.NoError(t, err)
	_, err = store.AppendActions(ctx, []model.UserAction{deposit})
	require.True(t, model.IsValidation(err))

	// a reused action id is a storage failure, not a duplicate transfer
	reused := model.UserAction{ID: written[0].ID, UserID: user, PoolID: &to, Kind: model.KindDeployment, Amount: decimal.NewFromInt(1)}
	_, err = store.AppendActions(ctx, []model.UserAction{reused})
	require.Error(t, err)
	require.False(t, model.IsValidation(err))
}

func TestInsertActionErrorMapping(t *testing.T) {
	dupHash := &pgconn.PgError{Code: uniqueViolation, ConstraintName: txHashIndex}
	require.True(t, model.IsValidation(insertActionError(dupHash)))

	dupID := &pgconn.PgError{Code: uniqueViolation, ConstraintName: "user_actions_id_key"}
	err := insertActionError(dupID)
	require.False(t, model.IsValidation(err))
	require.ErrorAs(t, err, new(*pgconn.PgError))

	require.False(t, model.IsValidation(insertActionError(errors.New("conn reset"))))
}
