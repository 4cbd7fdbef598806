package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"yieldscope/internal/model"
)

func strPtr(s string) *string { return &s }

func TestLatestSnapshotPicksMaxRecordedAt(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	// appended out of order on purpose
	require.NoError(t, store.AppendSnapshots(ctx, []model.PoolMetricSnapshot{
		{PoolID: "sample", APY: 0.02, RecordedAt: base.Add(2 * time.Hour)},
		{PoolID: "sample", APY: 0.03, RecordedAt: base.Add(8 * time.Hour)},
		{PoolID: "sample", APY: 0.01, RecordedAt: base},
		{PoolID: "other", APY: 0.50, RecordedAt: base.Add(24 * time.Hour)},
	}))

	latest, err := store.LatestSnapshot(ctx, "sample")
	require.NoError(t, err)
	require.Equal(t, 0.03, latest.APY)
	require.True(t, latest.RecordedAt.Equal(base.Add(8*time.Hour)))

	_, err = store.LatestSnapshot(ctx, "missing")
	require.True(t, errors.Is(err, model.ErrNotFound))
}

func TestSnapshotsSinceAscendingAndInclusive(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendSnapshots(ctx, []model.PoolMetricSnapshot{
		{PoolID: "sample", APY: 0.3, RecordedAt: base.Add(3 * time.Hour)},
		{PoolID: "sample", APY: 0.1, RecordedAt: base.Add(1 * time.Hour)},
		{PoolID: "sample", APY: 0.2, RecordedAt: base.Add(2 * time.Hour)},
	}))

	got, err := store.SnapshotsSince(ctx, "sample", base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 0.2, got[0].APY)
	require.Equal(t, 0.3, got[1].APY)

	empty, err := store.SnapshotsSince(ctx, "sample", base.Add(48*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestAppendSnapshotsRejectsInvalidBatch(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()

	err := store.AppendSnapshots(ctx, []model.PoolMetricSnapshot{
		{PoolID: "ok", APY: 0.1, RecordedAt: now},
		{PoolID: "", APY: 0.1, RecordedAt: now},
	})
	require.True(t, model.IsValidation(err))

	_, err = store.LatestSnapshot(ctx, "ok")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestAppendActionsAssignsSeqAndRejectsDuplicateTxHash(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	deposit := model.UserAction{
		UserID:  "alice",
		PoolID:  strPtr("sample"),
		Kind:    model.KindDeposit,
		Amount:  decimal.NewFromInt(100),
		Details: model.DepositDetails{TxHash: "0xAB"},
	}

	written, err := store.AppendActions(ctx, []model.UserAction{deposit})
	require.NoError(t, err)
	require.Len(t, written, 1)
	require.EqualValues(t, 1, written[0].Seq)
	require.False(t, written[0].RecordedAt.IsZero())

	_, err = store.AppendActions(ctx, []model.UserAction{deposit})
	require.True(t, model.IsValidation(err))

	all, err := store.ActionsForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestListActionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	for i := 1; i <= 5; i++ {
		_, err := store.AppendActions(ctx, []model.UserAction{{
			UserID: "alice",
			PoolID: strPtr("sample"),
			Kind:   model.KindDeposit,
			Amount: decimal.NewFromInt(int64(i)),
		}})
		require.NoError(t, err)
	}
	_, err := store.AppendActions(ctx, []model.UserAction{{
		UserID: "alice",
		PoolID: strPtr("sample"),
		Kind:   model.KindWithdrawal,
		Amount: decimal.NewFromInt(-1),
	}})
	require.NoError(t, err)

	page, total, err := store.ListActions(ctx, "alice", model.KindDeposit, 1, 2)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, page, 2)
	require.True(t, page[0].Amount.Equal(decimal.NewFromInt(4)))
	require.True(t, page[1].Amount.Equal(decimal.NewFromInt(3)))
}

func TestRunStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	_, ok, err := store.LoadRunState(ctx, "ingest:curve")
	require.NoError(t, err)
	require.False(t, ok)

	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveRunState(ctx, "ingest:curve", ts))

	got, ok, err := store.LoadRunState(ctx, "ingest:curve")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(ts))
}
