package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"yieldscope/internal/provider"
	"yieldscope/internal/storage/memory"
)

func TestSchedulerTickSkipsWhileLockHeld(t *testing.T) {
	ctx := context.Background()
	src := &fakeProvider{records: []provider.PoolRecord{{PoolID: "a", APY: fptr(0.01)}}}
	pipeline := NewPipeline(Config{}, src, memory.NewStore(), nil)
	locker := NewLocalLocker()

	sched, err := NewScheduler(SchedulerConfig{LockKey: "test"}, pipeline, locker, zaptest.NewLogger(t))
	require.NoError(t, err)

	unlock, ok, err := locker.TryLock(ctx, "test", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.False(t, sched.Tick(ctx))
	require.Zero(t, src.calls)

	unlock()
	require.True(t, sched.Tick(ctx))
	require.Equal(t, 1, src.calls)
}

func TestSchedulerStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeProvider{}
	pipeline := NewPipeline(Config{}, src, memory.NewStore(), nil)
	sched, err := NewScheduler(SchedulerConfig{Interval: time.Hour}, pipeline, nil, nil)
	require.NoError(t, err)

	require.NoError(t, sched.Start(ctx))
	sched.Stop()
}

func TestLocalLockerUnlockIsIdempotent(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	unlock, ok, err := locker.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	unlock()
	unlock()

	_, ok, err = locker.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRefreshAllMetricsSharesSchedulerLock(t *testing.T) {
	ctx := context.Background()
	src := &fakeProvider{records: []provider.PoolRecord{{PoolID: "a", APY: fptr(0.01)}}}
	locker := NewLocalLocker()
	sched, err := NewScheduler(SchedulerConfig{LockKey: "refresh"}, NewPipeline(Config{}, src, memory.NewStore(), nil), locker, nil)
	require.NoError(t, err)

	unlock, ok, err := locker.TryLock(ctx, "refresh", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = sched.RefreshAllMetrics(ctx)
	require.ErrorIs(t, err, ErrRunInProgress)
	require.Zero(t, src.calls)

	unlock()
	n, err := sched.RefreshAllMetrics(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

type gatedProvider struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedProvider) Name() string { return "gated" }

func (g *gatedProvider) FetchPools(ctx context.Context) ([]provider.PoolRecord, error) {
	close(g.started)
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []provider.PoolRecord{{PoolID: "a", APY: fptr(0.02)}}, nil
}

func TestStopWaitsForStartupRun(t *testing.T) {
	ctx := context.Background()
	src := &gatedProvider{started: make(chan struct{}), release: make(chan struct{})}
	store := memory.NewStore()
	sched, err := NewScheduler(SchedulerConfig{Interval: time.Hour, RunOnStart: true}, NewPipeline(Config{}, src, store, nil), nil, nil)
	require.NoError(t, err)

	require.NoError(t, sched.Start(ctx))
	<-src.started

	stopped := make(chan struct{})
	go func() {
		sched.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the start-up run was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(src.release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	latest, err := store.LatestSnapshot(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 0.02, latest.APY)
}
