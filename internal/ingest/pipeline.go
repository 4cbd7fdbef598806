package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"yieldscope/internal/model"
	"yieldscope/internal/provider"
	"yieldscope/internal/storage"
)

const defaultBatchSize = 500

// Config holds runtime settings for the ingestion pipeline.
type Config struct {
	// PercentUnits is set when the provider reports yields as percentages.
	PercentUnits bool
	BatchSize    int
	StateStore   StateStore
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

// RunResult describes one ingestion run.
type RunResult struct {
	RunAt    time.Time `json:"run_at"`
	Fetched  int       `json:"fetched"`
	Appended int       `json:"appended"`
	Skipped  int       `json:"skipped"`
}

// Pipeline fetches pool metrics from a provider and appends snapshots to history.
type Pipeline struct {
	cfg      Config
	provider provider.Provider
	store    storage.SnapshotStore
	logger   *zap.Logger
}

// NewPipeline builds a Pipeline with its dependencies.
func NewPipeline(cfg Config, source provider.Provider, store storage.SnapshotStore, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Pipeline{
		cfg:      cfg,
		provider: source,
		store:    store,
		logger:   logger,
	}
}

// RefreshAllMetrics runs one ingestion and returns the number of pools appended.
func (p *Pipeline) RefreshAllMetrics(ctx context.Context) (int, error) {
	result, err := p.Run(ctx)
	return result.Appended, err
}

// Run executes one ingestion. A provider failure aborts before any write.
// Malformed entries are skipped. Batches already written stay in place when
// a later batch fails or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) (RunResult, error) {
	if p.provider == nil {
		return RunResult{}, fmt.Errorf("provider is nil")
	}
	if p.store == nil {
		return RunResult{}, fmt.Errorf("store is nil")
	}

	runAt, err := p.runClock(ctx)
	if err != nil {
		return RunResult{}, err
	}
	result := RunResult{RunAt: runAt}

	p.logger.Info("ingest start", zap.String("provider", p.provider.Name()), zap.Time("run_at", runAt))

	records, err := p.provider.FetchPools(ctx)
	if err != nil {
		return result, &model.ProviderError{Provider: p.provider.Name(), Err: err}
	}
	result.Fetched = len(records)

	snapshots := make([]model.PoolMetricSnapshot, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for i, record := range records {
		snap, err := Normalize(record, runAt, p.cfg.PercentUnits)
		if err != nil {
			result.Skipped++
			p.logger.Warn("skip pool", zap.Int("index", i), zap.String("pool", record.PoolID), zap.Error(err))
			continue
		}
		if _, dup := seen[snap.PoolID]; dup {
			result.Skipped++
			p.logger.Warn("skip duplicate pool", zap.String("pool", snap.PoolID))
			continue
		}
		seen[snap.PoolID] = struct{}{}
		snapshots = append(snapshots, snap)
	}

	for start := 0; start < len(snapshots); start += p.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			p.saveClock(ctx, result)
			return result, err
		}
		end := start + p.cfg.BatchSize
		if end > len(snapshots) {
			end = len(snapshots)
		}
		if err := p.store.AppendSnapshots(ctx, snapshots[start:end]); err != nil {
			p.saveClock(ctx, result)
			return result, fmt.Errorf("append snapshots: %w", err)
		}
		result.Appended += end - start
	}

	if p.cfg.StateStore != nil {
		if err := p.cfg.StateStore.Save(ctx, runAt); err != nil {
			return result, fmt.Errorf("save run state: %w", err)
		}
	}

	p.logger.Info("ingest complete",
		zap.String("provider", p.provider.Name()),
		zap.Int("fetched", result.Fetched),
		zap.Int("appended", result.Appended),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// runClock returns a run time strictly after the previous run, so that
// back-to-back runs never share a RecordedAt.
func (p *Pipeline) runClock(ctx context.Context) (time.Time, error) {
	runAt := p.cfg.Now().UTC().Truncate(time.Microsecond)
	if p.cfg.StateStore == nil {
		return runAt, nil
	}
	last, ok, err := p.cfg.StateStore.Load(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("load run state: %w", err)
	}
	if ok && !runAt.After(last) {
		runAt = last.Add(time.Microsecond)
	}
	return runAt, nil
}

func (p *Pipeline) saveClock(ctx context.Context, result RunResult) {
	if p.cfg.StateStore == nil || result.Appended == 0 {
		return
	}
	// ctx may already be done; the clock must still advance.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.cfg.StateStore.Save(saveCtx, result.RunAt); err != nil {
		p.logger.Warn("save run state", zap.Error(err))
	}
}
