package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yieldscope/internal/config"
	"yieldscope/internal/ingest"
	"yieldscope/internal/provider"
	"yieldscope/internal/storage"
	"yieldscope/internal/storage/memory"
	"yieldscope/internal/storage/postgres"
)

const runStateName = "ingest"

// backend is a store that also keeps the ingestion run clock.
type backend interface {
	storage.Store
	ingest.RunStateBackend
}

type app struct {
	cfg    config.Config
	logger *zap.Logger
	store  backend
	close  func()
}

func setup(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, close: func() { _ = logger.Sync() }}
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store, history is lost on exit")
		a.store = memory.NewStore()
	default:
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		a.store = pg
		a.close = func() {
			pg.Close()
			_ = logger.Sync()
		}
	}
	return a, nil
}

func (a *app) provider() provider.Provider {
	httpCfg := provider.HTTPConfig{
		URL:          a.cfg.ProviderURL,
		Timeout:      a.cfg.ProviderTimeout,
		MaxRetries:   a.cfg.MaxRetries,
		RetryBackoff: a.cfg.RetryBackoff,
	}
	if a.cfg.Provider == config.ProviderSubgraph {
		return provider.NewSubgraph(httpCfg, a.logger)
	}
	return provider.NewCurveAPI(httpCfg, a.logger)
}

func (a *app) stateStore() ingest.StateStore {
	if a.cfg.StateFile != "" {
		return &ingest.FileStateStore{Path: a.cfg.StateFile}
	}
	return &ingest.DBStateStore{Backend: a.store, Name: runStateName}
}

func (a *app) pipeline() *ingest.Pipeline {
	return ingest.NewPipeline(ingest.Config{
		PercentUnits: a.cfg.PercentUnits,
		BatchSize:    a.cfg.BatchSize,
		StateStore:   a.stateStore(),
	}, a.provider(), a.store, a.logger)
}

// scheduler builds a Scheduler guarded by Redis when redis-addr is set and
// by an in-process lock otherwise.
func (a *app) scheduler(ctx context.Context, pipeline *ingest.Pipeline) (*ingest.Scheduler, func(), error) {
	var locker ingest.Locker = ingest.NewLocalLocker()
	cleanup := func() {}

	if a.cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		locker = ingest.NewRedisLocker(client)
		cleanup = func() { _ = client.Close() }
	}

	sched, err := ingest.NewScheduler(ingest.SchedulerConfig{
		Interval:   a.cfg.ScheduleInterval,
		RunTimeout: a.cfg.RunTimeout,
		LockTTL:    a.cfg.LockTTL,
		RunOnStart: a.cfg.RunOnStart,
	}, pipeline, locker, a.logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return sched, cleanup, nil
}
