package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultInterval is the refresh period when none is configured.
const DefaultInterval = 8 * time.Hour

// ErrRunInProgress is returned by RefreshAllMetrics while another run holds the lock.
var ErrRunInProgress = errors.New("ingest run in progress")

// SchedulerConfig controls periodic ingestion.
type SchedulerConfig struct {
	Interval   time.Duration
	RunTimeout time.Duration
	LockKey    string
	LockTTL    time.Duration
	RunOnStart bool
}

// Scheduler triggers Pipeline runs on a fixed interval. Runs never overlap:
// within a process cron skips a tick while one is running, and across
// processes the Locker is consulted first.
type Scheduler struct {
	cfg      SchedulerConfig
	pipeline *Pipeline
	locker   Locker
	cron     *cron.Cron
	logger   *zap.Logger
	// tracks runs started outside cron
	wg sync.WaitGroup
}

func NewScheduler(cfg SchedulerConfig, pipeline *Pipeline, locker Locker, logger *zap.Logger) (*Scheduler, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "yieldscope:ingest"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.RunTimeout + time.Minute
	}
	if locker == nil {
		locker = NewLocalLocker()
	}

	cronLogger := cronZapLogger{logger: logger}
	return &Scheduler{
		cfg:      cfg,
		pipeline: pipeline,
		locker:   locker,
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		logger:   logger,
	}, nil
}

// Start registers the job and starts the scheduler. Jobs derive their
// context from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := s.cron.AddFunc(spec, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("schedule ingest: %w", err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("spec", spec))

	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Tick(ctx)
		}()
	}
	return nil
}

// Stop waits for running jobs, including the start-up run, to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Tick performs one locked, time-bounded run and reports whether it ran.
func (s *Scheduler) Tick(ctx context.Context) bool {
	result, err := s.runLocked(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Info("ingest skipped, lock held", zap.String("key", s.cfg.LockKey))
		return false
	case errors.Is(err, errLock):
		s.logger.Warn("ingest lock failed", zap.Error(err))
		return false
	case err != nil:
		s.logger.Error("ingest run failed", zap.Error(err), zap.Int("appended", result.Appended))
	}
	return true
}

// RefreshAllMetrics runs one ingestion under the same lock as scheduled
// runs. It returns ErrRunInProgress instead of waiting for a held lock.
func (s *Scheduler) RefreshAllMetrics(ctx context.Context) (int, error) {
	result, err := s.runLocked(ctx)
	return result.Appended, err
}

var errLock = errors.New("ingest lock")

func (s *Scheduler) runLocked(ctx context.Context) (RunResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	unlock, ok, err := s.locker.TryLock(runCtx, s.cfg.LockKey, s.cfg.LockTTL)
	if err != nil {
		return RunResult{}, fmt.Errorf("%w: %w", errLock, err)
	}
	if !ok {
		return RunResult{}, ErrRunInProgress
	}
	defer unlock()

	return s.pipeline.Run(runCtx)
}

// cronZapLogger adapts zap to cron.Logger.
type cronZapLogger struct {
	logger *zap.Logger
}

func (l cronZapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Infow(msg, keysAndValues...)
}

func (l cronZapLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
