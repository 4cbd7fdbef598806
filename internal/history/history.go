package history

import (
	"context"
	"fmt"
	"math"
	"time"

	"yieldscope/internal/model"
	"yieldscope/internal/storage"
)

// Window is a supported trailing history range.
type Window string

const (
	Window7d  Window = "7d"
	Window30d Window = "30d"
)

// Windows lists the supported windows in reporting order.
var Windows = []Window{Window7d, Window30d}

// ParseWindow accepts "7d" or "30d".
func ParseWindow(input string) (Window, error) {
	switch w := Window(input); w {
	case Window7d, Window30d:
		return w, nil
	default:
		return "", &model.ValidationError{Field: "window", Reason: fmt.Sprintf("unsupported window %q", input)}
	}
}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	switch w {
	case Window30d:
		return 30 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// Since returns the inclusive lower bound of the window ending at now.
func (w Window) Since(now time.Time) time.Time {
	return now.Add(-w.Duration())
}

// Service answers read-only questions about snapshot history.
type Service struct {
	store storage.SnapshotStore
	now   func() time.Time
}

func NewService(store storage.SnapshotStore) *Service {
	return &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock used to resolve windows.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Latest returns the most recent snapshot for a pool. The error wraps
// model.ErrNotFound when the pool has none.
func (s *Service) Latest(ctx context.Context, poolID string) (model.PoolMetricSnapshot, error) {
	if poolID == "" {
		return model.PoolMetricSnapshot{}, &model.ValidationError{Field: "pool_id", Reason: "required"}
	}
	return s.store.LatestSnapshot(ctx, poolID)
}

// History returns snapshots with RecordedAt >= since, oldest first.
func (s *Service) History(ctx context.Context, poolID string, since time.Time) ([]model.PoolMetricSnapshot, error) {
	if poolID == "" {
		return nil, &model.ValidationError{Field: "pool_id", Reason: "required"}
	}
	snaps, err := s.store.SnapshotsSince(ctx, poolID, since)
	if err != nil {
		return nil, err
	}
	if snaps == nil {
		snaps = []model.PoolMetricSnapshot{}
	}
	return snaps, nil
}

// WindowHistory is History over a trailing window ending now.
func (s *Service) WindowHistory(ctx context.Context, poolID string, window Window) ([]model.PoolMetricSnapshot, error) {
	return s.History(ctx, poolID, window.Since(s.now()))
}

// WindowReport is the history of one window plus its compounded yield.
type WindowReport struct {
	Snapshots   []model.PoolMetricSnapshot `json:"snapshots"`
	CompoundAPY float64                    `json:"compound_apy"`
}

// Report bundles the current reading with both trailing windows.
type Report struct {
	PoolID  string                   `json:"pool_id"`
	Current model.PoolMetricSnapshot `json:"current"`
	History map[Window]WindowReport  `json:"history"`
}

// PoolReport returns the latest snapshot and the 7d/30d histories.
func (s *Service) PoolReport(ctx context.Context, poolID string) (Report, error) {
	latest, err := s.Latest(ctx, poolID)
	if err != nil {
		return Report{}, err
	}

	now := s.now()
	report := Report{PoolID: poolID, Current: latest, History: make(map[Window]WindowReport, len(Windows))}
	for _, w := range Windows {
		snaps, err := s.History(ctx, poolID, w.Since(now))
		if err != nil {
			return Report{}, err
		}
		returns := make([]float64, 0, len(snaps))
		for _, snap := range snaps {
			returns = append(returns, snap.APY)
		}
		report.History[w] = WindowReport{Snapshots: snaps, CompoundAPY: CompoundAPY(returns)}
	}
	return report, nil
}

// CompoundAPY compounds a series of fractional periodic returns. NaN values
// are skipped; an empty series yields 0.
func CompoundAPY(returns []float64) float64 {
	total := 1.0
	hasData := false
	for _, r := range returns {
		if math.IsNaN(r) {
			continue
		}
		hasData = true
		total *= 1 + r
	}
	if !hasData {
		return 0
	}
	return total - 1
}

// YieldComponent is a snapshot without its total APY.
type YieldComponent struct {
	Bribe      float64   `json:"bribe"`
	TradingFee float64   `json:"trading_fee"`
	CRVReward  float64   `json:"crv_reward"`
	RecordedAt time.Time `json:"recorded_at"`
}

// YieldSourcesReport breaks a pool's yield down by source.
type YieldSourcesReport struct {
	PoolID  string                      `json:"pool_id"`
	Current YieldComponent              `json:"current"`
	History map[Window][]YieldComponent `json:"history"`
}

// YieldSources drops the totals from r and keeps the per-source components.
func (r Report) YieldSources() YieldSourcesReport {
	out := YieldSourcesReport{
		PoolID:  r.PoolID,
		Current: componentOf(r.Current),
		History: make(map[Window][]YieldComponent, len(r.History)),
	}
	for w, wr := range r.History {
		items := make([]YieldComponent, 0, len(wr.Snapshots))
		for _, snap := range wr.Snapshots {
			items = append(items, componentOf(snap))
		}
		out.History[w] = items
	}
	return out
}

func componentOf(snap model.PoolMetricSnapshot) YieldComponent {
	return YieldComponent{
		Bribe:      snap.Bribe,
		TradingFee: snap.TradingFee,
		CRVReward:  snap.CRVReward,
		RecordedAt: snap.RecordedAt,
	}
}
