package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"yieldscope/internal/model"
)

// Store keeps both histories in process memory. It is used by tests and by
// the memory backend of the CLI.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string][]model.PoolMetricSnapshot
	actions   []model.UserAction
	txHashes  map[string]struct{}
	nextSeq   int64
	runState  map[string]time.Time
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{
		snapshots: make(map[string][]model.PoolMetricSnapshot),
		txHashes:  make(map[string]struct{}),
		runState:  make(map[string]time.Time),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AppendSnapshots appends snapshots to each pool's history.
func (s *Store) AppendSnapshots(ctx context.Context, snapshots []model.PoolMetricSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, snap := range snapshots {
		if err := snap.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snapshots {
		snap.RecordedAt = snap.RecordedAt.UTC()
		s.snapshots[snap.PoolID] = append(s.snapshots[snap.PoolID], snap)
	}
	return nil
}

func (s *Store) LatestSnapshot(ctx context.Context, poolID string) (model.PoolMetricSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.PoolMetricSnapshot{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.snapshots[poolID]
	if len(history) == 0 {
		return model.PoolMetricSnapshot{}, fmt.Errorf("latest snapshot %s: %w", poolID, model.ErrNotFound)
	}
	latest := history[0]
	for _, snap := range history[1:] {
		// ties resolve to the later append
		if !snap.RecordedAt.Before(latest.RecordedAt) {
			latest = snap
		}
	}
	return latest, nil
}

func (s *Store) SnapshotsSince(ctx context.Context, poolID string, since time.Time) ([]model.PoolMetricSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]model.PoolMetricSnapshot, 0)
	for _, snap := range s.snapshots[poolID] {
		if !snap.RecordedAt.Before(since) {
			out = append(out, snap)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

// AppendActions assigns ids, sequence numbers and timestamps, then appends
// the whole group or nothing.
func (s *Store) AppendActions(ctx context.Context, actions []model.UserAction) ([]model.UserAction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make(map[string]struct{})
	for _, action := range actions {
		hash := txHashOf(action)
		if hash == "" {
			continue
		}
		if _, ok := s.txHashes[hash]; ok {
			return nil, &model.ValidationError{Field: "tx_hash", Reason: "already recorded"}
		}
		if _, ok := pending[hash]; ok {
			return nil, &model.ValidationError{Field: "tx_hash", Reason: "duplicated in request"}
		}
		pending[hash] = struct{}{}
	}

	now := s.now()
	out := make([]model.UserAction, 0, len(actions))
	for _, action := range actions {
		if action.ID == uuid.Nil {
			action.ID = uuid.New()
		}
		if action.RecordedAt.IsZero() {
			action.RecordedAt = now
		}
		s.nextSeq++
		action.Seq = s.nextSeq
		out = append(out, action)
	}
	for hash := range pending {
		s.txHashes[hash] = struct{}{}
	}
	s.actions = append(s.actions, out...)
	return out, nil
}

func (s *Store) ActionsForUser(ctx context.Context, userID string) ([]model.UserAction, error) {
	return s.filterActions(ctx, func(a model.UserAction) bool {
		return a.UserID == userID
	})
}

func (s *Store) ActionsForUserPool(ctx context.Context, userID, poolID string) ([]model.UserAction, error) {
	return s.filterActions(ctx, func(a model.UserAction) bool {
		return a.UserID == userID && a.PoolID != nil && *a.PoolID == poolID
	})
}

func (s *Store) ListActions(ctx context.Context, userID string, kind model.ActionKind, offset, limit int) ([]model.UserAction, int, error) {
	matched, err := s.filterActions(ctx, func(a model.UserAction) bool {
		return a.UserID == userID && a.Kind == kind
	})
	if err != nil {
		return nil, 0, err
	}

	total := len(matched)
	out := make([]model.UserAction, 0, limit)
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, matched[i])
	}
	return out, total, nil
}

// LoadRunState returns the last saved run time for name.
func (s *Store) LoadRunState(ctx context.Context, name string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.runState[name]
	return ts, ok, nil
}

// SaveRunState records the run time for name.
func (s *Store) SaveRunState(ctx context.Context, name string, ts time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.runState[name] = ts.UTC()
	s.mu.Unlock()
	return nil
}

func (s *Store) filterActions(ctx context.Context, keep func(model.UserAction) bool) ([]model.UserAction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.UserAction, 0)
	for _, action := range s.actions {
		if keep(action) {
			out = append(out, action)
		}
	}
	return out, nil
}

func txHashOf(action model.UserAction) string {
	switch details := action.Details.(type) {
	case model.DepositDetails:
		return strings.ToLower(details.TxHash)
	case model.WithdrawalDetails:
		return strings.ToLower(details.TxHash)
	default:
		return ""
	}
}
