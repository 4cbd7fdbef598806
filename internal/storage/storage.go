package storage

import (
	"context"
	"time"

	"yieldscope/internal/model"
)

// SnapshotStore is the append-only history of pool metric snapshots.
type SnapshotStore interface {
	AppendSnapshots(ctx context.Context, snapshots []model.PoolMetricSnapshot) error
	// LatestSnapshot returns the snapshot with the greatest RecordedAt, or an
	// error wrapping model.ErrNotFound.
	LatestSnapshot(ctx context.Context, poolID string) (model.PoolMetricSnapshot, error)
	// SnapshotsSince returns snapshots with RecordedAt >= since, oldest first.
	SnapshotsSince(ctx context.Context, poolID string, since time.Time) ([]model.PoolMetricSnapshot, error)
}

// ActionStore is the append-only history of user actions.
type ActionStore interface {
	// AppendActions writes all actions or none. The store assigns Seq.
	AppendActions(ctx context.Context, actions []model.UserAction) ([]model.UserAction, error)
	// ActionsForUser returns every action of a user in insertion order.
	ActionsForUser(ctx context.Context, userID string) ([]model.UserAction, error)
	// ActionsForUserPool returns the user's actions scoped to one pool in insertion order.
	ActionsForUserPool(ctx context.Context, userID, poolID string) ([]model.UserAction, error)
	// ListActions pages through a user's actions of one kind, newest first.
	ListActions(ctx context.Context, userID string, kind model.ActionKind, offset, limit int) ([]model.UserAction, int, error)
}

// Store bundles both histories behind one backend.
type Store interface {
	SnapshotStore
	ActionStore
}
