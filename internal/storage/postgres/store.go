package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"yieldscope/internal/model"
)

//go:embed schema.sql
var schemaSQL string

const (
	uniqueViolation = "23505"
	txHashIndex     = "user_actions_tx_hash_idx"
)

// Store provides Postgres persistence for snapshot and action history.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates tables and indexes that do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// AppendSnapshots inserts snapshots in one batch. Rows are never updated.
func (s *Store) AppendSnapshots(ctx context.Context, snapshots []model.PoolMetricSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	for _, snap := range snapshots {
		if err := snap.Validate(); err != nil {
			return err
		}
	}

	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		batch.Queue(`
			INSERT INTO pool_metrics (pool_id, apy, bribe, trading_fee, crv_reward, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`,
			snap.PoolID,
			snap.APY,
			snap.Bribe,
			snap.TradingFee,
			snap.CRVReward,
			snap.RecordedAt.UTC(),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range snapshots {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
	}
	return nil
}

func (s *Store) LatestSnapshot(ctx context.Context, poolID string) (model.PoolMetricSnapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT pool_id, apy, bribe, trading_fee, crv_reward, recorded_at
		FROM pool_metrics
		WHERE pool_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`, poolID)

	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PoolMetricSnapshot{}, fmt.Errorf("latest snapshot %s: %w", poolID, model.ErrNotFound)
		}
		return model.PoolMetricSnapshot{}, fmt.Errorf("latest snapshot %s: %w", poolID, err)
	}
	return snap, nil
}

func (s *Store) SnapshotsSince(ctx context.Context, poolID string, since time.Time) ([]model.PoolMetricSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pool_id, apy, bribe, trading_fee, crv_reward, recorded_at
		FROM pool_metrics
		WHERE pool_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at ASC, id ASC
	`, poolID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query snapshots %s: %w", poolID, err)
	}
	defer rows.Close()

	out := make([]model.PoolMetricSnapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// AppendActions inserts the actions in one transaction so the legs of a
// move across pools land together.
func (s *Store) AppendActions(ctx context.Context, actions []model.UserAction) ([]model.UserAction, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	out := make([]model.UserAction, 0, len(actions))
	for _, action := range actions {
		if action.ID == uuid.Nil {
			action.ID = uuid.New()
		}
		if action.RecordedAt.IsZero() {
			action.RecordedAt = now
		}

		var details []byte
		if action.Details != nil {
			details, err = json.Marshal(action.Details)
			if err != nil {
				return nil, fmt.Errorf("marshal details: %w", err)
			}
		}

		var groupID *string
		if action.GroupID != nil {
			id := action.GroupID.String()
			groupID = &id
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO user_actions (id, user_id, pool_id, kind, amount, group_id, details, recorded_at)
			VALUES ($1::text::uuid, $2, $3, $4, $5::text::numeric, $6::text::uuid, $7::jsonb, $8)
			RETURNING seq
		`,
			action.ID.String(),
			action.UserID,
			action.PoolID,
			string(action.Kind),
			action.Amount.String(),
			groupID,
			details,
			action.RecordedAt.UTC(),
		)
		if err := row.Scan(&action.Seq); err != nil {
			return nil, insertActionError(err)
		}
		out = append(out, action)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// insertActionError maps a duplicate tx hash to a ValidationError. Other
// constraint violations, such as a reused action id, stay storage errors.
func insertActionError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == txHashIndex {
		return &model.ValidationError{Field: "tx_hash", Reason: "already recorded"}
	}
	return fmt.Errorf("insert action: %w", err)
}

const actionColumns = `seq, id::text, user_id, pool_id, kind, amount::text, group_id::text, details, recorded_at`

func (s *Store) ActionsForUser(ctx context.Context, userID string) ([]model.UserAction, error) {
	return s.queryActions(ctx, `
		SELECT `+actionColumns+`
		FROM user_actions
		WHERE user_id = $1
		ORDER BY seq ASC
	`, userID)
}

func (s *Store) ActionsForUserPool(ctx context.Context, userID, poolID string) ([]model.UserAction, error) {
	return s.queryActions(ctx, `
		SELECT `+actionColumns+`
		FROM user_actions
		WHERE user_id = $1 AND pool_id = $2
		ORDER BY seq ASC
	`, userID, poolID)
}

func (s *Store) ListActions(ctx context.Context, userID string, kind model.ActionKind, offset, limit int) ([]model.UserAction, int, error) {
	var total int
	row := s.pool.QueryRow(ctx, `SELECT count(*) FROM user_actions WHERE user_id = $1 AND kind = $2`, userID, string(kind))
	if err := row.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count actions: %w", err)
	}

	items, err := s.queryActions(ctx, `
		SELECT `+actionColumns+`
		FROM user_actions
		WHERE user_id = $1 AND kind = $2
		ORDER BY seq DESC
		OFFSET $3 LIMIT $4
	`, userID, string(kind), offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// LoadRunState returns last_run_at for a name.
func (s *Store) LoadRunState(ctx context.Context, name string) (time.Time, bool, error) {
	if name == "" {
		return time.Time{}, false, fmt.Errorf("state name required")
	}
	var ts time.Time
	row := s.pool.QueryRow(ctx, `SELECT last_run_at FROM ingest_state WHERE name=$1`, name)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return ts.UTC(), true, nil
}

// SaveRunState upserts last_run_at for a name.
func (s *Store) SaveRunState(ctx context.Context, name string, ts time.Time) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_state (name, last_run_at, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_run_at = EXCLUDED.last_run_at, updated_at = now()
	`, name, ts.UTC())
	return err
}

func (s *Store) queryActions(ctx context.Context, sql string, args ...any) ([]model.UserAction, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	out := make([]model.UserAction, 0)
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return out, nil
}

func scanSnapshot(row pgx.Row) (model.PoolMetricSnapshot, error) {
	var snap model.PoolMetricSnapshot
	if err := row.Scan(
		&snap.PoolID,
		&snap.APY,
		&snap.Bribe,
		&snap.TradingFee,
		&snap.CRVReward,
		&snap.RecordedAt,
	); err != nil {
		return model.PoolMetricSnapshot{}, err
	}
	snap.RecordedAt = snap.RecordedAt.UTC()
	return snap, nil
}

func scanAction(row pgx.Row) (model.UserAction, error) {
	var (
		action  model.UserAction
		id      string
		kind    string
		amount  string
		groupID *string
		details []byte
	)
	if err := row.Scan(
		&action.Seq,
		&id,
		&action.UserID,
		&action.PoolID,
		&kind,
		&amount,
		&groupID,
		&details,
		&action.RecordedAt,
	); err != nil {
		return model.UserAction{}, fmt.Errorf("scan action: %w", err)
	}

	parsedID, err := uuid.Parse(id)
	if err != nil {
		return model.UserAction{}, fmt.Errorf("parse action id: %w", err)
	}
	action.ID = parsedID

	if groupID != nil {
		parsed, err := uuid.Parse(*groupID)
		if err != nil {
			return model.UserAction{}, fmt.Errorf("parse group id: %w", err)
		}
		action.GroupID = &parsed
	}

	action.Kind = model.ActionKind(kind)
	action.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return model.UserAction{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}

	action.Details, err = model.DecodeDetails(action.Kind, details)
	if err != nil {
		return model.UserAction{}, err
	}
	action.RecordedAt = action.RecordedAt.UTC()
	return action, nil
}
