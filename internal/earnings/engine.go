package earnings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"yieldscope/internal/chain"
	"yieldscope/internal/model"
	"yieldscope/internal/storage"
)

// APRSource resolves the latest snapshot of a pool.
type APRSource interface {
	Latest(ctx context.Context, poolID string) (model.PoolMetricSnapshot, error)
}

// TxConfirmer looks up the on-chain state of a transfer.
type TxConfirmer interface {
	Confirm(ctx context.Context, txHash string) (chain.Confirmation, error)
}

// Engine derives positions and projected earnings from the action history.
// It keeps no aggregate state: every call recomputes from the store.
type Engine struct {
	actions storage.ActionStore
	aprs    APRSource
	confirm TxConfirmer
	logger  *zap.Logger
	now     func() time.Time
}

func NewEngine(actions storage.ActionStore, aprs APRSource, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		actions: actions,
		aprs:    aprs,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithConfirmer makes deposits and withdrawals check their tx hash on chain.
func (e *Engine) WithConfirmer(c TxConfirmer) *Engine {
	e.confirm = c
	return e
}

// PositionsFor returns the per-pool breakdown and totals for a user.
func (e *Engine) PositionsFor(ctx context.Context, userID string) (model.PositionSummary, error) {
	if userID == "" {
		return model.PositionSummary{}, &model.ValidationError{Field: "user_id", Reason: "required"}
	}

	actions, err := e.actions.ActionsForUser(ctx, userID)
	if err != nil {
		return model.PositionSummary{}, fmt.Errorf("load actions: %w", err)
	}

	summary := model.PositionSummary{
		UserID:                userID,
		Positions:             make([]model.Position, 0),
		TotalAmount:           decimal.Zero,
		TotalProjectedEarning: decimal.Zero,
		AsOf:                  e.now(),
	}

	for _, agg := range aggregate(actions) {
		if agg.amount.IsZero() {
			continue
		}
		pos, err := e.project(ctx, agg)
		if err != nil {
			return model.PositionSummary{}, err
		}
		if pos.Inconsistent {
			e.logger.Warn("negative position",
				zap.String("user", userID),
				zap.String("pool", pos.PoolID),
				zap.String("amount", pos.Amount.String()),
			)
		}

		summary.Positions = append(summary.Positions, pos)
		summary.TotalAmount = summary.TotalAmount.Add(pos.Amount)
		if pos.APRStatus == model.APRKnown {
			summary.TotalProjectedEarning = summary.TotalProjectedEarning.Add(*pos.ProjectedEarning)
		} else {
			summary.UnknownAPRPools = append(summary.UnknownAPRPools, pos.PoolID)
		}
	}

	return summary, nil
}

// PositionFor recomputes a single pool's position for a user. A closed
// position is returned with a zero amount, APRClosed and no APR lookup.
func (e *Engine) PositionFor(ctx context.Context, userID, poolID string) (model.Position, error) {
	if err := validateUser(userID); err != nil {
		return model.Position{}, err
	}
	poolID, err := normalizePool("pool_id", poolID)
	if err != nil {
		return model.Position{}, err
	}

	actions, err := e.actions.ActionsForUserPool(ctx, userID, poolID)
	if err != nil {
		return model.Position{}, fmt.Errorf("load actions: %w", err)
	}

	aggs := aggregate(actions)
	if len(aggs) == 0 || aggs[0].amount.IsZero() {
		pos := model.Position{PoolID: poolID, Amount: decimal.Zero, APRStatus: model.APRClosed}
		if len(aggs) > 0 {
			pos.ActionCount = aggs[0].count
			pos.LastActionAt = aggs[0].lastAt
		}
		return pos, nil
	}
	return e.project(ctx, aggs[0])
}

// RecordDepositAndProject appends a deposit and returns the pool's position
// recomputed from the full history.
func (e *Engine) RecordDepositAndProject(ctx context.Context, userID, poolID string, amount decimal.Decimal, details *model.DepositDetails) (model.Position, error) {
	poolID, err := normalizePool("pool_id", poolID)
	if err != nil {
		return model.Position{}, err
	}
	req := DepositRequest{PoolID: &poolID, Amount: amount}
	if details != nil {
		req.Details = *details
	}
	if _, err := e.recordDeposit(ctx, userID, req, details != nil); err != nil {
		return model.Position{}, err
	}
	return e.PositionFor(ctx, userID, poolID)
}

func (e *Engine) project(ctx context.Context, agg poolAggregate) (model.Position, error) {
	pos := model.Position{
		PoolID:       agg.poolID,
		Amount:       agg.amount,
		APRStatus:    model.APRUnknown,
		Inconsistent: agg.amount.IsNegative(),
		ActionCount:  agg.count,
		LastActionAt: agg.lastAt,
	}

	snap, err := e.aprs.Latest(ctx, agg.poolID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return pos, nil
		}
		return model.Position{}, fmt.Errorf("latest apr %s: %w", agg.poolID, err)
	}

	apr := snap.APY
	earning := agg.amount.Mul(decimal.NewFromFloat(apr))
	pos.CurrentAPR = &apr
	pos.ProjectedEarning = &earning
	pos.APRStatus = model.APRKnown
	return pos, nil
}

type poolAggregate struct {
	poolID string
	amount decimal.Decimal
	count  int
	lastAt time.Time
}

// aggregate sums signed amounts per pool, walking actions in Seq order.
// Actions without a pool are ignored. Results are sorted by pool id.
func aggregate(actions []model.UserAction) []poolAggregate {
	ordered := make([]model.UserAction, len(actions))
	copy(ordered, actions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	byPool := make(map[string]*poolAggregate)
	for _, action := range ordered {
		if !action.PoolScoped() {
			continue
		}
		agg := byPool[*action.PoolID]
		if agg == nil {
			agg = &poolAggregate{poolID: *action.PoolID, amount: decimal.Zero}
			byPool[*action.PoolID] = agg
		}
		agg.amount = agg.amount.Add(action.Amount)
		agg.count++
		if action.RecordedAt.After(agg.lastAt) {
			agg.lastAt = action.RecordedAt
		}
	}

	out := make([]poolAggregate, 0, len(byPool))
	for _, agg := range byPool {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].poolID < out[j].poolID })
	return out
}
