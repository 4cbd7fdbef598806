package earnings

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"yieldscope/internal/chain"
	"yieldscope/internal/model"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
	statusPending    = "pending"
)

// DepositRequest records capital entering a pool. PoolID may be nil for
// deposits that are not yet allocated; those never count toward positions.
type DepositRequest struct {
	PoolID  *string
	Amount  decimal.Decimal
	Details model.DepositDetails
}

// WithdrawalRequest records capital leaving a pool. Amount is the positive
// quantity withdrawn.
type WithdrawalRequest struct {
	PoolID  *string
	Amount  decimal.Decimal
	Details model.WithdrawalDetails
}

// RebalanceRequest moves Amount from Details.OldPool to Details.NewPool.
type RebalanceRequest struct {
	Amount  decimal.Decimal
	Details model.RebalanceDetails
}

// DeploymentRequest deploys Amount into PoolID.
type DeploymentRequest struct {
	PoolID  string
	Amount  decimal.Decimal
	Details model.DeploymentDetails
}

// RiskAdjustmentRequest moves Amount out of Details.FromPool, into
// Details.ToPool when set. Without a target, Amount is signed and applied to
// FromPool alone, and it must not be zero.
type RiskAdjustmentRequest struct {
	Amount  decimal.Decimal
	Details model.RiskAdjustmentDetails
}

// RecordDeposit appends a deposit.
func (e *Engine) RecordDeposit(ctx context.Context, userID string, req DepositRequest) (model.UserAction, error) {
	return e.recordDeposit(ctx, userID, req, true)
}

func (e *Engine) recordDeposit(ctx context.Context, userID string, req DepositRequest, checkTransfer bool) (model.UserAction, error) {
	if err := validateUser(userID); err != nil {
		return model.UserAction{}, err
	}
	poolID, err := optionalPool(req.PoolID)
	if err != nil {
		return model.UserAction{}, err
	}
	if err := validateAmount(req.Amount); err != nil {
		return model.UserAction{}, err
	}
	if checkTransfer {
		d := req.Details
		if err := validateTransfer(transfer{
			addressField: "from_address",
			address:      d.FromAddress,
			asset:        d.Asset,
			network:      d.Network,
			gasFee:       d.GasFee,
			netReceived:  d.NetReceived,
			txHash:       d.TxHash,
		}); err != nil {
			return model.UserAction{}, err
		}
		status, err := e.transferStatus(ctx, d.TxHash, d.Status)
		if err != nil {
			return model.UserAction{}, err
		}
		req.Details.Status = status
	}
	if req.Details.Status == "" {
		req.Details.Status = statusPending
	}

	return e.appendOne(ctx, model.UserAction{
		UserID:  userID,
		PoolID:  poolID,
		Kind:    model.KindDeposit,
		Amount:  req.Amount,
		Details: req.Details,
	})
}

// RecordWithdrawal appends a withdrawal with a negated amount.
func (e *Engine) RecordWithdrawal(ctx context.Context, userID string, req WithdrawalRequest) (model.UserAction, error) {
	if err := validateUser(userID); err != nil {
		return model.UserAction{}, err
	}
	poolID, err := optionalPool(req.PoolID)
	if err != nil {
		return model.UserAction{}, err
	}
	if err := validateAmount(req.Amount); err != nil {
		return model.UserAction{}, err
	}
	d := req.Details
	if err := validateTransfer(transfer{
		addressField: "to_address",
		address:      d.ToAddress,
		asset:        d.Asset,
		network:      d.Network,
		gasFee:       d.GasFee,
		netReceived:  d.NetReceived,
		txHash:       d.TxHash,
	}); err != nil {
		return model.UserAction{}, err
	}
	status, err := e.transferStatus(ctx, d.TxHash, d.Status)
	if err != nil {
		return model.UserAction{}, err
	}
	req.Details.Status = status

	return e.appendOne(ctx, model.UserAction{
		UserID:  userID,
		PoolID:  poolID,
		Kind:    model.KindWithdrawal,
		Amount:  req.Amount.Neg(),
		Details: req.Details,
	})
}

// RecordRebalance appends the two offsetting legs of a rebalance atomically.
func (e *Engine) RecordRebalance(ctx context.Context, userID string, req RebalanceRequest) ([]model.UserAction, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	d := req.Details
	var err error
	if d.OldPool, err = normalizePool("old_pool", d.OldPool); err != nil {
		return nil, err
	}
	if d.NewPool, err = normalizePool("new_pool", d.NewPool); err != nil {
		return nil, err
	}
	if d.OldPool == d.NewPool {
		return nil, &model.ValidationError{Field: "new_pool", Reason: "must differ from old_pool"}
	}
	if err := validateNonNegative("gas_cost", d.GasCost); err != nil {
		return nil, err
	}

	return e.appendMove(ctx, userID, model.KindRebalance, d.OldPool, d.NewPool, req.Amount, d)
}

// RecordDeployment appends a positive pool-scoped deployment.
func (e *Engine) RecordDeployment(ctx context.Context, userID string, req DeploymentRequest) (model.UserAction, error) {
	if err := validateUser(userID); err != nil {
		return model.UserAction{}, err
	}
	poolID, err := normalizePool("pool_id", req.PoolID)
	if err != nil {
		return model.UserAction{}, err
	}
	if err := validateAmount(req.Amount); err != nil {
		return model.UserAction{}, err
	}
	if err := validateNonNegative("tx_fee", req.Details.TxFee); err != nil {
		return model.UserAction{}, err
	}
	if req.Details.Status == "" {
		req.Details.Status = statusPending
	}

	return e.appendOne(ctx, model.UserAction{
		UserID:  userID,
		PoolID:  &poolID,
		Kind:    model.KindDeployment,
		Amount:  req.Amount,
		Details: req.Details,
	})
}

// RecordRiskAdjustment appends a two-leg move, or a single signed leg when
// no target pool is given.
func (e *Engine) RecordRiskAdjustment(ctx context.Context, userID string, req RiskAdjustmentRequest) ([]model.UserAction, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	d := req.Details
	var err error
	if d.FromPool, err = normalizePool("from_pool", d.FromPool); err != nil {
		return nil, err
	}
	d.ToPool = strings.TrimSpace(d.ToPool)

	if d.ToPool == "" {
		if req.Amount.IsZero() {
			return nil, &model.ValidationError{Field: "amount", Reason: "must not be zero"}
		}
		from := d.FromPool
		action, err := e.appendOne(ctx, model.UserAction{
			UserID:  userID,
			PoolID:  &from,
			Kind:    model.KindRiskAdjustment,
			Amount:  req.Amount,
			Details: d,
		})
		if err != nil {
			return nil, err
		}
		return []model.UserAction{action}, nil
	}

	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	if d.FromPool == d.ToPool {
		return nil, &model.ValidationError{Field: "to_pool", Reason: "must differ from from_pool"}
	}
	return e.appendMove(ctx, userID, model.KindRiskAdjustment, d.FromPool, d.ToPool, req.Amount, d)
}

// ListActions pages through a user's actions of one kind, newest first.
func (e *Engine) ListActions(ctx context.Context, userID string, kind model.ActionKind, offset, limit int) ([]model.UserAction, int, error) {
	if err := validateUser(userID); err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		return nil, 0, &model.ValidationError{Field: "skip", Reason: "must be non-negative"}
	}
	switch {
	case limit <= 0:
		limit = defaultPageLimit
	case limit > maxPageLimit:
		limit = maxPageLimit
	}
	return e.actions.ListActions(ctx, userID, kind, offset, limit)
}

func (e *Engine) appendOne(ctx context.Context, action model.UserAction) (model.UserAction, error) {
	written, err := e.actions.AppendActions(ctx, []model.UserAction{action})
	if err != nil {
		return model.UserAction{}, err
	}
	e.logger.Debug("action recorded",
		zap.String("user", action.UserID),
		zap.String("kind", string(action.Kind)),
		zap.String("amount", action.Amount.String()),
	)
	return written[0], nil
}

func (e *Engine) appendMove(ctx context.Context, userID string, kind model.ActionKind, from, to string, amount decimal.Decimal, details model.ActionDetails) ([]model.UserAction, error) {
	group := uuid.New()
	legs := []model.UserAction{
		{UserID: userID, PoolID: &from, Kind: kind, Amount: amount.Neg(), GroupID: &group, Details: details},
		{UserID: userID, PoolID: &to, Kind: kind, Amount: amount, GroupID: &group, Details: details},
	}
	written, err := e.actions.AppendActions(ctx, legs)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("move recorded",
		zap.String("user", userID),
		zap.String("kind", string(kind)),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("amount", amount.String()),
	)
	return written, nil
}

// transferStatus resolves the stored status of a transfer. Without a
// confirmer, or when the node cannot be reached, the caller's status stands.
func (e *Engine) transferStatus(ctx context.Context, txHash, requested string) (string, error) {
	if requested == "" {
		requested = statusPending
	}
	if e.confirm == nil {
		return requested, nil
	}

	conf, err := e.confirm.Confirm(ctx, txHash)
	if err != nil {
		e.logger.Warn("tx confirmation unavailable", zap.String("tx_hash", txHash), zap.Error(err))
		return requested, nil
	}
	switch conf.Status {
	case chain.StatusFailed:
		return "", &model.ValidationError{Field: "tx_hash", Reason: "transaction reverted"}
	case chain.StatusConfirmed:
		return chain.StatusConfirmed, nil
	default:
		return requested, nil
	}
}
