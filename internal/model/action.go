package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ActionKind tags the variant of a UserAction.
type ActionKind string

const (
	KindDeposit        ActionKind = "deposit"
	KindWithdrawal     ActionKind = "withdrawal"
	KindRebalance      ActionKind = "rebalance"
	KindDeployment     ActionKind = "deployment"
	KindRiskAdjustment ActionKind = "risk_adjustment"
)

// ParseActionKind validates a kind string.
func ParseActionKind(input string) (ActionKind, error) {
	switch kind := ActionKind(input); kind {
	case KindDeposit, KindWithdrawal, KindRebalance, KindDeployment, KindRiskAdjustment:
		return kind, nil
	default:
		return "", &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown action kind %q", input)}
	}
}

// UserAction is a single economic event for a user. Only UserID, PoolID and
// Amount take part in position aggregation; Details is opaque to it.
type UserAction struct {
	ID         uuid.UUID       `json:"id"`
	UserID     string          `json:"user_id"`
	PoolID     *string         `json:"pool_id"`
	Kind       ActionKind      `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	GroupID    *uuid.UUID      `json:"group_id,omitempty"`
	Seq        int64           `json:"seq"`
	RecordedAt time.Time       `json:"recorded_at"`
	Details    ActionDetails   `json:"details,omitempty"`
}

// PoolScoped reports whether the action belongs to a pool.
func (a UserAction) PoolScoped() bool {
	return a.PoolID != nil && *a.PoolID != ""
}

// ActionDetails is the kind-specific payload of a UserAction.
type ActionDetails interface {
	Kind() ActionKind
}

// DepositDetails describes an inbound transfer.
type DepositDetails struct {
	Asset       string  `json:"asset"`
	FromAddress string  `json:"from_address"`
	Network     string  `json:"network"`
	GasFee      float64 `json:"gas_fee"`
	NetReceived float64 `json:"net_received"`
	Status      string  `json:"status"`
	TxHash      string  `json:"tx_hash"`
}

func (DepositDetails) Kind() ActionKind { return KindDeposit }

// WithdrawalDetails describes an outbound transfer.
type WithdrawalDetails struct {
	Asset       string  `json:"asset"`
	ToAddress   string  `json:"to_address"`
	Network     string  `json:"network"`
	GasFee      float64 `json:"gas_fee"`
	NetReceived float64 `json:"net_received"`
	Status      string  `json:"status"`
	TxHash      string  `json:"tx_hash"`
}

func (WithdrawalDetails) Kind() ActionKind { return KindWithdrawal }

// RebalanceDetails describes a strategy-driven move between pools.
type RebalanceDetails struct {
	OldPool       string  `json:"old_pool"`
	NewPool       string  `json:"new_pool"`
	OldAPY        float64 `json:"old_apy"`
	NewAPY        float64 `json:"new_apy"`
	Strategy      string  `json:"strategy"`
	ActionType    string  `json:"action_type"`
	AssetType     string  `json:"asset_type"`
	NewAllocation float64 `json:"new_allocation"`
	GasCost       float64 `json:"gas_cost"`
}

func (RebalanceDetails) Kind() ActionKind { return KindRebalance }

// DeploymentDetails describes funds deployed into a pool by a strategy.
type DeploymentDetails struct {
	Strategy    string  `json:"strategy"`
	RiskLevel   string  `json:"risk_level"`
	ExpectedAPY float64 `json:"expected_apy"`
	TxFee       float64 `json:"tx_fee"`
	Status      string  `json:"status"`
}

func (DeploymentDetails) Kind() ActionKind { return KindDeployment }

// RiskAdjustmentDetails describes capital moved for risk reasons.
type RiskAdjustmentDetails struct {
	FromPool  string `json:"from_pool"`
	ToPool    string `json:"to_pool,omitempty"`
	RiskLevel string `json:"risk_level"`
	Reason    string `json:"reason"`
}

func (RiskAdjustmentDetails) Kind() ActionKind { return KindRiskAdjustment }

// DecodeDetails rebuilds the typed payload of an action from its JSON form.
func DecodeDetails(kind ActionKind, raw []byte) (ActionDetails, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	switch kind {
	case KindDeposit:
		return decodeAs[DepositDetails](kind, raw)
	case KindWithdrawal:
		return decodeAs[WithdrawalDetails](kind, raw)
	case KindRebalance:
		return decodeAs[RebalanceDetails](kind, raw)
	case KindDeployment:
		return decodeAs[DeploymentDetails](kind, raw)
	case KindRiskAdjustment:
		return decodeAs[RiskAdjustmentDetails](kind, raw)
	default:
		return nil, fmt.Errorf("decode details: unknown kind %q", kind)
	}
}

func decodeAs[T ActionDetails](kind ActionKind, raw []byte) (ActionDetails, error) {
	var details T
	if err := json.Unmarshal(raw, &details); err != nil {
		return nil, fmt.Errorf("decode %s details: %w", kind, err)
	}
	return details, nil
}

// UnmarshalJSON decodes Details according to Kind.
func (a *UserAction) UnmarshalJSON(data []byte) error {
	type alias UserAction
	var aux struct {
		alias
		Details json.RawMessage `json:"details,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	details, err := DecodeDetails(aux.Kind, aux.Details)
	if err != nil {
		return err
	}
	*a = UserAction(aux.alias)
	a.Details = details
	return nil
}
