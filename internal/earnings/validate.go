package earnings

import (
	"fmt"
	"math"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"yieldscope/internal/model"
)

func validateUser(userID string) error {
	if userID == "" {
		return &model.ValidationError{Field: "user_id", Reason: "required"}
	}
	return nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &model.ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	return nil
}

// normalizePool trims poolID and rejects a blank result. Every entry point
// stores and queries the trimmed id.
func normalizePool(field, poolID string) (string, error) {
	trimmed := strings.TrimSpace(poolID)
	if trimmed == "" {
		return "", &model.ValidationError{Field: field, Reason: "required"}
	}
	return trimmed, nil
}

// optionalPool is normalizePool for transfers that may be unallocated. A nil
// id stays nil; a present but blank one is rejected.
func optionalPool(poolID *string) (*string, error) {
	if poolID == nil {
		return nil, nil
	}
	trimmed, err := normalizePool("pool_id", *poolID)
	if err != nil {
		return nil, err
	}
	return &trimmed, nil
}

func validateNonNegative(field string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return &model.ValidationError{Field: field, Reason: "not a finite number"}
	}
	if value < 0 {
		return &model.ValidationError{Field: field, Reason: "must be non-negative"}
	}
	return nil
}

func validateAddress(field, address string) error {
	if !common.IsHexAddress(address) {
		return &model.ValidationError{Field: field, Reason: fmt.Sprintf("invalid address %q", address)}
	}
	return nil
}

func validateTxHash(hash string) error {
	data, err := hexutil.Decode(hash)
	if err != nil {
		return &model.ValidationError{Field: "tx_hash", Reason: fmt.Sprintf("invalid hex %q", hash)}
	}
	if len(data) != common.HashLength {
		return &model.ValidationError{Field: "tx_hash", Reason: fmt.Sprintf("invalid length %d", len(data))}
	}
	return nil
}

type transfer struct {
	addressField string
	address      string
	asset        string
	network      string
	gasFee       float64
	netReceived  float64
	txHash       string
}

func validateTransfer(t transfer) error {
	if t.asset == "" {
		return &model.ValidationError{Field: "asset", Reason: "required"}
	}
	if t.network == "" {
		return &model.ValidationError{Field: "network", Reason: "required"}
	}
	if err := validateAddress(t.addressField, t.address); err != nil {
		return err
	}
	if err := validateTxHash(t.txHash); err != nil {
		return err
	}
	if err := validateNonNegative("gas_fee", t.gasFee); err != nil {
		return err
	}
	return validateNonNegative("net_received", t.netReceived)
}
