package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when no snapshot or record exists for a key.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed input rejected before persistence.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// ProviderError wraps a failed fetch from an external metrics provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// InconsistentPositionError flags a pool whose net amount is negative.
type InconsistentPositionError struct {
	UserID string
	PoolID string
	Amount decimal.Decimal
}

func (e *InconsistentPositionError) Error() string {
	return fmt.Sprintf("inconsistent position user=%s pool=%s amount=%s", e.UserID, e.PoolID, e.Amount.String())
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
