package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// APRStatus tells whether a position could be joined against a snapshot.
// APRClosed marks a single-pool lookup whose net amount is zero; such
// positions carry no APR and never appear in a PositionSummary.
type APRStatus string

const (
	APRKnown   APRStatus = "known"
	APRUnknown APRStatus = "unknown"
	APRClosed  APRStatus = "closed"
)

// Position is a user's net contributed capital in one pool. It is derived
// from the action history on every query and never stored.
type Position struct {
	PoolID           string           `json:"pool_id"`
	Amount           decimal.Decimal  `json:"amount"`
	CurrentAPR       *float64         `json:"current_apr"`
	ProjectedEarning *decimal.Decimal `json:"projected_earning"`
	APRStatus        APRStatus        `json:"apr_status"`
	Inconsistent     bool             `json:"inconsistent,omitempty"`
	ActionCount      int              `json:"action_count"`
	LastActionAt     time.Time        `json:"last_action_at"`
}

// PositionSummary is the per-pool breakdown and totals for one user.
type PositionSummary struct {
	UserID                string          `json:"user_id"`
	Positions             []Position      `json:"positions"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	TotalProjectedEarning decimal.Decimal `json:"total_projected_earning"`
	UnknownAPRPools       []string        `json:"unknown_apr_pools,omitempty"`
	AsOf                  time.Time       `json:"as_of"`
}

// Position returns the entry for poolID, if listed.
func (s PositionSummary) Position(poolID string) (Position, bool) {
	for _, p := range s.Positions {
		if p.PoolID == poolID {
			return p, true
		}
	}
	return Position{}, false
}

// Inconsistencies joins one InconsistentPositionError per negative pool.
func (s PositionSummary) Inconsistencies() error {
	var errs []error
	for _, p := range s.Positions {
		if p.Inconsistent {
			errs = append(errs, &InconsistentPositionError{UserID: s.UserID, PoolID: p.PoolID, Amount: p.Amount})
		}
	}
	return errors.Join(errs...)
}
