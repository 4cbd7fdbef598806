package model

import (
	"math"
	"time"
)

// PoolMetricSnapshot is one normalized reading of a pool's yield composition.
type PoolMetricSnapshot struct {
	PoolID     string    `json:"pool_id"`
	APY        float64   `json:"apy"`
	Bribe      float64   `json:"bribe"`
	TradingFee float64   `json:"trading_fee"`
	CRVReward  float64   `json:"crv_reward"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Validate rejects snapshots that must not be persisted.
func (s PoolMetricSnapshot) Validate() error {
	if s.PoolID == "" {
		return &ValidationError{Field: "pool_id", Reason: "required"}
	}
	fields := []struct {
		name  string
		value float64
	}{
		{"apy", s.APY},
		{"bribe", s.Bribe},
		{"trading_fee", s.TradingFee},
		{"crv_reward", s.CRVReward},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return &ValidationError{Field: f.name, Reason: "not a finite number"}
		}
		if f.value < 0 {
			return &ValidationError{Field: f.name, Reason: "must be non-negative"}
		}
	}
	if s.RecordedAt.IsZero() {
		return &ValidationError{Field: "recorded_at", Reason: "required"}
	}
	return nil
}
