package model

import (
	"math"
	"testing"
	"time"
)

func TestPoolMetricSnapshotValidate(t *testing.T) {
	now := time.Now().UTC()
	valid := PoolMetricSnapshot{PoolID: "sample", APY: 0.01, RecordedAt: now}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		name  string
		mut   func(*PoolMetricSnapshot)
		field string
	}{
		{"missing pool", func(s *PoolMetricSnapshot) { s.PoolID = "" }, "pool_id"},
		{"negative bribe", func(s *PoolMetricSnapshot) { s.Bribe = -0.1 }, "bribe"},
		{"nan apy", func(s *PoolMetricSnapshot) { s.APY = math.NaN() }, "apy"},
		{"inf fee", func(s *PoolMetricSnapshot) { s.TradingFee = math.Inf(1) }, "trading_fee"},
		{"zero time", func(s *PoolMetricSnapshot) { s.RecordedAt = time.Time{} }, "recorded_at"},
	}
	for _, tc := range cases {
		snap := valid
		tc.mut(&snap)
		err := snap.Validate()
		ve, ok := err.(*ValidationError)
		if !ok {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
		if ve.Field != tc.field {
			t.Fatalf("%s: field %s, want %s", tc.name, ve.Field, tc.field)
		}
	}
}
