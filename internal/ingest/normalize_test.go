package ingest

import (
	"errors"
	"testing"
	"time"

	"yieldscope/internal/model"
	"yieldscope/internal/provider"
)

func TestNormalizePercentUnits(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snap, err := Normalize(provider.PoolRecord{
		PoolID:     "3pool",
		APY:        fptr(4.0),
		Bribe:      fptr(0.5),
		TradingFee: fptr(1.0),
	}, at, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := model.PoolMetricSnapshot{
		PoolID:     "3pool",
		APY:        0.04,
		Bribe:      0.005,
		TradingFee: 0.01,
		CRVReward:  0,
		RecordedAt: at,
	}
	if snap != want {
		t.Fatalf("snapshot mismatch: %+v != %+v", snap, want)
	}
}

func TestNormalizeRejects(t *testing.T) {
	at := time.Now()
	cases := []struct {
		name   string
		record provider.PoolRecord
	}{
		{"missing id", provider.PoolRecord{APY: fptr(1)}},
		{"negative component", provider.PoolRecord{PoolID: "x", TradingFee: fptr(-1)}},
		{"malformed entry", provider.PoolRecord{PoolID: "x", Err: errors.New("bad apy")}},
	}
	for _, tc := range cases {
		if _, err := Normalize(tc.record, at, false); !model.IsValidation(err) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}
