package model

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestPositionSummaryInconsistencies(t *testing.T) {
	summary := PositionSummary{
		UserID: "alice",
		Positions: []Position{
			{PoolID: "a", Amount: decimal.NewFromInt(10)},
			{PoolID: "b", Amount: decimal.NewFromInt(-5), Inconsistent: true},
		},
	}

	err := summary.Inconsistencies()
	if err == nil {
		t.Fatalf("expected inconsistency error")
	}
	var ipe *InconsistentPositionError
	if !errors.As(err, &ipe) {
		t.Fatalf("expected InconsistentPositionError, got %v", err)
	}
	if ipe.PoolID != "b" || !ipe.Amount.Equal(decimal.NewFromInt(-5)) {
		t.Fatalf("unexpected error payload: %+v", ipe)
	}

	if err := (PositionSummary{UserID: "bob"}).Inconsistencies(); err != nil {
		t.Fatalf("expected nil for empty summary, got %v", err)
	}
}

func TestPositionSummaryLookup(t *testing.T) {
	summary := PositionSummary{Positions: []Position{{PoolID: "sample"}}}
	if _, ok := summary.Position("sample"); !ok {
		t.Fatalf("expected sample to be listed")
	}
	if _, ok := summary.Position("other"); ok {
		t.Fatalf("did not expect other to be listed")
	}
}
