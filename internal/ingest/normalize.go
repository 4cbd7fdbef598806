package ingest

import (
	"time"

	"yieldscope/internal/model"
	"yieldscope/internal/provider"
)

// Normalize maps a provider record onto the canonical snapshot shape.
// Absent components become zero; percentUnits divides every value by 100.
func Normalize(record provider.PoolRecord, recordedAt time.Time, percentUnits bool) (model.PoolMetricSnapshot, error) {
	if record.Err != nil {
		return model.PoolMetricSnapshot{}, &model.ValidationError{Field: "record", Reason: record.Err.Error()}
	}
	if record.PoolID == "" {
		return model.PoolMetricSnapshot{}, &model.ValidationError{Field: "pool_id", Reason: "required"}
	}

	scale := 1.0
	if percentUnits {
		scale = 100
	}
	value := func(v *float64) float64 {
		if v == nil {
			return 0
		}
		return *v / scale
	}

	snap := model.PoolMetricSnapshot{
		PoolID:     record.PoolID,
		APY:        value(record.APY),
		Bribe:      value(record.Bribe),
		TradingFee: value(record.TradingFee),
		CRVReward:  value(record.CRVReward),
		RecordedAt: recordedAt.UTC(),
	}
	if err := snap.Validate(); err != nil {
		return model.PoolMetricSnapshot{}, err
	}
	return snap, nil
}
