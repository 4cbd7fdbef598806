package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// DefaultCurveURL is the public Curve pools endpoint for Ethereum main pools.
const DefaultCurveURL = "https://api.curve.fi/api/getPools/ethereum/main"

// CurveAPI reads pools from the Curve REST API.
type CurveAPI struct {
	fetcher httpFetcher
}

func NewCurveAPI(cfg HTTPConfig, logger *zap.Logger) *CurveAPI {
	if cfg.URL == "" {
		cfg.URL = DefaultCurveURL
	}
	return &CurveAPI{fetcher: newHTTPFetcher(cfg, logger)}
}

func (c *CurveAPI) Name() string { return "curve" }

type curveResponse struct {
	Data *struct {
		PoolData []json.RawMessage `json:"poolData"`
	} `json:"data"`
}

type curvePool struct {
	ID           string            `json:"id"`
	Address      string            `json:"address"`
	APY          json.RawMessage   `json:"apy"`
	APYFormatted json.RawMessage   `json:"apyFormatted"`
	BribeAPY     json.RawMessage   `json:"bribeApy"`
	TradingFee   json.RawMessage   `json:"tradingFee"`
	Fee          json.RawMessage   `json:"fee"`
	GaugeRewards []curveGaugeEntry `json:"gaugeRewards"`
}

type curveGaugeEntry struct {
	Token  string          `json:"token"`
	Symbol string          `json:"symbol"`
	APY    json.RawMessage `json:"apy"`
}

// FetchPools returns one record per pool entry. A transport or top-level
// payload failure is returned as an error; a bad entry is returned with Err set.
func (c *CurveAPI) FetchPools(ctx context.Context) ([]PoolRecord, error) {
	body, err := c.fetcher.do(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}
	return parseCurvePools(body)
}

func parseCurvePools(body []byte) ([]PoolRecord, error) {
	var resp curveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode curve payload: %w", err)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("decode curve payload: missing data")
	}

	records := make([]PoolRecord, 0, len(resp.Data.PoolData))
	for _, raw := range resp.Data.PoolData {
		records = append(records, parseCurvePool(raw))
	}
	return records, nil
}

func parseCurvePool(raw json.RawMessage) PoolRecord {
	var pool curvePool
	if err := json.Unmarshal(raw, &pool); err != nil {
		return PoolRecord{Err: fmt.Errorf("decode pool: %w", err)}
	}

	record := PoolRecord{PoolID: pool.ID}
	if record.PoolID == "" {
		record.PoolID = pool.Address
	}

	if len(pool.APY) == 0 || string(pool.APY) == "null" {
		// apyFormatted is display text such as "5.2%"; unparsable means absent.
		record.APY, _ = curveAPY(pool.APYFormatted)
	} else {
		apy, err := curveAPY(pool.APY)
		if err != nil {
			record.Err = fmt.Errorf("apy: %w", err)
			return record
		}
		record.APY = apy
	}

	var err error

	if record.Bribe, err = floatValue(pool.BribeAPY); err != nil {
		record.Err = fmt.Errorf("bribeApy: %w", err)
		return record
	}

	tradingFee, err := floatValue(pool.TradingFee)
	if err != nil {
		record.Err = fmt.Errorf("tradingFee: %w", err)
		return record
	}
	fee, err := floatValue(pool.Fee)
	if err != nil {
		record.Err = fmt.Errorf("fee: %w", err)
		return record
	}
	record.TradingFee = firstNonZero(tradingFee, fee)

	for _, reward := range pool.GaugeRewards {
		token := reward.Token
		if token == "" {
			token = reward.Symbol
		}
		if !strings.EqualFold(token, "crv") {
			continue
		}
		if record.CRVReward, err = floatValue(reward.APY); err != nil {
			record.Err = fmt.Errorf("gaugeRewards crv apy: %w", err)
			return record
		}
		break
	}

	return record
}

// curveAPY handles both the object form {"total": x} / {"apy": x} and a bare number.
func curveAPY(raw json.RawMessage) (*float64, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var obj struct {
			Total json.RawMessage `json:"total"`
			APY   json.RawMessage `json:"apy"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
		total, err := floatValue(obj.Total)
		if err != nil {
			return nil, err
		}
		apy, err := floatValue(obj.APY)
		if err != nil {
			return nil, err
		}
		return firstNonZero(total, apy), nil
	}
	return floatValue(raw)
}
