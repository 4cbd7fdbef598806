package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// DefaultSubgraphURL is the public Curve subgraph endpoint.
const DefaultSubgraphURL = "https://api.thegraph.com/subgraphs/name/curvefi/curve"

const subgraphPoolsQuery = `{
  pools(first: 1000) {
    id
    swapFee
    gauge {
      rewardData {
        apy
        token { symbol }
      }
    }
  }
}`

// Subgraph reads pools from a Curve GraphQL subgraph. APY is the sum of all
// gauge reward APYs; every non-CRV reward counts as bribe.
type Subgraph struct {
	fetcher httpFetcher
}

func NewSubgraph(cfg HTTPConfig, logger *zap.Logger) *Subgraph {
	if cfg.URL == "" {
		cfg.URL = DefaultSubgraphURL
	}
	return &Subgraph{fetcher: newHTTPFetcher(cfg, logger)}
}

func (s *Subgraph) Name() string { return "subgraph" }

type subgraphResponse struct {
	Data *struct {
		Pools []json.RawMessage `json:"pools"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type subgraphPool struct {
	ID      string          `json:"id"`
	SwapFee json.RawMessage `json:"swapFee"`
	Fee     json.RawMessage `json:"fee"`
	Gauge   *struct {
		RewardData []struct {
			APY   json.RawMessage `json:"apy"`
			Token *struct {
				Symbol string `json:"symbol"`
			} `json:"token"`
		} `json:"rewardData"`
	} `json:"gauge"`
}

func (s *Subgraph) FetchPools(ctx context.Context) ([]PoolRecord, error) {
	query, err := json.Marshal(map[string]string{"query": subgraphPoolsQuery})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	body, err := s.fetcher.do(ctx, http.MethodPost, query)
	if err != nil {
		return nil, err
	}
	return parseSubgraphPools(body)
}

func parseSubgraphPools(body []byte) ([]PoolRecord, error) {
	var resp subgraphResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode subgraph payload: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("subgraph error: %s", resp.Errors[0].Message)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("decode subgraph payload: missing data")
	}

	records := make([]PoolRecord, 0, len(resp.Data.Pools))
	for _, raw := range resp.Data.Pools {
		records = append(records, parseSubgraphPool(raw))
	}
	return records, nil
}

func parseSubgraphPool(raw json.RawMessage) PoolRecord {
	var pool subgraphPool
	if err := json.Unmarshal(raw, &pool); err != nil {
		return PoolRecord{Err: fmt.Errorf("decode pool: %w", err)}
	}
	record := PoolRecord{PoolID: pool.ID}

	swapFee, err := floatValue(pool.SwapFee)
	if err != nil {
		record.Err = fmt.Errorf("swapFee: %w", err)
		return record
	}
	fee, err := floatValue(pool.Fee)
	if err != nil {
		record.Err = fmt.Errorf("fee: %w", err)
		return record
	}
	record.TradingFee = firstNonZero(swapFee, fee)

	var total, bribe, crv float64
	if pool.Gauge != nil {
		for _, reward := range pool.Gauge.RewardData {
			apy, err := floatValue(reward.APY)
			if err != nil {
				record.Err = fmt.Errorf("reward apy: %w", err)
				return record
			}
			if apy == nil {
				continue
			}
			total += *apy
			symbol := ""
			if reward.Token != nil {
				symbol = reward.Token.Symbol
			}
			if strings.EqualFold(symbol, "crv") {
				crv = *apy
			} else {
				bribe += *apy
			}
		}
	}
	record.APY = &total
	record.Bribe = &bribe
	record.CRVReward = &crv
	return record
}
