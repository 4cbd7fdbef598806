package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"yieldscope/internal/earnings"
	"yieldscope/internal/history"
	"yieldscope/internal/ingest"
	"yieldscope/internal/model"
	"yieldscope/internal/storage/memory"
)

type stubRefresher struct {
	n   int
	err error
}

func (s stubRefresher) RefreshAllMetrics(context.Context) (int, error) { return s.n, s.err }

func newTestServer(t *testing.T, refresher Refresher) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	logger := zaptest.NewLogger(t)
	hist := history.NewService(store)
	srv := NewServer(hist, earnings.NewEngine(store, hist, logger), refresher, logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestPoolAPYStatusMapping(t *testing.T) {
	ts, store := newTestServer(t, nil)
	require.NoError(t, store.AppendSnapshots(context.Background(), []model.PoolMetricSnapshot{
		{PoolID: "sample_pool", APY: 0.04, Bribe: 0.01, TradingFee: 0.02, CRVReward: 0.01, RecordedAt: time.Now().UTC()},
	}))

	resp, body := do(t, http.MethodGet, ts.URL+"/pools/sample_pool/apy", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "sample_pool", body["pool_id"])
	require.Contains(t, body, "history")

	resp, _ = do(t, http.MethodGet, ts.URL+"/pools/missing/apy", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/pools/sample_pool/history?window=90d", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, ts.URL+"/pools/sample_pool/history?window=30d", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["snapshots"], 1)

	resp, body = do(t, http.MethodGet, ts.URL+"/pools/sample_pool/yield-sources", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	current := body["current"].(map[string]any)
	require.Equal(t, 0.02, current["trading_fee"])
}

func TestEarningsAndPositions(t *testing.T) {
	ts, store := newTestServer(t, nil)
	require.NoError(t, store.AppendSnapshots(context.Background(), []model.PoolMetricSnapshot{
		{PoolID: "sample_pool", APY: 0.01, RecordedAt: time.Now().UTC()},
	}))

	resp, body := do(t, http.MethodPost, ts.URL+"/users/alice/earnings", `{"pool_id":"sample_pool","amount":"100"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "1", body["projected_earning"])

	resp, _ = do(t, http.MethodPost, ts.URL+"/users/alice/earnings", `{"pool_id":"sample_pool","amount":"0"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, ts.URL+"/users/alice/earnings", `not json`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, ts.URL+"/users/alice/positions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "100", body["total_amount"])
	require.Len(t, body["positions"], 1)
}

func TestDepositListing(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	deposit := `{"pool_id":"p","amount":"5","asset":"USDC","network":"ethereum",` +
		`"from_address":"0x52908400098527886E0F7030069857D2E4169EE7",` +
		`"tx_hash":"0x88df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b"}`

	resp, body := do(t, http.MethodPost, ts.URL+"/users/alice/deposits", deposit)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "deposit", body["kind"])

	resp, _ = do(t, http.MethodPost, ts.URL+"/users/alice/deposits", deposit)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, ts.URL+"/users/alice/deposits?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(1), body["total"])

	resp, _ = do(t, http.MethodGet, ts.URL+"/users/alice/withdrawals?skip=x", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRefreshMapsProviderError(t *testing.T) {
	failing := stubRefresher{err: &model.ProviderError{Provider: "curve", Err: errors.New("boom")}}
	ts, _ := newTestServer(t, failing)

	resp, _ := do(t, http.MethodPost, ts.URL+"/admin/refresh", "")
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	busy, _ := newTestServer(t, stubRefresher{err: ingest.ErrRunInProgress})
	resp, _ = do(t, http.MethodPost, busy.URL+"/admin/refresh", "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	ok, _ := newTestServer(t, stubRefresher{n: 3})
	resp, body := do(t, http.MethodPost, ok.URL+"/admin/refresh", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(3), body["appended"])
}
