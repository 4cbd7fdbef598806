package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// PoolRecord is one provider entry after field mapping. Nil components were
// absent from the payload. Err is set when the entry itself was malformed.
type PoolRecord struct {
	PoolID     string
	APY        *float64
	Bribe      *float64
	TradingFee *float64
	CRVReward  *float64
	Err        error
}

// Provider fetches the current pool list from an external source.
type Provider interface {
	Name() string
	FetchPools(ctx context.Context) ([]PoolRecord, error)
}

// HTTPConfig controls transport behavior shared by providers.
type HTTPConfig struct {
	URL          string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Client       *http.Client
}

type httpFetcher struct {
	cfg    HTTPConfig
	client *http.Client
	logger *zap.Logger
}

func newHTTPFetcher(cfg HTTPConfig, logger *zap.Logger) httpFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return httpFetcher{cfg: cfg, client: client, logger: logger}
}

// do sends the request with retry and returns the body of a 2xx response.
func (f httpFetcher) do(ctx context.Context, method string, body []byte) ([]byte, error) {
	var payload []byte
	err := withRetry(ctx, f.cfg.MaxRetries, f.cfg.RetryBackoff, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, f.cfg.URL, reader)
		if err != nil {
			return permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := f.client.Do(req)
		if err != nil {
			f.logger.Warn("provider request failed", zap.Error(err), zap.String("url", f.cfg.URL))
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			f.logger.Warn("provider bad status", zap.Int("status", resp.StatusCode), zap.String("url", f.cfg.URL))
			statusErr := fmt.Errorf("unexpected status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return permanent(statusErr)
			}
			return statusErr
		}
		payload = data
		return nil
	})
	return payload, err
}

// floatValue accepts a JSON number or a numeric string. It returns nil for
// null or an absent value.
func floatValue(raw json.RawMessage) (*float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		var s string
		if err2 := json.Unmarshal(raw, &s); err2 != nil || s == "" {
			return nil, fmt.Errorf("not a number: %s", string(raw))
		}
		num = json.Number(s)
	}
	val, err := num.Float64()
	if err != nil {
		return nil, fmt.Errorf("not a number: %s", string(raw))
	}
	return &val, nil
}

// firstNonZero mirrors the provider convention that zero means "unset" for
// aliased fields.
func firstNonZero(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil && *v != 0 {
			return v
		}
	}
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
