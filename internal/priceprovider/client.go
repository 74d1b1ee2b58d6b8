// Package priceprovider adapts an external OHLCV bar/price API into the
// shape the Price-Series Cache and Outcome Tracker consume. Grounded on
// the teacher's internal/services/polygon.go for the aggregates-
// endpoint URL shape and response decoding, rewired onto
// go-resty/resty/v2 (already an indirect dependency of the teacher's
// go.mod) for its built-in exponential-backoff retry policy, which
// spec §6 requires (base 2s, cap 30s, max 3 retries) and the teacher's
// hand-rolled net/http client does not provide.
package priceprovider

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"market-signal-core/internal/apperr"
	"market-signal-core/internal/cache"
	"market-signal-core/internal/config"
	"market-signal-core/internal/logging"
)

// aggregatesResponse mirrors the teacher's PolygonResponse/PolygonResult
// shape for the /v2/aggs/ticker endpoint.
type aggregatesResponse struct {
	Ticker  string             `json:"ticker"`
	Status  string             `json:"status"`
	Results []aggregatesResult `json:"results"`
}

type aggregatesResult struct {
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
	Timestamp int64   `json:"t"`
}

// Client fetches bars from the configured price provider, with
// exponential-backoff retry (spec §6: base 2s, cap 30s, max 3 retries)
// and ErrDataSourceUnavailable once retries are exhausted.
type Client struct {
	http *resty.Client
	cfg  config.PriceProviderConfig
	log  *logging.Logger
}

func NewClient(cfg config.PriceProviderConfig, log *logging.Logger) *Client {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWaitBase).
		SetRetryMaxWaitTime(cfg.RetryWaitCap).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
		})

	return &Client{http: http, cfg: cfg, log: log.WithComponent("price_provider")}
}

// Bars fetches bars for symbol/timeframe between from and to.
func (c *Client) Bars(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]cache.Bar, error) {
	multiplier, span := timeframeToAPIUnit(timeframe)

	var out aggregatesResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"symbol": symbol,
			"from":   from.Format("2006-01-02"),
			"to":     to.Format("2006-01-02"),
		}).
		SetQueryParams(map[string]string{
			"adjusted": "true",
			"sort":     "asc",
			"limit":    "50000",
			"apikey":   c.cfg.APIKey,
		}).
		SetResult(&out).
		Get(fmt.Sprintf("/v2/aggs/ticker/{symbol}/range/%d/%s/{from}/{to}", multiplier, span))

	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrDataSourceUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d", apperr.ErrDataSourceUnavailable, resp.StatusCode())
	}
	if out.Status != "OK" && out.Status != "DELAYED" {
		return nil, fmt.Errorf("%w: provider status %q", apperr.ErrDataSourceUnavailable, out.Status)
	}

	bars := make([]cache.Bar, 0, len(out.Results))
	for _, r := range out.Results {
		bars = append(bars, cache.Bar{
			Symbol:    symbol,
			Timeframe: timeframe,
			Ts:        time.UnixMilli(r.Timestamp).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	return bars, nil
}

// PriceAt resolves the price nearest at-or-before `at`, used by the
// Outcome Tracker to resolve a signal's future horizon price.
func (c *Client) PriceAt(ctx context.Context, symbol string, at time.Time) (float64, error) {
	bars, err := c.Bars(ctx, symbol, "1m", at.Add(-time.Hour), at)
	if err != nil {
		return 0, err
	}
	for i := len(bars) - 1; i >= 0; i-- {
		if !bars[i].Ts.After(at) {
			return bars[i].Close, nil
		}
	}
	return 0, fmt.Errorf("%w: no bars available at or before %s for %s", apperr.ErrDataSourceUnavailable, at, symbol)
}

func timeframeToAPIUnit(timeframe string) (multiplier int, unit string) {
	switch timeframe {
	case "1m":
		return 1, "minute"
	case "5m":
		return 5, "minute"
	case "15m":
		return 15, "minute"
	case "1h":
		return 1, "hour"
	case "1d":
		return 1, "day"
	default:
		return 1, "minute"
	}
}

// HealthCheck performs a minimal request to confirm the provider is
// reachable and the API key is valid, grounded on the teacher's
// ValidateAPIKey.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Bars(ctx, "AAPL", "1d", time.Now().AddDate(0, 0, -2), time.Now())
	return err
}
