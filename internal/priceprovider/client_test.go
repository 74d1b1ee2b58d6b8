package priceprovider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-signal-core/internal/apperr"
	"market-signal-core/internal/config"
	"market-signal-core/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error", Output: "stderr"})
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Cleanup(srv.Close)
	return NewClient(config.PriceProviderConfig{
		BaseURL: srv.URL, Timeout: 5 * time.Second,
		RetryCount: 0, RetryWaitBase: time.Millisecond, RetryWaitCap: time.Millisecond,
	}, testLogger())
}

func TestBarsDecodesAggregatesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ticker":"AAPL","status":"OK","results":[
			{"o":100,"h":101,"l":99,"c":100.5,"v":1000,"t":1700000000000}
		]}`))
	}))
	c := newTestClient(t, srv)

	bars, err := c.Bars(context.Background(), "AAPL", "1d", time.Now().AddDate(0, 0, -1), time.Now())
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "AAPL", bars[0].Symbol)
	assert.Equal(t, 100.5, bars[0].Close)
}

func TestBarsReturnsErrDataSourceUnavailableOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	c := newTestClient(t, srv)

	_, err := c.Bars(context.Background(), "AAPL", "1d", time.Now().AddDate(0, 0, -1), time.Now())
	assert.ErrorIs(t, err, apperr.ErrDataSourceUnavailable)
}

func TestBarsReturnsErrDataSourceUnavailableOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ticker":"AAPL","status":"NOT_FOUND","results":[]}`))
	}))
	c := newTestClient(t, srv)

	_, err := c.Bars(context.Background(), "AAPL", "1d", time.Now().AddDate(0, 0, -1), time.Now())
	assert.ErrorIs(t, err, apperr.ErrDataSourceUnavailable)
}

func TestPriceAtReturnsLastBarClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ticker":"AAPL","status":"OK","results":[
			{"o":100,"h":101,"l":99,"c":100,"v":1000,"t":1700000000000},
			{"o":100,"h":102,"l":99,"c":101.25,"v":1200,"t":1700000060000}
		]}`))
	}))
	c := newTestClient(t, srv)

	price, err := c.PriceAt(context.Background(), "AAPL", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 101.25, price)
}

func TestPriceAtErrorsWhenNoBarsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ticker":"AAPL","status":"OK","results":[]}`))
	}))
	c := newTestClient(t, srv)

	_, err := c.PriceAt(context.Background(), "AAPL", time.Now())
	assert.ErrorIs(t, err, apperr.ErrDataSourceUnavailable)
}

func TestTimeframeToAPIUnit(t *testing.T) {
	cases := map[string]struct {
		mult int
		unit string
	}{
		"1m": {1, "minute"}, "5m": {5, "minute"}, "15m": {15, "minute"},
		"1h": {1, "hour"}, "1d": {1, "day"}, "unknown": {1, "minute"},
	}
	for tf, want := range cases {
		mult, unit := timeframeToAPIUnit(tf)
		assert.Equal(t, want.mult, mult, tf)
		assert.Equal(t, want.unit, unit, tf)
	}
}
