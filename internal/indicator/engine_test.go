package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMASeriesReturnsSameLengthAsSource(t *testing.T) {
	e := NewEngine()
	prices := []float64{1, 2, 3, 4, 5}
	out := e.SMASeries("AAPL", "1d", prices, 3)
	require.Len(t, out, len(prices))
}

func TestSMASeriesCacheHitReturnsIdenticalSliceOnUnchangedSource(t *testing.T) {
	e := NewEngine()
	prices := []float64{1, 2, 3, 4, 5}
	first := e.SMASeries("AAPL", "1d", prices, 3)
	second := e.SMASeries("AAPL", "1d", prices, 3)

	require.Len(t, second, len(first))
	assert.Equal(t, first, second, "an unchanged source length must replay the memoised values")
}

func TestSMASeriesRecomputesWhenSourceGrows(t *testing.T) {
	e := NewEngine()
	prices := []float64{1, 2, 3, 4, 5}
	first := e.SMASeries("AAPL", "1d", prices, 3)

	grown := append(append([]float64{}, prices...), 6)
	second := e.SMASeries("AAPL", "1d", grown, 3)

	assert.Len(t, second, len(grown), "growing the source must recompute over the full new window")
	assert.NotEqual(t, len(first), len(second))
}

func TestRSISeriesRecomputesOnAnySourceLengthChange(t *testing.T) {
	e := NewEngine()
	base := make([]float64, 20)
	for i := range base {
		base[i] = float64(100 + i)
	}
	first := e.RSISeries("AAPL", "1d", base, 14)
	require.Len(t, first, len(base))

	grown := append(append([]float64{}, base...), 121)
	second := e.RSISeries("AAPL", "1d", grown, 14)
	require.Len(t, second, len(grown), "a new bar must widen the series by exactly one entry")

	unchanged := e.RSISeries("AAPL", "1d", grown, 14)
	assert.Equal(t, second, unchanged, "an unchanged source length must replay the memoised values")
}

func TestMACDSeriesRecomputesOnAnySourceLengthChange(t *testing.T) {
	e := NewEngine()
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = float64(100 + i)
	}
	macdLine, signalLine, hist := e.MACDSeries("AAPL", "1d", prices, 12, 26, 9)
	require.Len(t, macdLine, len(prices))
	require.Len(t, signalLine, len(prices))
	require.Len(t, hist, len(prices))

	grown := append(append([]float64{}, prices...), 141)
	macdLine2, _, _ := e.MACDSeries("AAPL", "1d", grown, 12, 26, 9)
	assert.Len(t, macdLine2, len(grown))
}

func TestInvalidateSeriesDropsOnlyMatchingSymbolTimeframe(t *testing.T) {
	e := NewEngine()
	prices := []float64{1, 2, 3, 4, 5}
	e.SMASeries("AAPL", "1d", prices, 3)
	e.SMASeries("MSFT", "1d", prices, 3)

	e.InvalidateSeries("AAPL", "1d")

	assert.NotContains(t, e.entries, key("AAPL", "1d", "sma", 3))
	assert.Contains(t, e.entries, key("MSFT", "1d", "sma", 3))
}

func TestEngineKeysAreIsolatedPerSymbolAndTimeframe(t *testing.T) {
	e := NewEngine()
	aapl1d := e.SMASeries("AAPL", "1d", []float64{1, 2, 3}, 2)
	aapl1h := e.SMASeries("AAPL", "1h", []float64{10, 20, 30}, 2)

	assert.NotEqual(t, aapl1d, aapl1h)
}
