package scheduler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

var undef = math.NaN()

func TestScoreRSIBands(t *testing.T) {
	cases := map[float64]int{25: -2, 40: -1, 50: 0, 60: 1, 80: 2}
	for rsi, want := range cases {
		assert.Equal(t, want, scoreRSI([]float64{rsi}, 0), "rsi=%v", rsi)
	}
	assert.Equal(t, 0, scoreRSI([]float64{undef}, 0), "undefined input scores neutral")
	assert.Equal(t, 0, scoreRSI([]float64{50}, 5), "out-of-range index scores neutral")
}

func TestScoreMACDMagnitudeGatesStrongVsWeak(t *testing.T) {
	// signal line at 1.0: 10% threshold is 0.1
	assert.Equal(t, 2, scoreMACD([]float64{1.3}, []float64{1.0}, 0), "diff 0.3 > 10% of signal magnitude is strong bullish")
	assert.Equal(t, 1, scoreMACD([]float64{1.05}, []float64{1.0}, 0), "diff 0.05 <= 10% of signal magnitude is weak bullish")
	assert.Equal(t, -2, scoreMACD([]float64{-0.3}, []float64{1.0}, 0), "diff -1.3 magnitude exceeds 10% threshold, strong bearish")
	assert.Equal(t, -1, scoreMACD([]float64{0.95}, []float64{1.0}, 0), "diff -0.05 weak bearish")
	assert.Equal(t, 0, scoreMACD([]float64{1.0}, []float64{1.0}, 0), "equal lines score neutral")
	assert.Equal(t, 0, scoreMACD([]float64{undef}, []float64{1.0}, 0), "undefined macd line scores neutral")
}

func TestScoreStochasticBands(t *testing.T) {
	cases := map[float64]int{10: -2, 40: -1, 50: 0, 70: 1, 90: 2}
	for k, want := range cases {
		assert.Equal(t, want, scoreStochastic([]float64{k}, 0), "k=%v", k)
	}
}

func TestScoreMATrendBands(t *testing.T) {
	assert.Equal(t, 2, scoreMATrend([]float64{104}, []float64{100}, 0), "4% spread is a strong uptrend")
	assert.Equal(t, 1, scoreMATrend([]float64{101}, []float64{100}, 0), "1% spread is a weak uptrend")
	assert.Equal(t, 0, scoreMATrend([]float64{100}, []float64{100}, 0), "zero spread is neutral")
	assert.Equal(t, -1, scoreMATrend([]float64{99}, []float64{100}, 0), "weak downtrend")
	assert.Equal(t, -2, scoreMATrend([]float64{96}, []float64{100}, 0), "strong downtrend")
	assert.Equal(t, 0, scoreMATrend([]float64{100}, []float64{0}, 0), "zero long MA avoids a division by zero")
}

func TestScoreVolumeBands(t *testing.T) {
	cases := map[float64]int{0.3: -2, 0.5: -1, 1.0: 0, 1.5: 1, 2.5: 2}
	for ratio, want := range cases {
		assert.Equal(t, want, scoreVolume([]float64{ratio}, 0), "ratio=%v", ratio)
	}
}

func TestLookbackVariesByTimeframe(t *testing.T) {
	assert.Less(t, lookback("1m"), lookback("5m"))
	assert.Less(t, lookback("5m"), lookback("1h"))
	assert.Less(t, lookback("1h"), lookback("1d"))
}
