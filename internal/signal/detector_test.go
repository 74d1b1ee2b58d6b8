package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectMABreakoutUpward(t *testing.T) {
	sType, strength, ok := DetectMABreakout(99, 105, MAInputs{Period: 20, PrevMA: 99, CurrMA: 100})
	require := assert.New(t)
	require.True(ok)
	require.Equal("breakout_up", sType)
	require.Greater(strength, 0.0)
}

func TestDetectMABreakoutNoBreakoutWithinEpsilon(t *testing.T) {
	_, _, ok := DetectMABreakout(100, 100.2, MAInputs{Period: 20, PrevMA: 100, CurrMA: 100})
	assert.False(t, ok)
}

func TestDetectCrossGolden(t *testing.T) {
	sType, ok := DetectCross(CrossInputs{PrevShortMA: 49, CurrShortMA: 51, PrevLongMA: 50, CurrLongMA: 50})
	assert.True(t, ok)
	assert.Equal(t, "golden_cross", sType)
}

func TestDetectCrossDead(t *testing.T) {
	sType, ok := DetectCross(CrossInputs{PrevShortMA: 51, CurrShortMA: 49, PrevLongMA: 50, CurrLongMA: 50})
	assert.True(t, ok)
	assert.Equal(t, "dead_cross", sType)
}

func TestDetectCrossNoneWhenNoCrossing(t *testing.T) {
	_, ok := DetectCross(CrossInputs{PrevShortMA: 60, CurrShortMA: 61, PrevLongMA: 50, CurrLongMA: 50})
	assert.False(t, ok)
}

func TestDetectRSIOverbought(t *testing.T) {
	sType, ok := DetectRSI(RSIInputs{PrevRSI: 65, CurrRSI: 70})
	assert.True(t, ok)
	assert.Equal(t, "rsi_overbought", sType)
}

func TestDetectRSIOversold(t *testing.T) {
	sType, ok := DetectRSI(RSIInputs{PrevRSI: 35, CurrRSI: 30})
	assert.True(t, ok)
	assert.Equal(t, "rsi_oversold", sType)
}

func TestDetectRSIBull50Cross(t *testing.T) {
	sType, ok := DetectRSI(RSIInputs{PrevRSI: 48, CurrRSI: 53})
	assert.True(t, ok)
	assert.Equal(t, "rsi_bull_50_cross", sType)
}

func TestDetectBollingerBreakSupersedesTouch(t *testing.T) {
	sType, ok := DetectBollinger(BollingerInputs{
		PrevClose: 100, CurrClose: 111,
		PrevUpper: 105, CurrUpper: 110,
		PrevLower: 90, CurrLower: 92,
	})
	assert.True(t, ok)
	assert.Equal(t, "bollinger_break_upper", sType)
}

func TestDetectCompositeOnlyEmitsOnClassificationChange(t *testing.T) {
	d := NewDetector()

	bullish := CompositeInputs{RSIScore: 2, MACDScore: 2, StochasticScore: 2, MATrendScore: 2, VolumeScore: 2}
	result, ok := d.DetectComposite("AAPL", bullish)
	assert.True(t, ok)
	assert.Equal(t, VeryBullish, result.Sentiment)

	_, ok = d.DetectComposite("AAPL", bullish)
	assert.False(t, ok, "an unchanged classification must not re-emit")

	bearish := CompositeInputs{RSIScore: -2, MACDScore: -2, StochasticScore: -2, MATrendScore: -2, VolumeScore: -2}
	result, ok = d.DetectComposite("AAPL", bearish)
	assert.True(t, ok)
	assert.Equal(t, VeryBearish, result.Sentiment)
}

func TestLastConditionReflectsMostRecentComposite(t *testing.T) {
	d := NewDetector()
	assert.Equal(t, Sideways, d.LastCondition("AAPL"), "no composite evaluated yet defaults to sideways")

	d.DetectComposite("AAPL", CompositeInputs{RSIScore: 2, MACDScore: 2, StochasticScore: 2, MATrendScore: 2, VolumeScore: 2})
	assert.Equal(t, Bullish, d.LastCondition("AAPL"))
}
