package signal

import (
	"math"
	"sync"
)

// BarPoint is the minimal per-tick information the Detector needs about
// one bar plus its aligned indicator values.
type BarPoint struct {
	Close  float64
	Volume float64
}

// MAInputs carries the moving-average pair (e.g. 20/50 intraday,
// 50/200 daily) needed for breakout and cross detection.
type MAInputs struct {
	Period  int
	PrevMA  float64
	CurrMA  float64
}

// CrossInputs carries the short/long MA pair for golden/dead cross
// detection, evaluated only on the daily timeframe (spec §4.C).
type CrossInputs struct {
	PrevShortMA, CurrShortMA float64
	PrevLongMA, CurrLongMA   float64
}

type RSIInputs struct {
	PrevRSI, CurrRSI float64
}

type BollingerInputs struct {
	PrevClose, CurrClose             float64
	PrevUpper, CurrUpper             float64
	PrevLower, CurrLower             float64
}

// CompositeInputs carries the five factor scores, each expected in
// {-2,-1,0,1,2}, that feed the composite sentiment classification.
type CompositeInputs struct {
	RSIScore, MACDScore, StochasticScore, MATrendScore, VolumeScore int
}

const maBreakoutEpsilon = 0.005

// DetectMABreakout implements spec §4.C's moving-average breakout rule.
func DetectMABreakout(prevClose, currClose float64, ma MAInputs) (signalType string, strength float64, ok bool) {
	if ma.PrevMA == 0 || ma.CurrMA == 0 {
		return "", 0, false
	}
	upward := prevClose <= ma.PrevMA*1.01 && currClose > ma.CurrMA*(1+maBreakoutEpsilon)
	downward := prevClose >= ma.PrevMA*0.99 && currClose < ma.CurrMA*(1-maBreakoutEpsilon)

	strength = math.Abs(currClose-ma.CurrMA) / ma.CurrMA * 100

	switch {
	case upward:
		return "breakout_up", strength, true
	case downward:
		return "breakout_down", strength, true
	default:
		return "", 0, false
	}
}

// DetectCross implements spec §4.C's golden/dead cross rule. Callers
// must only invoke this for the daily timeframe.
func DetectCross(c CrossInputs) (signalType string, ok bool) {
	golden := c.PrevShortMA <= c.PrevLongMA && c.CurrShortMA > c.CurrLongMA
	dead := c.PrevShortMA >= c.PrevLongMA && c.CurrShortMA < c.CurrLongMA
	switch {
	case golden:
		return "golden_cross", true
	case dead:
		return "dead_cross", true
	default:
		return "", false
	}
}

// DetectRSI implements spec §4.C's RSI-band rules: overbought/oversold
// entries and bull/bear 50-crosses.
func DetectRSI(r RSIInputs) (signalType string, ok bool) {
	overbought := r.PrevRSI <= 72 && r.CurrRSI > 68 && r.CurrRSI >= r.PrevRSI+2
	oversold := r.PrevRSI >= 28 && r.CurrRSI < 32 && r.CurrRSI <= r.PrevRSI-2
	bull50 := r.PrevRSI <= 50 && r.CurrRSI > 50 && math.Abs(r.CurrRSI-50) >= 3
	bear50 := r.PrevRSI >= 50 && r.CurrRSI < 50 && math.Abs(r.CurrRSI-50) >= 3

	switch {
	case overbought:
		return "rsi_overbought", true
	case oversold:
		return "rsi_oversold", true
	case bull50:
		return "rsi_bull_50_cross", true
	case bear50:
		return "rsi_bear_50_cross", true
	default:
		return "", false
	}
}

// DetectBollinger implements spec §4.C's Bollinger rule; break
// supersedes touch for the same bar.
func DetectBollinger(b BollingerInputs) (signalType string, ok bool) {
	breakUpper := b.PrevClose <= b.PrevUpper && b.CurrClose > b.CurrUpper
	breakLower := b.PrevClose >= b.PrevLower && b.CurrClose < b.CurrLower
	if breakUpper {
		return "bollinger_break_upper", true
	}
	if breakLower {
		return "bollinger_break_lower", true
	}

	if b.CurrUpper != 0 && math.Abs(b.CurrClose-b.CurrUpper)/b.CurrUpper < 0.01 {
		return "bollinger_touch_upper", true
	}
	if b.CurrLower != 0 && math.Abs(b.CurrClose-b.CurrLower)/b.CurrLower < 0.01 {
		return "bollinger_touch_lower", true
	}
	return "", false
}

// Sentiment is the composite classification band.
type Sentiment string

const (
	VeryBearish Sentiment = "very_bearish"
	Bearish2    Sentiment = "bearish"
	Neutral     Sentiment = "neutral"
	Bullish2    Sentiment = "bullish"
	VeryBullish Sentiment = "very_bullish"
)

// classify applies the Open Question resolution documented in
// SPEC_FULL.md §D.1: a neutral band of [0.45, 0.55) straddling 0.5,
// with four remaining bands split symmetrically at 0.15/0.45 and
// 0.55/0.85.
func classify(normalised float64) Sentiment {
	switch {
	case normalised < 0.15:
		return VeryBearish
	case normalised < 0.45:
		return Bearish2
	case normalised < 0.55:
		return Neutral
	case normalised < 0.85:
		return Bullish2
	default:
		return VeryBullish
	}
}

// CompositeResult is the composite sentiment evaluation, including the
// per-factor breakdown kept on Signal.AdditionalContext per spec §9.
type CompositeResult struct {
	Score      int
	Normalised float64
	Sentiment  Sentiment
	Breakdown  map[string]int
}

// Detector tracks, per symbol, the last composite sentiment
// classification so it can emit only on a classification change (spec
// §4.C), and evaluates the other rules statelessly.
type Detector struct {
	mu             sync.Mutex
	lastSentiment  map[string]Sentiment
}

func NewDetector() *Detector {
	return &Detector{lastSentiment: make(map[string]Sentiment)}
}

// DetectComposite scores the five factors, normalises to [0,1], and
// returns a result only when the classification differs from the
// symbol's last evaluation.
func (d *Detector) DetectComposite(symbol string, in CompositeInputs) (CompositeResult, bool) {
	raw := in.RSIScore + in.MACDScore + in.StochasticScore + in.MATrendScore + in.VolumeScore
	normalised := (float64(raw) + 10) / 20.0
	sentiment := classify(normalised)

	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.lastSentiment[symbol]; ok && prev == sentiment {
		return CompositeResult{}, false
	}
	d.lastSentiment[symbol] = sentiment

	return CompositeResult{
		Score:      raw,
		Normalised: normalised,
		Sentiment:  sentiment,
		Breakdown: map[string]int{
			"rsi":        in.RSIScore,
			"macd":       in.MACDScore,
			"stochastic": in.StochasticScore,
			"ma_trend":   in.MATrendScore,
			"volume":     in.VolumeScore,
		},
	}, true
}

// LastCondition returns the market condition implied by symbol's most
// recent composite evaluation, or Sideways if none has run yet. Used to
// stamp non-composite signals (breakouts, crosses, RSI/Bollinger
// touches) with the prevailing backdrop they fired against.
func (d *Detector) LastCondition(symbol string) MarketCondition {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.lastSentiment[symbol]
	if !ok {
		return Sideways
	}
	return ConditionFromSentiment(s)
}

// ConditionFromSentiment maps a composite classification onto the
// coarser Signal.MarketCondition vocabulary.
func ConditionFromSentiment(s Sentiment) MarketCondition {
	switch s {
	case VeryBullish, Bullish2:
		return Bullish
	case VeryBearish, Bearish2:
		return Bearish
	default:
		return Sideways
	}
}
