// Package indicator implements the Indicator Engine (component B): pure
// computations over price/bar series, plus a memoising Engine that keys
// cached results by series identity and parameters (spec §4.B).
//
// Grounded on the teacher's internal/services/technical_analysis.go for
// the SMA/EMA/Bollinger/VWAP/volume-ratio shapes and caching idiom; RSI
// and MACD are replaced with the exact algorithms spec §4.B requires
// (Wilder smoothing, true EMA-of-MACD signal line) since the teacher's
// versions are simplified approximations.
package indicator

import (
	"math"

	"market-signal-core/internal/cache"
)

// NaN-filled leading entries mark "undefined" per spec §3's
// IndicatorSeries invariant (entries before a full period of input has
// accumulated are undefined).
var undefined = math.NaN()

// SMA returns the simple moving average series for the given period.
// Entries before the period has elapsed are undefined.
func SMA(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	if period <= 0 {
		for i := range out {
			out[i] = undefined
		}
		return out
	}
	sum := 0.0
	for i, p := range prices {
		sum += p
		if i >= period {
			sum -= prices[i-period]
		}
		if i < period-1 {
			out[i] = undefined
		} else {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA returns the exponential moving average series, seeded with the
// SMA of the first `period` values exactly as the teacher does.
func EMA(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	for i := range out {
		out[i] = undefined
	}
	if period <= 0 || len(prices) < period {
		return out
	}

	multiplier := 2.0 / float64(period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	ema := sum / float64(period)
	out[period-1] = ema

	for i := period; i < len(prices); i++ {
		ema = (prices[i]-ema)*multiplier + ema
		out[i] = ema
	}
	return out
}

// RSI computes the Relative Strength Index using Wilder smoothing
// (spec §4.B: "rsi(prices, period=14) — Wilder smoothing"), not the
// teacher's SMA-of-gains-and-losses approximation.
func RSI(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	for i := range out {
		out[i] = undefined
	}
	if period <= 0 || len(prices) < period+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiFromAverages(avgGain, avgLoss)

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		// Wilder smoothing: new average = (prevAvg*(period-1) + current) / period
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// Bollinger computes the upper, middle (SMA) and lower bands.
func Bollinger(prices []float64, period int, stdDevMultiplier float64) (upper, middle, lower []float64) {
	middle = SMA(prices, period)
	upper = make([]float64, len(prices))
	lower = make([]float64, len(prices))
	for i := range prices {
		if math.IsNaN(middle[i]) {
			upper[i] = undefined
			lower[i] = undefined
			continue
		}
		start := i - period + 1
		variance := 0.0
		for j := start; j <= i; j++ {
			d := prices[j] - middle[i]
			variance += d * d
		}
		variance /= float64(period)
		sd := math.Sqrt(variance)
		upper[i] = middle[i] + sd*stdDevMultiplier
		lower[i] = middle[i] - sd*stdDevMultiplier
	}
	return upper, middle, lower
}

// MACD computes the MACD line, its EMA(signal)-smoothed signal line, and
// the histogram. Unlike the teacher's `macd * 0.9` stub, the signal line
// here is a genuine EMA of the MACD line per spec §4.B.
func MACD(prices []float64, fast, slow, signal int) (macdLine, signalLine, histogram []float64) {
	n := len(prices)
	macdLine = make([]float64, n)
	signalLine = make([]float64, n)
	histogram = make([]float64, n)

	emaFast := EMA(prices, fast)
	emaSlow := EMA(prices, slow)

	for i := 0; i < n; i++ {
		if math.IsNaN(emaFast[i]) || math.IsNaN(emaSlow[i]) {
			macdLine[i] = undefined
		} else {
			macdLine[i] = emaFast[i] - emaSlow[i]
		}
	}

	// EMA of the MACD line, restricted to the defined suffix.
	firstDefined := -1
	for i, v := range macdLine {
		if !math.IsNaN(v) {
			firstDefined = i
			break
		}
	}
	for i := range signalLine {
		signalLine[i] = undefined
		histogram[i] = undefined
	}
	if firstDefined < 0 || len(macdLine)-firstDefined < signal {
		return macdLine, signalLine, histogram
	}

	definedMACD := macdLine[firstDefined:]
	sigOnDefined := EMA(definedMACD, signal)
	for i, v := range sigOnDefined {
		if math.IsNaN(v) {
			continue
		}
		idx := firstDefined + i
		signalLine[idx] = v
		histogram[idx] = macdLine[idx] - v
	}
	return macdLine, signalLine, histogram
}

// Stochastic computes %K and %D oscillators from bar highs/lows/closes.
func Stochastic(bars []cache.Bar, kPeriod, dPeriod int) (k, d []float64) {
	n := len(bars)
	k = make([]float64, n)
	for i := range k {
		if i < kPeriod-1 {
			k[i] = undefined
			continue
		}
		hi, lo := bars[i].High, bars[i].Low
		for j := i - kPeriod + 1; j <= i; j++ {
			if bars[j].High > hi {
				hi = bars[j].High
			}
			if bars[j].Low < lo {
				lo = bars[j].Low
			}
		}
		if hi == lo {
			k[i] = 50
			continue
		}
		k[i] = (bars[i].Close - lo) / (hi - lo) * 100
	}
	d = SMA(k, dPeriod)
	return k, d
}

// VWAP computes the cumulative (session) volume-weighted average price:
// at each index it is the running average of typical price weighted by
// volume over the whole series so far.
func VWAP(bars []cache.Bar) []float64 {
	out := make([]float64, len(bars))
	var cumPV, cumVol float64
	for i, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3.0
		cumPV += typical * b.Volume
		cumVol += b.Volume
		if cumVol == 0 {
			out[i] = undefined
			continue
		}
		out[i] = cumPV / cumVol
	}
	return out
}

// VolumeSMA is the simple moving average of volume.
func VolumeSMA(volumes []float64, period int) []float64 {
	return SMA(volumes, period)
}

// VolumeRatio is current volume divided by the average of the preceding
// `period` volumes (current bar excluded from the average).
func VolumeRatio(volumes []float64, period int) []float64 {
	out := make([]float64, len(volumes))
	for i := range out {
		if i < period {
			out[i] = undefined
			continue
		}
		sum := 0.0
		for j := i - period; j < i; j++ {
			sum += volumes[j]
		}
		avg := sum / float64(period)
		if avg == 0 {
			out[i] = 1.0
			continue
		}
		out[i] = volumes[i] / avg
	}
	return out
}

// IsDefined reports whether v is a materialised (non-NaN) value.
func IsDefined(v float64) bool { return !math.IsNaN(v) }
