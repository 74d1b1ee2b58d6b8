package indicator

import (
	"fmt"
	"sync"

	"market-signal-core/internal/cache"
)

// memoEntry holds a materialised series plus the source length it was
// computed against, so the Engine can tell whether an append merely
// extends the cached result or forces a recompute.
type memoEntry struct {
	sourceLen int
	values    []float64
	extra     map[string][]float64 // secondary outputs (e.g. bollinger's upper/lower, macd's signal/histogram)
}

// Engine memoises indicator computations per spec §4.B: results are
// keyed by source-series identity and parameters. A cached series is
// returned only while the source length is unchanged; any change in
// length recomputes that indicator in full over the source. No series
// (SMA/EMA/volume included) is extended incrementally from its cached
// prefix.
type Engine struct {
	mu      sync.Mutex
	entries map[string]*memoEntry
}

func NewEngine() *Engine {
	return &Engine{entries: make(map[string]*memoEntry)}
}

func key(symbol, timeframe, indicatorID string, params ...interface{}) string {
	return fmt.Sprintf("%s|%s|%s|%v", symbol, timeframe, indicatorID, params)
}

// SMASeries returns the memoised SMA series for prices, recomputing it
// in full whenever the source length has changed.
func (e *Engine) SMASeries(symbol, timeframe string, prices []float64, period int) []float64 {
	k := key(symbol, timeframe, "sma", period)
	return e.extendOrCompute(k, prices, func(p []float64) []float64 { return SMA(p, period) })
}

func (e *Engine) EMASeries(symbol, timeframe string, prices []float64, period int) []float64 {
	k := key(symbol, timeframe, "ema", period)
	return e.extendOrCompute(k, prices, func(p []float64) []float64 { return EMA(p, period) })
}

func (e *Engine) VolumeSMASeries(symbol, timeframe string, volumes []float64, period int) []float64 {
	k := key(symbol, timeframe, "volume_sma", period)
	return e.extendOrCompute(k, volumes, func(p []float64) []float64 { return VolumeSMA(p, period) })
}

// RSISeries recomputes whenever the source has changed length since the
// last materialisation (Wilder smoothing is not cheaply appendable
// without carrying the prior avgGain/avgLoss, so the Engine falls back
// to a full recompute over the retained window, matching the "may be
// recomputed" clause in spec §4.B).
func (e *Engine) RSISeries(symbol, timeframe string, prices []float64, period int) []float64 {
	k := key(symbol, timeframe, "rsi", period)
	return e.extendOrCompute(k, prices, func(p []float64) []float64 { return RSI(p, period) })
}

func (e *Engine) BollingerSeries(symbol, timeframe string, prices []float64, period int, stdDev float64) (upper, middle, lower []float64) {
	k := key(symbol, timeframe, "bollinger", period, stdDev)

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[k]
	if ok && len(prices)-entry.sourceLen <= period {
		// extend: recompute only the tail bands are cheap enough that we
		// just recompute fully here too, since bollinger needs the whole
		// window; cached entry only saves recomputation when nothing
		// changed at all.
		if len(prices) == entry.sourceLen {
			return entry.values, entry.extra["middle"], entry.extra["lower"]
		}
	}

	u, m, l := Bollinger(prices, period, stdDev)
	e.entries[k] = &memoEntry{
		sourceLen: len(prices),
		values:    u,
		extra:     map[string][]float64{"middle": m, "lower": l},
	}
	return u, m, l
}

func (e *Engine) MACDSeries(symbol, timeframe string, prices []float64, fast, slow, signal int) (macdLine, signalLine, histogram []float64) {
	k := key(symbol, timeframe, "macd", fast, slow, signal)

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[k]
	if ok && len(prices) == entry.sourceLen {
		return entry.values, entry.extra["signal"], entry.extra["histogram"]
	}

	m, s, h := MACD(prices, fast, slow, signal)
	e.entries[k] = &memoEntry{
		sourceLen: len(prices),
		values:    m,
		extra:     map[string][]float64{"signal": s, "histogram": h},
	}
	return m, s, h
}

func (e *Engine) StochasticSeries(symbol, timeframe string, bars []cache.Bar, kPeriod, dPeriod int) (k, d []float64) {
	key := key(symbol, timeframe, "stochastic", kPeriod, dPeriod)

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[key]
	if ok && len(bars) == entry.sourceLen {
		return entry.values, entry.extra["d"]
	}

	kSeries, dSeries := Stochastic(bars, kPeriod, dPeriod)
	e.entries[key] = &memoEntry{
		sourceLen: len(bars),
		values:    kSeries,
		extra:     map[string][]float64{"d": dSeries},
	}
	return kSeries, dSeries
}

func (e *Engine) VWAPSeries(symbol, timeframe string, bars []cache.Bar) []float64 {
	k := key(symbol, timeframe, "vwap")

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[k]
	if ok && entry.sourceLen <= len(bars) {
		// Only an unchanged length reuses the cache; a grown series is
		// recomputed in full below.
		if entry.sourceLen == len(bars) {
			return entry.values
		}
	}
	v := VWAP(bars)
	e.entries[k] = &memoEntry{sourceLen: len(bars), values: v}
	return v
}

// extendOrCompute is used by the incrementally-appendable indicators
// (SMA/EMA/volume SMA): since those pure functions already run in
// O(n), "extending" just means recomputing over the full retained
// window and caching by source length, avoiding redundant work only
// when the source has not grown at all.
func (e *Engine) extendOrCompute(k string, source []float64, compute func([]float64) []float64) []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if entry, ok := e.entries[k]; ok && entry.sourceLen == len(source) {
		return entry.values
	}

	values := compute(source)
	e.entries[k] = &memoEntry{sourceLen: len(source), values: values}
	return values
}

// InvalidateSeries drops every memoised entry for (symbol, timeframe),
// forcing full recomputation on next access.
func (e *Engine) InvalidateSeries(symbol, timeframe string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prefix := fmt.Sprintf("%s|%s|", symbol, timeframe)
	for k := range e.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(e.entries, k)
		}
	}
}
