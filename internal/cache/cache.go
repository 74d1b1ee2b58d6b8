// Package cache implements the Price-Series Cache (component A): an
// in-memory, TTL-bounded store of recent OHLCV bars per (symbol,
// timeframe), grounded on the per-symbol mutex-guarded caching idiom in
// the teacher's technical_analysis.go (cache-check, fetch, store) and
// on sqlite.go's TTL-driven staleness checks.
package cache

import (
	"sync"
	"time"

	"market-signal-core/internal/apperr"
	"market-signal-core/internal/logging"
)

type seriesKey struct {
	symbol    string
	timeframe string
}

type series struct {
	mu         sync.RWMutex
	bars       []Bar
	lastUpdate time.Time
}

// Cache is the Price-Series Cache. One Cache instance is shared by the
// Indicator Engine, Signal Detector and Outcome Tracker.
type Cache struct {
	maxBarsPerSeries int
	ttl              time.Duration
	log              *logging.Logger

	mu     sync.RWMutex
	series map[seriesKey]*series
}

func New(maxBarsPerSeries int, ttl time.Duration, log *logging.Logger) *Cache {
	if maxBarsPerSeries <= 0 {
		maxBarsPerSeries = 400
	}
	return &Cache{
		maxBarsPerSeries: maxBarsPerSeries,
		ttl:              ttl,
		log:              log,
		series:           make(map[seriesKey]*series),
	}
}

func (c *Cache) seriesFor(symbol, timeframe string) *series {
	key := seriesKey{symbol, timeframe}

	c.mu.RLock()
	s, ok := c.series[key]
	c.mu.RUnlock()
	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.series[key]; ok {
		return s
	}
	s = &series{bars: make([]Bar, 0, c.maxBarsPerSeries)}
	c.series[key] = s
	return s
}

// GetSeries returns a copy of the bars held for (symbol, timeframe), or
// an empty slice if none are cached.
func (c *Cache) GetSeries(symbol, timeframe string) []Bar {
	s := c.seriesFor(symbol, timeframe)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

// Append adds a bar to the series, rejecting out-of-order timestamps and
// evicting the oldest bar once the series exceeds maxBarsPerSeries.
func (c *Cache) Append(symbol, timeframe string, bar Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}

	s := c.seriesFor(symbol, timeframe)
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.bars); n > 0 && !bar.Ts.After(s.bars[n-1].Ts) {
		if c.log != nil {
			c.log.WithFields(map[string]interface{}{
				"symbol": symbol, "timeframe": timeframe, "ts": bar.Ts,
			}).Debug("rejected stale bar")
		}
		return apperr.ErrStaleBar
	}

	s.bars = append(s.bars, bar)
	if len(s.bars) > c.maxBarsPerSeries {
		s.bars = s.bars[len(s.bars)-c.maxBarsPerSeries:]
	}
	s.lastUpdate = time.Now()
	return nil
}

// Stale reports whether (symbol, timeframe)'s entry has not been
// refreshed within the configured TTL, or has never been populated.
func (c *Cache) Stale(symbol, timeframe string) bool {
	s := c.seriesFor(symbol, timeframe)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastUpdate.IsZero() {
		return true
	}
	return time.Since(s.lastUpdate) > c.ttl
}

// LatestPrice returns the most recent close price and its timestamp for
// symbol on its finest cached timeframe among candidates, in the order
// given (e.g. "1m" before "1d").
func (c *Cache) LatestPrice(symbol string, timeframesFinestFirst ...string) (float64, time.Time, bool) {
	for _, tf := range timeframesFinestFirst {
		bars := c.GetSeries(symbol, tf)
		if len(bars) > 0 {
			last := bars[len(bars)-1]
			return last.Close, last.Ts, true
		}
	}
	return 0, time.Time{}, false
}
