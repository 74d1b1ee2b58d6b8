package scheduler

import (
	"context"
	"errors"
	"time"

	"market-signal-core/internal/apperr"
	"market-signal-core/internal/cache"
	"market-signal-core/internal/config"
	"market-signal-core/internal/indicator"
	"market-signal-core/internal/logging"
	"market-signal-core/internal/signal"
)

// Pipeline is the per-(symbol, timeframe) refresh-then-evaluate flow:
// fetch new bars, append them to the cache one at a time, and run the
// indicator/detector pass strictly after each bar that advances the
// series (spec §5's ordering guarantee). Grounded on the teacher's
// collectSymbolData (fetch, filter-new, persist) with the persistence
// step replaced by signal detection and storage.
type Pipeline struct {
	cache    *cache.Cache
	engine   *indicator.Engine
	detector *signal.Detector
	store    *signal.Store
	dedup    config.DedupConfig
	prices   PriceSource
	log      *logging.Logger
}

func NewPipeline(c *cache.Cache, engine *indicator.Engine, detector *signal.Detector, store *signal.Store, dedup config.DedupConfig, prices PriceSource, log *logging.Logger) *Pipeline {
	return &Pipeline{
		cache:    c,
		engine:   engine,
		detector: detector,
		store:    store,
		dedup:    dedup,
		prices:   prices,
		log:      log.WithComponent("pipeline"),
	}
}

// RefreshAndEvaluate fetches bars since the series' last cached point,
// appends each in order, and evaluates the detector immediately after
// any bar that actually advances the series.
func (p *Pipeline) RefreshAndEvaluate(ctx context.Context, symbol, timeframe string) error {
	existing := p.cache.GetSeries(symbol, timeframe)
	since := time.Now().Add(-lookback(timeframe))
	if len(existing) > 0 {
		since = existing[len(existing)-1].Ts
	}

	bars, err := p.prices.Bars(ctx, symbol, timeframe, since, time.Now())
	if err != nil {
		return err
	}

	for _, bar := range bars {
		if err := p.cache.Append(symbol, timeframe, bar); err != nil {
			if errors.Is(err, apperr.ErrStaleBar) {
				continue
			}
			return err
		}
		p.evaluate(ctx, symbol, timeframe)
	}
	return nil
}

func lookback(timeframe string) time.Duration {
	switch timeframe {
	case "1m":
		return 2 * time.Hour
	case "5m", "15m":
		return 48 * time.Hour
	case "1h":
		return 14 * 24 * time.Hour
	default:
		return 400 * 24 * time.Hour
	}
}

// evaluate runs every rule in spec §5's mandated order (MA, cross, RSI,
// Bollinger, composite) against the series' current tail and persists
// whichever rules fire.
func (p *Pipeline) evaluate(ctx context.Context, symbol, timeframe string) {
	bars := p.cache.GetSeries(symbol, timeframe)
	if len(bars) < 2 {
		return
	}

	closes := closesOf(bars)
	volumes := volumesOf(bars)
	last := bars[len(bars)-1]
	now := last.Ts

	sma20 := p.engine.SMASeries(symbol, timeframe, closes, 20)
	sma50 := p.engine.SMASeries(symbol, timeframe, closes, 50)
	rsi14 := p.engine.RSISeries(symbol, timeframe, closes, 14)
	upper, _, lower := p.engine.BollingerSeries(symbol, timeframe, closes, 20, 2)
	macdLine, macdSignal, _ := p.engine.MACDSeries(symbol, timeframe, closes, 12, 26, 9)
	kSeries, _ := p.engine.StochasticSeries(symbol, timeframe, bars, 14, 3)
	volRatio := indicator.VolumeRatio(volumes, 20)

	n := len(closes)
	i, j := n-1, n-2

	if len(sma20) == n && indicator.IsDefined(sma20[i]) && indicator.IsDefined(sma20[j]) {
		if sType, strength, ok := signal.DetectMABreakout(closes[j], closes[i], signal.MAInputs{Period: 20, PrevMA: sma20[j], CurrMA: sma20[i]}); ok {
			p.save(ctx, symbol, sType, timeframe, now, closes[i], &sma20[i], &strength, &volumes[i])
		}
	}

	if timeframe == "1d" && len(sma50) == n && indicator.IsDefined(sma20[j]) && indicator.IsDefined(sma50[j]) {
		if sType, ok := signal.DetectCross(signal.CrossInputs{
			PrevShortMA: sma20[j], CurrShortMA: sma20[i],
			PrevLongMA: sma50[j], CurrLongMA: sma50[i],
		}); ok {
			p.save(ctx, symbol, sType, timeframe, now, closes[i], &sma20[i], nil, nil)
		}
	}

	if len(rsi14) == n && indicator.IsDefined(rsi14[j]) && indicator.IsDefined(rsi14[i]) {
		if sType, ok := signal.DetectRSI(signal.RSIInputs{PrevRSI: rsi14[j], CurrRSI: rsi14[i]}); ok {
			p.save(ctx, symbol, sType, timeframe, now, closes[i], &rsi14[i], nil, nil)
		}
	}

	if len(upper) == n && len(lower) == n && indicator.IsDefined(upper[i]) {
		if sType, ok := signal.DetectBollinger(signal.BollingerInputs{
			PrevClose: closes[j], CurrClose: closes[i],
			PrevUpper: upper[j], CurrUpper: upper[i],
			PrevLower: lower[j], CurrLower: lower[i],
		}); ok {
			p.save(ctx, symbol, sType, timeframe, now, closes[i], &upper[i], nil, nil)
		}
	}

	composite := signal.CompositeInputs{
		RSIScore:       scoreRSI(rsi14, i),
		MACDScore:      scoreMACD(macdLine, macdSignal, i),
		StochasticScore: scoreStochastic(kSeries, i),
		MATrendScore:   scoreMATrend(sma20, sma50, i),
		VolumeScore:    scoreVolume(volRatio, i),
	}
	if result, ok := p.detector.DetectComposite(symbol, composite); ok {
		condition := signal.ConditionFromSentiment(result.Sentiment)
		strength := result.Normalised
		sig := &signal.Signal{
			Symbol: symbol, SignalType: "composite_sentiment_" + string(result.Sentiment),
			Timeframe: timeframe, TriggeredAt: now, CurrentPrice: closes[i],
			SignalStrength: &strength, MarketCondition: condition,
			AdditionalContext: map[string]interface{}{"breakdown": result.Breakdown, "score": result.Score},
		}
		p.persist(ctx, sig)
	}
}

func (p *Pipeline) save(ctx context.Context, symbol, signalType, timeframe string, at time.Time, price float64, indicatorValue, strength, volume *float64) {
	sig := &signal.Signal{
		Symbol: symbol, SignalType: signalType, Timeframe: timeframe,
		TriggeredAt: at, CurrentPrice: price,
		IndicatorValue: indicatorValue, SignalStrength: strength, Volume: volume,
		MarketCondition: p.detector.LastCondition(symbol),
	}
	p.persist(ctx, sig)
}

func (p *Pipeline) persist(ctx context.Context, sig *signal.Signal) {
	window := p.dedup.Window(sig.SignalType)
	if _, err := p.store.Save(ctx, sig, window); err != nil {
		if errors.Is(err, apperr.ErrDuplicateSignal) {
			return
		}
		p.log.WithError(err).WithField("signal_type", sig.SignalType).Warn("failed to persist signal")
	}
}

func closesOf(bars []cache.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func volumesOf(bars []cache.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

// The score* helpers translate indicator state into the {-2..2} factor
// scale spec §4.C's composite sentiment requires. Not specified by the
// original system beyond the scale itself. RSI and %K share one band
// shape: strong below 30 (RSI) or 20 (%K), weak below 45, neutral from
// 45 to 55, weak up to 70 (RSI) or 80 (%K), strong above.
func scoreRSI(rsi []float64, i int) int {
	if i < 0 || i >= len(rsi) || !indicator.IsDefined(rsi[i]) {
		return 0
	}
	v := rsi[i]
	switch {
	case v < 30:
		return -2
	case v < 45:
		return -1
	case v <= 55:
		return 0
	case v <= 70:
		return 1
	default:
		return 2
	}
}

func scoreMACD(macdLine, signalLine []float64, i int) int {
	if i < 0 || i >= len(macdLine) || i >= len(signalLine) || !indicator.IsDefined(macdLine[i]) || !indicator.IsDefined(signalLine[i]) {
		return 0
	}
	diff := macdLine[i] - signalLine[i]
	magnitude := diff
	if magnitude < 0 {
		magnitude = -magnitude
	}
	switch {
	case diff > 0 && magnitude > signalAbs(signalLine[i])*0.1:
		return 2
	case diff > 0:
		return 1
	case diff < 0 && magnitude > signalAbs(signalLine[i])*0.1:
		return -2
	case diff < 0:
		return -1
	default:
		return 0
	}
}

func signalAbs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func scoreStochastic(k []float64, i int) int {
	if i < 0 || i >= len(k) || !indicator.IsDefined(k[i]) {
		return 0
	}
	v := k[i]
	switch {
	case v < 20:
		return -2
	case v < 45:
		return -1
	case v <= 55:
		return 0
	case v <= 80:
		return 1
	default:
		return 2
	}
}

func scoreMATrend(short, long []float64, i int) int {
	if i < 0 || i >= len(short) || i >= len(long) || !indicator.IsDefined(short[i]) || !indicator.IsDefined(long[i]) || long[i] == 0 {
		return 0
	}
	spread := (short[i] - long[i]) / long[i]
	switch {
	case spread > 0.03:
		return 2
	case spread > 0:
		return 1
	case spread < -0.03:
		return -2
	case spread < 0:
		return -1
	default:
		return 0
	}
}

func scoreVolume(ratio []float64, i int) int {
	if i < 0 || i >= len(ratio) || !indicator.IsDefined(ratio[i]) {
		return 0
	}
	v := ratio[i]
	switch {
	case v > 2.0:
		return 2
	case v > 1.3:
		return 1
	case v < 0.4:
		return -2
	case v < 0.7:
		return -1
	default:
		return 0
	}
}
