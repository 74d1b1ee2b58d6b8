// Package pattern implements the Pattern Analyser (component F):
// periodic discovery of recurring signal clusters and their historical
// performance. Grounded on the teacher's
// internal/services/pattern_detection.go for the periodic-sweep/
// per-symbol orchestration shape (AutoDetectPatternsForAllSymbols,
// StartPeriodicPatternDetection); the clustering rule itself is
// spec §4.F's, not the teacher's head-and-shoulders detector, since that
// detector is a different (chart-geometry) pattern family out of scope
// here.
package pattern

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"market-signal-core/internal/database"
	"market-signal-core/internal/logging"
)

// Repository is the persistence surface the Analyser needs.
type Repository interface {
	DistinctSymbols(ctx context.Context) ([]string, error)
	SignalsWithTrackedReturn1d(ctx context.Context, symbol string, since time.Time) ([]*database.CompletedSignalForPattern, error)
	UpsertPattern(ctx context.Context, p *database.PatternRecord) error
}

// Config carries the window/gap parameters spec §4.F names.
type Config struct {
	WindowDays         int
	SequentialGapDays  int
	ConcurrentGapMins  int
}

// Analyser groups a symbol's tracked signals into sequential and
// concurrent clusters and persists the aggregate performance of each
// distinct cluster signature.
type Analyser struct {
	repo Repository
	cfg  Config
	log  *logging.Logger
}

func NewAnalyser(repo Repository, cfg Config, log *logging.Logger) *Analyser {
	return &Analyser{repo: repo, cfg: cfg, log: log.WithComponent("pattern_analyser")}
}

// RunAll sweeps every symbol with persisted signals, matching the
// teacher's AutoDetectPatternsForAllSymbols orchestration.
func (a *Analyser) RunAll(ctx context.Context) error {
	symbols, err := a.repo.DistinctSymbols(ctx)
	if err != nil {
		return fmt.Errorf("failed to list symbols: %w", err)
	}

	a.log.WithField("symbol_count", len(symbols)).Info("starting pattern analysis sweep")
	for _, sym := range symbols {
		if err := a.RunForSymbol(ctx, sym); err != nil {
			a.log.WithError(err).WithField("symbol", sym).Warn("pattern analysis failed for symbol")
		}
	}
	return nil
}

// RunForSymbol discovers and upserts every cluster signature observed
// for one symbol over the configured trailing window.
func (a *Analyser) RunForSymbol(ctx context.Context, symbol string) error {
	since := time.Now().UTC().AddDate(0, 0, -a.cfg.WindowDays)
	signals, err := a.repo.SignalsWithTrackedReturn1d(ctx, symbol, since)
	if err != nil {
		return fmt.Errorf("failed to load tracked signals for %s: %w", symbol, err)
	}
	if len(signals) == 0 {
		return nil
	}

	clusters := a.groupSequential(signals)
	clusters = append(clusters, a.groupConcurrent(signals)...)

	aggregates := aggregateBySignature(clusters)
	for sig, agg := range aggregates {
		rec := &database.PatternRecord{
			Symbol:             symbol,
			PatternSignature:   sig,
			ComponentSignalIDs: agg.signalIDs,
			DiscoveredAt:       time.Now().UTC(),
			SampleCount:        agg.sampleCount,
			AvgReturn1d:        agg.avgReturn,
			SuccessRate1d:      agg.successRate,
		}
		if err := a.repo.UpsertPattern(ctx, rec); err != nil {
			return fmt.Errorf("failed to upsert pattern %s/%s: %w", symbol, sig, err)
		}
	}
	return nil
}

// cluster is one discovered grouping of signals that fired close
// together, identified by its pattern signature.
type cluster struct {
	signature string
	signals   []*database.CompletedSignalForPattern
}

// groupSequential chains consecutive signals where each fires within
// SequentialGapDays of the previous one, signature built from the
// ordered (in firing order) signal types (spec §4.F: "sequential
// clusters are identified by the ordered tuple of signal types").
func (a *Analyser) groupSequential(signals []*database.CompletedSignalForPattern) []cluster {
	var clusters []cluster
	var current []*database.CompletedSignalForPattern

	flush := func() {
		if len(current) < 2 {
			current = nil
			return
		}
		types := make([]string, len(current))
		for i, s := range current {
			types[i] = s.SignalType
		}
		clusters = append(clusters, cluster{signature: "seq:" + strings.Join(types, ">"), signals: append([]*database.CompletedSignalForPattern{}, current...)})
		current = nil
	}

	maxGap := time.Duration(a.cfg.SequentialGapDays) * 24 * time.Hour
	for i, s := range signals {
		if i == 0 {
			current = append(current, s)
			continue
		}
		gap := s.TriggeredAt.Sub(current[len(current)-1].TriggeredAt)
		if gap <= maxGap {
			current = append(current, s)
		} else {
			flush()
			current = append(current, s)
		}
	}
	flush()
	return clusters
}

// groupConcurrent groups signals firing within ConcurrentGapMins of one
// another, signature built from the sorted set of signal types (spec
// §4.F: "concurrent clusters are identified by the sorted set of signal
// types, since simultaneity has no inherent order").
func (a *Analyser) groupConcurrent(signals []*database.CompletedSignalForPattern) []cluster {
	var clusters []cluster
	var current []*database.CompletedSignalForPattern

	maxGap := time.Duration(a.cfg.ConcurrentGapMins) * time.Minute
	flush := func() {
		if len(current) < 2 {
			current = nil
			return
		}
		types := make([]string, len(current))
		for i, s := range current {
			types[i] = s.SignalType
		}
		sort.Strings(types)
		clusters = append(clusters, cluster{signature: "conc:" + strings.Join(types, "+"), signals: append([]*database.CompletedSignalForPattern{}, current...)})
		current = nil
	}

	for i, s := range signals {
		if i == 0 {
			current = append(current, s)
			continue
		}
		gap := s.TriggeredAt.Sub(current[len(current)-1].TriggeredAt)
		if gap <= maxGap {
			current = append(current, s)
		} else {
			flush()
			current = append(current, s)
		}
	}
	flush()
	return clusters
}

type aggregate struct {
	signalIDs   []int64
	sampleCount int
	avgReturn   float64
	successRate float64
}

// aggregateBySignature computes avg_return_1d and success_rate_1d
// (fraction of occurrences with a positive 1d return) per distinct
// pattern signature across all discovered clusters.
func aggregateBySignature(clusters []cluster) map[string]*aggregate {
	out := make(map[string]*aggregate)
	for _, c := range clusters {
		agg, ok := out[c.signature]
		if !ok {
			agg = &aggregate{}
			out[c.signature] = agg
		}
		var sumReturn float64
		var wins int
		for _, s := range c.signals {
			if s.Return1d == nil {
				continue
			}
			agg.signalIDs = append(agg.signalIDs, s.SignalID)
			sumReturn += *s.Return1d
			if *s.Return1d > 0 {
				wins++
			}
		}
		n := len(c.signals)
		agg.sampleCount += n
		if n > 0 {
			agg.avgReturn = weightedAvg(agg.avgReturn, agg.sampleCount-n, sumReturn/float64(n), n)
			agg.successRate = weightedAvg(agg.successRate, agg.sampleCount-n, float64(wins)/float64(n), n)
		}
	}
	return out
}

func weightedAvg(prevAvg float64, prevN int, newAvg float64, newN int) float64 {
	total := prevN + newN
	if total == 0 {
		return 0
	}
	return (prevAvg*float64(prevN) + newAvg*float64(newN)) / float64(total)
}
