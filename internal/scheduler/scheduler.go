// Package scheduler implements the Scheduler (component J): a single
// robfig/cron/v3 time source driving cache refreshes, the outcome
// tracker tick, the daily pattern analyser run, pool checks and
// slow-query flushes, over a bounded worker pool. Grounded on the
// teacher's internal/services/collector.go (cron.New(WithLocation(UTC)),
// AddFunc per job, mutex-guarded run stats, cron.Start/Stop), generalised
// from one fixed collection interval to the several independent
// cadences spec §4.J names.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"market-signal-core/internal/alert"
	"market-signal-core/internal/cache"
	"market-signal-core/internal/config"
	"market-signal-core/internal/logging"
	"market-signal-core/internal/outcome"
	"market-signal-core/internal/pattern"
	"market-signal-core/internal/pool"
	"market-signal-core/internal/querymon"
)

// PriceSource is the narrow price-provider surface the cache-refresh
// task needs.
type PriceSource interface {
	Bars(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]cache.Bar, error)
}

// Scheduler owns every periodic task and the bounded worker pool that
// caps concurrent downstream load on the DB and price provider (spec
// §5: "bounded worker pool (default ≤5)").
type Scheduler struct {
	cfg *config.Config
	log *logging.Logger

	cron    *cron.Cron
	workers chan struct{}

	cache     *cache.Cache
	prices    PriceSource
	pipeline  *Pipeline
	outcomes  *outcome.Tracker
	patterns  *pattern.Analyser
	poolMgr   *pool.Manager
	queryMon  *querymon.Monitor
	alerts    *alert.Manager

	mu      sync.Mutex
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Deps bundles every collaborator the Scheduler drives.
type Deps struct {
	Cache       *cache.Cache
	Prices      PriceSource
	Pipeline    *Pipeline
	Outcomes    *outcome.Tracker
	Patterns    *pattern.Analyser
	Pool        *pool.Manager
	QueryMon    *querymon.Monitor
	Alerts      *alert.Manager
}

func New(cfg *config.Config, d Deps, log *logging.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		log:      log.WithComponent("scheduler"),
		cron:     cron.New(cron.WithLocation(time.UTC)),
		workers:  make(chan struct{}, max(cfg.Scheduler.MaxWorkers, 1)),
		cache:    d.Cache,
		prices:   d.Prices,
		pipeline: d.Pipeline,
		outcomes: d.Outcomes,
		patterns: d.Patterns,
		poolMgr:  d.Pool,
		queryMon: d.QueryMon,
		alerts:   d.Alerts,
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Start registers every periodic job and begins the cron scheduler
// (spec §4.J). It is an error to call Start twice.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(context.Background())

	for _, tf := range s.cfg.Watchlist.Timeframes {
		expr, err := cadenceFor(tf)
		if err != nil {
			return fmt.Errorf("failed to derive cadence for timeframe %s: %w", tf, err)
		}
		timeframe := tf
		if _, err := s.cron.AddFunc(expr, func() { s.runRefreshSweep(timeframe) }); err != nil {
			return fmt.Errorf("failed to schedule %s refresh: %w", timeframe, err)
		}
	}

	outcomeExpr := fmt.Sprintf("@every %s", s.cfg.OutcomeTracker.Tick())
	if _, err := s.cron.AddFunc(outcomeExpr, s.runOutcomeTick); err != nil {
		return fmt.Errorf("failed to schedule outcome tracker tick: %w", err)
	}

	if _, err := s.cron.AddFunc(s.cfg.Scheduler.PatternAnalyserCron, s.runPatternAnalyser); err != nil {
		return fmt.Errorf("failed to schedule pattern analyser: %w", err)
	}

	poolExpr := fmt.Sprintf("@every %s", s.cfg.Pool.AdjustmentInterval)
	if _, err := s.cron.AddFunc(poolExpr, s.runPoolCheck); err != nil {
		return fmt.Errorf("failed to schedule pool check: %w", err)
	}

	flushExpr := fmt.Sprintf("@every %s", s.cfg.SlowQuery.FlushInterval)
	if _, err := s.cron.AddFunc(flushExpr, s.runSlowQueryFlush); err != nil {
		return fmt.Errorf("failed to schedule slow query flush: %w", err)
	}

	s.cron.Start()
	s.log.Info("scheduler started")
	return nil
}

// cadenceFor maps a cache timeframe onto its natural refresh cron
// expression (spec §4.J: "1m/15m/1d").
func cadenceFor(timeframe string) (string, error) {
	switch timeframe {
	case "1m":
		return "* * * * *", nil
	case "5m":
		return "*/5 * * * *", nil
	case "15m":
		return "*/15 * * * *", nil
	case "1h":
		return "0 * * * *", nil
	case "1d":
		return "0 1 * * *", nil
	default:
		return "", fmt.Errorf("unsupported timeframe %q", timeframe)
	}
}

// runRefreshSweep fans the refresh of every watched symbol out across
// the bounded worker pool, one goroutine per symbol, for a given
// timeframe (spec §5: "activities for distinct (symbol, timeframe)
// execute in parallel").
func (s *Scheduler) runRefreshSweep(timeframe string) {
	for _, symbol := range s.cfg.Watchlist.Symbols {
		symbol := symbol
		s.spawn(func(ctx context.Context) {
			if err := s.pipeline.RefreshAndEvaluate(ctx, symbol, timeframe); err != nil {
				s.log.WithError(err).WithFields(map[string]interface{}{
					"symbol": symbol, "timeframe": timeframe,
				}).Warn("refresh/evaluate failed")
			}
		})
	}
}

func (s *Scheduler) runOutcomeTick() {
	s.spawn(func(ctx context.Context) {
		if err := s.outcomes.Tick(ctx); err != nil {
			s.log.WithError(err).Warn("outcome tracker tick failed")
		}
	})
}

func (s *Scheduler) runPatternAnalyser() {
	s.spawn(func(ctx context.Context) {
		if err := s.patterns.RunAll(ctx); err != nil {
			s.log.WithError(err).Warn("pattern analyser run failed")
		}
	})
}

func (s *Scheduler) runPoolCheck() {
	if s.poolMgr == nil {
		return
	}
	s.spawn(func(ctx context.Context) {
		s.poolMgr.CheckAndAdjust(ctx)
	})
}

func (s *Scheduler) runSlowQueryFlush() {
	if s.queryMon == nil {
		return
	}
	s.spawn(func(ctx context.Context) {
		s.queryMon.Flush(ctx)
	})
}

// spawn runs fn on a worker-pool slot, tracked by the shutdown
// WaitGroup, bailing out immediately if the scheduler's context is
// already cancelled (spec §5: "stop accepting new periodic tasks").
func (s *Scheduler) spawn(fn func(ctx context.Context)) {
	select {
	case <-s.ctx.Done():
		return
	default:
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case s.workers <- struct{}{}:
		case <-s.ctx.Done():
			return
		}
		defer func() { <-s.workers }()
		fn(s.ctx)
	}()
}

// Shutdown implements spec §5's cancellation contract: stop the cron
// scheduler (it waits for in-flight jobs' outer functions to return),
// cancel the shared context so spawned workers see it at their next
// suspension point, drain the slow-query batch once, then wait for
// in-flight work up to the configured grace period — tasks that do not
// yield in time are abandoned rather than blocking shutdown forever.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}

	s.cancel()

	if s.queryMon != nil {
		s.queryMon.Flush(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := s.cfg.Scheduler.ShutdownGracePeriod
	select {
	case <-done:
		s.log.Info("scheduler shut down cleanly")
		return nil
	case <-time.After(grace):
		s.log.Warn("scheduler shutdown grace period elapsed, abandoning in-flight tasks")
		return nil
	}
}
