// Package core wires every component (A-J) into a single explicitly
// constructed instance, replacing the teacher's package-level globals
// and mirroring koshedutech-binance-trading-app's App struct/NewApp
// construction shape, per spec §9's anti-singleton guidance.
package core

import (
	"context"
	"fmt"
	"time"

	"market-signal-core/internal/alert"
	"market-signal-core/internal/cache"
	"market-signal-core/internal/config"
	"market-signal-core/internal/database"
	"market-signal-core/internal/indicator"
	"market-signal-core/internal/logging"
	"market-signal-core/internal/outcome"
	"market-signal-core/internal/pattern"
	"market-signal-core/internal/pool"
	"market-signal-core/internal/priceprovider"
	"market-signal-core/internal/querymon"
	"market-signal-core/internal/scheduler"
	"market-signal-core/internal/signal"
)

// Core holds every wired component. Nothing here is a package-level
// global: every dependent constructs against the instance it is given.
type Core struct {
	cfg *config.Config
	log *logging.Logger

	db        *database.DB
	cache     *cache.Cache
	engine    *indicator.Engine
	detector  *signal.Detector
	store     *signal.Store
	outcomes  *outcome.Tracker
	patterns  *pattern.Analyser
	alerts    *alert.Manager
	queryMon  *querymon.Monitor
	poolMgr   *pool.Manager
	prices    *priceprovider.Client
	scheduler *scheduler.Scheduler
}

// New constructs every component but does not start any background
// work; call Start to boot the scheduler (spec §6's start() lifecycle
// signal).
func New(cfg *config.Config) (*Core, error) {
	log := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.Format == "json",
		Output:     cfg.Logging.Output,
	})

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise database: %w", err)
	}

	alertChannels := alert.ChannelRouting{
		Info:     cfg.Alert.Channels.Info,
		Warning:  cfg.Alert.Channels.Warning,
		Error:    cfg.Alert.Channels.Error,
		Critical: cfg.Alert.Channels.Critical,
	}
	alerts := alert.NewManager(alertChannels, cfg.Alert.RateLimitPerHour, log)
	registerNotifiers(alerts, cfg)

	queryMon := querymon.NewMonitor(cfg.SlowQuery.Threshold(), cfg.SlowQuery.BatchSize, db, alerts, log)
	db.SetHooks(queryMon)

	poolCfg := pool.Config{
		Min: cfg.Pool.Min, Max: cfg.Pool.Max, MaxOverflow: cfg.Pool.MaxOverflow,
		Timeout: cfg.Pool.Timeout, Recycle: cfg.Pool.Recycle,
		AdjustmentInterval: cfg.Pool.AdjustmentInterval,
		UtilHigh:           cfg.Pool.UtilHigh, UtilLow: cfg.Pool.UtilLow, Step: cfg.Pool.Step,
	}
	poolMgr := pool.NewManager(poolCfg, db, alerts, log)

	priceClient := priceprovider.NewClient(cfg.PriceProvider, log)

	priceCache := cache.New(cfg.Cache.MaxBarsPerSeries, cfg.Cache.TTLSeconds, log)
	engine := indicator.NewEngine()
	detector := signal.NewDetector()
	store := signal.NewStore(db, log)

	outcomes := outcome.NewTracker(db, priceClient, log)

	patternCfg := pattern.Config{
		WindowDays:        cfg.PatternAnalyser.WindowDays,
		SequentialGapDays: cfg.PatternAnalyser.SequentialGapDays,
		ConcurrentGapMins: cfg.PatternAnalyser.ConcurrentGapMinute,
	}
	patterns := pattern.NewAnalyser(db, patternCfg, log)

	pipeline := scheduler.NewPipeline(priceCache, engine, detector, store, cfg.Dedup, priceClient, log)

	sched := scheduler.New(cfg, scheduler.Deps{
		Cache:    priceCache,
		Prices:   priceClient,
		Pipeline: pipeline,
		Outcomes: outcomes,
		Patterns: patterns,
		Pool:     poolMgr,
		QueryMon: queryMon,
		Alerts:   alerts,
	}, log)

	return &Core{
		cfg: cfg, log: log,
		db: db, cache: priceCache, engine: engine, detector: detector, store: store,
		outcomes: outcomes, patterns: patterns, alerts: alerts, queryMon: queryMon,
		poolMgr: poolMgr, prices: priceClient, scheduler: sched,
	}, nil
}

func registerNotifiers(alerts *alert.Manager, cfg *config.Config) {
	if cfg.Alert.Telegram.Enabled {
		alerts.Register(alert.NewTelegramNotifier(cfg.Alert.Telegram))
	}
	if cfg.Alert.Slack.Enabled {
		alerts.Register(alert.NewSlackNotifier(cfg.Alert.Slack))
	}
	if cfg.Alert.Email.Enabled {
		alerts.Register(alert.NewEmailNotifier(cfg.Alert.Email))
	}
	if cfg.Alert.Webhook.Enabled {
		alerts.Register(alert.NewWebhookNotifier(cfg.Alert.Webhook))
	}
}

// Start implements spec §6's start() lifecycle signal: initialise the
// pool (already done by database.New), register hooks (already wired
// in New), boot the scheduler.
func (c *Core) Start() error {
	if err := c.db.HealthCheck(); err != nil {
		return fmt.Errorf("database health check failed at startup: %w", err)
	}
	if err := c.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	c.log.Info("core started")
	return nil
}

// Shutdown implements spec §5/§6: stop the scheduler within its grace
// period, then dispose the DB pool.
func (c *Core) Shutdown(ctx context.Context) error {
	if err := c.scheduler.Shutdown(ctx); err != nil {
		c.log.WithError(err).Warn("scheduler shutdown reported an error")
	}
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	c.log.Info("core shut down")
	return nil
}

// HealthCheck aggregates the database and price-provider health
// checks.
func (c *Core) HealthCheck(ctx context.Context) error {
	if err := c.db.HealthCheck(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.prices.HealthCheck(ctx)
}
