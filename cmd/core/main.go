// Command core is the market-signal-core entrypoint: load configuration,
// wire the Core, start the scheduler, and wait for SIGINT/SIGTERM to
// shut down within the configured grace period (spec §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-signal-core/internal/config"
	"market-signal-core/internal/core"
	"market-signal-core/internal/logging"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
		historical = flag.Int("historical", 0, "Backfill historical bars for N days before starting the scheduler (0 = disabled)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	c, err := core.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise core: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.Format == "json",
		Output:     cfg.Logging.Output,
	}).WithComponent("main")

	if *historical > 0 {
		log.WithField("days", *historical).Info("historical backfill requested but not wired to a dedicated command yet; skipping")
	}

	if err := c.Start(); err != nil {
		log.WithError(err).Fatal("failed to start core")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownGracePeriod+5*time.Second)
	defer cancel()

	if err := c.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown completed with errors")
		os.Exit(1)
	}

	log.Info("shutdown complete")
}
