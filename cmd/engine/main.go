package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rcc-trading/condorhawk/internal/broker"
	"github.com/rcc-trading/condorhawk/internal/config"
	"github.com/rcc-trading/condorhawk/internal/dashboard"
	"github.com/rcc-trading/condorhawk/internal/engine"
	"github.com/rcc-trading/condorhawk/internal/pricing"
	"github.com/rcc-trading/condorhawk/internal/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// .env is optional; deployments may set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[ENGINE] ", log.LstdFlags)

	if cfg.Environment.Mode != "backtest" {
		logger.Fatalf("Mode %q needs a live host adapter; this build wires the simulated host only", cfg.Environment.Mode)
	}
	logger.Printf("Starting %s run: %s from %s to %s",
		cfg.Environment.Mode, cfg.Backtest.Underlying, cfg.Backtest.StartDate, cfg.Backtest.EndDate)

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		logger.Fatalf("Failed to open storage: %v", err)
	}

	sim := broker.NewSimHost(logger, broker.SimConfig{
		InitialCash:  cfg.Backtest.InitialCash,
		RiskFreeRate: cfg.Backtest.RiskFreeRate,
	})
	host := broker.NewCircuitBreakerHost(sim)

	pricer := pricing.NewEngine(pricing.Config{RiskFreeRate: cfg.Backtest.RiskFreeRate})

	eng, err := engine.New(host, store, pricer, logger, cfg)
	if err != nil {
		logger.Fatalf("Failed to build engine: %v", err)
	}

	feed := newMarket(cfg, sim, pricer)
	drv := &driver{cfg: cfg, market: feed, engine: eng, logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("Shutdown signal received, stopping run...")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The run finishing is what stops the dashboard.
		defer cancel()
		return drv.Run(gctx)
	})

	if cfg.Dashboard.Enabled {
		srv := dashboard.NewServer(
			dashboard.Config{ListenAddr: cfg.Dashboard.ListenAddr},
			store, host, dashboardLogger(cfg.Environment.LogLevel),
		)
		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Run error: %v", err)
	}

	printSummary(os.Stdout, eng, sim)
	printTradeLog(os.Stdout, store)
	logger.Println("Run complete")
}

func dashboardLogger(level string) *logrus.Logger {
	l := logrus.New()
	if parsed, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(parsed)
	}
	return l
}
