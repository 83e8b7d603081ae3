package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/rewired-gh/tapmarket/internal/api"
	"github.com/rewired-gh/tapmarket/internal/config"
	"github.com/rewired-gh/tapmarket/internal/engine"
	"github.com/rewired-gh/tapmarket/internal/feed"
	"github.com/rewired-gh/tapmarket/internal/logger"
	"github.com/rewired-gh/tapmarket/internal/metrics"
	"github.com/rewired-gh/tapmarket/internal/models"
	"github.com/rewired-gh/tapmarket/internal/pricing"
	"github.com/rewired-gh/tapmarket/internal/scheduler"
	"github.com/rewired-gh/tapmarket/internal/storage"
	"github.com/rewired-gh/tapmarket/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	// A local .env feeds the environment; it is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to load .env: %v", err)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup logging with level support
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	// Initialize storage
	dsn, err := cfg.StorageDSN()
	if err != nil {
		logger.Fatal("Invalid storage configuration: %v", err)
	}
	store, err := storage.Open(cfg.Storage.Driver, dsn, storage.Options{MaxOpenConns: cfg.Storage.MaxOpenConns})
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	if cfg.Storage.Bootstrap {
		catalog, err := cfg.Drinks()
		if err != nil {
			logger.Fatal("Invalid catalog: %v", err)
		}
		if catalog == nil {
			catalog = storage.DefaultCatalog()
		}
		bootCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = store.Bootstrap(bootCtx, catalog)
		cancel()
		if err != nil {
			logger.Fatal("Failed to bootstrap storage: %v", err)
		}
		logger.Info("Storage ready (%s, %d catalog drinks)", store.Driver(), len(catalog))
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}
	hub := feed.NewHub()
	defer hub.Close()

	eng := engine.New(store, engine.Config{
		SalesWindow:     cfg.Pricing.SalesWindow,
		CrashMultiplier: cfg.Pricing.CrashMultiplier,
		HistoryLimit:    cfg.Pricing.HistoryLimit,
		Rebalance: pricing.RebalanceConfig{
			Threshold:  models.Cents(cfg.Rebalance.ThresholdCents),
			MinPerItem: models.Cents(cfg.Rebalance.MinPerItemCents),
		},
	}, engine.WithMetrics(m), engine.WithPublisher(hub))

	// Initialize Telegram client
	alerts := &alerter{}
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		alerts.notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := api.Options{
		TickInterval: cfg.Pricing.TickInterval,
		TickLead:     cfg.Pricing.TickLead,
		SalesWindow:  cfg.Pricing.SalesWindow,
		HistoryLimit: cfg.Pricing.HistoryLimit,
		QueryTimeout: cfg.Storage.QueryTimeout,
		Metrics:      m,
		MetricsPath:  cfg.Metrics.Path,
		Feed:         hub,
	}
	if telegramClient != nil {
		opts.Notifier = telegramClient
	}
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(store, eng, opts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorLog:     logger.StdLogger(),
	}

	var wg sync.WaitGroup

	// Start pricing loops
	ticks := scheduler.New("tick", cfg.Pricing.TickInterval, cfg.Pricing.TickLead,
		func(ctx context.Context, boundary time.Time) error {
			return runTick(ctx, eng, boundary)
		},
		scheduler.WithMetrics(m),
		scheduler.WithResultHandler(alerts.handler("tick")))
	logger.Info("Starting pricing service (interval: %v, lead: %v, sales_window: %v, crash_multiplier: %.2f)",
		cfg.Pricing.TickInterval, cfg.Pricing.TickLead, cfg.Pricing.SalesWindow, cfg.Pricing.CrashMultiplier)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticks.Run(ctx)
	}()

	if cfg.Rebalance.Enabled {
		rebalances := scheduler.New("rebalance", cfg.Rebalance.Interval, 0,
			func(ctx context.Context, boundary time.Time) error {
				return runRebalance(ctx, eng, boundary)
			},
			scheduler.WithMetrics(m),
			scheduler.WithResultHandler(alerts.handler("rebalance")))
		logger.Info("Starting rebalancer (interval: %v, threshold: %d cents)", cfg.Rebalance.Interval, cfg.Rebalance.ThresholdCents)
		wg.Add(1)
		go func() {
			defer wg.Done()
			rebalances.Run(ctx)
		}()
	}

	// Start HTTP server
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, cleaning up...")
	case err := <-serverErr:
		logger.Error("HTTP server failed: %v", err)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown: %v", err)
	}
	wg.Wait()
	logger.Info("Service stopped")
}

func runTick(ctx context.Context, eng *engine.Engine, boundary time.Time) error {
	startTime := time.Now()
	logger.Debug("Starting tick for boundary %s", boundary.Format("15:04:05"))

	report, err := eng.Tick(ctx, boundary)
	if err != nil {
		return err
	}

	units := 0
	for _, cr := range report.Categories {
		units += cr.Units
	}
	logger.Info("Tick %s [%s] completed in %v: %d units sold, %d prices changed (crash: %v)",
		boundary.Format("15:04:05"), report.ID, time.Since(startTime), units, report.Changed(), report.Crash)
	return nil
}

func runRebalance(ctx context.Context, eng *engine.Engine, boundary time.Time) error {
	report, err := eng.Rebalance(ctx, boundary)
	if err != nil {
		return err
	}
	if n := report.Changed(); n > 0 {
		logger.Info("Rebalance %s [%s] adjusted %d prices", boundary.Format("15:04:05"), report.ID, n)
	}
	return nil
}
