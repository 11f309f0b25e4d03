// scraper-api is the long-running service: it accepts scrape jobs over
// HTTP, works through them with one browser session at a time, stores
// products in Postgres, and relays lifecycle events from the outbox to
// Redis.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/partsdev/oem-wheel-scraper/internal/api"
	"github.com/partsdev/oem-wheel-scraper/internal/browser"
	"github.com/partsdev/oem-wheel-scraper/internal/config"
	"github.com/partsdev/oem-wheel-scraper/internal/database"
	"github.com/partsdev/oem-wheel-scraper/internal/events"
	"github.com/partsdev/oem-wheel-scraper/internal/fetcher"
	"github.com/partsdev/oem-wheel-scraper/internal/jobs"
	"github.com/partsdev/oem-wheel-scraper/internal/runner"
	"github.com/partsdev/oem-wheel-scraper/internal/sites"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Name,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    int32(cfg.Database.MaxConns),
		MinConns:    int32(cfg.Database.MinConns),
		MaxConnLife: cfg.Database.MaxConnLifetime,
		MaxConnIdle: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	relay := database.NewRelay(db, redisClient, logger, database.RelayConfig{
		PollInterval: cfg.Redis.PollInterval,
		BatchSize:    cfg.Redis.BatchSize,
	})
	go func() {
		if err := relay.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("relay stopped with error", "error", err)
		}
	}()

	var siteConfigs []sites.Config
	if _, err := os.Stat(cfg.Export.SitesFile); err == nil {
		siteConfigs, err = sites.LoadConfigs(cfg.Export.SitesFile)
		if err != nil {
			logger.Error("failed to load site definitions", "error", err)
			os.Exit(1)
		}
	}

	publisher := events.NewPublisher(db, logger)
	recorder := runner.NewRunRecorder(database.NewRunRepository(db))
	scraper := runner.New(logger,
		runner.WithBrowserOptions(browserOptions(cfg)),
		runner.WithFetcherOptions(fetcherOptions(cfg.Scraper)),
		runner.WithDelays(cfg.Scraper.DelayMin, cfg.Scraper.DelayMax),
		runner.WithSiteConfigs(siteConfigs),
		runner.WithObserver(runner.MultiObserver{runner.NewEventObserver(publisher), recorder}),
	)

	manager := jobs.NewManager(db, scraper, logger)
	go manager.StartWorker(ctx)

	handlers := api.NewHandlers(api.Deps{
		Jobs:      manager,
		Products:  database.NewProductRepository(db),
		Fetcher:   scraper,
		Outbox:    relay,
		PingDB:    db.Ping,
		PingRedis: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("scraper api listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func browserOptions(cfg *config.Config) *browser.Options {
	opts := &browser.Options{
		Headless:       cfg.Browser.Headless,
		Timeout:        cfg.Browser.Timeout,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		AcceptLanguage: cfg.Browser.AcceptLanguage,
		TimezoneID:     cfg.Browser.TimezoneID,
		Locale:         cfg.Browser.Locale,
	}
	if len(cfg.Scraper.UserAgents) > 0 {
		opts.UserAgent = cfg.Scraper.UserAgents[0]
	}
	return opts
}

func fetcherOptions(cfg config.ScraperConfig) fetcher.Options {
	opts := fetcher.DefaultOptions()
	opts.MaxRetries = cfg.MaxRetries
	opts.SessionRetries = cfg.SessionRetries
	opts.ChallengeTimeout = cfg.ChallengeTimeout
	opts.ChallengeRetries = cfg.ChallengeRetries
	opts.ExtendedPageTimeout = cfg.ExtendedPageTimeout
	opts.BreakerThreshold = cfg.BreakerThreshold
	opts.BreakerWindow = cfg.BreakerWindow
	opts.Health = fetcher.HealthThresholds{
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		MinRequestsForRate:     cfg.MinRequestsForRate,
		MinSuccessRate:         cfg.MinSuccessRate,
	}
	return opts
}
