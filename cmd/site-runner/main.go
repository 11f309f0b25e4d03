// site-runner exercises one site without the full orchestrator: a whole
// listing walk with a product cap, or a single product URL.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/partsdev/oem-wheel-scraper/internal/browser"
	"github.com/partsdev/oem-wheel-scraper/internal/config"
	"github.com/partsdev/oem-wheel-scraper/internal/fetcher"
	"github.com/partsdev/oem-wheel-scraper/internal/runner"
	"github.com/partsdev/oem-wheel-scraper/internal/sites"
)

func main() {
	var (
		site     = flag.String("site", "", "Site to run (required)")
		limit    = flag.Int("limit", 5, "Max products to scrape, 0 for no limit")
		url      = flag.String("url", "", "Scrape a single product URL instead of the whole site")
		headless = flag.Bool("headless", true, "Run the browser headless")
	)
	flag.Parse()

	if *site == "" {
		fmt.Fprintf(os.Stderr, "usage: site-runner -site <name> [-limit N] [-url <product url>]\n")
		fmt.Fprintf(os.Stderr, "built-in sites: %s\n", strings.Join(sites.Names(), ", "))
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Single-site runs are interactive; log human-readable to stderr so
	// stdout stays clean JSON.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	var siteConfigs []sites.Config
	if _, err := os.Stat(cfg.Export.SitesFile); err == nil {
		siteConfigs, err = sites.LoadConfigs(cfg.Export.SitesFile)
		if err != nil {
			logger.Error("failed to load site definitions", "error", err)
			os.Exit(1)
		}
	}

	r := runner.New(logger,
		runner.WithBrowserOptions(browserOptions(cfg, *headless)),
		runner.WithFetcherOptions(fetcherOptions(cfg.Scraper)),
		runner.WithDelays(cfg.Scraper.DelayMin, cfg.Scraper.DelayMax),
		runner.WithSiteConfigs(siteConfigs),
	)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *url != "" {
		product, err := r.RunProduct(ctx, *site, *url)
		if err != nil {
			logger.Error("scrape failed", "site", *site, "url", *url, "error", err)
			os.Exit(1)
		}
		if err := enc.Encode(product); err != nil {
			logger.Error("failed to encode product", "error", err)
			os.Exit(1)
		}
		return
	}

	result, err := r.RunSite(ctx, *site, uuid.New().String(), *limit)
	if err != nil {
		logger.Error("site run failed", "site", *site, "error", err)
	}
	if result == nil {
		os.Exit(1)
	}

	logger.Info("run finished",
		"site", result.Site,
		"urls_found", result.URLsFound,
		"scraped", result.Scraped,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"healthy", result.Health.Healthy,
	)

	if err := enc.Encode(result.Products); err != nil {
		logger.Error("failed to encode products", "error", err)
		os.Exit(1)
	}
	if err != nil {
		os.Exit(1)
	}
}

func browserOptions(cfg *config.Config, headless bool) *browser.Options {
	opts := &browser.Options{
		Headless:       headless && cfg.Browser.Headless,
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
