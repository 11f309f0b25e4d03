package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/partsdev/oem-wheel-scraper/internal/browser"
	"github.com/partsdev/oem-wheel-scraper/internal/config"
	"github.com/partsdev/oem-wheel-scraper/internal/export"
	"github.com/partsdev/oem-wheel-scraper/internal/fetcher"
	"github.com/partsdev/oem-wheel-scraper/internal/models"
	"github.com/partsdev/oem-wheel-scraper/internal/pipeline"
	"github.com/partsdev/oem-wheel-scraper/internal/progress"
	"github.com/partsdev/oem-wheel-scraper/internal/runner"
	"github.com/partsdev/oem-wheel-scraper/internal/sites"
)

func main() {
	var (
		siteList    = flag.String("sites", "", "Comma-separated sites to scrape (default: all)")
		sitesFile   = flag.String("config", "", "Path to the site definitions JSON (default: SITES_FILE)")
		output      = flag.String("output", "", "Output directory for the Excel export (default: EXPORT_OUTPUT_DIR)")
		maxProducts = flag.Int("max-products", 0, "Cap products per site, 0 for no cap (default: SCRAPER_MAX_PRODUCTS)")
		headless    = flag.Bool("headless", true, "Run the browser headless")
	)
	flag.Parse()

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

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	if *sitesFile == "" {
		*sitesFile = cfg.Export.SitesFile
	}
	if *output == "" {
		*output = cfg.Export.OutputDir
	}
	if *maxProducts == 0 {
		*maxProducts = cfg.Scraper.MaxProducts
	}

	var siteConfigs []sites.Config
	if _, err := os.Stat(*sitesFile); err == nil {
		siteConfigs, err = sites.LoadConfigs(*sitesFile)
		if err != nil {
			logger.Error("failed to load site definitions", "path", *sitesFile, "error", err)
			os.Exit(1)
		}
	}

	if err := os.MkdirAll(cfg.Export.CheckpointDir, 0o755); err != nil {
		logger.Error("failed to create checkpoint dir", "error", err)
		os.Exit(1)
	}
	tracker, err := progress.NewTracker(filepath.Join(cfg.Export.CheckpointDir, "progress.json"))
	if err != nil {
		logger.Error("failed to open progress file", "error", err)
		os.Exit(1)
	}

	r := runner.New(logger,
		runner.WithBrowserOptions(browserOptions(cfg, *headless)),
		runner.WithFetcherOptions(fetcherOptions(cfg.Scraper)),
		runner.WithDelays(cfg.Scraper.DelayMin, cfg.Scraper.DelayMax),
		runner.WithTracker(tracker),
		runner.WithSiteConfigs(siteConfigs),
	)

	targets := r.Sites()
	if *siteList != "" {
		targets = strings.Split(*siteList, ",")
		for i := range targets {
			targets[i] = strings.TrimSpace(targets[i])
		}
	}

	logger.Info("starting scrape", "sites", targets, "max_products", *maxProducts)

	checkpointer := export.NewCheckpointer(cfg.Export.CheckpointDir, logger)
	var all []*models.Product

	// One site at a time, each with a fresh session so a hostile site
	// cannot poison the next one's run.
	for _, site := range targets {
		if ctx.Err() != nil {
			break
		}

		result, err := r.RunSite(ctx, site, uuid.New().String(), *maxProducts)
		if err != nil {
			logger.Error("site run failed", "site", site, "error", err)
		}
		if result == nil {
			continue
		}

		all = append(all, result.Products...)

		if len(result.Products) > 0 {
			if path, err := checkpointer.Save(site, result.Products); err != nil {
				logger.Error("checkpoint failed", "site", site, "error", err)
			} else {
				logger.Info("checkpoint saved", "site", site, "path", path)
			}
		}
	}

	if len(all) == 0 {
		logger.Warn("no products scraped, nothing to export")
		return
	}

	processor := pipeline.NewProcessor(logger)
	records := processor.Clean(processor.Flatten(all))
	report := processor.Validate(records)
	logger.Info("pipeline finished",
		"records", len(records),
		"unique_parts", report.UniqueParts,
		"missing_fitment", report.MissingFitment,
		"malformed_urls", report.MalformedURLs,
	)

	if err := os.MkdirAll(*output, 0o755); err != nil {
		logger.Error("failed to create output dir", "error", err)
		os.Exit(1)
	}

	exporter := export.NewExporter(logger)
	stamp := time.Now().Format("2006-01-02_150405")

	exportPath := filepath.Join(*output, fmt.Sprintf("wheel_products_%s.xlsx", stamp))
	if err := exporter.Write(records, exportPath); err != nil {
		logger.Error("excel export failed", "error", err)
		os.Exit(1)
	}

	summaryPath := filepath.Join(*output, fmt.Sprintf("summary_%s.xlsx", stamp))
	if err := exporter.WriteSummary(processor.Summary(records), summaryPath); err != nil {
		logger.Error("summary export failed", "error", err)
	}

	if cfg.Export.SplitBySite {
		if err := exporter.SplitBySite(records, *output); err != nil {
			logger.Error("per-site export failed", "error", err)
		}
	}

	logger.Info("scrape complete", "products", len(all), "records", len(records), "export", exportPath)
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
