// Package runner drives a full site scrape: it owns the browser session,
// the recovery fetcher, the work queue and the politeness limiter, and
// reports what happened through an optional Observer.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/partsdev/oem-wheel-scraper/internal/browser"
	"github.com/partsdev/oem-wheel-scraper/internal/fetcher"
	"github.com/partsdev/oem-wheel-scraper/internal/models"
	"github.com/partsdev/oem-wheel-scraper/internal/progress"
	"github.com/partsdev/oem-wheel-scraper/internal/queue"
	"github.com/partsdev/oem-wheel-scraper/internal/ratelimit"
	"github.com/partsdev/oem-wheel-scraper/internal/sites"
)

// SessionDriver is the slice of the browser session the runner manages:
// everything the fetcher needs, plus scroll and teardown.
type SessionDriver interface {
	fetcher.Driver
	ScrollToBottom() (int, error)
	Close() error
}

// PageFetcher loads pages through the recovery stack and exposes its
// health so the runner can snapshot it after a run.
type PageFetcher interface {
	sites.Fetcher
	Health() fetcher.HealthStatus
}

// Observer receives lifecycle notifications during a run. Observer errors
// are logged, never fatal; a scrape does not fail because an event could
// not be recorded.
type Observer interface {
	ScrapeStarted(ctx context.Context, site, runID string, maxProducts int) error
	ProductScraped(ctx context.Context, product *models.Product) error
	ProductSkipped(ctx context.Context, site, url, reason string) error
	SiteCompleted(ctx context.Context, result *Result) error
	ScrapeFailed(ctx context.Context, site, runID, url string, scrapeErr error) error
}

// Result summarizes one site run.
type Result struct {
	Site      string
	RunID     string
	URLsFound int
	Scraped   int
	Skipped   int
	Failed    int
	Products  []*models.Product
	Health    fetcher.HealthStatus
}

// Option configures a Runner.
type Option func(*Runner)

// WithObserver attaches a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// WithTracker attaches a progress tracker so interrupted runs resume
// instead of re-scraping completed URLs.
func WithTracker(t *progress.Tracker) Option {
	return func(r *Runner) { r.tracker = t }
}

// WithSessionFactory overrides how browser sessions are created. Tests
// use it to substitute a fake driver.
func WithSessionFactory(f func() (SessionDriver, error)) Option {
	return func(r *Runner) { r.newSession = f }
}

// WithFetcherFactory overrides how the page fetcher is built on top of a
// session.
func WithFetcherFactory(f func(drv fetcher.Driver) PageFetcher) Option {
	return func(r *Runner) { r.newFetcher = f }
}

// WithBrowserOptions sets the options passed to new browser sessions.
func WithBrowserOptions(opts *browser.Options) Option {
	return func(r *Runner) { r.browserOpts = opts }
}

// WithFetcherOptions sets the retry and challenge budgets for fetches.
func WithFetcherOptions(opts fetcher.Options) Option {
	return func(r *Runner) { r.fetchOpts = opts }
}

// WithDelays sets the politeness window between product fetches.
func WithDelays(min, max time.Duration) Option {
	return func(r *Runner) {
		r.delayMin = min
		r.delayMax = max
	}
}

// WithSiteConfigs registers config-driven sites alongside the built-in
// extractors. Built-ins win on name collision.
func WithSiteConfigs(cfgs []sites.Config) Option {
	return func(r *Runner) { r.siteConfigs = cfgs }
}

// Runner executes site scrapes. One Runner handles one site at a time;
// each run gets a fresh session, fetcher and queue so one site's trouble
// never bleeds into the next.
type Runner struct {
	logger      *slog.Logger
	observer    Observer
	tracker     *progress.Tracker
	browserOpts *browser.Options
	fetchOpts   fetcher.Options
	delayMin    time.Duration
	delayMax    time.Duration
	siteConfigs []sites.Config

	newSession func() (SessionDriver, error)
	newFetcher func(drv fetcher.Driver) PageFetcher
	newSite    func(name string, deps sites.Deps) (sites.Site, error)

	mu         sync.Mutex
	lastHealth fetcher.HealthStatus
}

// New builds a Runner with production defaults: a real playwright session
// and the recovery fetcher.
func New(logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		logger:    logger.With("component", "runner"),
		fetchOpts: fetcher.DefaultOptions(),
		delayMin:  2 * time.Second,
		delayMax:  5 * time.Second,
	}
	r.newSession = func() (SessionDriver, error) {
		return browser.NewSession(r.browserOpts)
	}
	r.newFetcher = func(drv fetcher.Driver) PageFetcher {
		return fetcher.New(drv, r.fetchOpts, logger)
	}
	r.newSite = r.resolveSite
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sites returns the names this runner can scrape: built-ins plus any
// configured generic sites.
func (r *Runner) Sites() []string {
	names := sites.Names()
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	for _, cfg := range r.siteConfigs {
		if !known[cfg.Name] {
			names = append(names, cfg.Name)
		}
	}
	return names
}

// LastHealth returns the fetcher health snapshot from the most recent
// run. Zero value before any run has finished.
func (r *Runner) LastHealth() fetcher.HealthStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastHealth
}

// RunSite scrapes one site end to end: discover product URLs, queue
// them, then drain the queue with adaptive pacing. maxProducts <= 0
// means no limit. The returned Result is valid even when err is non-nil;
// it covers everything done before the run stopped.
func (r *Runner) RunSite(ctx context.Context, siteName, runID string, maxProducts int) (*Result, error) {
	result := &Result{Site: siteName, RunID: runID}

	drv, err := r.newSession()
	if err != nil {
		return result, fmt.Errorf("failed to start browser session: %w", err)
	}
	defer func() {
		if cerr := drv.Close(); !browser.IgnorableTeardownError(cerr) {
			r.logger.Warn("session teardown failed", "site", siteName, "error", cerr)
		}
	}()

	f := r.newFetcher(drv)
	site, err := r.newSite(siteName, sites.Deps{Fetcher: f, DOM: drv, Logger: r.logger})
	if err != nil {
		return result, err
	}

	r.notify(func() error { return r.observer.ScrapeStarted(ctx, siteName, runID, maxProducts) })

	urls, err := site.ProductURLs(ctx)
	if err != nil {
		result.Health = f.Health()
		r.storeHealth(result.Health)
		r.notify(func() error { return r.observer.ScrapeFailed(ctx, siteName, runID, "", err) })
		return result, fmt.Errorf("failed to list products for %s: %w", siteName, err)
	}
	result.URLsFound = len(urls)
	r.logger.Info("product urls discovered", "site", siteName, "count", len(urls))

	tasks := r.enqueueable(siteName, urls)
	q := queue.NewInMemoryQueue()
	batch := queue.NewBatchQueue(q, 50)
	if err := batch.PushBatch(tasks); err != nil {
		return result, fmt.Errorf("failed to queue urls: %w", err)
	}
	q.Close()

	limiter := ratelimit.NewAdaptiveRateLimiter(r.delayMin, r.delayMax)
	runErr := r.drain(ctx, site, q, limiter, maxProducts, runID, result)

	result.Health = f.Health()
	r.storeHealth(result.Health)

	r.notify(func() error { return r.observer.SiteCompleted(ctx, result) })
	r.logger.Info("site run finished",
		"site", siteName,
		"urls_found", result.URLsFound,
		"scraped", result.Scraped,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, runErr
}

// RunProduct scrapes a single product URL through the full recovery
// stack. Used by the site-runner CLI for spot checks.
func (r *Runner) RunProduct(ctx context.Context, siteName, url string) (*models.Product, error) {
	drv, err := r.newSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}
	defer func() {
		if cerr := drv.Close(); !browser.IgnorableTeardownError(cerr) {
			r.logger.Warn("session teardown failed", "site", siteName, "error", cerr)
		}
	}()

	f := r.newFetcher(drv)
	site, err := r.newSite(siteName, sites.Deps{Fetcher: f, DOM: drv, Logger: r.logger})
	if err != nil {
		return nil, err
	}

	product, err := site.ScrapeProduct(ctx, url)
	r.storeHealth(f.Health())
	return product, err
}

func (r *Runner) drain(ctx context.Context, site sites.Site, q queue.Queue, limiter *ratelimit.AdaptiveRateLimiter, maxProducts int, runID string, result *Result) error {
	for {
		if maxProducts > 0 && result.Scraped >= maxProducts {
			r.logger.Info("product limit reached", "site", result.Site, "limit", maxProducts)
			return nil
		}

		task, err := q.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) {
				return nil
			}
			return err
		}

		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		product, err := site.ScrapeProduct(ctx, task.URL)
		switch {
		case err == nil:
			result.Scraped++
			result.Products = append(result.Products, product)
			limiter.RecordSuccess()
			r.trackDone(task.URL, product.SKU)
			r.notify(func() error { return r.observer.ProductScraped(ctx, product) })

		case errors.Is(err, sites.ErrNotWheel) || errors.Is(err, sites.ErrNoTitle):
			// The page loaded fine, it just isn't a product we want.
			result.Skipped++
			limiter.RecordSuccess()
			r.trackStatus(task.URL, progress.StatusSkipped, err.Error())
			r.notify(func() error { return r.observer.ProductSkipped(ctx, result.Site, task.URL, err.Error()) })

		case errors.Is(err, fetcher.ErrUnhealthy):
			// The fetcher has given up on this session. Stop the run
			// rather than burn through the rest of the queue failing.
			result.Failed++
			r.trackStatus(task.URL, progress.StatusFailed, err.Error())
			r.notify(func() error { return r.observer.ScrapeFailed(ctx, result.Site, runID, task.URL, err) })
			return fmt.Errorf("aborting %s run: %w", result.Site, err)

		case ctx.Err() != nil:
			result.Failed++
			r.trackStatus(task.URL, progress.StatusFailed, err.Error())
			return ctx.Err()

		default:
			result.Failed++
			limiter.RecordError()
			r.trackStatus(task.URL, progress.StatusFailed, err.Error())
			r.notify(func() error { return r.observer.ScrapeFailed(ctx, result.Site, runID, task.URL, err) })
			r.logger.Warn("product scrape failed", "site", result.Site, "url", task.URL, "error", err)
		}
	}
}

// enqueueable records the URLs in the tracker and returns tasks for the
// ones not already completed or skipped by an earlier run.
func (r *Runner) enqueueable(siteName string, urls []string) []*queue.Task {
	if r.tracker != nil {
		if err := r.tracker.AddBatch(siteName, urls); err != nil {
			r.logger.Warn("progress tracking unavailable", "error", err)
		}
	}

	tasks := make([]*queue.Task, 0, len(urls))
	for _, u := range urls {
		if r.tracker != nil && r.tracker.Done(u) {
			continue
		}
		tasks = append(tasks, &queue.Task{
			ID:        fmt.Sprintf("%s:%d", siteName, len(tasks)),
			Site:      siteName,
			URL:       u,
			CreatedAt: time.Now(),
		})
	}
	return tasks
}

func (r *Runner) resolveSite(name string, deps sites.Deps) (sites.Site, error) {
	if site, err := sites.New(name, deps); err == nil {
		return site, nil
	}
	for _, cfg := range r.siteConfigs {
		if cfg.Name == name {
			return sites.FromConfig(cfg, deps), nil
		}
	}
	return nil, fmt.Errorf("unknown site %q", name)
}

func (r *Runner) storeHealth(h fetcher.HealthStatus) {
	r.mu.Lock()
	r.lastHealth = h
	r.mu.Unlock()
}

func (r *Runner) notify(fn func() error) {
	if r.observer == nil {
		return
	}
	if err := fn(); err != nil {
		r.logger.Warn("observer notification failed", "error", err)
	}
}

func (r *Runner) trackDone(url, sku string) {
	if r.tracker == nil {
		return
	}
	if sku != "" {
		if err := r.tracker.SetSKU(url, sku); err != nil {
			r.logger.Warn("progress update failed", "url", url, "error", err)
			return
		}
	}
	r.trackStatus(url, progress.StatusCompleted, "")
}

func (r *Runner) trackStatus(url, status, msg string) {
	if r.tracker == nil {
		return
	}
	if err := r.tracker.SetStatus(url, status, msg); err != nil {
		r.logger.Warn("progress update failed", "url", url, "error", err)
	}
}
