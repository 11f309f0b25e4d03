package runner

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/partsdev/oem-wheel-scraper/internal/database"
	"github.com/partsdev/oem-wheel-scraper/internal/models"
)

// MultiObserver fans lifecycle callbacks out to several observers. The
// first error comes back to the runner, which only logs it; the rest
// still run.
type MultiObserver []Observer

func (m MultiObserver) ScrapeStarted(ctx context.Context, site, runID string, maxProducts int) error {
	var first error
	for _, o := range m {
		if err := o.ScrapeStarted(ctx, site, runID, maxProducts); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiObserver) ProductScraped(ctx context.Context, product *models.Product) error {
	var first error
	for _, o := range m {
		if err := o.ProductScraped(ctx, product); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiObserver) ProductSkipped(ctx context.Context, site, url, reason string) error {
	var first error
	for _, o := range m {
		if err := o.ProductSkipped(ctx, site, url, reason); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiObserver) SiteCompleted(ctx context.Context, result *Result) error {
	var first error
	for _, o := range m {
		if err := o.SiteCompleted(ctx, result); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiObserver) ScrapeFailed(ctx context.Context, site, runID, url string, scrapeErr error) error {
	var first error
	for _, o := range m {
		if err := o.ScrapeFailed(ctx, site, runID, url, scrapeErr); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RunRecorder keeps the scrape_runs history table current while a run
// progresses, so past runs stay inspectable after the process exits.
type RunRecorder struct {
	runs *database.RunRepository

	mu     sync.Mutex
	active map[string]uuid.UUID // site -> open run row
	counts map[string]*runCounts
}

type runCounts struct {
	scraped int
	skipped int
	failed  int
}

func NewRunRecorder(runs *database.RunRepository) *RunRecorder {
	return &RunRecorder{
		runs:   runs,
		active: make(map[string]uuid.UUID),
		counts: make(map[string]*runCounts),
	}
}

func (r *RunRecorder) ScrapeStarted(ctx context.Context, site, runID string, maxProducts int) error {
	run, err := r.runs.Start(ctx, site)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.active[site] = run.ID
	r.counts[site] = &runCounts{}
	r.mu.Unlock()
	return nil
}

func (r *RunRecorder) ProductScraped(ctx context.Context, product *models.Product) error {
	return r.bump(ctx, product.Site, func(c *runCounts) { c.scraped++ })
}

func (r *RunRecorder) ProductSkipped(ctx context.Context, site, _, _ string) error {
	return r.bump(ctx, site, func(c *runCounts) { c.skipped++ })
}

func (r *RunRecorder) ScrapeFailed(ctx context.Context, site, _, url string, _ error) error {
	if url == "" {
		// Whole-run failure; SiteCompleted still closes the row.
		return nil
	}
	return r.bump(ctx, site, func(c *runCounts) { c.failed++ })
}

func (r *RunRecorder) SiteCompleted(ctx context.Context, result *Result) error {
	r.mu.Lock()
	id, ok := r.active[result.Site]
	delete(r.active, result.Site)
	delete(r.counts, result.Site)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	if err := r.runs.UpdateProgress(ctx, id,
		result.URLsFound, result.Scraped, result.Skipped, result.Failed); err != nil {
		return err
	}
	return r.runs.Finish(ctx, id, nil)
}

func (r *RunRecorder) bump(ctx context.Context, site string, apply func(*runCounts)) error {
	r.mu.Lock()
	id, ok := r.active[site]
	c := r.counts[site]
	if ok && c != nil {
		apply(c)
	}
	var scraped, skipped, failed int
	if c != nil {
		scraped, skipped, failed = c.scraped, c.skipped, c.failed
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	return r.runs.UpdateProgress(ctx, id, 0, scraped, skipped, failed)
}
