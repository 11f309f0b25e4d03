package runner

import (
	"context"

	"github.com/partsdev/oem-wheel-scraper/internal/events"
	"github.com/partsdev/oem-wheel-scraper/internal/models"
)

// EventObserver forwards runner lifecycle callbacks to the outbox-backed
// event publisher, so every consumer downstream of Redis sees the run.
type EventObserver struct {
	publisher *events.Publisher
}

func NewEventObserver(publisher *events.Publisher) *EventObserver {
	return &EventObserver{publisher: publisher}
}

func (o *EventObserver) ScrapeStarted(ctx context.Context, site, runID string, maxProducts int) error {
	payload := &events.ScrapeStartedPayload{
		RunID:       runID,
		MaxProducts: maxProducts,
	}
	payload.Site = site
	return o.publisher.PublishScrapeStarted(ctx, payload)
}

func (o *EventObserver) ProductScraped(ctx context.Context, product *models.Product) error {
	records := make([]models.ProductRecord, 0, len(product.Fitments))
	for _, f := range product.Fitments {
		records = append(records, product.Record(f))
	}
	payload := &events.ProductScrapedPayload{
		URL:          product.URL,
		SKU:          product.SKU,
		PartNumber:   product.PartNumber,
		Title:        product.Title,
		ActualPrice:  product.ActualPrice,
		MSRP:         product.MSRP,
		FitmentCount: len(product.Fitments),
		Records:      records,
	}
	payload.Site = product.Site
	return o.publisher.PublishProductScraped(ctx, payload)
}

func (o *EventObserver) ProductSkipped(ctx context.Context, site, url, reason string) error {
	payload := &events.ProductSkippedPayload{
		URL:    url,
		Reason: reason,
	}
	payload.Site = site
	return o.publisher.PublishProductSkipped(ctx, payload)
}

func (o *EventObserver) SiteCompleted(ctx context.Context, result *Result) error {
	payload := &events.SiteCompletedPayload{
		RunID:           result.RunID,
		URLsFound:       result.URLsFound,
		ProductsScraped: result.Scraped,
		ProductsSkipped: result.Skipped,
		ProductsFailed:  result.Failed,
	}
	payload.Site = result.Site
	return o.publisher.PublishSiteCompleted(ctx, payload)
}

func (o *EventObserver) ScrapeFailed(ctx context.Context, site, runID, url string, scrapeErr error) error {
	payload := &events.ScrapeFailedPayload{
		RunID: runID,
		URL:   url,
		Error: scrapeErr.Error(),
	}
	payload.Site = site
	return o.publisher.PublishScrapeFailed(ctx, payload)
}
