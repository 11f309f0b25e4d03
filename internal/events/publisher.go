// Package events publishes scrape lifecycle events through the
// transactional outbox, so the data write and the event write commit or
// roll back together. The relay ships them to Redis afterwards.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/partsdev/oem-wheel-scraper/internal/database"
	"github.com/partsdev/oem-wheel-scraper/internal/models"
)

type EventType string

const (
	EventTypeScrapeStarted  EventType = "SCRAPE_STARTED"
	EventTypeProductScraped EventType = "PRODUCT_SCRAPED"
	EventTypeProductSkipped EventType = "PRODUCT_SKIPPED"
	EventTypeSiteCompleted  EventType = "SITE_COMPLETED"
	EventTypeScrapeFailed   EventType = "SCRAPE_FAILED"
)

const source = "oem-wheel-scraper"

// Header carries the fields every lifecycle event shares. Empty fields are
// filled in just before publishing.
type Header struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Site      string    `json:"site"`
}

func (h *Header) fill(eventType EventType) {
	if h.EventID == "" {
		h.EventID = uuid.New().String()
	}
	if h.EventType == "" {
		h.EventType = string(eventType)
	}
	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now()
	}
	if h.Source == "" {
		h.Source = source
	}
}

// ScrapeStartedPayload announces a site run.
type ScrapeStartedPayload struct {
	Header
	RunID       string `json:"run_id,omitempty"`
	MaxProducts int    `json:"max_products,omitempty"`
}

// ProductScrapedPayload carries one scraped product and its fitment rows.
type ProductScrapedPayload struct {
	Header
	URL          string                 `json:"url"`
	SKU          string                 `json:"sku"`
	PartNumber   string                 `json:"part_number,omitempty"`
	Title        string                 `json:"title,omitempty"`
	ActualPrice  string                 `json:"actual_price,omitempty"`
	MSRP         string                 `json:"msrp,omitempty"`
	FitmentCount int                    `json:"fitment_count"`
	Records      []models.ProductRecord `json:"records,omitempty"`
}

// ProductSkippedPayload records a URL that was deliberately not scraped.
type ProductSkippedPayload struct {
	Header
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// SiteCompletedPayload summarizes a finished site run.
type SiteCompletedPayload struct {
	Header
	RunID           string `json:"run_id,omitempty"`
	URLsFound       int    `json:"urls_found"`
	ProductsScraped int    `json:"products_scraped"`
	ProductsSkipped int    `json:"products_skipped"`
	ProductsFailed  int    `json:"products_failed"`
}

// ScrapeFailedPayload records a terminal failure for a URL or a whole run.
type ScrapeFailedPayload struct {
	Header
	RunID string `json:"run_id,omitempty"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error"`
}

// Publisher writes lifecycle events into the outbox table.
type Publisher struct {
	db       *database.DB
	outbox   *database.OutboxRepository
	products *database.ProductRepository
	logger   *slog.Logger
}

func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:       db,
		outbox:   database.NewOutboxRepository(db),
		products: database.NewProductRepository(db),
		logger:   logger.With("component", "event_publisher"),
	}
}

// PublishScrapeStarted announces that a site run has begun.
func (p *Publisher) PublishScrapeStarted(ctx context.Context, payload *ScrapeStartedPayload) error {
	payload.fill(EventTypeScrapeStarted)
	return p.publish(ctx, EventTypeScrapeStarted, "scrape_run", payload.Site, payload, nil)
}

// PublishProductScraped persists the product's flattened records and the
// event in one transaction. Either both land or neither does.
func (p *Publisher) PublishProductScraped(ctx context.Context, payload *ProductScrapedPayload) error {
	payload.fill(EventTypeProductScraped)
	if payload.FitmentCount == 0 {
		payload.FitmentCount = len(payload.Records)
	}

	return p.publish(ctx, EventTypeProductScraped, "wheel_product", payload.URL, payload,
		func(tx pgx.Tx) error {
			return p.products.UpsertWithTx(ctx, tx, payload.Records)
		})
}

// PublishProductSkipped records a skipped URL (not a wheel, no title, ...).
func (p *Publisher) PublishProductSkipped(ctx context.Context, payload *ProductSkippedPayload) error {
	payload.fill(EventTypeProductSkipped)
	return p.publish(ctx, EventTypeProductSkipped, "wheel_product", payload.URL, payload, nil)
}

// PublishSiteCompleted announces the final counters for a site run.
func (p *Publisher) PublishSiteCompleted(ctx context.Context, payload *SiteCompletedPayload) error {
	payload.fill(EventTypeSiteCompleted)
	return p.publish(ctx, EventTypeSiteCompleted, "scrape_run", payload.Site, payload, nil)
}

// PublishScrapeFailed records a terminal failure.
func (p *Publisher) PublishScrapeFailed(ctx context.Context, payload *ScrapeFailedPayload) error {
	payload.fill(EventTypeScrapeFailed)
	aggregateID := payload.URL
	if aggregateID == "" {
		aggregateID = payload.Site
	}
	return p.publish(ctx, EventTypeScrapeFailed, "scrape_run", aggregateID, payload, nil)
}

func (p *Publisher) publish(ctx context.Context, eventType EventType, aggregateType, aggregateID string, payload interface{}, extra func(pgx.Tx) error) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     string(eventType),
		Payload:       data,
		TargetStream:  database.DefaultStream,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if extra != nil {
			if err := extra(tx); err != nil {
				return err
			}
		}
		if err := p.outbox.InsertWithTx(ctx, tx, outboxEvent); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", eventType,
		"aggregate_id", aggregateID,
		"outbox_id", outboxEvent.ID,
	)

	return nil
}
