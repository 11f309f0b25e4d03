// Package pipeline turns scraped products into flat export rows: one row
// per product and fitment combination, cleaned and validated.
package pipeline

import (
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/partsdev/oem-wheel-scraper/internal/models"
)

type Processor struct {
	log *slog.Logger
}

func NewProcessor(logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{log: logger.With("component", "pipeline")}
}

// Flatten fans each product out into one record per fitment. A product
// without fitments still yields one record, with empty vehicle columns,
// so no scraped part is lost on export.
func (p *Processor) Flatten(products []*models.Product) []models.ProductRecord {
	var records []models.ProductRecord
	for _, product := range products {
		if product == nil {
			continue
		}
		if len(product.Fitments) == 0 {
			records = append(records, product.Record(models.Fitment{}))
			continue
		}
		for _, fitment := range product.Fitments {
			records = append(records, product.Record(fitment))
		}
	}
	p.log.Info("flattened products", "products", len(products), "rows", len(records))
	return records
}

// Clean normalizes whitespace in the text columns and drops rows missing
// the critical fields, which are the URL and the SKU.
func (p *Processor) Clean(records []models.ProductRecord) []models.ProductRecord {
	cleaned := make([]models.ProductRecord, 0, len(records))
	dropped := 0
	for _, record := range records {
		record = normalize(record)
		if record.URL == "" || record.SKU == "" {
			dropped++
			continue
		}
		cleaned = append(cleaned, record)
	}
	if dropped > 0 {
		p.log.Info("dropped rows with missing critical data", "count", dropped)
	}
	return cleaned
}

func normalize(r models.ProductRecord) models.ProductRecord {
	r.URL = strings.TrimSpace(r.URL)
	r.ImageURL = strings.TrimSpace(r.ImageURL)
	r.SKU = collapseSpace(r.SKU)
	r.PartNumber = collapseSpace(r.PartNumber)
	r.ActualPrice = strings.TrimSpace(r.ActualPrice)
	r.MSRP = strings.TrimSpace(r.MSRP)
	r.Title = collapseSpace(r.Title)
	r.AlsoKnownAs = collapseSpace(r.AlsoKnownAs)
	r.Positions = collapseSpace(r.Positions)
	r.Description = collapseSpace(r.Description)
	r.Applications = collapseSpace(r.Applications)
	r.Replaces = collapseSpace(r.Replaces)
	r.Fitment.Year = collapseSpace(r.Fitment.Year)
	r.Fitment.Make = collapseSpace(r.Fitment.Make)
	r.Fitment.Model = collapseSpace(r.Fitment.Model)
	r.Fitment.Trim = collapseSpace(r.Fitment.Trim)
	r.Fitment.Engine = collapseSpace(r.Fitment.Engine)
	return r
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Report describes the quality of a record batch.
type Report struct {
	TotalRows         int `json:"total_rows"`
	UniqueParts       int `json:"unique_parts"`
	MissingSKU        int `json:"missing_sku"`
	MissingPrice      int `json:"missing_price"`
	MissingMSRP       int `json:"missing_msrp"`
	MissingFitment    int `json:"missing_fitment"`
	MalformedURLs     int `json:"malformed_urls"`
	UnparseablePrices int `json:"unparseable_prices"`
	MultiFitmentParts int `json:"multi_fitment_parts"`
}

// Validate counts the rows with missing or malformed fields. Nothing is
// dropped here; the report feeds run summaries and the export decision.
func (p *Processor) Validate(records []models.ProductRecord) Report {
	report := Report{TotalRows: len(records)}
	partRows := make(map[string]int)
	for _, r := range records {
		if r.PartNumber != "" {
			partRows[r.PartNumber]++
		}
		if r.SKU == "" {
			report.MissingSKU++
		}
		if r.ActualPrice == "" {
			report.MissingPrice++
		}
		if r.MSRP == "" {
			report.MissingMSRP++
		}
		if r.Fitment.Year == "" && r.Fitment.Make == "" {
			report.MissingFitment++
		}
		if !validURL(r.URL) {
			report.MalformedURLs++
		}
		if badPrice(r.ActualPrice) || badPrice(r.MSRP) {
			report.UnparseablePrices++
		}
	}
	report.UniqueParts = len(partRows)
	for _, rows := range partRows {
		if rows > 1 {
			report.MultiFitmentParts++
		}
	}
	p.log.Info("validated records",
		"rows", report.TotalRows,
		"unique_parts", report.UniqueParts,
		"missing_fitment", report.MissingFitment,
		"malformed_urls", report.MalformedURLs)
	return report
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func badPrice(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err != nil
}

// Stats summarizes a record batch for run reports.
type Stats struct {
	TotalRows    int            `json:"total_rows"`
	UniqueParts  int            `json:"unique_parts"`
	RowsBySite   map[string]int `json:"rows_by_site"`
	RowsByMake   map[string]int `json:"rows_by_make"`
	AveragePrice float64        `json:"average_price"`
	PriceRange   PriceRange     `json:"price_range"`
}

type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (p *Processor) Summary(records []models.ProductRecord) Stats {
	stats := Stats{
		TotalRows:  len(records),
		RowsBySite: make(map[string]int),
		RowsByMake: make(map[string]int),
	}
	parts := make(map[string]bool)
	var prices []float64
	for _, r := range records {
		if r.PartNumber != "" {
			parts[r.PartNumber] = true
		}
		if r.Site != "" {
			stats.RowsBySite[r.Site]++
		}
		if r.Fitment.Make != "" {
			stats.RowsByMake[r.Fitment.Make]++
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(r.ActualPrice), 64); err == nil {
			prices = append(prices, v)
		}
	}
	stats.UniqueParts = len(parts)
	if len(prices) > 0 {
		min, max, sum := prices[0], prices[0], 0.0
		for _, v := range prices {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
			sum += v
		}
		stats.AveragePrice = round2(sum / float64(len(prices)))
		stats.PriceRange = PriceRange{Min: round2(min), Max: round2(max)}
	}
	return stats
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
