package models

import (
	"time"
)

// Fitment is one (year, make, model, trim, engine) vehicle combination a
// part applies to.
type Fitment struct {
	Year   string `json:"year"`
	Make   string `json:"make"`
	Model  string `json:"model"`
	Trim   string `json:"trim"`
	Engine string `json:"engine"`
}

// Product is a single scraped listing before fitment expansion. Fitments
// holds every vehicle combination found on the page; an empty slice means
// the page listed none.
type Product struct {
	URL          string    `json:"url"`
	ImageURL     string    `json:"image_url"`
	SKU          string    `json:"sku"`
	PartNumber   string    `json:"part_number"`
	ActualPrice  string    `json:"actual_price"`
	MSRP         string    `json:"msrp"`
	Title        string    `json:"title"`
	AlsoKnownAs  string    `json:"also_known_as"`
	Positions    string    `json:"positions"`
	Description  string    `json:"description"`
	Applications string    `json:"applications"`
	Replaces     string    `json:"replaces"`
	Site         string    `json:"site"`
	ScrapedAt    time.Time `json:"scraped_at"`
	Fitments     []Fitment `json:"fitments"`
}

// ProductRecord is one export row: the product fields paired with exactly
// one fitment. Records are built once by the pipeline and never mutated.
type ProductRecord struct {
	URL          string    `json:"url"`
	ImageURL     string    `json:"image_url"`
	SKU          string    `json:"sku"`
	PartNumber   string    `json:"part_number"`
	ActualPrice  string    `json:"actual_price"`
	MSRP         string    `json:"msrp"`
	Title        string    `json:"title"`
	AlsoKnownAs  string    `json:"also_known_as"`
	Positions    string    `json:"positions"`
	Description  string    `json:"description"`
	Applications string    `json:"applications"`
	Replaces     string    `json:"replaces"`
	Site         string    `json:"site"`
	ScrapedAt    time.Time `json:"scraped_at"`
	Fitment      Fitment   `json:"fitment"`
}

func NewProduct(site, url string) *Product {
	return &Product{
		URL:       url,
		Site:      site,
		ScrapedAt: time.Now(),
		Fitments:  make([]Fitment, 0),
	}
}

// Record pairs the product with one fitment. The zero Fitment is valid and
// produces a row with empty vehicle columns.
func (p *Product) Record(f Fitment) ProductRecord {
	return ProductRecord{
		URL:          p.URL,
		ImageURL:     p.ImageURL,
		SKU:          p.SKU,
		PartNumber:   p.PartNumber,
		ActualPrice:  p.ActualPrice,
		MSRP:         p.MSRP,
		Title:        p.Title,
		AlsoKnownAs:  p.AlsoKnownAs,
		Positions:    p.Positions,
		Description:  p.Description,
		Applications: p.Applications,
		Replaces:     p.Replaces,
		Site:         p.Site,
		ScrapedAt:    p.ScrapedAt,
		Fitment:      f,
	}
}

func (f Fitment) IsZero() bool {
	return f.Year == "" && f.Make == "" && f.Model == "" && f.Trim == "" && f.Engine == ""
}

func (p *Product) Validate() []string {
	var errors []string

	if p.URL == "" {
		errors = append(errors, "URL is required")
	}

	if p.Title == "" {
		errors = append(errors, "Title is required")
	}

	if p.SKU == "" {
		errors = append(errors, "SKU is required")
	}

	return errors
}
