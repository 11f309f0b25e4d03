package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/partsdev/oem-wheel-scraper/internal/models"
)

// WheelProduct is one persisted export row: a product paired with a single
// fitment. The (url, year, trim, engine) tuple is the natural key the
// upsert conflicts on.
type WheelProduct struct {
	ID           uuid.UUID `db:"id"`
	Site         string    `db:"site"`
	URL          string    `db:"url"`
	ImageURL     string    `db:"image_url"`
	SKU          string    `db:"sku"`
	PartNumber   string    `db:"part_number"`
	ActualPrice  string    `db:"actual_price"`
	MSRP         string    `db:"msrp"`
	Title        string    `db:"title"`
	AlsoKnownAs  string    `db:"also_known_as"`
	Positions    string    `db:"positions"`
	Description  string    `db:"description"`
	Applications string    `db:"applications"`
	Replaces     string    `db:"replaces"`
	Year         string    `db:"year"`
	Make         string    `db:"make"`
	Model        string    `db:"model"`
	Trim         string    `db:"trim"`
	Engine       string    `db:"engine"`
	ScrapedAt    time.Time `db:"scraped_at"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Record converts the row back to the pipeline's export shape.
func (w *WheelProduct) Record() models.ProductRecord {
	return models.ProductRecord{
		URL:          w.URL,
		ImageURL:     w.ImageURL,
		SKU:          w.SKU,
		PartNumber:   w.PartNumber,
		ActualPrice:  w.ActualPrice,
		MSRP:         w.MSRP,
		Title:        w.Title,
		AlsoKnownAs:  w.AlsoKnownAs,
		Positions:    w.Positions,
		Description:  w.Description,
		Applications: w.Applications,
		Replaces:     w.Replaces,
		Site:         w.Site,
		ScrapedAt:    w.ScrapedAt,
		Fitment: models.Fitment{
			Year:   w.Year,
			Make:   w.Make,
			Model:  w.Model,
			Trim:   w.Trim,
			Engine: w.Engine,
		},
	}
}

// ProductRepository persists flattened wheel records.
type ProductRepository struct {
	db *DB
}

func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

const upsertWheelProduct = `
	INSERT INTO wheel_products (
		id, site, url, image_url, sku, part_number,
		actual_price, msrp, title, also_known_as, positions,
		description, applications, replaces,
		year, make, model, trim, engine, scraped_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
	)
	ON CONFLICT (url, year, trim, engine) DO UPDATE SET
		site = EXCLUDED.site,
		image_url = EXCLUDED.image_url,
		sku = EXCLUDED.sku,
		part_number = EXCLUDED.part_number,
		actual_price = EXCLUDED.actual_price,
		msrp = EXCLUDED.msrp,
		title = EXCLUDED.title,
		also_known_as = EXCLUDED.also_known_as,
		positions = EXCLUDED.positions,
		description = EXCLUDED.description,
		applications = EXCLUDED.applications,
		replaces = EXCLUDED.replaces,
		make = EXCLUDED.make,
		model = EXCLUDED.model,
		scraped_at = EXCLUDED.scraped_at,
		updated_at = NOW()`

func upsertArgs(rec models.ProductRecord) []interface{} {
	return []interface{}{
		uuid.New(), rec.Site, rec.URL, rec.ImageURL, rec.SKU, rec.PartNumber,
		rec.ActualPrice, rec.MSRP, rec.Title, rec.AlsoKnownAs, rec.Positions,
		rec.Description, rec.Applications, rec.Replaces,
		rec.Fitment.Year, rec.Fitment.Make, rec.Fitment.Model,
		rec.Fitment.Trim, rec.Fitment.Engine, rec.ScrapedAt,
	}
}

// Upsert writes one record outside any transaction.
func (r *ProductRepository) Upsert(ctx context.Context, rec models.ProductRecord) error {
	if _, err := r.db.pool.Exec(ctx, upsertWheelProduct, upsertArgs(rec)...); err != nil {
		return fmt.Errorf("failed to upsert wheel product: %w", err)
	}
	return nil
}

// UpsertWithTx writes records inside an existing transaction so the data
// commit and the outbox event commit are atomic.
func (r *ProductRepository) UpsertWithTx(ctx context.Context, tx pgx.Tx, recs []models.ProductRecord) error {
	for _, rec := range recs {
		if _, err := tx.Exec(ctx, upsertWheelProduct, upsertArgs(rec)...); err != nil {
			return fmt.Errorf("failed to upsert wheel product %s: %w", rec.URL, err)
		}
	}
	return nil
}

const selectWheelProduct = `
	SELECT id, site, url, image_url, sku, part_number,
	       actual_price, msrp, title, also_known_as, positions,
	       description, applications, replaces,
	       year, make, model, trim, engine,
	       scraped_at, created_at, updated_at
	FROM wheel_products`

func scanWheelProduct(row pgx.Row) (*WheelProduct, error) {
	w := &WheelProduct{}
	err := row.Scan(
		&w.ID, &w.Site, &w.URL, &w.ImageURL, &w.SKU, &w.PartNumber,
		&w.ActualPrice, &w.MSRP, &w.Title, &w.AlsoKnownAs, &w.Positions,
		&w.Description, &w.Applications, &w.Replaces,
		&w.Year, &w.Make, &w.Model, &w.Trim, &w.Engine,
		&w.ScrapedAt, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// GetByURL returns every fitment row stored for one product URL.
func (r *ProductRepository) GetByURL(ctx context.Context, url string) ([]*WheelProduct, error) {
	query := selectWheelProduct + `
	WHERE url = $1
	ORDER BY year, trim, engine`

	rows, err := r.db.pool.Query(ctx, query, url)
	if err != nil {
		return nil, fmt.Errorf("failed to query wheel products: %w", err)
	}
	defer rows.Close()

	return collectWheelProducts(rows)
}

// ListBySite returns the newest rows for a site. An empty site lists all.
func (r *ProductRepository) ListBySite(ctx context.Context, site string, limit int) ([]*WheelProduct, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows pgx.Rows
		err  error
	)
	if site == "" {
		rows, err = r.db.pool.Query(ctx, selectWheelProduct+`
	ORDER BY updated_at DESC
	LIMIT $1`, limit)
	} else {
		rows, err = r.db.pool.Query(ctx, selectWheelProduct+`
	WHERE site = $1
	ORDER BY updated_at DESC
	LIMIT $2`, site, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list wheel products: %w", err)
	}
	defer rows.Close()

	return collectWheelProducts(rows)
}

func collectWheelProducts(rows pgx.Rows) ([]*WheelProduct, error) {
	var products []*WheelProduct
	for rows.Next() {
		w, err := scanWheelProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wheel product: %w", err)
		}
		products = append(products, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return products, nil
}

// CountBySite returns stored row counts keyed by site.
func (r *ProductRepository) CountBySite(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT site, COUNT(*) as count
		FROM wheel_products
		GROUP BY site`

	rows, err := r.db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count wheel products: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var site string
		var count int
		if err := rows.Scan(&site, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[site] = count
	}

	return counts, rows.Err()
}
