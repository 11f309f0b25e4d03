package database

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to the database named by TEST_DATABASE_URL, creates
// the schema if needed, and starts each test from empty tables. Tests that
// call it are skipped when no test database is configured.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))

	db := &DB{pool: pool}
	for _, stmt := range testSchema {
		_, err := pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}
	_, err = pool.Exec(ctx,
		`TRUNCATE outbox_event, wheel_products, scrape_runs, scraper_jobs`)
	require.NoError(t, err)

	return db
}

var testSchema = []string{
	`CREATE TABLE IF NOT EXISTS wheel_products (
		id UUID PRIMARY KEY,
		site TEXT NOT NULL,
		url TEXT NOT NULL,
		image_url TEXT NOT NULL DEFAULT '',
		sku TEXT NOT NULL,
		part_number TEXT NOT NULL DEFAULT '',
		actual_price TEXT NOT NULL DEFAULT '',
		msrp TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		also_known_as TEXT NOT NULL DEFAULT '',
		positions TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		applications TEXT NOT NULL DEFAULT '',
		replaces TEXT NOT NULL DEFAULT '',
		year TEXT NOT NULL DEFAULT '',
		make TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		trim TEXT NOT NULL DEFAULT '',
		engine TEXT NOT NULL DEFAULT '',
		scraped_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (url, year, trim, engine)
	)`,
	`CREATE TABLE IF NOT EXISTS scrape_runs (
		id UUID PRIMARY KEY,
		site TEXT NOT NULL,
		status TEXT NOT NULL,
		urls_found INT NOT NULL DEFAULT 0,
		products_scraped INT NOT NULL DEFAULT 0,
		products_skipped INT NOT NULL DEFAULT 0,
		products_failed INT NOT NULL DEFAULT 0,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		error TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_event (
		id UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		target_stream TEXT NOT NULL,
		status TEXT NOT NULL,
		retry_count INT NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ,
		next_retry_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS scraper_jobs (
		id UUID PRIMARY KEY,
		site TEXT NOT NULL,
		max_products INT NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		urls_found INT NOT NULL DEFAULT 0,
		products_scraped INT NOT NULL DEFAULT 0,
		products_skipped INT NOT NULL DEFAULT 0,
		products_failed INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		error TEXT
	)`,
}
