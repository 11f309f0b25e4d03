package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ScrapeRun records one site's pass through its catalog: when it ran, how
// many URLs it found, and how the products broke down.
type ScrapeRun struct {
	ID              uuid.UUID  `db:"id"`
	Site            string     `db:"site"`
	Status          RunStatus  `db:"status"`
	URLsFound       int        `db:"urls_found"`
	ProductsScraped int        `db:"products_scraped"`
	ProductsSkipped int        `db:"products_skipped"`
	ProductsFailed  int        `db:"products_failed"`
	StartedAt       time.Time  `db:"started_at"`
	FinishedAt      *time.Time `db:"finished_at"`
	Error           string     `db:"error"`
}

// RunRepository persists scrape-run bookkeeping.
type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Start opens a run row for a site.
func (r *RunRepository) Start(ctx context.Context, site string) (*ScrapeRun, error) {
	run := &ScrapeRun{
		ID:        uuid.New(),
		Site:      site,
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
	}

	query := `
		INSERT INTO scrape_runs (id, site, status, started_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := r.db.pool.Exec(ctx, query, run.ID, run.Site, run.Status, run.StartedAt); err != nil {
		return nil, fmt.Errorf("failed to start scrape run: %w", err)
	}

	return run, nil
}

// UpdateProgress stamps the current counters onto a running run.
func (r *RunRepository) UpdateProgress(ctx context.Context, id uuid.UUID, urlsFound, scraped, skipped, failed int) error {
	query := `
		UPDATE scrape_runs SET
			urls_found = $2,
			products_scraped = $3,
			products_skipped = $4,
			products_failed = $5
		WHERE id = $1`

	_, err := r.db.pool.Exec(ctx, query, id, urlsFound, scraped, skipped, failed)
	if err != nil {
		return fmt.Errorf("failed to update scrape run progress: %w", err)
	}
	return nil
}

// Finish closes a run. A non-nil runErr marks it failed with the message.
func (r *RunRepository) Finish(ctx context.Context, id uuid.UUID, runErr error) error {
	status := RunStatusCompleted
	errMsg := ""
	if runErr != nil {
		status = RunStatusFailed
		errMsg = runErr.Error()
	}

	query := `
		UPDATE scrape_runs SET
			status = $2,
			error = $3,
			finished_at = NOW()
		WHERE id = $1`

	result, err := r.db.pool.Exec(ctx, query, id, status, errMsg)
	if err != nil {
		return fmt.Errorf("failed to finish scrape run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("scrape run not found: %s", id)
	}
	return nil
}

const selectScrapeRun = `
	SELECT id, site, status, urls_found, products_scraped,
	       products_skipped, products_failed, started_at, finished_at,
	       COALESCE(error, '')
	FROM scrape_runs`

func scanScrapeRun(row pgx.Row) (*ScrapeRun, error) {
	run := &ScrapeRun{}
	err := row.Scan(
		&run.ID, &run.Site, &run.Status, &run.URLsFound, &run.ProductsScraped,
		&run.ProductsSkipped, &run.ProductsFailed, &run.StartedAt, &run.FinishedAt,
		&run.Error,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Get returns one run, or nil when it does not exist.
func (r *RunRepository) Get(ctx context.Context, id uuid.UUID) (*ScrapeRun, error) {
	run, err := scanScrapeRun(r.db.pool.QueryRow(ctx, selectScrapeRun+` WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scrape run: %w", err)
	}
	return run, nil
}

// ListRecent returns the latest runs, newest first.
func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]*ScrapeRun, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.pool.Query(ctx, selectScrapeRun+`
	ORDER BY started_at DESC
	LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scrape runs: %w", err)
	}
	defer rows.Close()

	var runs []*ScrapeRun
	for rows.Next() {
		run, err := scanScrapeRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scrape run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}
