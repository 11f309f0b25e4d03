// Package jobs turns API scrape requests into queued database rows and
// works through them one at a time in the background.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/partsdev/oem-wheel-scraper/internal/database"
	"github.com/partsdev/oem-wheel-scraper/internal/runner"
)

// Valid job states. A job moves pending -> running -> completed|failed
// and never back.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Scraper runs site scrapes. Satisfied by *runner.Runner.
type Scraper interface {
	RunSite(ctx context.Context, site, runID string, maxProducts int) (*runner.Result, error)
	Sites() []string
}

// Job is one queued scrape request.
type Job struct {
	ID              string     `json:"id"`
	Site            string     `json:"site"`
	MaxProducts     int        `json:"max_products"`
	Status          string     `json:"status"`
	URLsFound       int        `json:"urls_found"`
	ProductsScraped int        `json:"products_scraped"`
	ProductsSkipped int        `json:"products_skipped"`
	ProductsFailed  int        `json:"products_failed"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// Stats aggregates job history and the product table for the stats
// endpoint.
type Stats struct {
	TotalJobs     int     `json:"total_jobs"`
	PendingJobs   int     `json:"pending_jobs"`
	RunningJobs   int     `json:"running_jobs"`
	CompletedJobs int     `json:"completed_jobs"`
	FailedJobs    int     `json:"failed_jobs"`
	TotalProducts int     `json:"total_products"`
	SuccessRate   float64 `json:"success_rate"`
}

type Manager struct {
	db      *database.DB
	scraper Scraper
	logger  *slog.Logger
}

func NewManager(db *database.DB, scraper Scraper, logger *slog.Logger) *Manager {
	return &Manager{
		db:      db,
		scraper: scraper,
		logger:  logger.With("component", "job_manager"),
	}
}

// CreateJob queues a scrape for one site. The worker picks it up on its
// next poll.
func (m *Manager) CreateJob(ctx context.Context, site string, maxProducts int) (*Job, error) {
	if !m.knownSite(site) {
		return nil, fmt.Errorf("unknown site %q", site)
	}

	job := &Job{
		ID:          uuid.New().String(),
		Site:        site,
		MaxProducts: maxProducts,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}

	query := `
		INSERT INTO scraper_jobs (id, site, max_products, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := m.db.Exec(ctx, query,
		job.ID, job.Site, job.MaxProducts, job.Status, job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "site", site, "max_products", maxProducts)
	return job, nil
}

// GetJob retrieves one job by ID. Returns (nil, nil) when the job does
// not exist.
func (m *Manager) GetJob(ctx context.Context, jobID string) (*Job, error) {
	query := selectJob + ` WHERE id = $1`

	job, err := scanJob(m.db.QueryRow(ctx, query, jobID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns recent jobs, newest first.
func (m *Manager) ListJobs(ctx context.Context) ([]*Job, error) {
	query := selectJob + ` ORDER BY created_at DESC LIMIT 100`

	rows, err := m.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// GetStats aggregates job counts and total stored product rows.
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'running'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM scraper_jobs
	`

	err := m.db.QueryRow(ctx, query).Scan(
		&stats.TotalJobs, &stats.PendingJobs, &stats.RunningJobs,
		&stats.CompletedJobs, &stats.FailedJobs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}

	if stats.TotalJobs > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(stats.TotalJobs) * 100
	}

	err = m.db.QueryRow(ctx, `SELECT COUNT(*) FROM wheel_products`).Scan(&stats.TotalProducts)
	if err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}

	return stats, nil
}

func (m *Manager) knownSite(site string) bool {
	for _, name := range m.scraper.Sites() {
		if name == site {
			return true
		}
	}
	return false
}

const selectJob = `
	SELECT id, site, max_products, status,
	       urls_found, products_scraped, products_skipped, products_failed,
	       created_at, started_at, completed_at, COALESCE(error, '')
	FROM scraper_jobs`

func scanJob(row pgx.Row) (*Job, error) {
	job := &Job{}
	err := row.Scan(
		&job.ID, &job.Site, &job.MaxProducts, &job.Status,
		&job.URLsFound, &job.ProductsScraped, &job.ProductsSkipped, &job.ProductsFailed,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.Error,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (m *Manager) markFinished(ctx context.Context, jobID string, result *runner.Result, runErr error) error {
	status := StatusCompleted
	errMsg := ""
	if runErr != nil {
		status = StatusFailed
		errMsg = runErr.Error()
	}

	query := `
		UPDATE scraper_jobs
		SET status = $1, completed_at = $2, error = NULLIF($3, ''),
		    urls_found = $4, products_scraped = $5,
		    products_skipped = $6, products_failed = $7
		WHERE id = $8
	`
	_, err := m.db.Exec(ctx, query,
		status, time.Now(), errMsg,
		result.URLsFound, result.Scraped, result.Skipped, result.Failed,
		jobID)
	return err
}
