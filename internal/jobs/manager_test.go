package jobs

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partsdev/oem-wheel-scraper/internal/database"
	"github.com/partsdev/oem-wheel-scraper/internal/runner"
)

// setupTestDB mirrors the database package's test harness: skip without
// TEST_DATABASE_URL, create the tables this package touches, start empty.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.NewFromURL(ctx, dsn)
	require.NoError(t, err)

	schema := []string{
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
	}
	for _, stmt := range schema {
		_, err := db.Exec(ctx, stmt)
		require.NoError(t, err)
	}
	_, err = db.Exec(ctx, `TRUNCATE scraper_jobs, wheel_products`)
	require.NoError(t, err)

	t.Cleanup(db.Close)
	return db
}

type fakeScraper struct {
	sites  []string
	result *runner.Result
	err    error
	calls  []string
}

func (s *fakeScraper) RunSite(_ context.Context, site, runID string, _ int) (*runner.Result, error) {
	s.calls = append(s.calls, site)
	if s.result != nil {
		r := *s.result
		r.Site = site
		r.RunID = runID
		return &r, s.err
	}
	return &runner.Result{Site: site, RunID: runID}, s.err
}

func (s *fakeScraper) Sites() []string { return s.sites }

func newTestManager(t *testing.T, scraper *fakeScraper) *Manager {
	t.Helper()
	return NewManager(setupTestDB(t), scraper, slog.Default())
}

func TestCreateAndGetJob(t *testing.T) {
	m := newTestManager(t, &fakeScraper{sites: []string{"kia", "honda"}})
	ctx := context.Background()

	created, err := m.CreateJob(ctx, "kia", 25)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, created.Status)

	got, err := m.GetJob(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "kia", got.Site)
	assert.Equal(t, 25, got.MaxProducts)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
}

func TestCreateJobUnknownSite(t *testing.T) {
	m := newTestManager(t, &fakeScraper{sites: []string{"kia"}})

	_, err := m.CreateJob(context.Background(), "acme", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown site")
}

func TestGetJobMissing(t *testing.T) {
	m := newTestManager(t, &fakeScraper{sites: []string{"kia"}})

	job, err := m.GetJob(context.Background(), "11111111-1111-1111-1111-111111111111")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestListJobsNewestFirst(t *testing.T) {
	m := newTestManager(t, &fakeScraper{sites: []string{"kia", "honda"}})
	ctx := context.Background()

	first, err := m.CreateJob(ctx, "kia", 0)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	second, err := m.CreateJob(ctx, "honda", 0)
	require.NoError(t, err)

	jobs, err := m.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
}

func TestProcessNextJobCompletes(t *testing.T) {
	scraper := &fakeScraper{
		sites: []string{"kia"},
		result: &runner.Result{
			URLsFound: 10,
			Scraped:   7,
			Skipped:   2,
			Failed:    1,
		},
	}
	m := newTestManager(t, scraper)
	ctx := context.Background()

	created, err := m.CreateJob(ctx, "kia", 0)
	require.NoError(t, err)

	m.processNextJob(ctx)

	assert.Equal(t, []string{"kia"}, scraper.calls)

	job, err := m.GetJob(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 10, job.URLsFound)
	assert.Equal(t, 7, job.ProductsScraped)
	assert.Equal(t, 2, job.ProductsSkipped)
	assert.Equal(t, 1, job.ProductsFailed)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.Error)
}

func TestProcessNextJobRecordsFailure(t *testing.T) {
	scraper := &fakeScraper{
		sites: []string{"kia"},
		err:   errors.New("browser session lost"),
	}
	m := newTestManager(t, scraper)
	ctx := context.Background()

	created, err := m.CreateJob(ctx, "kia", 0)
	require.NoError(t, err)

	m.processNextJob(ctx)

	job, err := m.GetJob(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "browser session lost", job.Error)
}

func TestClaimJobOrderAndEmpty(t *testing.T) {
	m := newTestManager(t, &fakeScraper{sites: []string{"kia", "honda"}})
	ctx := context.Background()

	_, err := m.claimJob(ctx)
	assert.Equal(t, pgx.ErrNoRows, err)

	oldest, err := m.CreateJob(ctx, "kia", 0)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = m.CreateJob(ctx, "honda", 0)
	require.NoError(t, err)

	claimed, err := m.claimJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, oldest.ID, claimed.ID)
	assert.Equal(t, StatusRunning, claimed.Status)

	// Claimed jobs are no longer visible as pending.
	next, err := m.claimJob(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, oldest.ID, next.ID)
}

func TestGetStats(t *testing.T) {
	scraper := &fakeScraper{sites: []string{"kia"}, result: &runner.Result{Scraped: 1}}
	m := newTestManager(t, scraper)
	ctx := context.Background()

	_, err := m.CreateJob(ctx, "kia", 0)
	require.NoError(t, err)
	_, err = m.CreateJob(ctx, "kia", 0)
	require.NoError(t, err)

	m.processNextJob(ctx)

	stats, err := m.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalJobs)
	assert.Equal(t, 1, stats.PendingJobs)
	assert.Equal(t, 1, stats.CompletedJobs)
	assert.InDelta(t, 50.0, stats.SuccessRate, 0.01)
}
