package jobs

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/partsdev/oem-wheel-scraper/internal/runner"
)

// StartWorker polls for pending jobs until the context is cancelled.
// One job runs at a time; a browser session per site is expensive enough
// that parallel jobs on one worker would just fight over the machine.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("job worker stopping")
			return
		case <-ticker.C:
			m.processNextJob(ctx)
		}
	}
}

// processNextJob claims the oldest pending job and runs it. The claiming
// UPDATE uses SKIP LOCKED so multiple workers never grab the same job.
func (m *Manager) processNextJob(ctx context.Context) {
	job, err := m.claimJob(ctx)
	if err != nil {
		if err != pgx.ErrNoRows {
			m.logger.Error("failed to claim job", "error", err)
		}
		return
	}

	m.logger.Info("processing job", "id", job.ID, "site", job.Site)

	result, runErr := m.scraper.RunSite(ctx, job.Site, job.ID, job.MaxProducts)
	if result == nil {
		result = &runner.Result{Site: job.Site, RunID: job.ID}
	}
	if runErr != nil {
		m.logger.Error("job failed", "id", job.ID, "site", job.Site, "error", runErr)
	}

	if err := m.markFinished(ctx, job.ID, result, runErr); err != nil {
		m.logger.Error("failed to record job result", "id", job.ID, "error", err)
		return
	}

	if runErr == nil {
		m.logger.Info("job completed",
			"id", job.ID,
			"site", job.Site,
			"scraped", result.Scraped,
			"skipped", result.Skipped,
			"failed", result.Failed,
		)
	}
}

// claimJob atomically flips the oldest pending job to running and
// returns it. pgx.ErrNoRows means the queue is empty.
func (m *Manager) claimJob(ctx context.Context) (*Job, error) {
	query := `
		UPDATE scraper_jobs
		SET status = $1, started_at = $2
		WHERE id = (
			SELECT id FROM scraper_jobs
			WHERE status = $3
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, site, max_products
	`

	job := &Job{Status: StatusRunning}
	err := m.db.QueryRow(ctx, query, StatusRunning, time.Now(), StatusPending).
		Scan(&job.ID, &job.Site, &job.MaxProducts)
	if err != nil {
		return nil, err
	}
	return job, nil
}
