// Package api is the HTTP surface of the scraper service: job submission,
// job and product lookups, stats, and a health endpoint that rolls up the
// database, Redis, the outbox backlog and the fetcher's recovery state.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/partsdev/oem-wheel-scraper/internal/database"
	"github.com/partsdev/oem-wheel-scraper/internal/fetcher"
	"github.com/partsdev/oem-wheel-scraper/internal/jobs"
	"github.com/partsdev/oem-wheel-scraper/internal/models"
)

// JobService is the slice of the job manager the handlers use.
type JobService interface {
	CreateJob(ctx context.Context, site string, maxProducts int) (*jobs.Job, error)
	GetJob(ctx context.Context, jobID string) (*jobs.Job, error)
	ListJobs(ctx context.Context) ([]*jobs.Job, error)
	GetStats(ctx context.Context) (*jobs.Stats, error)
}

// ProductStore reads stored product rows.
type ProductStore interface {
	ListBySite(ctx context.Context, site string, limit int) ([]*database.WheelProduct, error)
}

// HealthSource reports the fetcher health snapshot from the latest run.
type HealthSource interface {
	LastHealth() fetcher.HealthStatus
}

// OutboxCounter reports outbox backlog sizes.
type OutboxCounter interface {
	GetPendingCount(ctx context.Context) (int64, error)
	GetDeadLetterCount(ctx context.Context) (int64, error)
}

// Deps wires the handlers to the rest of the service. Fetcher, Outbox and
// the ping functions may be nil; the health endpoint then skips those
// checks.
type Deps struct {
	Jobs      JobService
	Products  ProductStore
	Fetcher   HealthSource
	Outbox    OutboxCounter
	PingDB    func(context.Context) error
	PingRedis func(context.Context) error
}

type Handlers struct {
	deps   Deps
	logger *slog.Logger
}

func NewHandlers(deps Deps, logger *slog.Logger) *Handlers {
	return &Handlers{
		deps:   deps,
		logger: logger.With("component", "api"),
	}
}

// CreateJobRequest is the body of POST /api/v1/scrape.
type CreateJobRequest struct {
	Site        string `json:"site"`
	MaxProducts int    `json:"max_products"`
}

type CreateJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// CreateJob enqueues a scrape job for one site.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Site == "" {
		h.respondError(w, http.StatusBadRequest, "site is required")
		return
	}
	if req.MaxProducts < 0 {
		h.respondError(w, http.StatusBadRequest, "max_products must not be negative")
		return
	}

	job, err := h.deps.Jobs.CreateJob(r.Context(), req.Site, req.MaxProducts)
	if err != nil {
		h.logger.Warn("job creation rejected", "site", req.Site, "error", err)
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, CreateJobResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}

// GetJob returns one job by ID.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.deps.Jobs.GetJob(r.Context(), jobID)
	if err != nil {
		h.logger.Error("failed to get job", "id", jobID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	if job == nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

// ListJobs returns recent jobs, newest first.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Jobs.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}

	h.respondJSON(w, http.StatusOK, list)
}

// ListProducts returns stored product rows, optionally filtered by site.
func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	site := r.URL.Query().Get("site")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	rows, err := h.deps.Products.ListBySite(r.Context(), site, limit)
	if err != nil {
		h.logger.Error("failed to list products", "site", site, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	records := make([]models.ProductRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.Record())
	}

	h.respondJSON(w, http.StatusOK, records)
}

// GetStats returns job and product aggregates.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Jobs.GetStats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
