package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partsdev/oem-wheel-scraper/internal/database"
	"github.com/partsdev/oem-wheel-scraper/internal/fetcher"
	"github.com/partsdev/oem-wheel-scraper/internal/jobs"
	"github.com/partsdev/oem-wheel-scraper/internal/models"
)

type fakeJobService struct {
	created *jobs.Job
	jobs    map[string]*jobs.Job
	stats   *jobs.Stats
	err     error
}

func (f *fakeJobService) CreateJob(_ context.Context, site string, maxProducts int) (*jobs.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = &jobs.Job{
		ID:          "7b8a3c1e-0000-0000-0000-000000000001",
		Site:        site,
		MaxProducts: maxProducts,
		Status:      jobs.StatusPending,
		CreatedAt:   time.Now(),
	}
	return f.created, nil
}

func (f *fakeJobService) GetJob(_ context.Context, jobID string) (*jobs.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.jobs[jobID], nil
}

func (f *fakeJobService) ListJobs(context.Context) ([]*jobs.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*jobs.Job
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeJobService) GetStats(context.Context) (*jobs.Stats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

type fakeProductStore struct {
	rows     []*database.WheelProduct
	gotSite  string
	gotLimit int
	err      error
}

func (f *fakeProductStore) ListBySite(_ context.Context, site string, limit int) ([]*database.WheelProduct, error) {
	f.gotSite = site
	f.gotLimit = limit
	return f.rows, f.err
}

type fakeHealthSource struct {
	health fetcher.HealthStatus
}

func (f *fakeHealthSource) LastHealth() fetcher.HealthStatus { return f.health }

type fakeOutboxCounter struct {
	pending    int64
	deadLetter int64
}

func (f *fakeOutboxCounter) GetPendingCount(context.Context) (int64, error) {
	return f.pending, nil
}

func (f *fakeOutboxCounter) GetDeadLetterCount(context.Context) (int64, error) {
	return f.deadLetter, nil
}

func newTestHandlers(deps Deps) *Handlers {
	return NewHandlers(deps, slog.Default())
}

func TestCreateJobEndpoint(t *testing.T) {
	svc := &fakeJobService{}
	h := newTestHandlers(Deps{Jobs: svc})
	router := NewRouter(h)

	body := strings.NewReader(`{"site": "kia", "max_products": 50}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scrape", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp CreateJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, svc.created.ID, resp.JobID)
	assert.Equal(t, jobs.StatusPending, resp.Status)
	assert.Equal(t, "kia", svc.created.Site)
	assert.Equal(t, 50, svc.created.MaxProducts)
}

func TestCreateJobValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"missing site", `{"max_products": 5}`},
		{"negative limit", `{"site": "kia", "max_products": -1}`},
		{"malformed json", `{"site":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandlers(Deps{Jobs: &fakeJobService{}})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/scrape", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			NewRouter(h).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateJobUnknownSite(t *testing.T) {
	svc := &fakeJobService{err: errors.New(`unknown site "acme"`)}
	h := newTestHandlers(Deps{Jobs: svc})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scrape", strings.NewReader(`{"site": "acme"}`))
	rec := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown site")
}

func TestGetJobEndpoint(t *testing.T) {
	job := &jobs.Job{ID: "7b8a3c1e-0000-0000-0000-000000000002", Site: "honda", Status: jobs.StatusCompleted}
	svc := &fakeJobService{jobs: map[string]*jobs.Job{job.ID: job}}
	h := newTestHandlers(Deps{Jobs: svc})
	router := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "honda", got.Site)
}

func TestGetJobNotFound(t *testing.T) {
	h := newTestHandlers(Deps{Jobs: &fakeJobService{jobs: map[string]*jobs.Job{}}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobsEmpty(t *testing.T) {
	h := newTestHandlers(Deps{Jobs: &fakeJobService{}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	rec := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	// Empty list, not null.
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestListProductsEndpoint(t *testing.T) {
	store := &fakeProductStore{rows: []*database.WheelProduct{
		{Site: "kia", URL: "https://kia.example/p/1", SKU: "C7F40-AC100", Year: "2023", Make: "Kia", Model: "Sportage"},
	}}
	h := newTestHandlers(Deps{Jobs: &fakeJobService{}, Products: store})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products?site=kia&limit=10", nil)
	rec := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "kia", store.gotSite)
	assert.Equal(t, 10, store.gotLimit)

	var records []models.ProductRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "C7F40-AC100", records[0].SKU)
	assert.Equal(t, "2023", records[0].Fitment.Year)
}

func TestListProductsBadLimit(t *testing.T) {
	h := newTestHandlers(Deps{Jobs: &fakeJobService{}, Products: &fakeProductStore{}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products?limit=zero", nil)
	rec := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	svc := &fakeJobService{stats: &jobs.Stats{TotalJobs: 4, CompletedJobs: 3, SuccessRate: 75}}
	h := newTestHandlers(Deps{Jobs: svc})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got jobs.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 4, got.TotalJobs)
	assert.InDelta(t, 75.0, got.SuccessRate, 0.01)
}

func TestHealthOK(t *testing.T) {
	h := newTestHandlers(Deps{
		Jobs:      &fakeJobService{},
		PingDB:    func(context.Context) error { return nil },
		PingRedis: func(context.Context) error { return nil },
		Outbox:    &fakeOutboxCounter{pending: 3},
		Fetcher:   &fakeHealthSource{health: fetcher.HealthStatus{TotalRequests: 10, Healthy: true}},
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Checks["database"])
	assert.Equal(t, "ok", resp.Checks["redis"])
	require.NotNil(t, resp.Outbox)
	assert.Equal(t, int64(3), resp.Outbox.Pending)
	require.NotNil(t, resp.Fetcher)
	assert.True(t, resp.Fetcher.Healthy)
}

func TestHealthDatabaseDown(t *testing.T) {
	h := newTestHandlers(Deps{
		Jobs:   &fakeJobService{},
		PingDB: func(context.Context) error { return errors.New("connection refused") },
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database unreachable")
}

func TestHealthOutboxBacklog(t *testing.T) {
	tests := []struct {
		name       string
		counter    *fakeOutboxCounter
		wantStatus string
		wantCode   int
	}{
		{"pending backlog warns", &fakeOutboxCounter{pending: 5000}, "warning", http.StatusOK},
		{"dead letters fail", &fakeOutboxCounter{deadLetter: 500}, "error", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandlers(Deps{Jobs: &fakeJobService{}, Outbox: tt.counter})

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()
			NewRouter(h).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
		})
	}
}

func TestHealthUnhealthyFetcherWarns(t *testing.T) {
	h := newTestHandlers(Deps{
		Jobs:    &fakeJobService{},
		Fetcher: &fakeHealthSource{health: fetcher.HealthStatus{TotalRequests: 20, Healthy: false}},
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "warning", resp.Status)
}
