package api

import (
	"net/http"

	"github.com/partsdev/oem-wheel-scraper/internal/fetcher"
)

// HealthResponse rolls the service's moving parts into one answer.
// Status is "ok", "warning" or "error"; only "error" changes the HTTP
// status code, so probes restart the service on real trouble and dashboards
// see the warnings.
type HealthResponse struct {
	Status  string                `json:"status"`
	Message string                `json:"message,omitempty"`
	Checks  map[string]string     `json:"checks,omitempty"`
	Outbox  *OutboxHealth         `json:"outbox,omitempty"`
	Fetcher *fetcher.HealthStatus `json:"fetcher,omitempty"`
}

type OutboxHealth struct {
	Pending    int64 `json:"pending"`
	DeadLetter int64 `json:"dead_letter"`
}

// Outbox backlog levels that flip the health status.
const (
	outboxPendingWarn   = 1000
	outboxDeadLetterMax = 100
)

// Health reports service health: DB and Redis reachability, outbox
// backlog, and the fetcher snapshot from the most recent run.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := HealthResponse{Status: "ok", Checks: map[string]string{}}
	status := http.StatusOK

	if h.deps.PingDB != nil {
		if err := h.deps.PingDB(ctx); err != nil {
			resp.Status = "error"
			resp.Message = "database unreachable"
			resp.Checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp.Checks["database"] = "ok"
		}
	}

	if h.deps.PingRedis != nil {
		if err := h.deps.PingRedis(ctx); err != nil {
			resp.Status = "error"
			resp.Message = "redis unreachable"
			resp.Checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp.Checks["redis"] = "ok"
		}
	}

	if h.deps.Outbox != nil {
		pending, _ := h.deps.Outbox.GetPendingCount(ctx)
		deadLetter, _ := h.deps.Outbox.GetDeadLetterCount(ctx)
		resp.Outbox = &OutboxHealth{Pending: pending, DeadLetter: deadLetter}

		if deadLetter > outboxDeadLetterMax {
			resp.Status = "error"
			resp.Message = "too many dead-lettered outbox events"
			status = http.StatusServiceUnavailable
		} else if pending > outboxPendingWarn && resp.Status == "ok" {
			resp.Status = "warning"
			resp.Message = "outbox backlog is growing"
		}
	}

	if h.deps.Fetcher != nil {
		snapshot := h.deps.Fetcher.LastHealth()
		resp.Fetcher = &snapshot
		if snapshot.TotalRequests > 0 && !snapshot.Healthy && resp.Status == "ok" {
			resp.Status = "warning"
			resp.Message = "fetcher unhealthy after last run"
		}
	}

	h.respondJSON(w, status, resp)
}
