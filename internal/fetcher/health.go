package fetcher

import (
	"log/slog"
	"sync"
	"time"
)

// HealthThresholds decide when a fetcher instance stops taking new work.
type HealthThresholds struct {
	MaxConsecutiveFailures int
	MinRequestsForRate     int
	MinSuccessRate         float64
}

func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		MaxConsecutiveFailures: 10,
		MinRequestsForRate:     20,
		MinSuccessRate:         0.20,
	}
}

// HealthStatus is a point-in-time snapshot of the monitor's counters.
type HealthStatus struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalRequests       int       `json:"total_requests"`
	SuccessfulRequests  int       `json:"successful_requests"`
	SuccessRate         float64   `json:"success_rate"`
	LastSuccess         time.Time `json:"last_success"`
	LastFailure         time.Time `json:"last_failure"`
	Healthy             bool      `json:"healthy"`
}

// HealthMonitor tracks fetch outcomes for one scraper instance. Pure
// counters, no I/O. The fetcher consults IsHealthy as a pre-flight gate
// only; a fetch call in flight is never aborted by health degradation.
type HealthMonitor struct {
	mu     sync.Mutex
	th     HealthThresholds
	logger *slog.Logger

	consecutiveFailures int
	totalRequests       int
	successfulRequests  int
	lastSuccess         time.Time
	lastFailure         time.Time

	now func() time.Time
}

func NewHealthMonitor(th HealthThresholds, logger *slog.Logger) *HealthMonitor {
	return &HealthMonitor{
		th:     th,
		logger: logger.With("component", "health_monitor"),
		now:    time.Now,
	}
}

// RecordSuccess counts one completed fetch call.
func (m *HealthMonitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	m.successfulRequests++
	m.consecutiveFailures = 0
	m.lastSuccess = m.now()
}

// RecordFailure counts one failed fetch call.
func (m *HealthMonitor) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	m.consecutiveFailures++
	m.lastFailure = m.now()
}

// IsHealthy reports whether the instance should keep fetching.
func (m *HealthMonitor) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.consecutiveFailures >= m.th.MaxConsecutiveFailures {
		m.logger.Error("too many consecutive failures, fetcher unhealthy",
			"consecutive_failures", m.consecutiveFailures)
		return false
	}

	if m.totalRequests > m.th.MinRequestsForRate {
		if rate := m.successRateLocked(); rate < m.th.MinSuccessRate {
			m.logger.Error("success rate too low, fetcher unhealthy",
				"success_rate", rate,
				"total_requests", m.totalRequests)
			return false
		}
	}

	return true
}

func (m *HealthMonitor) Status() HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	healthy := m.consecutiveFailures < m.th.MaxConsecutiveFailures &&
		(m.totalRequests <= m.th.MinRequestsForRate || m.successRateLocked() >= m.th.MinSuccessRate)

	return HealthStatus{
		ConsecutiveFailures: m.consecutiveFailures,
		TotalRequests:       m.totalRequests,
		SuccessfulRequests:  m.successfulRequests,
		SuccessRate:         m.successRateLocked(),
		LastSuccess:         m.lastSuccess,
		LastFailure:         m.lastFailure,
		Healthy:             healthy,
	}
}

// Reset clears the consecutive-failure streak after operator intervention.
func (m *HealthMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveFailures = 0
	m.logger.Info("health counters reset")
}

func (m *HealthMonitor) successRateLocked() float64 {
	if m.totalRequests == 0 {
		return 0
	}
	return float64(m.successfulRequests) / float64(m.totalRequests)
}
