package recovery

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultBreakerThreshold is how often one error kind may recur inside
	// the reset window before further retries for that kind are refused.
	DefaultBreakerThreshold = 20
	// DefaultBreakerWindow is the idle time after which a kind's counter
	// starts over.
	DefaultBreakerWindow = 300 * time.Second
)

type breakerEntry struct {
	count    int
	lastSeen time.Time
}

// CircuitBreaker counts failures per error kind inside a sliding reset
// window. One breaker belongs to one scraper instance; it is mutex-guarded
// so a health endpoint can read it while the worker records.
type CircuitBreaker struct {
	mu        sync.Mutex
	entries   map[ErrorKind]*breakerEntry
	threshold int
	window    time.Duration
	logger    *slog.Logger

	now func() time.Time // replaced in tests
}

type BreakerOption func(*CircuitBreaker)

func WithThreshold(n int) BreakerOption {
	return func(b *CircuitBreaker) { b.threshold = n }
}

func WithWindow(d time.Duration) BreakerOption {
	return func(b *CircuitBreaker) { b.window = d }
}

func WithClock(now func() time.Time) BreakerOption {
	return func(b *CircuitBreaker) { b.now = now }
}

func NewCircuitBreaker(logger *slog.Logger, opts ...BreakerOption) *CircuitBreaker {
	b := &CircuitBreaker{
		entries:   make(map[ErrorKind]*breakerEntry),
		threshold: DefaultBreakerThreshold,
		window:    DefaultBreakerWindow,
		logger:    logger.With("component", "circuit_breaker"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Record notes one occurrence of kind. A counter that has been idle longer
// than the reset window starts over at zero before the increment.
func (b *CircuitBreaker) Record(kind ErrorKind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	entry, ok := b.entries[kind]
	if !ok {
		entry = &breakerEntry{}
		b.entries[kind] = entry
	}

	if !entry.lastSeen.IsZero() && now.Sub(entry.lastSeen) > b.window {
		entry.count = 0
	}

	entry.count++
	entry.lastSeen = now
}

// ShouldContinue reports whether another retry for kind is allowed. Captcha
// and memory errors always stop; everything else stops once the counter
// reaches the threshold inside the window.
func (b *CircuitBreaker) ShouldContinue(kind ErrorKind) bool {
	if kind == KindCaptcha || kind == KindMemoryError {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[kind]
	if !ok {
		return true
	}

	if entry.count >= b.threshold && b.now().Sub(entry.lastSeen) < b.window {
		b.logger.Error("circuit breaker tripped", "kind", kind.String(), "count", entry.count)
		return false
	}

	return true
}

// Count returns the current counter for kind, for status reporting.
func (b *CircuitBreaker) Count(kind ErrorKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[kind]
	if !ok {
		return 0
	}
	return entry.count
}
