package challenge

import (
	"context"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"time"
)

// WaitTuning holds the waiter's timing constants. Like the detector
// thresholds these mimic human pacing and are configuration, not contract.
type WaitTuning struct {
	InitialDelayMin   time.Duration
	InitialDelayMax   time.Duration
	PollInterval      time.Duration
	PollJitter        time.Duration
	ScrollProbability float64
}

func DefaultWaitTuning() WaitTuning {
	return WaitTuning{
		InitialDelayMin:   5 * time.Second,
		InitialDelayMax:   8 * time.Second,
		PollInterval:      2 * time.Second,
		PollJitter:        300 * time.Millisecond,
		ScrollProbability: 0.4,
	}
}

// Waiter polls for a challenge to clear. One attempt is one poll window; a
// timed-out attempt re-navigates to the target (challenge flows restart
// more reliably on fresh navigation than on refresh) and tries again.
type Waiter struct {
	drv    Driver
	th     Thresholds
	tuning WaitTuning
	logger *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewWaiter(drv Driver, th Thresholds, tuning WaitTuning, logger *slog.Logger) *Waiter {
	return &Waiter{
		drv:    drv,
		th:     th,
		tuning: tuning,
		logger: logger.With("component", "challenge_waiter"),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Wait blocks until the challenge clears or every attempt is spent. It
// returns true the moment it recognizes success: during a poll, or in the
// final lenient pass that catches pages that cleared between ticks.
// Cancelling ctx stops the wait at the next sleep or poll boundary.
func (w *Waiter) Wait(ctx context.Context, attemptTimeout time.Duration, targetURL string, maxRetries int) bool {
	start := w.now()
	w.logger.Info("challenge detected, waiting",
		"timeout_per_attempt", attemptTimeout,
		"max_retries", maxRetries)

	// Let the challenge script run before the first look, at human pace.
	if err := w.sleep(ctx, randomBetween(w.tuning.InitialDelayMin, w.tuning.InitialDelayMax)); err != nil {
		return false
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		attemptStart := w.now()

		for w.now().Sub(attemptStart) < attemptTimeout {
			if ctx.Err() != nil {
				return false
			}

			if rand.Float64() < w.tuning.ScrollProbability {
				w.drv.Scroll()
			}

			if w.cleared(targetURL) {
				w.logger.Info("challenge cleared", "elapsed", w.now().Sub(start))
				return true
			}

			jitter := time.Duration(rand.Int63n(int64(2*w.tuning.PollJitter))) - w.tuning.PollJitter
			if err := w.sleep(ctx, w.tuning.PollInterval+jitter); err != nil {
				return false
			}
		}

		if attempt < maxRetries {
			w.logger.Warn("challenge wait timed out, re-navigating",
				"attempt", attempt+1,
				"url", targetURL)

			if err := w.drv.Navigate(targetURL); err != nil {
				w.logger.Debug("re-navigation failed", "error", err)
			}
			if err := w.sleep(ctx, randomBetween(w.tuning.InitialDelayMin, w.tuning.InitialDelayMax)); err != nil {
				return false
			}
		}
	}

	// Timing races can leave the loop without a clean pass even though the
	// page came through. One lenient look before giving up.
	if w.finalCheck() {
		w.logger.Info("challenge cleared on final check", "elapsed", w.now().Sub(start))
		return true
	}

	w.logger.Warn("challenge never cleared", "elapsed", w.now().Sub(start))
	return false
}

// cleared is the in-loop acceptance test: off the challenge host, no
// challenge phrases in the body prefix, substantial content, and the
// browser actually sitting on the requested site.
func (w *Waiter) cleared(targetURL string) bool {
	current := w.drv.CurrentURL()
	if current == "" || URLChallenged(current) {
		return false
	}

	html, err := w.drv.Content()
	if err != nil {
		return false
	}

	if containsChallengePhrase(lowerPrefix(html, w.th.PhrasePrefixBytes)) {
		return false
	}

	if len(html) <= w.th.ClearedBytes {
		return false
	}

	if targetURL != "" && !hostMatch(targetURL, current) {
		return false
	}

	return true
}

// finalCheck drops the host requirement and just asks whether the page
// looks like real content.
func (w *Waiter) finalCheck() bool {
	current := w.drv.CurrentURL()
	if URLChallenged(current) {
		return false
	}

	html, err := w.drv.Content()
	if err != nil {
		return false
	}

	return len(html) > w.th.ClearedBytes &&
		!containsChallengePhrase(lowerPrefix(html, w.th.PhrasePrefixBytes))
}

// hostMatch compares the hosts of two URLs, ignoring a www prefix. When
// parsing fails it falls back to a loose substring check, which has never
// mattered in practice but keeps a malformed current-URL from failing an
// otherwise cleared page.
func hostMatch(target, current string) bool {
	targetHost, err1 := parseHost(target)
	currentHost, err2 := parseHost(current)

	if err1 == nil && err2 == nil && targetHost != "" && currentHost != "" {
		return targetHost == currentHost || strings.Contains(currentHost, targetHost)
	}

	// Loose fallback: pull what looks like a host out of the target and
	// look for it anywhere in the current URL.
	loose := target
	if idx := strings.Index(loose, "//"); idx >= 0 {
		loose = loose[idx+2:]
	}
	if idx := strings.IndexAny(loose, "/:"); idx >= 0 {
		loose = loose[:idx]
	}
	loose = strings.TrimPrefix(strings.ToLower(loose), "www.")
	if loose == "" {
		return true
	}
	return strings.Contains(strings.ToLower(strings.ReplaceAll(current, "www.", "")), loose)
}

func parseHost(raw string) (string, error) {
	if !strings.Contains(raw, "//") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www."), nil
}

func lowerPrefix(s string, n int) string {
	if len(s) > n {
		s = s[:n]
	}
	return strings.ToLower(s)
}

func randomBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
