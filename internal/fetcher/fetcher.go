package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/partsdev/oem-wheel-scraper/internal/browser"
	"github.com/partsdev/oem-wheel-scraper/internal/challenge"
	"github.com/partsdev/oem-wheel-scraper/internal/recovery"
)

// Terminal fetch outcomes. Callers treat any error as "skip this URL", but
// these four are distinguishable because they mean different things for the
// rest of the run.
var (
	ErrUnhealthy        = errors.New("fetcher unhealthy, refusing new work")
	ErrCircuitOpen      = errors.New("circuit breaker open")
	ErrSessionLost      = errors.New("browser session lost")
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// errChallengeUnresolved fails a single attempt; it never reaches callers
// unwrapped and never touches the circuit breaker.
var errChallengeUnresolved = errors.New("challenge page never cleared")

// Driver is the slice of the browser session the fetcher needs.
type Driver interface {
	Navigate(url string) error
	CurrentURL() string
	Content() (string, error)
	ElementVisible(selector string) bool
	Scroll()
	State() browser.SessionState
	Recreate() error
	SetPageTimeout(d time.Duration)
	PageTimeout() time.Duration
}

// Options carry the per-fetch budgets. Content thresholds tighten with each
// retry: a page that keeps coming back thin has to prove more, not less.
type Options struct {
	MaxRetries          int
	SessionRetries      int
	ExtendedPageTimeout time.Duration
	ChallengeTimeout    time.Duration
	ChallengeRetries    int
	MinContentBytes     int
	ContentBytesCap     int
	MinVisibleChars     int
	VisibleCharsCap     int
	ExtraContentWait    time.Duration
	ContentPollEvery    time.Duration

	BreakerThreshold int
	BreakerWindow    time.Duration

	Challenge challenge.Thresholds
	Tuning    challenge.WaitTuning
	Health    HealthThresholds
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:          5,
		SessionRetries:      3,
		ExtendedPageTimeout: 60 * time.Second,
		ChallengeTimeout:    30 * time.Second,
		ChallengeRetries:    1,
		MinContentBytes:     8000,
		ContentBytesCap:     10000,
		MinVisibleChars:     300,
		VisibleCharsCap:     500,
		ExtraContentWait:    8 * time.Second,
		ContentPollEvery:    500 * time.Millisecond,
		BreakerThreshold:    recovery.DefaultBreakerThreshold,
		BreakerWindow:       recovery.DefaultBreakerWindow,
		Challenge:           challenge.DefaultThresholds(),
		Tuning:              challenge.DefaultWaitTuning(),
		Health:              DefaultHealthThresholds(),
	}
}

// Per-attempt tightening steps for the content-readiness thresholds.
const (
	contentStepBytes = 1000
	visibleStepChars = 100
)

var connectionErrorMarkers = []string{"chrome-error://", "err_", "dns_probe"}

// PageFetcher turns "give me this URL" into a loaded page body, absorbing
// challenges, thin loads, dead sessions and transient failures along the
// way. One fetcher owns one session, one breaker and one health monitor;
// nothing here is meant to be shared across concurrent scrapes.
type PageFetcher struct {
	drv        Driver
	detector   *challenge.Detector
	waiter     *challenge.Waiter
	classifier recovery.Classifier
	breaker    *recovery.CircuitBreaker
	health     *HealthMonitor
	opts       Options
	logger     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func New(drv Driver, opts Options, logger *slog.Logger) *PageFetcher {
	var breakerOpts []recovery.BreakerOption
	if opts.BreakerThreshold > 0 {
		breakerOpts = append(breakerOpts, recovery.WithThreshold(opts.BreakerThreshold))
	}
	if opts.BreakerWindow > 0 {
		breakerOpts = append(breakerOpts, recovery.WithWindow(opts.BreakerWindow))
	}
	return &PageFetcher{
		drv:        drv,
		detector:   challenge.NewDetector(drv, opts.Challenge, logger),
		waiter:     challenge.NewWaiter(drv, opts.Challenge, opts.Tuning, logger),
		classifier: recovery.NewMessageClassifier(),
		breaker:    recovery.NewCircuitBreaker(logger, breakerOpts...),
		health:     NewHealthMonitor(opts.Health, logger),
		opts:       opts,
		logger:     logger.With("component", "page_fetcher"),
		sleep:      sleepCtx,
	}
}

// Fetch navigates to url and returns the page body once it looks fully
// loaded. Exactly one health event is recorded per call, however many
// attempts it takes.
func (p *PageFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if !p.health.IsHealthy() {
		p.logger.Error("health gate refused fetch", "url", url)
		return "", ErrUnhealthy
	}

	html, err := p.fetchWithRetries(ctx, url)
	if err != nil {
		p.health.RecordFailure()
		return "", err
	}

	p.health.RecordSuccess()
	return html, nil
}

// Health returns a snapshot of the fetcher's counters.
func (p *PageFetcher) Health() HealthStatus {
	return p.health.Status()
}

// ResetHealth clears the failure streak, typically after a long cooldown.
func (p *PageFetcher) ResetHealth() {
	p.health.Reset()
}

// Challenged reports whether the page currently on screen looks like an
// anti-bot interstitial.
func (p *PageFetcher) Challenged() bool {
	html, err := p.drv.Content()
	if err != nil {
		return false
	}
	return p.detector.Challenged(p.drv.CurrentURL(), html)
}

// WaitForChallenge blocks until the current challenge clears or the waiter
// gives up, re-navigating to targetURL between attempts.
func (p *PageFetcher) WaitForChallenge(ctx context.Context, targetURL string) bool {
	return p.waiter.Wait(ctx, p.opts.ChallengeTimeout, targetURL, p.opts.ChallengeRetries)
}

func (p *PageFetcher) fetchWithRetries(ctx context.Context, targetURL string) (string, error) {
	var lastErr error

	for attempt := 0; attempt < p.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if err := p.ensureSession(ctx); err != nil {
			return "", err
		}

		p.logger.Info("fetching page",
			"url", targetURL,
			"attempt", attempt+1,
			"max_retries", p.opts.MaxRetries)

		html, err := p.attempt(ctx, targetURL, attempt)
		if err == nil {
			p.logger.Info("page loaded", "url", targetURL, "bytes", len(html))
			return html, nil
		}
		lastErr = err

		if errors.Is(err, errChallengeUnresolved) {
			// Inline retry with a long cooldown. A stalled challenge is
			// the vendor's pacing, not a driver fault, so it stays out of
			// the breaker counters.
			if attempt+1 < p.opts.MaxRetries {
				delay := randomBetween(10*time.Second, 15*time.Second)
				p.logger.Warn("challenge did not clear, retrying",
					"url", targetURL,
					"delay", delay)
				if serr := p.sleep(ctx, delay); serr != nil {
					return "", serr
				}
			}
			continue
		}

		kind := p.classifier.Classify(err)
		p.breaker.Record(kind)
		if !p.breaker.ShouldContinue(kind) {
			p.logger.Error("circuit breaker stopped retries",
				"kind", kind,
				"error", err)
			return "", fmt.Errorf("%w for %s: %v", ErrCircuitOpen, kind, err)
		}

		strat := recovery.StrategyFor(kind, attempt)
		if !strat.ShouldRetry {
			p.logger.Error("error not retryable",
				"kind", kind,
				"action", string(strat.Action),
				"error", err)
			return "", fmt.Errorf("%s error is terminal: %w", kind, err)
		}

		if strat.RequiresReinit {
			p.logger.Warn("recovery strategy wants a fresh session", "kind", kind)
			if rerr := p.drv.Recreate(); rerr != nil {
				// The session check at the top of the next attempt gets
				// another shot with its own budget.
				p.logger.Error("session recreation failed", "error", rerr)
			}
		}

		if attempt+1 < p.opts.MaxRetries {
			delay := randomBetween(
				time.Duration(strat.WaitMin)*time.Second,
				time.Duration(strat.WaitMax)*time.Second)
			p.logger.Warn("retrying after error",
				"kind", kind,
				"action", string(strat.Action),
				"delay", delay,
				"error", err)
			if serr := p.sleep(ctx, delay); serr != nil {
				return "", serr
			}
		}
	}

	return "", fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, p.opts.MaxRetries, lastErr)
}

// ensureSession re-creates a dead session, running failures through the
// same classify/record/strategy path as fetch errors, under a small
// separate budget.
func (p *PageFetcher) ensureSession(ctx context.Context) error {
	if p.drv.State() == browser.SessionLive {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < p.opts.SessionRetries; attempt++ {
		p.logger.Warn("browser session invalid, recreating",
			"attempt", attempt+1,
			"max_attempts", p.opts.SessionRetries)

		err := p.drv.Recreate()
		if err == nil {
			p.logger.Info("browser session recreated")
			return nil
		}
		lastErr = err

		kind := p.classifier.Classify(err)
		p.breaker.Record(kind)
		if !p.breaker.ShouldContinue(kind) {
			return fmt.Errorf("%w: %v", ErrSessionLost, err)
		}

		strat := recovery.StrategyFor(kind, attempt)
		if !strat.ShouldRetry {
			return fmt.Errorf("%w: %v", ErrSessionLost, err)
		}

		if attempt+1 < p.opts.SessionRetries {
			delay := randomBetween(
				time.Duration(strat.WaitMin)*time.Second,
				time.Duration(strat.WaitMax)*time.Second)
			if serr := p.sleep(ctx, delay); serr != nil {
				return serr
			}
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrSessionLost, p.opts.SessionRetries, lastErr)
}

// attempt runs one navigate / challenge / readiness pass.
func (p *PageFetcher) attempt(ctx context.Context, targetURL string, attempt int) (string, error) {
	if err := p.drv.Navigate(targetURL); err != nil {
		return "", err
	}

	if current := strings.ToLower(p.drv.CurrentURL()); connectionErrorURL(current) {
		return "", fmt.Errorf("connection error page: %s", current)
	}

	// Let the page start rendering before the first read.
	if err := p.sleep(ctx, randomBetween(500*time.Millisecond, 1500*time.Millisecond)); err != nil {
		return "", err
	}

	if err := p.passChallenge(ctx, targetURL); err != nil {
		return "", err
	}

	// Stabilize, then pause once more before pulling the full body.
	if err := p.sleep(ctx, randomBetween(time.Second, 2*time.Second)); err != nil {
		return "", err
	}
	if err := p.sleep(ctx, randomBetween(500*time.Millisecond, time.Second)); err != nil {
		return "", err
	}

	return p.awaitContent(ctx, attempt)
}

// passChallenge runs the detector only when the page looks suspicious (a
// challenge URL or a thin body), and on detection hands control to the
// waiter.
func (p *PageFetcher) passChallenge(ctx context.Context, targetURL string) error {
	html, err := p.drv.Content()
	if err != nil {
		return err
	}

	current := p.drv.CurrentURL()
	suspicious := challenge.URLChallenged(current) || len(html) < p.opts.Challenge.LargePageBytes
	if !suspicious || !p.detector.Challenged(current, html) {
		return nil
	}

	p.logger.Info("challenge detected, waiting for bypass", "url", current)
	if p.waiter.Wait(ctx, p.opts.ChallengeTimeout, targetURL, p.opts.ChallengeRetries) {
		// Brief settle after the challenge hands the real page back.
		return p.sleep(ctx, time.Second)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// The waiter gave up, but the page may be fine behind stale markers.
	html, err = p.drv.Content()
	if err == nil && len(html) > p.opts.Challenge.LargePageBytes && !challenge.URLChallenged(p.drv.CurrentURL()) {
		p.logger.Info("page accessible despite challenge markers", "bytes", len(html))
		return p.sleep(ctx, time.Second)
	}

	return errChallengeUnresolved
}

// awaitContent accepts the page once the body and its visible text clear
// the per-attempt thresholds, polling under an extended navigation budget
// when the first read comes back thin.
func (p *PageFetcher) awaitContent(ctx context.Context, attempt int) (string, error) {
	minBytes := p.opts.MinContentBytes + attempt*contentStepBytes
	if minBytes > p.opts.ContentBytesCap {
		minBytes = p.opts.ContentBytesCap
	}
	minChars := p.opts.MinVisibleChars + attempt*visibleStepChars
	if minChars > p.opts.VisibleCharsCap {
		minChars = p.opts.VisibleCharsCap
	}

	html, err := p.drv.Content()
	if err != nil {
		return "", err
	}
	if contentReady(html, minBytes, minChars) {
		return html, nil
	}

	p.logger.Warn("page content thin, waiting for full load",
		"bytes", len(html),
		"min_bytes", minBytes)

	restore := p.drv.PageTimeout()
	p.drv.SetPageTimeout(p.opts.ExtendedPageTimeout)
	defer p.drv.SetPageTimeout(restore)

	for waited := time.Duration(0); waited < p.opts.ExtraContentWait; waited += p.opts.ContentPollEvery {
		if err := p.sleep(ctx, p.opts.ContentPollEvery); err != nil {
			return "", err
		}

		html, err = p.drv.Content()
		if err != nil {
			return "", err
		}
		if contentReady(html, minBytes, minChars) {
			p.logger.Info("full content loaded after extra wait",
				"waited", waited+p.opts.ContentPollEvery,
				"bytes", len(html))
			return html, nil
		}
	}

	return "", fmt.Errorf("page content timed out at %d bytes (needed %d)", len(html), minBytes)
}

func contentReady(html string, minBytes, minChars int) bool {
	if len(html) <= minBytes {
		return false
	}
	return visibleLength(html) > minChars
}

// visibleLength measures the body text with whitespace runs collapsed.
func visibleLength(html string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0
	}
	text := doc.Find("body").Text()
	return len(strings.Join(strings.Fields(text), " "))
}

func connectionErrorURL(lowerURL string) bool {
	for _, marker := range connectionErrorMarkers {
		if strings.Contains(lowerURL, marker) {
			return true
		}
	}
	return false
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
