package challenge

import (
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Driver is the slice of the browser session the challenge logic drives.
type Driver interface {
	CurrentURL() string
	Content() (string, error)
	ElementVisible(selector string) bool
	Navigate(url string) error
	Scroll()
}

// Thresholds are the size gates of the detection heuristic. They are tuned
// against the challenge vendor's current page weights, not invariants; the
// defaults ship in config so a drift in the vendor's markup is a config
// change, not a code change.
type Thresholds struct {
	// LargePageBytes: pages above this are never challenges, even when
	// they mention the vendor in asset URLs.
	LargePageBytes int
	// TinyPageBytes: below this, a challenge phrase alone is proof.
	TinyPageBytes int
	// ClearedBytes: the waiter requires at least this much body before it
	// accepts the challenge as passed.
	ClearedBytes int
	// PhrasePrefixBytes: how much of the body the waiter scans for
	// left-over challenge phrases.
	PhrasePrefixBytes int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		LargePageBytes:    5000,
		TinyPageBytes:     2000,
		ClearedBytes:      8000,
		PhrasePrefixBytes: 4000,
	}
}

var urlMarkers = []string{
	"challenges.cloudflare.com",
	"/cdn-cgi/challenge",
}

var challengePhrases = []string{
	"just a moment",
	"checking your browser",
	"verifying you are human",
	"review the security of your connection",
	"verifying...",
	"this may take a few seconds",
}

var challengeSelectors = []string{
	"#challenge-form",
	"form[action*='challenge']",
	".cf-browser-verification",
	".challenge-container",
}

// URLChallenged reports whether the URL itself names the challenge vendor.
// This check is authoritative: no size gate applies.
func URLChallenged(url string) bool {
	lower := strings.ToLower(url)
	for _, marker := range urlMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func containsChallengePhrase(lowerHTML string) bool {
	for _, phrase := range challengePhrases {
		if strings.Contains(lowerHTML, phrase) {
			return true
		}
	}
	return false
}

// Detector decides whether a page is an anti-bot interstitial. The driver
// is optional: with one, the mid-band check asks the live page whether a
// challenge element is actually rendered; without one, element presence in
// the markup has to do.
type Detector struct {
	drv    Driver
	th     Thresholds
	logger *slog.Logger
}

func NewDetector(drv Driver, th Thresholds, logger *slog.Logger) *Detector {
	return &Detector{
		drv:    drv,
		th:     th,
		logger: logger.With("component", "challenge_detector"),
	}
}

// Challenged applies the staged heuristic:
//
//  1. a challenge URL is always a challenge;
//  2. a large page never is;
//  3. a tiny page with a challenge phrase always is;
//  4. a small-but-not-tiny page with a phrase counts only when a concrete
//     challenge element is rendered.
//
// The heuristic classifies another vendor's page, so it errs toward
// "not challenged" and lets normal small pages keep flowing.
func (d *Detector) Challenged(currentURL, html string) bool {
	if URLChallenged(currentURL) {
		return true
	}

	if len(html) > d.th.LargePageBytes {
		return false
	}

	lower := strings.ToLower(html)
	if !containsChallengePhrase(lower) {
		return false
	}

	if len(html) < d.th.TinyPageBytes {
		return true
	}

	return d.challengeElementRendered(html)
}

func (d *Detector) challengeElementRendered(html string) bool {
	if d.drv != nil {
		for _, selector := range challengeSelectors {
			if d.drv.ElementVisible(selector) {
				return true
			}
		}
		return false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		d.logger.Debug("failed to parse page for challenge elements", "error", err)
		return false
	}

	for _, selector := range challengeSelectors {
		if doc.Find(selector).Length() > 0 {
			return true
		}
	}
	return false
}
