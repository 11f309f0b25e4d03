package browser

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// SessionState is the structural answer to "is this session usable",
// replacing string-sniffing on driver exceptions.
type SessionState int

const (
	SessionLive SessionState = iota
	SessionDead
)

func (s SessionState) String() string {
	if s == SessionLive {
		return "live"
	}
	return "dead"
}

// Session is one page inside one Browser: the handle the fetch loop drives.
// It owns the launch options so the whole stack can be rebuilt when the
// chromium process dies mid-run.
type Session struct {
	browser     *Browser
	page        playwright.Page
	opts        *Options
	pageTimeout time.Duration
	logger      *slog.Logger
}

func NewSession(opts *Options) (*Session, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	b, err := New(opts)
	if err != nil {
		return nil, err
	}

	page, err := b.NewPage()
	if err != nil {
		b.Close()
		return nil, err
	}

	return &Session{
		browser:     b,
		page:        page,
		opts:        opts,
		pageTimeout: opts.Timeout,
		logger:      slog.Default().With("component", "session"),
	}, nil
}

// State checks the handle structurally: a closed page or a disconnected
// chromium process means Dead.
func (s *Session) State() SessionState {
	if s.browser == nil || s.page == nil {
		return SessionDead
	}
	if !s.browser.Connected() || s.page.IsClosed() {
		return SessionDead
	}
	return SessionLive
}

// Recreate tears the whole stack down and launches a fresh one. Teardown
// noise from the dead session is dropped through the ignorable predicate.
func (s *Session) Recreate() error {
	s.logger.Info("recreating browser session")

	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.logger.Warn("teardown of dead session reported errors", "error", err)
		}
	}
	s.browser = nil
	s.page = nil

	b, err := New(s.opts)
	if err != nil {
		return fmt.Errorf("failed to relaunch browser: %w", err)
	}

	page, err := b.NewPage()
	if err != nil {
		b.Close()
		return fmt.Errorf("failed to open page in new session: %w", err)
	}

	s.browser = b
	s.page = page
	s.applyTimeout()
	return nil
}

// Navigate loads url and waits for the DOM to be ready. The page-load
// budget is whatever SetPageTimeout last configured.
func (s *Session) Navigate(url string) error {
	if s.State() != SessionLive {
		return fmt.Errorf("invalid session: navigate on dead session")
	}

	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(s.pageTimeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}

	return nil
}

// CurrentURL returns the page's URL, empty when the session is gone.
func (s *Session) CurrentURL() string {
	if s.State() != SessionLive {
		return ""
	}
	return s.page.URL()
}

// Content returns the full page markup.
func (s *Session) Content() (string, error) {
	if s.State() != SessionLive {
		return "", fmt.Errorf("invalid session: content read on dead session")
	}

	html, err := s.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

// VisibleText returns the rendered text of the body element.
func (s *Session) VisibleText() (string, error) {
	if s.State() != SessionLive {
		return "", fmt.Errorf("invalid session: text read on dead session")
	}

	text, err := s.page.InnerText("body", playwright.PageInnerTextOptions{
		Timeout: playwright.Float(2000),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read body text: %w", err)
	}
	return text, nil
}

// ElementVisible reports whether any element matching selector is rendered.
func (s *Session) ElementVisible(selector string) bool {
	if s.State() != SessionLive {
		return false
	}

	locator := s.page.Locator(selector).First()
	count, err := locator.Count()
	if err != nil || count == 0 {
		return false
	}

	visible, err := locator.IsVisible()
	if err != nil {
		return false
	}
	return visible
}

// Scroll nudges the viewport by a small random amount, enough to register
// as activity without jumping around the page.
func (s *Session) Scroll() {
	if s.State() != SessionLive {
		return
	}
	s.page.Evaluate(`window.scrollBy(0, Math.random() * 300)`)
}

// ScrollToBottom scrolls the full document height, for lazy-loaded listing
// pages. Returns the new scroll height.
func (s *Session) ScrollToBottom() (int, error) {
	if s.State() != SessionLive {
		return 0, fmt.Errorf("invalid session: scroll on dead session")
	}

	result, err := s.page.Evaluate(`() => {
		window.scrollTo(0, document.body.scrollHeight);
		return document.body.scrollHeight;
	}`)
	if err != nil {
		return 0, fmt.Errorf("scroll failed: %w", err)
	}

	switch v := result.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	default:
		return 0, nil
	}
}

// SetPageTimeout changes the page-load budget for subsequent navigations.
func (s *Session) SetPageTimeout(d time.Duration) {
	s.pageTimeout = d
	s.applyTimeout()
}

func (s *Session) PageTimeout() time.Duration {
	return s.pageTimeout
}

func (s *Session) applyTimeout() {
	if s.page != nil && s.State() == SessionLive {
		s.page.SetDefaultNavigationTimeout(float64(s.pageTimeout.Milliseconds()))
	}
}

// Humanize performs a small randomized interaction on the current page.
func (s *Session) Humanize() {
	if s.State() != SessionLive {
		return
	}
	s.browser.HumanizeInteraction(s.page)
}

// Page exposes the raw playwright page for site extractors that need
// element interaction beyond the fetch surface.
func (s *Session) Page() playwright.Page {
	return s.page
}

// Close shuts the whole session down. Safe to call on a dead session.
func (s *Session) Close() error {
	if s.browser == nil {
		return nil
	}
	err := s.browser.Close()
	s.browser = nil
	s.page = nil
	return err
}

// IgnorableTeardownError reports whether a close/quit failure is just the
// session being gone already. Checked locally at teardown call sites; never
// suppresses anything during normal operation.
func IgnorableTeardownError(err error) bool {
	if err == nil {
		return true
	}

	msg := strings.ToLower(err.Error())
	ignorable := []string{
		"handle is invalid",
		"browser has been closed",
		"target closed",
		"context has been closed",
		"already closed",
		"connection refused",
		"broken pipe",
	}
	for _, marker := range ignorable {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
