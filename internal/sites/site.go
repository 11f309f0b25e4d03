// Package sites implements the per-retailer scrapers. Each site knows how
// to walk its catalog listings and how to pull a product with its vehicle
// fitments out of a detail page. Pages arrive as rendered HTML from the
// fetcher, so extraction here is pure goquery work.
package sites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/partsdev/oem-wheel-scraper/internal/models"
)

// Site scrapes one OEM parts retailer.
type Site interface {
	// Name returns the short site identifier, e.g. "kia".
	Name() string

	// ProductURLs walks the site's listing pages and returns the product
	// detail URLs worth scraping, deduplicated.
	ProductURLs(ctx context.Context) ([]string, error)

	// ScrapeProduct fetches one detail page and extracts the product.
	// Pages that should be skipped rather than retried come back as
	// errors wrapping ErrNotWheel or ErrNoTitle.
	ScrapeProduct(ctx context.Context, url string) (*models.Product, error)
}

// Fetcher loads a page through the recovery stack and returns its HTML
// once the page has settled.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// DOM exposes the live page for sites whose listings lazy-load more
// products on scroll. A nil DOM is fine; sites then work from the
// fetched HTML as is.
type DOM interface {
	ScrollToBottom() (int, error)
	Content() (string, error)
}

// Deps carries the shared dependencies every site is built from.
type Deps struct {
	Fetcher Fetcher
	DOM     DOM
	Logger  *slog.Logger
}

// Constructor builds a Site from shared dependencies.
type Constructor func(Deps) Site

// Skip sentinels. ScrapeProduct wraps these so the orchestrator can tell
// a page that should be recorded as skipped from one that failed.
var (
	ErrNotWheel = errors.New("product is not a wheel")
	ErrNoTitle  = errors.New("product title not found")
)

var builtin = map[string]Constructor{
	"kia":    newKia,
	"toyota": newToyota,
	"honda":  newHonda,
	"nissan": newNissan,
	"subaru": newSubaru,
	"mazda":  newMazda,
}

// New returns the built-in site registered under name.
func New(name string, deps Deps) (Site, error) {
	ctor, ok := builtin[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown site %q", name)
	}
	return ctor(deps), nil
}

// Names lists the built-in site names in sorted order.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// core holds what every site shares. Site structs embed it and add their
// ProductURLs and ScrapeProduct methods.
type core struct {
	name    string
	fetcher Fetcher
	dom     DOM
	log     *slog.Logger
}

func newCore(name string, deps Deps) core {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return core{
		name:    name,
		fetcher: deps.Fetcher,
		dom:     deps.DOM,
		log:     logger.With("component", "site", "site", name),
	}
}

func (c *core) Name() string {
	return c.name
}

// listingHTML fetches a listing page and, when a live page is available,
// scrolls it to the bottom so lazy-loaded products render before the HTML
// is read back. Scroll problems fall back to the fetched HTML.
func (c *core) listingHTML(ctx context.Context, url string) (string, error) {
	html, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	if c.dom == nil {
		return html, nil
	}
	if _, err := c.dom.ScrollToBottom(); err != nil {
		c.log.Debug("scroll failed, using fetched html", "url", url, "error", err)
		return html, nil
	}
	settled, err := c.dom.Content()
	if err != nil || settled == "" {
		return html, nil
	}
	return settled, nil
}

// document fetches a page and parses it.
func (c *core) document(ctx context.Context, url string) (*goquery.Document, error) {
	html, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", url, err)
	}
	return doc, nil
}

// maxSearchPages caps pagination walks on storefronts that never report
// a page count.
const maxSearchPages = 2000

// searchSpec drives a search pagination walk.
type searchSpec struct {
	base     string
	firstURL string
	pages    []string // fmt patterns taking the base URL and page number
	minBytes int      // pages shorter than this are skipped as stubs
	maxEmpty int      // consecutive no-new-product pages before stopping
	links    func(*goquery.Document) []string
}

// searchCatalog walks a storefront's search results. Each page tries the
// spec's URL patterns in order until one renders catalog links, and the
// walk stops once maxEmpty consecutive pages add nothing new.
func (c *core) searchCatalog(ctx context.Context, spec searchSpec) ([]string, error) {
	seen := make(map[string]bool)
	var urls []string
	collect := func(doc *goquery.Document) int {
		added := 0
		for _, u := range spec.links(doc) {
			if !seen[u] {
				seen[u] = true
				urls = append(urls, u)
				added++
			}
		}
		return added
	}

	html, err := c.listingHTML(ctx, spec.firstURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load search results: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}
	collect(doc)
	c.log.Info("search page parsed", "page", 1, "count", len(urls))

	empty := 0
	for page := 2; page <= maxSearchPages; page++ {
		if err := ctx.Err(); err != nil {
			return urls, err
		}
		added, ok := c.searchPage(ctx, spec, page, collect)
		if ok && added > 0 {
			empty = 0
			continue
		}
		empty++
		if empty >= spec.maxEmpty {
			c.log.Info("pagination exhausted", "page", page, "count", len(urls))
			break
		}
	}
	return urls, nil
}

// searchPage tries each pagination URL pattern for one page number until
// one renders catalog links. It reports whether any pattern produced a
// usable page at all.
func (c *core) searchPage(ctx context.Context, spec searchSpec, page int, collect func(*goquery.Document) int) (int, bool) {
	for _, pattern := range spec.pages {
		pageURL := fmt.Sprintf(pattern, spec.base, page)
		html, err := c.listingHTML(ctx, pageURL)
		if err != nil {
			c.log.Debug("pagination url failed", "url", pageURL, "error", err)
			continue
		}
		if len(html) < spec.minBytes {
			c.log.Debug("listing page too small", "url", pageURL, "bytes", len(html))
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			continue
		}
		if doc.Find(catalogLinkSelector).Length() == 0 {
			continue
		}
		return collect(doc), true
	}
	return 0, false
}
