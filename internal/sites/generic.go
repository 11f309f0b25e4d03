package sites

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/partsdev/oem-wheel-scraper/internal/models"
)

// Config describes a catalog site for the generic scraper. Sites with a
// dedicated implementation are matched by name; everything else runs
// through the selector chains in generic.go.
type Config struct {
	Name           string `json:"name"`
	BaseURL        string `json:"base_url"`
	SearchStrategy string `json:"search_strategy"`
	CategoryURL    string `json:"category_url"`
	SearchTerm     string `json:"search_term"`
	UseBrowser     bool   `json:"use_browser"`
}

func (c Config) withDefaults() Config {
	c.Name = strings.ToLower(strings.TrimSpace(c.Name))
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.SearchStrategy == "" {
		c.SearchStrategy = "search"
	}
	if c.SearchTerm == "" {
		c.SearchTerm = "wheel"
	}
	return c
}

// LoadConfigs reads site definitions from a JSON file shaped as
// {"sites": [...]}.
func LoadConfigs(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read site configs: %w", err)
	}
	var file struct {
		Sites []Config `json:"sites"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse site configs: %w", err)
	}
	configs := make([]Config, 0, len(file.Sites))
	for i, cfg := range file.Sites {
		cfg = cfg.withDefaults()
		if cfg.Name == "" {
			return nil, fmt.Errorf("site config %d: missing name", i)
		}
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("site config %q: missing base_url", cfg.Name)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// FromConfig returns the dedicated implementation when one exists for the
// configured name, and a generic scraper otherwise.
func FromConfig(cfg Config, deps Deps) Site {
	cfg = cfg.withDefaults()
	if ctor, ok := builtin[cfg.Name]; ok {
		return ctor(deps)
	}
	return NewGeneric(cfg, deps)
}

var (
	genericSearchPaths = []string{
		"%s/search?search_str=%s",
		"%s/search?q=%s",
		"%s/s?k=%s",
	}
	genericCategoryRe  = regexp.MustCompile(`(?i)/(oem-parts|parts|product)/`)
	genericTitleRe     = regexp.MustCompile(`(?i)product.*title`)
	genericNameRe      = regexp.MustCompile(`(?i)product.*name`)
	genericSKURe       = regexp.MustCompile(`(?i)sku`)
	genericPartNumRe   = regexp.MustCompile(`(?i)part.*number`)
	genericSaleRe      = regexp.MustCompile(`(?i)sale.*price`)
	genericPriceSaleRe = regexp.MustCompile(`(?i)price.*sale`)
	genericPriceRe     = regexp.MustCompile(`(?i)price`)
	genericMSRPRe      = regexp.MustCompile(`(?i)list.*price|msrp`)
	genericRetailRe    = regexp.MustCompile(`(?i)retail.*price`)
	genericImgRe       = regexp.MustCompile(`(?i)product.*image|main.*image`)
	genericDescRe      = regexp.MustCompile(`(?i)description`)
)

type generic struct {
	core
	cfg Config
}

// NewGeneric builds a scraper for a configured site without a dedicated
// implementation.
func NewGeneric(cfg Config, deps Deps) Site {
	cfg = cfg.withDefaults()
	return &generic{core: newCore(cfg.Name, deps), cfg: cfg}
}

func (g *generic) ProductURLs(ctx context.Context) ([]string, error) {
	if g.cfg.SearchStrategy == "category" && g.cfg.CategoryURL != "" {
		return g.categoryURLs(ctx)
	}
	return g.searchURLs(ctx)
}

// searchURLs tries the common storefront search endpoints and keeps the
// first one whose results contain term-matching product links.
func (g *generic) searchURLs(ctx context.Context) ([]string, error) {
	term := strings.ToLower(g.cfg.SearchTerm)
	for _, pattern := range genericSearchPaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		searchURL := fmt.Sprintf(pattern, g.cfg.BaseURL, g.cfg.SearchTerm)
		html, err := g.listingHTML(ctx, searchURL)
		if err != nil {
			g.log.Debug("search endpoint failed", "url", searchURL, "error", err)
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			continue
		}

		var urls []string
		seen := make(map[string]bool)
		doc.Find(catalogLinkSelector + `, a[href*="/products/"]`).Each(func(_ int, a *goquery.Selection) {
			href, ok := a.Attr("href")
			if !ok || !strings.Contains(strings.ToLower(href), term) {
				return
			}
			u := stripURLExtras(absoluteURL(g.cfg.BaseURL, href))
			if u == "" || seen[u] {
				return
			}
			seen[u] = true
			urls = append(urls, u)
		})
		if len(urls) > 0 {
			g.log.Info("collected product urls", "count", len(urls), "search", searchURL)
			return urls, nil
		}
	}
	g.log.Warn("no products found on any search endpoint", "site", g.cfg.Name)
	return nil, nil
}

func (g *generic) categoryURLs(ctx context.Context) ([]string, error) {
	categoryURL := g.cfg.BaseURL + g.cfg.CategoryURL
	html, err := g.listingHTML(ctx, categoryURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load category page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse category page: %w", err)
	}

	var urls []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !genericCategoryRe.MatchString(href) {
			return
		}
		u := stripURLExtras(absoluteURL(g.cfg.BaseURL, href))
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	})
	g.log.Info("collected product urls", "count", len(urls), "category", categoryURL)
	return urls, nil
}

func (g *generic) ScrapeProduct(ctx context.Context, url string) (*models.Product, error) {
	doc, err := g.document(ctx, url)
	if err != nil {
		return nil, err
	}

	product := models.NewProduct(g.Name(), url)
	product.Title = genericTitle(doc)
	if product.Title == "" {
		return nil, fmt.Errorf("%s: %w", url, ErrNoTitle)
	}
	if !IsWheelProduct(product.Title, "") {
		return nil, fmt.Errorf("%q: %w", product.Title, ErrNotWheel)
	}

	product.SKU = genericSKU(doc)
	product.PartNumber = CleanSKU(product.SKU)
	product.ActualPrice = genericPrice(doc)
	product.MSRP = genericMSRP(doc)
	product.ImageURL = genericImage(doc, g.cfg.BaseURL)
	product.Description = genericDescription(doc)
	if env, ok := embeddedProductJSON(doc); ok {
		product.Fitments = env.allFitments()
	}
	if len(product.Fitments) == 0 {
		product.Fitments = genericTableFitments(doc)
	}

	g.log.Info("scraped product", "title", product.Title, "fitments", len(product.Fitments))
	return product, nil
}

func genericTitle(doc *goquery.Document) string {
	if t := collapseSpace(findByClassRe(doc, genericTitleRe, "h1").First().Text()); t != "" {
		return t
	}
	if t := firstText(doc, "h1.title", "h1"); t != "" {
		return t
	}
	return collapseSpace(findByClassRe(doc, genericNameRe, "div").First().Text())
}

func genericSKU(doc *goquery.Document) string {
	if s := collapseSpace(findByClassRe(doc, genericSKURe, "span").First().Text()); s != "" {
		return s
	}
	if s := collapseSpace(findByClassRe(doc, genericPartNumRe, "div").First().Text()); s != "" {
		return s
	}
	return collapseSpace(doc.Find(`span[itemprop="sku"]`).First().Text())
}

func genericPrice(doc *goquery.Document) string {
	if p := ExtractPrice(findByClassRe(doc, genericSaleRe, "strong").First().Text()); p != "" {
		return p
	}
	if p := ExtractPrice(findByClassRe(doc, genericPriceSaleRe, "span").First().Text()); p != "" {
		return p
	}
	return ExtractPrice(findByClassRe(doc, genericPriceRe, "div").First().Text())
}

func genericMSRP(doc *goquery.Document) string {
	if m := ExtractPrice(findByClassRe(doc, genericMSRPRe, "span").First().Text()); m != "" {
		return m
	}
	return ExtractPrice(findByClassRe(doc, genericRetailRe, "div").First().Text())
}

func genericImage(doc *goquery.Document, base string) string {
	if src, ok := findByClassRe(doc, genericImgRe, "img").First().Attr("src"); ok && src != "" {
		return absoluteURL(base, src)
	}
	if src, ok := doc.Find(`img[itemprop="image"]`).First().Attr("src"); ok && src != "" {
		return absoluteURL(base, src)
	}
	return ""
}

func genericDescription(doc *goquery.Document) string {
	for _, tag := range []string{"div", "span", "p"} {
		if d := collapseSpace(findByClassRe(doc, genericDescRe, tag).First().Text()); d != "" {
			return d
		}
	}
	return ""
}
