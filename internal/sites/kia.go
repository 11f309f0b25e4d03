package sites

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/partsdev/oem-wheel-scraper/internal/models"
)

const kiaBase = "https://www.kiapartsnow.com"

// Wheel related category listings. The accessories page carries the
// aftermarket alloys, the other two the OEM covers and spares.
var kiaCategories = []string{
	"/oem-kia-wheel_cover.html",
	"/oem-kia-spare_wheel.html",
	"/accessories/kia-wheels.html",
}

var (
	kiaPageCountRe  = regexp.MustCompile(`Page\s+\d+\s+of\s+(\d+)`)
	kiaProductRe    = regexp.MustCompile(`/genuine/kia-.*~.*\.html`)
	kiaSKURe        = regexp.MustCompile(`/genuine/kia-.*~([^~]+)\.html`)
	kiaPartLabelRe  = regexp.MustCompile(`(?i)Part\s+Number\s*:`)
	kiaMSRPRe       = regexp.MustCompile(`(?i)MSRP\s*:\s*\$([\d,]+\.?\d*)`)
	kiaPriceClassRe = regexp.MustCompile(`(?i)price|sale`)
	kiaDescClassRe  = regexp.MustCompile(`(?i)description|spec`)
	kiaLeadYearRe   = regexp.MustCompile(`^\d{4}\s+`)
	kiaMakeRe       = regexp.MustCompile(`(?i)^Kia\s+`)
)

type kia struct {
	core
}

func newKia(deps Deps) Site {
	return &kia{core: newCore("kia", deps)}
}

// ProductURLs walks the wheel categories and their numbered pages.
// Product links look like /genuine/kia-alloy-wheel~52910s9100.html.
func (k *kia) ProductURLs(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var urls []string
	for _, category := range kiaCategories {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pages, err := k.categoryURLs(ctx, kiaBase+category)
		if err != nil {
			k.log.Warn("category walk failed", "category", category, "error", err)
			continue
		}
		for _, u := range pages {
			if !seen[u] {
				seen[u] = true
				urls = append(urls, u)
			}
		}
	}
	k.log.Info("collected product urls", "count", len(urls))
	return urls, nil
}

// categoryURLs loads one category, reads its "Page 1 of N" marker and
// walks the remaining pages through the ?page=N parameter.
func (k *kia) categoryURLs(ctx context.Context, categoryURL string) ([]string, error) {
	html, err := k.listingHTML(ctx, categoryURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load category: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse category: %w", err)
	}
	urls := kiaProductLinks(doc)

	total := 1
	if m := kiaPageCountRe.FindStringSubmatch(doc.Text()); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 1 {
			total = n
		}
	}
	for page := 2; page <= total; page++ {
		if err := ctx.Err(); err != nil {
			return urls, err
		}
		pageURL := fmt.Sprintf("%s?page=%d", categoryURL, page)
		pageHTML, err := k.listingHTML(ctx, pageURL)
		if err != nil {
			k.log.Warn("listing page failed", "url", pageURL, "error", err)
			continue
		}
		if len(pageHTML) < minListingBytes {
			k.log.Debug("listing page too small", "url", pageURL, "bytes", len(pageHTML))
			continue
		}
		pageDoc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
		if err != nil {
			continue
		}
		urls = append(urls, kiaProductLinks(pageDoc)...)
	}
	return urls, nil
}

// kiaProductLinks keeps the /genuine/kia-...~part.html anchors, dropping
// category and accessory navigation that shares the pattern prefix.
func kiaProductLinks(doc *goquery.Document) []string {
	var urls []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !kiaProductRe.MatchString(href) {
			return
		}
		if strings.Contains(href, "/accessories/") || strings.Contains(href, "/category/") || strings.Contains(href, "/oem-kia-") {
			return
		}
		if full := absoluteURL(kiaBase, href); full != "" {
			urls = append(urls, full)
		}
	})
	return urls
}

func (k *kia) ScrapeProduct(ctx context.Context, url string) (*models.Product, error) {
	doc, err := k.document(ctx, url)
	if err != nil {
		return nil, err
	}
	product := models.NewProduct(k.name, url)

	product.Title = collapseSpace(doc.Find("h1").First().Text())
	if len(product.Title) < 3 {
		product.Title = pageTitle(doc)
	}
	if len(product.Title) < 3 {
		return nil, fmt.Errorf("%s: %w", url, ErrNoTitle)
	}
	if !IsWheelProduct(product.Title, "") {
		return nil, fmt.Errorf("%q: %w", product.Title, ErrNotWheel)
	}

	if m := kiaSKURe.FindStringSubmatch(url); m != nil {
		product.SKU = m[1]
	} else {
		product.SKU = kiaPartNumber(doc)
	}
	product.PartNumber = CleanSKU(product.SKU)

	product.ActualPrice = kiaPrice(doc)
	if m := kiaMSRPRe.FindStringSubmatch(doc.Text()); m != nil {
		product.MSRP = strings.ReplaceAll(m[1], ",", "")
	}
	product.ImageURL = kiaImage(doc)
	product.Description = kiaDescription(doc)
	product.Fitments = kiaFitments(doc)

	k.log.Info("scraped product", "title", product.Title, "fitments", len(product.Fitments))
	return product, nil
}

// kiaPartNumber finds the "Part Number:" label div and takes the part
// link that follows it in the document.
func kiaPartNumber(doc *goquery.Document) string {
	var sku string
	doc.Find("div").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Children().Length() > 0 || !kiaPartLabelRe.MatchString(s.Text()) {
			return true
		}
		link := s.NextAllFiltered("a").First()
		if link.Length() == 0 {
			link = s.NextAll().Find("a").First()
		}
		if link.Length() == 0 {
			link = s.Parent().Find("a").First()
		}
		sku = strings.TrimSpace(link.Text())
		return sku == ""
	})
	return sku
}

// kiaPrice reads the sale price out of the first price styled div. Only
// the first match is consulted; the MSRP renders further down and is
// extracted separately.
func kiaPrice(doc *goquery.Document) string {
	div := findByClassRe(doc, kiaPriceClassRe, "div").First()
	if div.Length() == 0 {
		return ""
	}
	m := dollarRe.FindStringSubmatch(div.Text())
	if m == nil {
		return ""
	}
	return strings.ReplaceAll(m[1], ",", "")
}

func kiaImage(doc *goquery.Document) string {
	img := doc.Find("div.pn-img-img img").First()
	if img.Length() == 0 {
		img = doc.Find(`img[src*="/resources/encry/actual-picture"]`).First()
	}
	return absoluteURL(kiaBase, imgSrc(img))
}

// kiaDescription joins the bullet points of the description or spec
// list.
func kiaDescription(doc *goquery.Document) string {
	list := findByClassRe(doc, kiaDescClassRe, "ul").First()
	if list.Length() == 0 {
		return ""
	}
	var parts []string
	list.Find("li").Each(func(_ int, li *goquery.Selection) {
		if text := collapseSpace(li.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " ")
}

// kiaFitments parses the fit-vehicle-list table. The first cell reads
// like "2009-2021 Kia Forte", the second lists engines and the third the
// trim options, so each row fans out per year, engine and option.
func kiaFitments(doc *goquery.Document) []models.Fitment {
	var fitments []models.Fitment
	doc.Find("table.fit-vehicle-list-table tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}
		vehicle := collapseSpace(cells.Eq(0).Text())
		if vehicle == "" {
			return
		}
		years, model := kiaVehicle(vehicle)
		engines := splitList(cells.Eq(1).Text())
		options := splitList(cells.Eq(2).Text())
		for _, year := range years {
			for _, engine := range orBlank(engines) {
				for _, option := range orBlank(options) {
					fitments = append(fitments, models.Fitment{
						Year:   year,
						Make:   "Kia",
						Model:  model,
						Trim:   option,
						Engine: engine,
					})
				}
			}
		}
	})
	return fitments
}

// kiaVehicle splits "2009-2021 Kia Forte" into its years and model.
func kiaVehicle(text string) ([]string, string) {
	model := text
	var years []string
	if m := yearRangeRe.FindStringSubmatch(text); m != nil {
		years = expandRange(m[1], m[2])
		model = strings.Replace(model, m[0], "", 1)
	} else if lead := kiaLeadYearRe.FindString(model); lead != "" {
		years = []string{strings.TrimSpace(lead)}
		model = strings.TrimPrefix(model, lead)
	}
	model = collapseSpace(kiaMakeRe.ReplaceAllString(strings.TrimSpace(model), ""))
	if len(years) == 0 {
		years = []string{""}
	}
	return years, model
}
