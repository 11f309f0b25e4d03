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

const mazdaBase = "https://www.jimellismazdaparts.com"

// Same SimplePart storefront as Subaru: one search request with
// numResults=250 covers the catalog.
const mazdaSearch = mazdaBase + "/productSearch.aspx?ukey_make=995&modelYear=0&ukey_model=0" +
	"&ukey_trimLevel=0&ukey_driveline=0&ukey_Category=0&numResults=250&sortOrder=Relevance" +
	"&ukey_tag=0&isOnSale=0&isAccessory=0&isPerformance=0&showAllModels=1&searchTerm=wheel"

var (
	mazdaProductRe  = regexp.MustCompile(`(?i)/products/Mazda/[^/]+/\d+/[^/]+\.html$`)
	mazdaPNRe       = regexp.MustCompile(`/products/Mazda/[^/]+/\d+/([^/]+)\.html`)
	mazdaMSRPRe     = regexp.MustCompile(`(?i)^MSRP:\s*\$?\s*`)
	mazdaYearHrefRe = regexp.MustCompile(`/products/Mazda/(\d{4})`)
	mazdaYearTextRe = regexp.MustCompile(`^\d{4}$`)
	mazdaAnyYearRe  = regexp.MustCompile(`\b\d{4}\b`)
	mazdaTrimRe     = regexp.MustCompile(`(?i)\b(Grand Touring|Carbon Edition|Touring|GT|Sport|Base|Signature|Carbon|Club|Miata|MX-5|CX|Preferred|Premium|Luxury|Limited|Edition|SE|LE)\b`)
	mazdaEngineCode = regexp.MustCompile(`(?i)^[vi]\d$`)
)

// Drivetrain and body style words that never belong to a trim name.
var mazdaTrimSkips = map[string]bool{
	"awd":         true,
	"fwd":         true,
	"rwd":         true,
	"4wd":         true,
	"a/t":         true,
	"m/t":         true,
	"cvt":         true,
	"auto":        true,
	"manual":      true,
	"sedan":       true,
	"suv":         true,
	"hatchback":   true,
	"coupe":       true,
	"convertible": true,
	"wagon":       true,
	"truck":       true,
	"crossover":   true,
}

func mazdaEngineWord(w string) bool {
	lw := strings.ToLower(w)
	if strings.HasPrefix(lw, "skyactiv") {
		return true
	}
	switch lw {
	case "gas", "electric", "hybrid", "mild", "ev-gas", "(mhev)", "a/t", "m/t", "cvt", "auto", "manual":
		return true
	}
	return mazdaEngineCode.MatchString(lw)
}

var mazdaGrammar = vehicleGrammar{
	makeName:   "Mazda",
	engineWord: mazdaEngineWord,
	trimSkip: func(w string) bool {
		return mazdaTrimSkips[strings.ToLower(w)]
	},
	trimHint: mazdaTrimRe,
}

type mazda struct {
	core
}

func newMazda(deps Deps) Site {
	return &mazda{core: newCore("mazda", deps)}
}

// ProductURLs reads the single search results page. Product links look
// like /products/Mazda/Wheel/15384954/9965138500.html.
func (m *mazda) ProductURLs(ctx context.Context) ([]string, error) {
	html, err := m.listingHTML(ctx, mazdaSearch)
	if err != nil {
		return nil, fmt.Errorf("failed to load search results: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}
	urls := collectProductLinks(doc, mazdaBase, `a[href*="/products/Mazda/"]`, mazdaProductRe)
	m.log.Info("collected product urls", "count", len(urls))
	return urls, nil
}

func (m *mazda) ScrapeProduct(ctx context.Context, url string) (*models.Product, error) {
	doc, err := m.document(ctx, url)
	if err != nil {
		return nil, err
	}
	product := models.NewProduct(m.name, url)

	product.Title = mazdaTitle(doc)
	if len(product.Title) < 3 {
		return nil, fmt.Errorf("%s: %w", url, ErrNoTitle)
	}
	if !IsWheelProduct(product.Title, "") {
		return nil, fmt.Errorf("%q: %w", product.Title, ErrNotWheel)
	}

	if pn := mazdaPNRe.FindStringSubmatch(url); pn != nil {
		product.PartNumber = pn[1]
	} else {
		product.PartNumber = mazdaStockCode(doc)
	}
	product.SKU, product.Replaces = mazdaSupersession(doc)

	product.ActualPrice = ExtractPrice(doc.Find(`span[class*="productPriceSpan"]`).First().Text())
	if msrpText := collapseSpace(doc.Find(`div[class*="msrpRow"]`).First().Text()); msrpText != "" {
		product.MSRP = ExtractPrice(mazdaMSRPRe.ReplaceAllString(msrpText, ""))
	}
	product.ImageURL = absoluteURL(mazdaBase, imgSrc(doc.Find(`img[itemprop="image"]`).First()))
	product.Description = mazdaDescription(doc)
	product.Fitments = mazdaFitments(doc)

	m.log.Info("scraped product", "title", product.Title, "fitments", len(product.Fitments))
	return product, nil
}

func mazdaTitle(doc *goquery.Document) string {
	for _, sel := range []string{"span.prodDescriptH2", "h1 span.prodDescriptH2", "h1"} {
		if t := collapseSpace(doc.Find(sel).First().Text()); len(t) >= 3 {
			return t
		}
	}
	return pageTitle(doc)
}

func mazdaStockCode(doc *goquery.Document) string {
	span := doc.Find(`span[itemprop="value"][class*="stock-code-text"]`).First()
	if strong := span.Find("strong").First(); strong.Length() > 0 {
		return collapseSpace(strong.Text())
	}
	return collapseSpace(span.Text())
}

// mazdaSupersession splits the alternate stock code history, e.g.
// "9965-13-8500; ; 9965-19-8500". The first entry is the display SKU and
// the newest different entry is what the part replaces.
func mazdaSupersession(doc *goquery.Document) (sku, replaces string) {
	text := collapseSpace(doc.Find(`span[class*="alt-stock-code-text"] strong`).First().Text())
	if text == "" {
		return "", ""
	}
	var parts []string
	for _, p := range strings.Split(text, ";") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "", ""
	}
	sku = parts[0]
	if len(parts) > 1 {
		for i := len(parts) - 1; i >= 0; i-- {
			if parts[i] != sku {
				replaces = parts[i]
				break
			}
		}
	}
	return sku, replaces
}

func mazdaDescription(doc *goquery.Document) string {
	var parts []string
	doc.Find(`div[class*="item-desc"] p`).Each(func(_ int, p *goquery.Selection) {
		if text := collapseSpace(p.Text()); len(text) > 10 {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " ")
}

// mazdaFitments reads the What This Fits tab. The application list
// renders as a table on current pages and as paired what-this-fits divs
// on older ones.
func mazdaFitments(doc *goquery.Document) []models.Fitment {
	var fitments []models.Fitment
	addVehicle := func(vehicle string, years []string) {
		if vehicle == "" {
			return
		}
		model, trim, engine := mazdaGrammar.parse(vehicle)
		for _, year := range orBlank(years) {
			fitments = append(fitments, models.Fitment{
				Year:   year,
				Make:   "Mazda",
				Model:  model,
				Trim:   trim,
				Engine: engine,
			})
		}
	}

	doc.Find(`div[id$="div_applicationListContainer"] table tr`).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() == 0 {
			return
		}
		vehicle := collapseSpace(cells.Eq(0).Text())
		var years []string
		if cells.Length() >= 2 {
			years = mazdaCellYears(cells.Eq(1))
		}
		addVehicle(vehicle, years)
	})
	if len(fitments) > 0 {
		return fitments
	}

	rows := doc.Find("div#WhatThisFitsTabComponent_TABPANEL div.col-lg-12")
	if rows.Length() == 0 {
		rows = doc.Find("div.col-lg-12")
	}
	rows.Each(func(_ int, row *goquery.Selection) {
		fitCell := row.Find("div.whatThisFitsFitment").First()
		yearCell := row.Find("div.whatThisFitsYears").First()
		if fitCell.Length() == 0 || yearCell.Length() == 0 {
			return
		}
		addVehicle(collapseSpace(fitCell.Text()), cellYears(yearCell))
	})
	return fitments
}

// mazdaCellYears prefers the catalog year encoded in each link's href
// over the link text, then falls back to plausible years in the cell.
func mazdaCellYears(cell *goquery.Selection) []string {
	var years []string
	seen := make(map[string]bool)
	add := func(y string) {
		if y != "" && !seen[y] {
			seen[y] = true
			years = append(years, y)
		}
	}
	cell.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if m := mazdaYearHrefRe.FindStringSubmatch(href); m != nil {
			add(m[1])
			return
		}
		if text := strings.TrimSpace(a.Text()); mazdaYearTextRe.MatchString(text) {
			add(text)
		}
	})
	if len(years) > 0 {
		return years
	}
	for _, y := range mazdaAnyYearRe.FindAllString(cell.Text(), -1) {
		if n, err := strconv.Atoi(y); err == nil && n >= 1900 && n <= 2100 {
			add(y)
		}
	}
	return years
}
