package sites

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/partsdev/oem-wheel-scraper/internal/models"
)

const subaruBase = "https://parts.subaru.com"

// One search request with numResults=250 returns the whole wheel catalog,
// so there is no pagination to walk.
const subaruSearch = subaruBase + "/productSearch.aspx?ukey_make=5806&modelYear=0&ukey_model=0" +
	"&ukey_trimLevel=0&ukey_driveline=0&ukey_Category=0&numResults=250&sortOrder=Relevance" +
	"&ukey_tag=0&isOnSale=0&isAccessory=0&isPerformance=0&showAllModels=1&searchTerm=wheel"

var (
	subaruProductRe = regexp.MustCompile(`(?i)/p/Subaru__/[^/]+/\d+/[^/]+\.html$`)
	subaruSKURe     = regexp.MustCompile(`/p/Subaru__/[^/]+/\d+/([^/]+)\.html`)
	subaruTrimRe    = regexp.MustCompile(`(?i)\b(Plus|Premium|Limited|Touring|Base|Sport|XT|STI|WRX|Onyx|Wilderness|Outdoor|Convenience)\b`)
)

var subaruEngineWords = map[string]bool{
	"cvt":   true,
	"mt":    true,
	"at":    true,
	"a/t":   true,
	"m/t":   true,
	"v6":    true,
	"h4":    true,
	"h6":    true,
	"turbo": true,
}

var subaruGrammar = vehicleGrammar{
	makeName: "Subaru",
	engineWord: func(w string) bool {
		return subaruEngineWords[strings.ToLower(w)]
	},
	trimHint: subaruTrimRe,
}

type subaru struct {
	core
}

func newSubaru(deps Deps) Site {
	return &subaru{core: newCore("subaru", deps)}
}

// ProductURLs reads the single search results page. Product links look
// like /p/Subaru__/WHEEL-DISC/12345/28111AJ250.html.
func (s *subaru) ProductURLs(ctx context.Context) ([]string, error) {
	html, err := s.listingHTML(ctx, subaruSearch)
	if err != nil {
		return nil, fmt.Errorf("failed to load search results: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}
	urls := collectProductLinks(doc, subaruBase, `a[href*="/p/Subaru__/"]`, subaruProductRe)
	s.log.Info("collected product urls", "count", len(urls))
	return urls, nil
}

func (s *subaru) ScrapeProduct(ctx context.Context, url string) (*models.Product, error) {
	doc, err := s.document(ctx, url)
	if err != nil {
		return nil, err
	}
	product := models.NewProduct(s.name, url)

	product.Title = subaruTitle(doc)
	if len(product.Title) < 3 {
		return nil, fmt.Errorf("%s: %w", url, ErrNoTitle)
	}
	if !IsWheelProduct(product.Title, "") {
		return nil, fmt.Errorf("%q: %w", product.Title, ErrNotWheel)
	}

	product.PartNumber = subaruPartNumber(doc, url)
	product.SKU = product.PartNumber

	product.ActualPrice = subaruPrice(doc)
	product.MSRP = subaruMSRP(doc)
	if product.MSRP == "" {
		product.MSRP = product.ActualPrice
	}
	product.ImageURL = simplePartImage(doc, subaruBase)
	product.Description = subaruDescription(doc)
	product.AlsoKnownAs = alsoKnownAs(doc)
	product.Replaces = supersededParts(doc)
	product.Fitments = subaruFitments(doc)

	s.log.Info("scraped product", "title", product.Title, "fitments", len(product.Fitments))
	return product, nil
}

func subaruTitle(doc *goquery.Document) string {
	for _, sel := range []string{"span.prodDescriptH2", "h1 span", "h1"} {
		if t := collapseSpace(doc.Find(sel).First().Text()); len(t) >= 3 {
			return t
		}
	}
	if t := metaContent(doc, `meta[itemprop="name"]`); len(t) >= 3 {
		return t
	}
	return pageTitle(doc)
}

// subaruPartNumber reads the stock code, falling back to the URL and the
// sku meta tag. Codes render with trailing padding, so all whitespace is
// squeezed out.
func subaruPartNumber(doc *goquery.Document, url string) string {
	if pn := squeezeSpace(doc.Find("span.stock-code-text strong").First().Text()); pn != "" {
		return strings.ToUpper(pn)
	}
	if m := subaruSKURe.FindStringSubmatch(url); m != nil {
		return strings.ToUpper(squeezeSpace(m[1]))
	}
	return strings.ToUpper(squeezeSpace(metaContent(doc, `meta[itemprop="sku"]`)))
}

func subaruPrice(doc *goquery.Document) string {
	if p := ExtractPrice(doc.Find("span.productPriceSpan, span.money-3").First().Text()); p != "" {
		return p
	}
	if p := ExtractPrice(metaContent(doc, `meta[itemprop="price"]`)); p != "" {
		return p
	}
	if ld, ok := firstProductLD(doc); ok {
		return ExtractPrice(ld.price())
	}
	return ""
}

// subaruMSRP reads the MSRP quadrant of the price header, where the
// heading and the amount are sibling divs.
func subaruMSRP(doc *goquery.Document) string {
	var msrp string
	doc.Find("div.price-header-heading").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.Contains(s.Text(), "MSRP") {
			return true
		}
		amount := s.NextAllFiltered("div.price-header-price").First()
		if amount.Length() == 0 {
			amount = s.Parent().Find("div.price-header-price").First()
		}
		msrp = ExtractPrice(amount.Text())
		return msrp == ""
	})
	if msrp == "" {
		msrp = ExtractPrice(doc.Find("div.price-header-title div.price-header-price").First().Text())
	}
	return msrp
}

func subaruDescription(doc *goquery.Document) string {
	var parts []string
	doc.Find("div.item-desc p").Each(func(_ int, p *goquery.Selection) {
		if text := collapseSpace(p.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	return metaContent(doc, `meta[itemprop="description"]`)
}

// simplePartImage resolves the product image SimplePart themes render,
// preferring the itemprop tagged img over the assembly preview.
func simplePartImage(doc *goquery.Document, base string) string {
	img := doc.Find(`img[itemprop="image"]`).First()
	if img.Length() == 0 {
		img = doc.Find("img.assemblyPreviewFullImg").First()
	}
	if src := imgSrc(img); src != "" {
		return absoluteURL(base, src)
	}
	return metaContent(doc, `meta[itemprop="image"]`)
}

// subaruFitments reads the what-this-fits rows, which pair a vehicle
// description div with a years div whose links carry the model years.
func subaruFitments(doc *goquery.Document) []models.Fitment {
	rows := doc.Find("div.col-md-12").First().Find("div.col-lg-12")
	if rows.Length() == 0 {
		rows = doc.Find("div.col-lg-12")
	}
	var fitments []models.Fitment
	rows.Each(func(_ int, row *goquery.Selection) {
		fitCell := row.Find("div.whatThisFitsFitment").First()
		yearCell := row.Find("div.whatThisFitsYears").First()
		if fitCell.Length() == 0 || yearCell.Length() == 0 {
			return
		}
		vehicle := collapseSpace(fitCell.Text())
		if vehicle == "" {
			return
		}
		model, trim, engine := subaruGrammar.parse(vehicle)
		for _, year := range orBlank(cellYears(yearCell)) {
			fitments = append(fitments, models.Fitment{
				Year:   year,
				Make:   "Subaru",
				Model:  model,
				Trim:   trim,
				Engine: engine,
			})
		}
	})
	if len(fitments) == 0 {
		fitments = guidedNavYears(doc, "Subaru")
	}
	return fitments
}

// cellYears reads the years out of a what-this-fits years cell, one per
// link, falling back to the cell text for ranges like "2010-2015".
func cellYears(cell *goquery.Selection) []string {
	var years []string
	seen := make(map[string]bool)
	cell.Find("a").Each(func(_ int, a *goquery.Selection) {
		if y := yearRe.FindString(a.Text()); y != "" && !seen[y] {
			seen[y] = true
			years = append(years, y)
		}
	})
	if len(years) > 0 {
		return years
	}
	return expandYears(cell.Text())
}

// guidedNavYears falls back to the guided navigation year links when a
// page renders no fitment rows. Only the years are known there.
func guidedNavYears(doc *goquery.Document, makeName string) []models.Fitment {
	var fitments []models.Fitment
	doc.Find("div.guided-nav a.guided-nav__body__item").Each(func(_ int, a *goquery.Selection) {
		if y := yearRe.FindString(a.Text()); y != "" {
			fitments = append(fitments, models.Fitment{Year: y, Make: makeName})
		}
	})
	return fitments
}
