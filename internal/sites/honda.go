package sites

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/partsdev/oem-wheel-scraper/internal/models"
)

const hondaBase = "https://www.hondapartsonline.net"

// The storefront answers several pagination parameter spellings
// depending on which frontend build is live; all are tried per page.
var hondaSearchPages = []string{
	"%s/search?search_str=wheel&page=%d",
	"%s/search?search_str=wheel&p=%d",
	"%s/search?search_str=wheel&pageNumber=%d",
	"%s/search?q=wheel&page=%d",
}

var (
	hondaSKUClassRe   = regexp.MustCompile(`(?i)sku|part.*number`)
	hondaDigitsRe     = regexp.MustCompile(`^\d{6,}$`)
	hondaSalePriceRe  = regexp.MustCompile(`(?i)sale.*price`)
	hondaPriceValueRe = regexp.MustCompile(`(?i)sale.*price|price.*value`)
	hondaListPriceRe  = regexp.MustCompile(`(?i)list.*price`)
	hondaMSRPClassRe  = regexp.MustCompile(`(?i)msrp|list.*price`)
	hondaCompareRe    = regexp.MustCompile(`(?i)compared|compare.*price`)
	hondaProductImgRe = regexp.MustCompile(`(?i)product.*image|main.*image`)
	hondaImgSrcRe     = regexp.MustCompile(`(?i)product|part|wheel`)
	hondaDescClassRe  = regexp.MustCompile(`(?i)description`)
	hondaSupersededRe = regexp.MustCompile(`(?i)superseded|replaces`)
)

type honda struct {
	core
}

func newHonda(deps Deps) Site {
	return &honda{core: newCore("honda", deps)}
}

func (h *honda) ProductURLs(ctx context.Context) ([]string, error) {
	urls, err := h.searchCatalog(ctx, searchSpec{
		base:     hondaBase,
		firstURL: hondaBase + "/search?search_str=wheel",
		pages:    hondaSearchPages,
		maxEmpty: 4,
		links: func(doc *goquery.Document) []string {
			return catalogLinks(doc, hondaBase)
		},
	})
	if err != nil {
		return nil, err
	}
	h.log.Info("collected product urls", "count", len(urls))
	return urls, nil
}

func (h *honda) ScrapeProduct(ctx context.Context, url string) (*models.Product, error) {
	doc, err := h.document(ctx, url)
	if err != nil {
		return nil, err
	}
	product := models.NewProduct(h.name, url)

	product.Title = hondaTitle(doc)
	if len(product.Title) < 3 {
		return nil, fmt.Errorf("%s: %w", url, ErrNoTitle)
	}
	if !IsWheelProduct(product.Title, "") {
		return nil, fmt.Errorf("%q: %w", product.Title, ErrNotWheel)
	}

	product.SKU = hondaPartNumber(doc, product.Title)
	product.PartNumber = CleanSKU(product.SKU)

	product.ActualPrice = hondaPrice(doc)
	product.MSRP = hondaMSRP(doc)
	product.ImageURL = hondaImage(doc)
	product.Description = hondaDescription(doc)
	product.AlsoKnownAs = listValue(doc.Find("li.also_known_as").First())
	product.Replaces = hondaReplaces(doc)
	if env, ok := embeddedProductJSON(doc); ok {
		product.Fitments = env.allFitments()
	}

	h.log.Info("scraped product", "title", product.Title, "fitments", len(product.Fitments))
	return product, nil
}

func hondaTitle(doc *goquery.Document) string {
	if t := collapseSpace(doc.Find("h1").First().Text()); len(t) >= 3 {
		return t
	}
	if t := metaContent(doc, `meta[property="og:title"]`); len(t) >= 3 {
		return t
	}
	return pageTitle(doc)
}

// hondaPartNumber reads the sku styled node. Titles end with the part
// number on pages that render no such node, so the last long digit run
// in the title is the fallback.
func hondaPartNumber(doc *goquery.Document, title string) string {
	if sku := collapseSpace(findByClassRe(doc, hondaSKUClassRe, "span", "div", "h2").First().Text()); sku != "" {
		return sku
	}
	words := strings.Fields(title)
	for i := len(words) - 1; i >= 0; i-- {
		if hondaDigitsRe.MatchString(words[i]) {
			return words[i]
		}
	}
	return ""
}

func hondaPrice(doc *goquery.Document) string {
	if p := ExtractPrice(doc.Find("strong#product_price").First().Text()); p != "" {
		return p
	}
	if p := ExtractPrice(findByClassRe(doc, hondaSalePriceRe, "strong").First().Text()); p != "" {
		return p
	}
	if p := ExtractPrice(doc.Find("span#product_price").First().Text()); p != "" {
		return p
	}
	if p := ExtractPrice(findByClassRe(doc, hondaSalePriceRe, "span").First().Text()); p != "" {
		return p
	}
	if p := ExtractPrice(findByClassRe(doc, hondaPriceValueRe, "div").First().Text()); p != "" {
		return p
	}
	return ExtractPrice(metaContent(doc, `meta[itemprop="price"]`))
}

// hondaMSRP reads the list price, which renders as the crossed-out
// comparison next to the sale price.
func hondaMSRP(doc *goquery.Document) string {
	if p := ExtractPrice(doc.Find("span#product_price2").First().Text()); p != "" {
		return p
	}
	if p := ExtractPrice(findByClassRe(doc, hondaListPriceRe, "span").First().Text()); p != "" {
		return p
	}
	if p := ExtractPrice(findByClassRe(doc, hondaMSRPClassRe, "div").First().Text()); p != "" {
		return p
	}
	return ExtractPrice(findByClassRe(doc, hondaCompareRe, "span").First().Text())
}

func hondaImage(doc *goquery.Document) string {
	img := findByClassRe(doc, hondaProductImgRe, "img").First()
	if img.Length() == 0 {
		img = doc.Find(`img[itemprop="image"]`).First()
	}
	if img.Length() == 0 {
		img = hondaImageBySrc(doc)
	}
	if src := imgSrc(img); src != "" {
		return absoluteURL(hondaBase, src)
	}
	if src := metaContent(doc, `meta[property="og:image"]`); src != "" {
		return absoluteURL(hondaBase, src)
	}
	return ""
}

// hondaImageBySrc falls back to the first image whose source mentions a
// product, part or wheel.
func hondaImageBySrc(doc *goquery.Document) *goquery.Selection {
	return doc.Find("img").FilterFunction(func(_ int, img *goquery.Selection) bool {
		src, _ := img.Attr("src")
		return hondaImgSrcRe.MatchString(src)
	}).First()
}

func hondaDescription(doc *goquery.Document) string {
	if d := collapseSpace(metaContent(doc, `meta[property="og:description"]`)); d != "" {
		return d
	}
	if d := collapseSpace(doc.Find("span.description_body").First().Text()); d != "" {
		return d
	}
	if d := collapseSpace(doc.Find("li.description span.list-value").First().Text()); d != "" {
		return d
	}
	if d := collapseSpace(findByClassRe(doc, hondaDescClassRe, "div").First().Text()); d != "" {
		return d
	}
	return collapseSpace(findByClassRe(doc, hondaDescClassRe, "p").First().Text())
}

func hondaReplaces(doc *goquery.Document) string {
	if r := supersededParts(doc); r != "" {
		return r
	}
	return listValue(findByClassRe(doc, hondaSupersededRe, "li").First())
}
