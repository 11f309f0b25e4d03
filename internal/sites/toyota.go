package sites

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/partsdev/oem-wheel-scraper/internal/models"
)

const toyotaBase = "https://autoparts.toyota.com"

var toyotaSearchPages = []string{
	"%s/search?search_query=wheel&p=%d",
	"%s/search?search_query=wheel&page=%d",
	"%s/search?q=wheel&p=%d",
}

var (
	toyotaTitleSelector = `p[data-atom="typography"][data-size="body16"]`
	toyotaSpecsSelector = `div[data-molecule="product-detail"][data-part="specs"]`
	toyotaPNClassRe     = regexp.MustCompile(`(?i)jzOfyj`)
	toyotaPartNumRe     = regexp.MustCompile(`^\d{5}-[A-Z0-9]{5}$`)
	toyotaURLPartRe     = regexp.MustCompile(`(?i)/product/[^/]+-(\d+[A-Z0-9-]+)`)
	toyotaMSRPClassRe   = regexp.MustCompile(`(?i)ibuCTj`)
	toyotaMSRPTextRe    = regexp.MustCompile(`(?i)MSRP\s*\$?\s*([\d,]+\.?\d*)`)
	toyotaPNStripRe     = regexp.MustCompile(`[-\s]`)
	toyotaDescClassRe   = regexp.MustCompile(`(?i)iKpZPZ|sc-iLnaUn`)
	toyotaEPCImgRe      = regexp.MustCompile(`(?i)epc-images\.toyota\.com`)
)

type toyota struct {
	core
}

func newToyota(deps Deps) Site {
	return &toyota{core: newCore("toyota", deps)}
}

func (t *toyota) ProductURLs(ctx context.Context) ([]string, error) {
	urls, err := t.searchCatalog(ctx, searchSpec{
		base:     toyotaBase,
		firstURL: toyotaBase + "/search?search_query=wheel",
		pages:    toyotaSearchPages,
		minBytes: minListingBytes,
		maxEmpty: 3,
		links: func(doc *goquery.Document) []string {
			return toyotaCatalogLinks(doc, toyotaBase)
		},
	})
	if err != nil {
		return nil, err
	}
	t.log.Info("collected product urls", "count", len(urls))
	return urls, nil
}

// toyotaCatalogLinks locates wheel products on a search page. Result cards
// carry a typography title element rather than a usable anchor text, so each
// wheel-titled card is walked upward until a /product/ link appears.
func toyotaCatalogLinks(doc *goquery.Document, base string) []string {
	var urls []string
	seen := make(map[string]bool)
	add := func(href string) {
		u := normalizeCatalogURL(base, href)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}

	doc.Find(toyotaTitleSelector).Each(func(_ int, title *goquery.Selection) {
		if !strings.Contains(strings.ToLower(title.Text()), "wheel") {
			return
		}
		if href, ok := toyotaProductLink(title); ok {
			add(href)
		}
	})
	if len(urls) > 0 {
		return urls
	}

	doc.Find(`a[href*="/product/"]`).Each(func(_ int, a *goquery.Selection) {
		if !strings.Contains(strings.ToLower(a.Text()), "wheel") {
			return
		}
		if href, ok := a.Attr("href"); ok {
			add(href)
		}
	})
	if len(urls) > 0 {
		return urls
	}
	return catalogLinks(doc, base)
}

func toyotaProductLink(title *goquery.Selection) (string, bool) {
	if href, ok := title.Closest(`a[href*="/product/"]`).Attr("href"); ok {
		return href, true
	}
	parents := title.Parents()
	depth := parents.Length()
	if depth > 10 {
		depth = 10
	}
	for i := 0; i < depth; i++ {
		link := parents.Eq(i).Find(`a[href*="/product/"]`).First()
		if href, ok := link.Attr("href"); ok {
			return href, true
		}
	}
	return "", false
}

func (t *toyota) ScrapeProduct(ctx context.Context, url string) (*models.Product, error) {
	doc, err := t.document(ctx, url)
	if err != nil {
		return nil, err
	}

	ld, hasLD := firstProductLD(doc)

	product := models.NewProduct(t.Name(), url)
	product.Title = toyotaTitle(doc, ld, hasLD)
	if len(product.Title) < 3 {
		return nil, fmt.Errorf("%s: %w", url, ErrNoTitle)
	}
	if !IsWheelProduct(product.Title, "") {
		return nil, fmt.Errorf("%q: %w", product.Title, ErrNotWheel)
	}

	product.SKU, product.PartNumber = toyotaPartNumber(doc, url, ld, hasLD)
	if hasLD {
		product.ActualPrice = ExtractPrice(ld.price())
	}
	product.MSRP = toyotaMSRP(doc)
	if product.ActualPrice == "" {
		product.ActualPrice = product.MSRP
	}
	product.ImageURL = toyotaImage(doc, ld, hasLD)
	product.Description = toyotaDescription(doc, ld, hasLD)
	product.AlsoKnownAs = alsoKnownAs(doc)
	product.Replaces = supersededParts(doc)
	product.Fitments = fitmentTableRows(doc)

	t.log.Info("scraped product", "title", product.Title, "fitments", len(product.Fitments))
	return product, nil
}

func toyotaTitle(doc *goquery.Document, ld productLD, hasLD bool) string {
	if t := collapseSpace(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	if hasLD && ld.Name != "" {
		return collapseSpace(ld.Name)
	}
	if t := metaContent(doc, `meta[property="og:title"]`); t != "" {
		return t
	}
	return pageTitle(doc)
}

// toyotaPartNumber reads the hyphenated SKU from the product specs list,
// where a "Part Number" label row precedes the value row. Styled-component
// class names, JSON-LD mpn, and the URL slug serve as fallbacks.
func toyotaPartNumber(doc *goquery.Document, url string, ld productLD, hasLD bool) (sku, pn string) {
	specs := doc.Find(toyotaSpecsSelector).First().Find(`p[data-atom="typography"][data-size="body14"]`)
	specs.EachWithBreak(func(i int, item *goquery.Selection) bool {
		text := collapseSpace(item.Text())
		if text == "" || !strings.Contains(strings.ToLower(text), "part number") {
			return true
		}
		if i+1 >= specs.Length() {
			return true
		}
		value := collapseSpace(specs.Eq(i + 1).Text())
		if value == "" {
			return true
		}
		sku = strings.ToUpper(value)
		pn = strings.ToUpper(toyotaPNStripRe.ReplaceAllString(value, ""))
		return false
	})
	if sku != "" {
		return sku, pn
	}

	findByClassRe(doc, toyotaPNClassRe, "p").EachWithBreak(func(_ int, elem *goquery.Selection) bool {
		text := strings.ToUpper(collapseSpace(elem.Text()))
		if !toyotaPartNumRe.MatchString(text) {
			return true
		}
		sku = text
		pn = toyotaPNStripRe.ReplaceAllString(text, "")
		return false
	})
	if sku != "" {
		return sku, pn
	}

	if hasLD {
		if mpn := strings.ToUpper(strings.TrimSpace(jsonText(ld.MPN))); mpn != "" {
			pn = toyotaPNStripRe.ReplaceAllString(mpn, "")
			if strings.Contains(mpn, "-") {
				sku = mpn
			}
		}
	}
	if pn == "" {
		if m := toyotaURLPartRe.FindStringSubmatch(url); m != nil {
			raw := strings.ToUpper(m[1])
			pn = toyotaPNStripRe.ReplaceAllString(raw, "")
			if len(raw) >= 10 && !strings.Contains(raw, "-") {
				sku = raw[:5] + "-" + raw[5:]
			}
		}
	}
	if pn != "" && sku == "" {
		if len(pn) >= 10 {
			sku = pn[:5] + "-" + pn[5:]
		} else {
			sku = pn
		}
	}
	return sku, pn
}

func toyotaMSRP(doc *goquery.Document) string {
	spans := findByClassRe(doc, toyotaMSRPClassRe, "span")
	if msrp := toyotaMSRPValue(spans.First().Text()); msrp != "" {
		return msrp
	}

	var msrp string
	doc.Find("span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(strings.ToUpper(text), "MSRP") {
			return true
		}
		if v := toyotaMSRPValue(text); v != "" {
			msrp = v
			return false
		}
		return true
	})
	return msrp
}

func toyotaMSRPValue(text string) string {
	if m := toyotaMSRPTextRe.FindStringSubmatch(text); m != nil {
		return strings.ReplaceAll(m[1], ",", "")
	}
	return ExtractPrice(text)
}

func toyotaImage(doc *goquery.Document, ld productLD, hasLD bool) string {
	epc := doc.Find("img").FilterFunction(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		return toyotaEPCImgRe.MatchString(src)
	}).First()
	if src := imgSrc(epc); src != "" {
		return absoluteURL(toyotaBase, src)
	}
	if hasLD {
		if src := jsonText(ld.Image); src != "" {
			return src
		}
	}
	return metaContent(doc, `meta[property="og:image"]`)
}

func toyotaDescription(doc *goquery.Document, ld productLD, hasLD bool) string {
	if text := collapseSpace(findByClassRe(doc, toyotaDescClassRe, "p").First().Text()); text != "" {
		return text
	}

	section := doc.Find(`div[data-molecule="product-detail"][data-part="description"]`).First()
	var parts []string
	section.Find(`p[data-atom="typography"]`).Each(func(_ int, p *goquery.Selection) {
		if text := collapseSpace(p.Text()); len(text) > 10 {
			parts = append(parts, text)
		}
	})
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}

	if hasLD && ld.Description != "" {
		if text := stripTags(ld.Description); len(text) > 5 {
			return text
		}
	}
	if desc := metaContent(doc, `meta[itemprop="description"]`); desc != "" {
		return desc
	}
	return metaContent(doc, `meta[name="description"]`)
}
