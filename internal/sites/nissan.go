package sites

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/partsdev/oem-wheel-scraper/internal/models"
)

const nissanBase = "https://parts.nissanusa.com"

var (
	nissanCardRe     = regexp.MustCompile(`(?i)product|item|result`)
	nissanSKUClassRe = regexp.MustCompile(`(?i)sku|part.*number`)
	nissanOEMURLRe   = regexp.MustCompile(`(?i)/oem-parts/nissan-[^/]+-([a-z0-9]+)(?:-|$|\?)`)
	nissanProdURLRe  = regexp.MustCompile(`(?i)/product/[^/]+-([a-z0-9]+)(?:-|$|\?)`)
	nissanPriceRe    = regexp.MustCompile(`(?i)price|sale.*price`)
	nissanMSRPRe     = regexp.MustCompile(`(?i)list.*price|msrp`)
	nissanCDNImgRe   = regexp.MustCompile(`(?i)cdn-(product-images|illustrations)`)
	nissanImgClassRe = regexp.MustCompile(`(?i)product.*image|main.*image`)
	nissanDescRe     = regexp.MustCompile(`(?i)description|product.*description`)
	nissanPNStripRe  = regexp.MustCompile(`[-\s]`)
)

type nissan struct {
	core
}

func newNissan(deps Deps) Site {
	return &nissan{core: newCore("nissan", deps)}
}

func (n *nissan) ProductURLs(ctx context.Context) ([]string, error) {
	urls, err := n.searchCatalog(ctx, searchSpec{
		base:     nissanBase,
		firstURL: nissanBase + "/search?search_str=wheel",
		pages:    []string{"%s/search?search_str=wheel&page=%d"},
		minBytes: minListingBytes,
		maxEmpty: 3,
		links: func(doc *goquery.Document) []string {
			return nissanCatalogLinks(doc, nissanBase)
		},
	})
	if err != nil {
		return nil, err
	}
	n.log.Info("collected product urls", "count", len(urls))
	return urls, nil
}

// nissanCatalogLinks pulls product links out of search result cards. Pages
// render either div.catalog-product cards or a flat anchor list, so the
// card walk falls back to generic link collection.
func nissanCatalogLinks(doc *goquery.Document, base string) []string {
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

	doc.Find("div.catalog-product").Each(func(_ int, card *goquery.Selection) {
		link := card.Find("a.title-link").First()
		if link.Length() == 0 {
			link = card.Find("a.product-image-link").First()
		}
		if link.Length() == 0 {
			link = card.Find(catalogLinkSelector).First()
		}
		if href, ok := link.Attr("href"); ok {
			add(href)
		}
	})
	if len(urls) > 0 {
		return urls
	}

	for _, tag := range []string{"div", "article", "li"} {
		findByClassRe(doc, nissanCardRe, tag).Each(func(_ int, card *goquery.Selection) {
			if href, ok := card.Find("a[href]").First().Attr("href"); ok {
				add(href)
			}
		})
		if len(urls) > 0 {
			return urls
		}
	}
	return catalogLinks(doc, base)
}

func (n *nissan) ScrapeProduct(ctx context.Context, url string) (*models.Product, error) {
	doc, err := n.document(ctx, url)
	if err != nil {
		return nil, err
	}

	product := models.NewProduct(n.Name(), url)
	product.Title = nissanTitle(doc)
	if len(product.Title) < 3 {
		return nil, fmt.Errorf("%s: %w", url, ErrNoTitle)
	}
	if !IsWheelProduct(product.Title, "") {
		return nil, fmt.Errorf("%q: %w", product.Title, ErrNotWheel)
	}

	env, hasJSON := embeddedProductJSON(doc)
	product.SKU, product.PartNumber = nissanPartNumber(doc, url, env, hasJSON)
	product.ActualPrice = nissanPrice(doc, env, hasJSON)
	product.MSRP = nissanMSRP(doc, env, hasJSON)
	product.ImageURL = nissanImage(doc, nissanBase)
	product.Description = nissanDescription(doc, env, hasJSON)
	product.AlsoKnownAs = nissanAlsoKnownAs(doc, env, hasJSON)
	product.Replaces = supersededParts(doc)
	if hasJSON {
		product.Fitments = env.allFitments()
	}
	if len(product.Fitments) == 0 {
		product.Fitments = fitmentTableRows(doc)
	}

	n.log.Info("scraped product", "title", product.Title, "fitments", len(product.Fitments))
	return product, nil
}

func nissanTitle(doc *goquery.Document) string {
	if t := firstText(doc, "h1.product-title", "h1"); t != "" {
		return t
	}
	if t := metaContent(doc, `meta[property="og:title"]`); t != "" {
		return t
	}
	return pageTitle(doc)
}

// nissanPartNumber resolves the display SKU and the stripped part number.
// RevolutionParts pages carry both in the product_data JSON blob; older
// templates expose them through sku-display elements or cart button
// attributes, and the URL slug is the last resort.
func nissanPartNumber(doc *goquery.Document, url string, env productJSONEnvelope, hasJSON bool) (sku, pn string) {
	if hasJSON {
		if stripped := jsonText(env.SKUStripped); stripped != "" {
			pn = strings.ToUpper(stripped)
			if display := jsonText(env.SKU); display != "" {
				sku = strings.ToUpper(display)
			} else {
				sku = pn
			}
			return sku, pn
		}
	}

	disp := doc.Find("h2.sku-display").First()
	if disp.Length() == 0 {
		disp = doc.Find("span.sku-display").First()
	}
	if text := collapseSpace(disp.Text()); text != "" {
		sku = strings.ToUpper(text)
		pn = strings.ToUpper(nissanPNStripRe.ReplaceAllString(text, ""))
		return sku, pn
	}

	btn := doc.Find("button.add-to-cart").First()
	if stripped, ok := btn.Attr("data-sku-stripped"); ok && strings.TrimSpace(stripped) != "" {
		pn = strings.ToUpper(strings.TrimSpace(stripped))
		if display, ok := btn.Attr("data-sku"); ok && strings.TrimSpace(display) != "" {
			sku = strings.ToUpper(strings.TrimSpace(display))
		} else {
			sku = pn
		}
		return sku, pn
	}

	m := nissanOEMURLRe.FindStringSubmatch(url)
	if m == nil {
		m = nissanProdURLRe.FindStringSubmatch(url)
	}
	if m != nil {
		pn = strings.ToUpper(m[1])
		return pn, pn
	}

	elem := findByClassRe(doc, nissanSKUClassRe, "span", "div").First()
	if text := collapseSpace(elem.Text()); text != "" {
		sku = strings.ToUpper(text)
		pn = CleanSKU(sku)
	}
	return sku, pn
}

func nissanPrice(doc *goquery.Document, env productJSONEnvelope, hasJSON bool) string {
	elem := doc.Find("strong#product_price").First()
	if elem.Length() == 0 {
		elem = doc.Find("strong.sale-price-value").First()
	}
	if elem.Length() == 0 {
		elem = doc.Find("strong.sale-price-amount").First()
	}
	if elem.Length() == 0 {
		elem = findByClassRe(doc, nissanPriceRe, "span", "div").First()
	}
	if price := ExtractPrice(elem.Text()); price != "" {
		return price
	}
	if hasJSON {
		return ExtractPrice(jsonText(env.Price))
	}
	return ""
}

func nissanMSRP(doc *goquery.Document, env productJSONEnvelope, hasJSON bool) string {
	elem := doc.Find("span#product_price2").First()
	if elem.Length() == 0 {
		elem = doc.Find("span.list-price-value").First()
	}
	if elem.Length() == 0 {
		elem = findByClassRe(doc, nissanMSRPRe, "span").First()
	}
	if msrp := ExtractPrice(elem.Text()); msrp != "" {
		return msrp
	}
	if hasJSON {
		if msrp := ExtractPrice(jsonText(env.MSRP)); msrp != "" {
			return msrp
		}
	}
	if attr, ok := doc.Find("button.add-to-cart").First().Attr("data-msrp"); ok {
		return ExtractPrice(attr)
	}
	return ""
}

func nissanImage(doc *goquery.Document, base string) string {
	if src := imgSrc(doc.Find("img.product-main-image").First()); src != "" {
		return absoluteURL(base, src)
	}
	if src := imgSrc(doc.Find("a.product-main-image-link img").First()); src != "" {
		return absoluteURL(base, src)
	}
	cdn := doc.Find("img").FilterFunction(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		return nissanCDNImgRe.MatchString(src)
	}).First()
	if src := imgSrc(cdn); src != "" {
		return absoluteURL(base, src)
	}
	if src := imgSrc(findByClassRe(doc, nissanImgClassRe, "img").First()); src != "" {
		return absoluteURL(base, src)
	}
	if src := imgSrc(doc.Find(`img[itemprop="image"]`).First()); src != "" {
		return absoluteURL(base, src)
	}
	return ""
}

func nissanDescription(doc *goquery.Document, env productJSONEnvelope, hasJSON bool) string {
	body := doc.Find("li.description span.description_body").First()
	if body.Length() > 0 {
		if p := collapseSpace(body.Find("p").First().Text()); p != "" {
			return p
		}
		if text := collapseSpace(body.Text()); text != "" {
			return text
		}
	}
	if hasJSON && env.Description != "" {
		if text := stripTags(env.Description); len(text) > 5 {
			return text
		}
	}
	return collapseSpace(findByClassRe(doc, nissanDescRe, "div").First().Text())
}

func nissanAlsoKnownAs(doc *goquery.Document, env productJSONEnvelope, hasJSON bool) string {
	if aka := alsoKnownAs(doc); aka != "" {
		return aka
	}
	if hasJSON {
		return strings.TrimSpace(jsonText(env.AlsoKnownAs))
	}
	return ""
}
