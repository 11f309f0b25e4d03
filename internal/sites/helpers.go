package sites

import (
	"html"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// minListingBytes is the smallest rendered listing page these catalogs
// serve. Shorter responses are stubs or error pages and carry no links.
const minListingBytes = 5000

// Terms that mark a listing as some other wheel-adjacent part. Checked
// before the include keywords so "wheel bearing" never passes as a wheel.
var wheelExclusions = []string{
	"steering wheel",
	"wheel flange",
	"wheel bearing",
	"wheel spacer",
	"bearing hub",
	"hub bearing",
	"wheel hub",
	"bearing assembly",
	"wheel nut",
	"wheel stud",
	"wheel bolt",
	"wheel valve",
	"wheel weight",
	"wheel arch",
	"wheel well",
	"wheel sensor",
	"wheel cylinder",
	"wheel seal",
	"lug nut",
	"lug bolt",
	"tire pressure",
	"tpms",
	"wheel lock nut",
	"wheel lock key",
	"wheel alignment",
	"wheel opening",
	"wheel house",
	"wheel liner",
	"wheel adapter",
	"wheel mounting kit",
}

// Multi-word phrases that identify a wheel product. Single words are
// matched separately with word boundaries so "rim" never fires inside
// "trim".
var wheelPhrases = []string{
	"wheel cap",
	"wheel kit",
	"hub cap",
	"center cap",
	"wheel cover",
	"alloy wheel",
	"steel wheel",
	"aluminum wheel",
	"chrome wheel",
	"spoke wheel",
	"forged wheel",
	"cast wheel",
	"custom wheel",
	"disc wheel",
	"front wheel",
	"rear wheel",
	"wheel set",
	"wheel assembly",
	"wheel rim",
	"complete wheel",
	"oem wheel",
	"wheel disc",
	"rim cap",
	"wheel disk",
	"spare wheel",
	"berlina black",
	"black alloy wheel",
}

var (
	wheelWordRe   = regexp.MustCompile(`\b(?:wheel|wheels|rim|rims|alloy|hubcap|allwheel|disk)\b`)
	keywordFolder = strings.NewReplacer("-", " ", "_", " ")

	nonAlnumRe  = regexp.MustCompile(`[^a-zA-Z0-9]`)
	nonPriceRe  = regexp.MustCompile(`[^\d.]`)
	dollarRe    = regexp.MustCompile(`\$([\d,]+\.?\d*)`)
	spaceRe     = regexp.MustCompile(`\s+`)
	tagRe       = regexp.MustCompile(`<[^>]+>`)
	yearRe      = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
	yearRangeRe = regexp.MustCompile(`\b((?:19|20)\d{2})\s*-\s*((?:19|20)\d{2})\b`)
)

// IsWheelProduct reports whether a listing is an actual wheel, hubcap or
// wheel cover rather than hardware that merely mentions wheels. The text
// is matched case-insensitively with hyphens and underscores folded to
// spaces.
func IsWheelProduct(title, description string) bool {
	text := keywordFolder.Replace(strings.ToLower(title + " " + description))
	for _, excl := range wheelExclusions {
		if strings.Contains(text, excl) {
			return false
		}
	}
	if wheelWordRe.MatchString(text) {
		return true
	}
	for _, phrase := range wheelPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// CleanSKU strips everything but letters and digits, turning
// "42700-TVA-A93" into "42700TVAA93".
func CleanSKU(sku string) string {
	return nonAlnumRe.ReplaceAllString(sku, "")
}

// ExtractPrice reduces price text like "$1,787.31 USD" to "1787.31". It
// returns "" when the text carries no digits.
func ExtractPrice(text string) string {
	price := nonPriceRe.ReplaceAllString(text, "")
	if strings.Trim(price, ".") == "" {
		return ""
	}
	return price
}

// absoluteURL resolves href against base. Empty or unparsable hrefs
// return "".
func absoluteURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	h, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if h.IsAbs() {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return b.ResolveReference(h).String()
}

var productPathMarkers = []string{"/product/", "/parts/", "/oem-parts/", "/p/"}

var catalogPathExcludes = []string{"/search", "/category", "/catalog", "/browse"}

// catalogLinkSelector matches anchors that point at product detail
// pages on the storefronts that share the /product-style URL scheme.
const catalogLinkSelector = `a[href*="/product/"], a[href*="/parts/"], a[href*="/oem-parts/"], a[href*="/p/"]`

// catalogLinks collects every product detail link on a listing page,
// normalized and deduplicated in document order.
func catalogLinks(doc *goquery.Document, base string) []string {
	seen := make(map[string]bool)
	var urls []string
	doc.Find(catalogLinkSelector).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if full := normalizeCatalogURL(base, href); full != "" && !seen[full] {
			seen[full] = true
			urls = append(urls, full)
		}
	})
	return urls
}

// normalizeCatalogURL absolutizes a listing href, strips the query and
// fragment, and keeps it only when the path looks like a product detail
// page rather than another listing.
func normalizeCatalogURL(base, href string) string {
	full := stripURLExtras(absoluteURL(base, href))
	if full == "" {
		return ""
	}
	lower := strings.ToLower(full)
	for _, bad := range catalogPathExcludes {
		if strings.Contains(lower, bad) {
			return ""
		}
	}
	for _, marker := range productPathMarkers {
		if strings.Contains(lower, marker) {
			return full
		}
	}
	return ""
}

// stripURLExtras drops the fragment, query string and trailing slash.
func stripURLExtras(full string) string {
	if i := strings.Index(full, "#"); i >= 0 {
		full = full[:i]
	}
	if i := strings.Index(full, "?"); i >= 0 {
		full = full[:i]
	}
	return strings.TrimRight(full, "/")
}

// collectProductLinks gathers hrefs matching selector, normalizes them
// against base and keeps the ones the valid pattern accepts. The result
// is deduplicated and sorted.
func collectProductLinks(doc *goquery.Document, base, selector string, valid *regexp.Regexp) []string {
	seen := make(map[string]bool)
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		full := absoluteURL(base, href)
		if full == "" {
			return
		}
		full = stripURLExtras(full)
		if valid.MatchString(full) {
			seen[full] = true
		}
	})
	urls := make([]string, 0, len(seen))
	for u := range seen {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// expandYears returns the years named by text. Ranges like "2016-2021"
// expand to every year in between; otherwise standalone four-digit years
// are collected in order.
func expandYears(text string) []string {
	var years []string
	seen := make(map[string]bool)
	add := func(y string) {
		if !seen[y] {
			seen[y] = true
			years = append(years, y)
		}
	}
	for _, m := range yearRangeRe.FindAllStringSubmatch(text, -1) {
		for _, y := range expandRange(m[1], m[2]) {
			add(y)
		}
	}
	if len(years) > 0 {
		return years
	}
	for _, y := range yearRe.FindAllString(text, -1) {
		add(y)
	}
	return years
}

// expandRange expands an inclusive year range. Ranges that run backwards
// or span more than 50 years return just the endpoints.
func expandRange(start, end string) []string {
	s, err1 := strconv.Atoi(start)
	e, err2 := strconv.Atoi(end)
	if err1 != nil || err2 != nil || e < s || e-s > 50 {
		return []string{start, end}
	}
	years := make([]string, 0, e-s+1)
	for y := s; y <= e; y++ {
		years = append(years, strconv.Itoa(y))
	}
	return years
}

// splitList splits comma separated cell text into trimmed values.
func splitList(text string) []string {
	var out []string
	for _, part := range strings.Split(text, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// orBlank substitutes a single empty value for an empty list so fitment
// fan-out still emits a row when a cell is blank.
func orBlank(vals []string) []string {
	if len(vals) == 0 {
		return []string{""}
	}
	return vals
}

// collapseSpace trims text and folds whitespace runs to single spaces.
func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// squeezeSpace removes all whitespace, for part numbers that render with
// padding.
func squeezeSpace(s string) string {
	return spaceRe.ReplaceAllString(s, "")
}

// stripTags flattens an HTML snippet to plain text.
func stripTags(s string) string {
	return collapseSpace(tagRe.ReplaceAllString(html.UnescapeString(s), " "))
}

// imgSrc returns the first populated image attribute, preferring src over
// the common lazy-load variants.
func imgSrc(s *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src", "data-lazy-src", "data-original"} {
		if v, ok := s.Attr(attr); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// metaContent returns the content attribute of the first matching meta
// tag.
func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(v)
}

// pageTitle returns the document <title> up to the first "|" separator,
// which these storefronts use for the site name suffix.
func pageTitle(doc *goquery.Document) string {
	title := doc.Find("title").First().Text()
	if i := strings.Index(title, "|"); i >= 0 {
		title = title[:i]
	}
	return collapseSpace(title)
}

// findByClassRe returns elements of the given tags whose class attribute
// matches re, in document order. goquery has no regex attribute selector,
// so this stands in for class patterns like "price|sale".
func findByClassRe(doc *goquery.Document, re *regexp.Regexp, tags ...string) *goquery.Selection {
	return doc.Find(strings.Join(tags, ", ")).FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		return re.MatchString(class)
	})
}

// firstText returns the first selector in the chain that yields non-empty
// text.
func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if text := collapseSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}
