package sites

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/partsdev/oem-wheel-scraper/internal/models"
)

// listValue pulls the text of the "list-value" node SimplePart themes
// render for labeled attributes such as "Also Known As".
func listValue(s *goquery.Selection) string {
	for _, sel := range []string{"h2.list-value", "span.list-value", ".list-value"} {
		if v := collapseSpace(s.Find(sel).First().Text()); v != "" {
			return v
		}
	}
	return ""
}

// alsoKnownAs reads the alternate part names list item, ignoring short
// placeholder values.
func alsoKnownAs(doc *goquery.Document) string {
	v := listValue(doc.Find("li.also_known_as").First())
	if len(v) <= 3 {
		return ""
	}
	return v
}

// supersededParts reads the "Replaces" list item.
func supersededParts(doc *goquery.Document) string {
	return listValue(doc.Find("li.product-superseded-list").First())
}

// productJSON mirrors the product_data blob Honda and Nissan storefronts
// embed in a script tag. Field shapes vary between sites, so scalars are
// kept raw and coerced on read.
type productJSON struct {
	SKU         json.RawMessage `json:"sku"`
	SKUStripped json.RawMessage `json:"sku_stripped"`
	Price       json.RawMessage `json:"price"`
	MSRP        json.RawMessage `json:"msrp"`
	Description string          `json:"description"`
	AlsoKnownAs json.RawMessage `json:"also_known_as"`
	Fitment     []fitmentJSON   `json:"fitment"`
	Fitments    []fitmentJSON   `json:"fitments"`
	Vehicles    []fitmentJSON   `json:"vehicles"`
}

// productJSONEnvelope tolerates blobs that nest the product one level
// down under "product", "data" or "details".
type productJSONEnvelope struct {
	productJSON
	Product *productJSON `json:"product"`
	Data    *productJSON `json:"data"`
	Details *productJSON `json:"details"`
}

// fitmentEntries returns the first non-empty fitment list found at any
// nesting level.
func (e *productJSONEnvelope) fitmentEntries() []fitmentJSON {
	for _, p := range []*productJSON{&e.productJSON, e.Product, e.Data, e.Details} {
		if p == nil {
			continue
		}
		for _, list := range [][]fitmentJSON{p.Fitment, p.Fitments, p.Vehicles} {
			if len(list) > 0 {
				return list
			}
		}
	}
	return nil
}

// allFitments expands every entry in the blob.
func (e *productJSONEnvelope) allFitments() []models.Fitment {
	var out []models.Fitment
	for _, entry := range e.fitmentEntries() {
		out = append(out, entry.expand()...)
	}
	return out
}

// embeddedProductJSON locates the product_data blob, falling back to any
// application/json script that mentions fitment or vehicle data.
func embeddedProductJSON(doc *goquery.Document) (productJSONEnvelope, bool) {
	var env productJSONEnvelope
	for _, sel := range []string{`script#product_data[type="application/json"]`, "script#product_data"} {
		raw := strings.TrimSpace(doc.Find(sel).First().Text())
		if raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), &env); err == nil {
			return env, true
		}
	}
	found := false
	doc.Find(`script[type="application/json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		lower := strings.ToLower(raw)
		if raw == "" || (!strings.Contains(lower, "fitment") && !strings.Contains(lower, "vehicle")) {
			return true
		}
		var candidate productJSONEnvelope
		if err := json.Unmarshal([]byte(raw), &candidate); err != nil {
			return true
		}
		env = candidate
		found = true
		return false
	})
	return env, found
}

// fitmentJSON is one vehicle entry inside a product blob. Trims and
// engines may be arrays, bare strings or missing entirely.
type fitmentJSON struct {
	Year    json.RawMessage `json:"year"`
	Make    string          `json:"make"`
	Model   string          `json:"model"`
	Trim    string          `json:"trim"`
	Engine  string          `json:"engine"`
	Trims   json.RawMessage `json:"trims"`
	Engines json.RawMessage `json:"engines"`
}

// expand fans the entry out to one fitment per trim and engine pair.
// Entries with no year and no model are dropped as junk.
func (f fitmentJSON) expand() []models.Fitment {
	year := jsonText(f.Year)
	model := strings.TrimSpace(f.Model)
	if year == "" && model == "" {
		return nil
	}
	makeName := strings.TrimSpace(f.Make)
	trims := jsonList(f.Trims)
	if len(trims) == 0 && strings.TrimSpace(f.Trim) != "" {
		trims = []string{strings.TrimSpace(f.Trim)}
	}
	engines := jsonList(f.Engines)
	if len(engines) == 0 && strings.TrimSpace(f.Engine) != "" {
		engines = []string{strings.TrimSpace(f.Engine)}
	}
	var out []models.Fitment
	for _, trim := range orBlank(trims) {
		for _, engine := range orBlank(engines) {
			out = append(out, models.Fitment{
				Year:   year,
				Make:   makeName,
				Model:  model,
				Trim:   trim,
				Engine: engine,
			})
		}
	}
	return out
}

// jsonText coerces a raw JSON scalar to trimmed text. Arrays yield their
// first element, so a ["2020"] year reads the same as "2020" or 2020.
func jsonText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) > 0 {
		return jsonText(arr[0])
	}
	return ""
}

// jsonList coerces a raw JSON value to a list of non-empty strings,
// accepting either an array or a bare scalar.
func jsonList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		var out []string
		for _, item := range arr {
			if v := jsonText(item); v != "" {
				out = append(out, v)
			}
		}
		return out
	}
	if v := jsonText(raw); v != "" {
		return []string{v}
	}
	return nil
}

// fitmentTableRows parses the fitment-table markup Toyota and Nissan
// share. Cells carry fitment-* classes on well-formed pages and fall
// back to column position, with comma separated trim and engine cells
// fanned out to one fitment per combination.
func fitmentTableRows(doc *goquery.Document) []models.Fitment {
	table := doc.Find("table.fitment-table").First()
	if table.Length() == 0 {
		return nil
	}
	body := table.Find("tbody.fitment-table-body").First()
	if body.Length() == 0 {
		body = table.Find("tbody").First()
	}
	if body.Length() == 0 {
		body = table
	}
	rows := body.Find("tr.fitment-row")
	if rows.Length() == 0 {
		rows = body.Find("tr")
	}
	var fitments []models.Fitment
	rows.Each(func(_ int, row *goquery.Selection) {
		year := collapseSpace(row.Find("td.fitment-year").First().Text())
		makeName := collapseSpace(row.Find("td.fitment-make").First().Text())
		model := collapseSpace(row.Find("td.fitment-model").First().Text())
		trim := collapseSpace(row.Find("td.fitment-trim").First().Text())
		engine := collapseSpace(row.Find("td.fitment-engine").First().Text())
		if year == "" && makeName == "" && model == "" {
			cells := row.Find("td")
			if cells.Length() < 5 {
				return
			}
			year = collapseSpace(cells.Eq(0).Text())
			makeName = collapseSpace(cells.Eq(1).Text())
			model = collapseSpace(cells.Eq(2).Text())
			trim = collapseSpace(cells.Eq(3).Text())
			engine = collapseSpace(cells.Eq(4).Text())
		}
		if year == "" && makeName == "" && model == "" {
			return
		}
		for _, t := range orBlank(splitList(trim)) {
			for _, e := range orBlank(splitList(engine)) {
				fitments = append(fitments, models.Fitment{
					Year:   year,
					Make:   makeName,
					Model:  model,
					Trim:   t,
					Engine: e,
				})
			}
		}
	})
	return fitments
}

var fitmentClassRe = regexp.MustCompile(`(?i)fitment`)

// genericTableFitments reads any table whose class mentions fitment,
// treating the first columns as year, make, model and optionally trim
// and engine. The first row is assumed to be the header.
func genericTableFitments(doc *goquery.Document) []models.Fitment {
	table := findByClassRe(doc, fitmentClassRe, "table").First()
	if table.Length() == 0 {
		return nil
	}
	var fitments []models.Fitment
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}
		year := collapseSpace(cells.Eq(0).Text())
		makeName := collapseSpace(cells.Eq(1).Text())
		model := collapseSpace(cells.Eq(2).Text())
		if year == "" && makeName == "" && model == "" {
			return
		}
		trim, engine := "", ""
		if cells.Length() > 3 {
			trim = collapseSpace(cells.Eq(3).Text())
		}
		if cells.Length() > 4 {
			engine = collapseSpace(cells.Eq(4).Text())
		}
		for _, t := range orBlank(splitList(trim)) {
			for _, e := range orBlank(splitList(engine)) {
				fitments = append(fitments, models.Fitment{
					Year:   year,
					Make:   makeName,
					Model:  model,
					Trim:   t,
					Engine: e,
				})
			}
		}
	})
	return fitments
}

// productLD is the subset of schema.org Product JSON-LD these
// storefronts embed. Image and offers come in both scalar and array
// shapes.
type productLD struct {
	Type        string          `json:"@type"`
	Name        string          `json:"name"`
	SKU         json.RawMessage `json:"sku"`
	MPN         json.RawMessage `json:"mpn"`
	Image       json.RawMessage `json:"image"`
	Description string          `json:"description"`
	Offers      json.RawMessage `json:"offers"`
}

type offerLD struct {
	Price json.RawMessage `json:"price"`
}

// price returns the first offer price, whether offers is an object or an
// array.
func (p productLD) price() string {
	if len(p.Offers) == 0 {
		return ""
	}
	var one offerLD
	if err := json.Unmarshal(p.Offers, &one); err == nil {
		if v := jsonText(one.Price); v != "" {
			return v
		}
	}
	var many []offerLD
	if err := json.Unmarshal(p.Offers, &many); err == nil {
		for _, o := range many {
			if v := jsonText(o.Price); v != "" {
				return v
			}
		}
	}
	return ""
}

// firstProductLD returns the first JSON-LD block that describes a
// product.
func firstProductLD(doc *goquery.Document) (productLD, bool) {
	var found productLD
	ok := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return true
		}
		var one productLD
		if err := json.Unmarshal([]byte(raw), &one); err == nil && isProductLD(one) {
			found, ok = one, true
			return false
		}
		var many []productLD
		if err := json.Unmarshal([]byte(raw), &many); err == nil {
			for _, cand := range many {
				if isProductLD(cand) {
					found, ok = cand, true
					return false
				}
			}
		}
		return true
	})
	return found, ok
}

func isProductLD(p productLD) bool {
	if strings.EqualFold(p.Type, "Product") {
		return true
	}
	return p.Name != "" && len(p.Offers) > 0
}
