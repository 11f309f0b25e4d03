package sites

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsWheelProduct(t *testing.T) {
	tests := []struct {
		name        string
		title       string
		description string
		expected    bool
	}{
		{"Alloy wheel", "17\" Alloy Wheel", "", true},
		{"Plural rims", "RIMS 18 inch chrome", "", true},
		{"Wheel cover phrase", "Forte Wheel Cover", "", true},
		{"Hyphen folded", "Hub-Cap Set", "", true},
		{"Underscore folded", "wheel_lock set", "", true},
		{"Honda finish name", "Cap Assembly", "Genuine berlina black finish", true},
		{"Match from description", "Replacement Part", "Genuine spare wheel, steel, 16 inch", true},
		{"Steering wheel excluded", "Steering Wheel Cover", "", false},
		{"Bearing excluded", "Wheel Bearing Assembly", "", false},
		{"TPMS excluded", "TPMS Sensor 42753-TVA-A93", "", false},
		{"Lug nuts excluded", "Chrome Lug Nut Set", "", false},
		{"Lock nut excluded", "Wheel Lock Nut Set", "", false},
		{"Rim not matched inside trim", "Trim Ring", "", false},
		{"Unrelated part", "Brake Pad Kit Front", "", false},
		{"Empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsWheelProduct(tt.title, tt.description))
		})
	}
}

func TestCleanSKU(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"42700-TVA-A93", "42700TVAA93"},
		{" 28111 AJ25A ", "28111AJ25A"},
		{"9965-13-8500", "9965138500"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, CleanSKU(tt.in), "CleanSKU(%q)", tt.in)
	}
}

func TestExtractPrice(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"$1,787.31 USD", "1787.31"},
		{"Sale: $45.67", "45.67"},
		{"$1,234", "1234"},
		{"12", "12"},
		{"Call for price", ""},
		{"...", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ExtractPrice(tt.in), "ExtractPrice(%q)", tt.in)
	}
}

func TestExpandYears(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected []string
	}{
		{"Range", "2016-2021", []string{"2016", "2017", "2018", "2019", "2020", "2021"}},
		{"Range with spaces", "2019 - 2020", []string{"2019", "2020"}},
		{"Loose years", "Fits 2019, 2021 models", []string{"2019", "2021"}},
		{"Single year", "2020 Outback", []string{"2020"}},
		{"Backwards range", "2021-2019", []string{"2021", "2019"}},
		{"No years", "all models", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, expandYears(tt.in))
		})
	}
}

func TestNormalizeCatalogURL(t *testing.T) {
	base := "https://shop.example"

	tests := []struct {
		name     string
		href     string
		expected string
	}{
		{"Relative product path", "/product/alloy-wheel-123", base + "/product/alloy-wheel-123"},
		{"Query and fragment stripped", "/oem-parts/nissan-wheel-403003?ref=nav#top", base + "/oem-parts/nissan-wheel-403003"},
		{"Absolute kept", base + "/parts/wheel-1/", base + "/parts/wheel-1"},
		{"Search page rejected", "/search?q=wheel", ""},
		{"Category page rejected", "/category/wheels", ""},
		{"No product marker", "/about-us", ""},
		{"Empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeCatalogURL(base, tt.href))
		})
	}
}

func TestCatalogLinksDedupesInDocumentOrder(t *testing.T) {
	doc := testDoc(t, `
		<a href="/product/wheel-two">two</a>
		<a href="/product/wheel-one">one</a>
		<a href="/product/wheel-two#reviews">dup</a>
		<a href="/search?q=wheel">search</a>
		<a href="/about">about</a>`)

	urls := catalogLinks(doc, "https://shop.example")
	assert.Equal(t, []string{
		"https://shop.example/product/wheel-two",
		"https://shop.example/product/wheel-one",
	}, urls)
}

func TestCollectProductLinksSortsAndFilters(t *testing.T) {
	doc := testDoc(t, `
		<a href="/p/Subaru__/WHEEL/2/28111AJ25A.html">b</a>
		<a href="/p/Subaru__/WHEEL/1/28111AJ250.html">a</a>
		<a href="/p/Subaru__/WHEEL/1/28111AJ250.html">same</a>
		<a href="/p/Subaru__/category">not a product</a>`)

	urls := collectProductLinks(doc, subaruBase, `a[href*="/p/Subaru__/"]`, subaruProductRe)
	assert.Equal(t, []string{
		subaruBase + "/p/Subaru__/WHEEL/1/28111AJ250.html",
		subaruBase + "/p/Subaru__/WHEEL/2/28111AJ25A.html",
	}, urls)
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "Steel & Alloy wheel", stripTags("<p>Steel &amp; Alloy</p>\n<b>wheel</b>"))
}

func TestPageTitle(t *testing.T) {
	doc := testDoc(t, `<html><head><title>  Alloy Wheel 52910-S9100 | Kia Parts Now </title></head></html>`)
	assert.Equal(t, "Alloy Wheel 52910-S9100", pageTitle(doc))
}

func TestAbsoluteURL(t *testing.T) {
	base := "https://shop.example"

	assert.Equal(t, base+"/img/wheel.jpg", absoluteURL(base, "/img/wheel.jpg"))
	assert.Equal(t, "https://cdn.example/wheel.jpg", absoluteURL(base, "https://cdn.example/wheel.jpg"))
	assert.Equal(t, "https://cdn.example/wheel.jpg", absoluteURL(base, "//cdn.example/wheel.jpg"))
	assert.Equal(t, "", absoluteURL(base, "  "))
}
