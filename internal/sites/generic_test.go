package sites

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partsdev/oem-wheel-scraper/internal/models"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sites_config.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfigs(t *testing.T) {
	path := writeConfigFile(t, `{"sites": [
		{"name": "Acura", "base_url": "https://www.acurapartswarehouse.com/"},
		{"name": "gmpartsdirect", "base_url": "https://www.gmpartsdirect.com",
		 "search_strategy": "category", "category_url": "/wheels", "search_term": "rim", "use_browser": true}
	]}`)

	configs, err := LoadConfigs(path)
	require.NoError(t, err)
	require.Len(t, configs, 2)

	assert.Equal(t, Config{
		Name:           "acura",
		BaseURL:        "https://www.acurapartswarehouse.com",
		SearchStrategy: "search",
		SearchTerm:     "wheel",
	}, configs[0])
	assert.Equal(t, Config{
		Name:           "gmpartsdirect",
		BaseURL:        "https://www.gmpartsdirect.com",
		SearchStrategy: "category",
		CategoryURL:    "/wheels",
		SearchTerm:     "rim",
		UseBrowser:     true,
	}, configs[1])
}

func TestLoadConfigsErrors(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		wantErr  string
	}{
		{"Bad JSON", `{"sites": [`, "failed to parse site configs"},
		{"Missing name", `{"sites": [{"base_url": "https://x.example.com"}]}`, "site config 0: missing name"},
		{"Missing base url", `{"sites": [{"name": "Acura"}]}`, `site config "acura": missing base_url`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigs(writeConfigFile(t, tt.contents))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("Missing file", func(t *testing.T) {
		_, err := LoadConfigs(filepath.Join(t.TempDir(), "absent.json"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read site configs")
	})
}

func TestFromConfig(t *testing.T) {
	deps := Deps{Fetcher: &stubFetcher{}}

	dedicated := FromConfig(Config{Name: "Kia", BaseURL: "https://www.kiapartsnow.com"}, deps)
	_, isGeneric := dedicated.(*generic)
	assert.False(t, isGeneric)
	assert.Equal(t, "kia", dedicated.Name())

	fallback := FromConfig(Config{Name: "acura", BaseURL: "https://www.acurapartswarehouse.com"}, deps)
	_, isGeneric = fallback.(*generic)
	assert.True(t, isGeneric)
	assert.Equal(t, "acura", fallback.Name())
}

func TestGenericSearchURLs(t *testing.T) {
	base := "https://www.acurapartswarehouse.com"
	listing := `<html><body>
		<a href="/oem-parts/acura-steel-wheel-42700xyz">Steel Wheel</a>
		<a href="/oem-parts/acura-brake-pad-45022abc">Brake Pad</a>
		<a href="/products/acura-alloy-wheel-42800">Alloy Wheel</a>
		<a href="/oem-parts/acura-steel-wheel-42700xyz?ref=search">Steel Wheel again</a>
	</body></html>`
	fetcher := &stubFetcher{pages: map[string]string{
		base + "/search?search_str=wheel": listing,
	}}

	site := NewGeneric(Config{Name: "acura", BaseURL: base}, Deps{Fetcher: fetcher})

	urls, err := site.ProductURLs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		base + "/oem-parts/acura-steel-wheel-42700xyz",
		base + "/products/acura-alloy-wheel-42800",
	}, urls)
}

func TestGenericSearchURLsTriesEachEndpoint(t *testing.T) {
	base := "https://www.oemrims.example.com"
	fetcher := &stubFetcher{pages: map[string]string{
		base + "/search?q=wheel": `<a href="/product/chrome-wheel-17">Chrome Wheel</a>`,
	}}

	site := NewGeneric(Config{Name: "oemrims", BaseURL: base}, Deps{Fetcher: fetcher})

	urls, err := site.ProductURLs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{base + "/product/chrome-wheel-17"}, urls)
	assert.Equal(t, []string{
		base + "/search?search_str=wheel",
		base + "/search?q=wheel",
	}, fetcher.requests)
}

func TestGenericSearchURLsNoResults(t *testing.T) {
	site := NewGeneric(Config{Name: "empty", BaseURL: "https://empty.example.com"}, Deps{Fetcher: &stubFetcher{}})

	urls, err := site.ProductURLs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestGenericCategoryURLs(t *testing.T) {
	base := "https://www.gmpartsdirect.example.com"
	listing := `<html><body>
		<a href="/oem-parts/gm-wheel-22mm">Wheel</a>
		<a href="/about-us">About</a>
		<a href="https://cdn.example.com/parts/wheel-hero">Hero</a>
		<a href="/oem-parts/gm-wheel-22mm#specs">Wheel specs</a>
	</body></html>`
	fetcher := &stubFetcher{pages: map[string]string{
		base + "/wheels": listing,
	}}

	site := NewGeneric(Config{
		Name:           "gmpartsdirect",
		BaseURL:        base,
		SearchStrategy: "category",
		CategoryURL:    "/wheels",
	}, Deps{Fetcher: fetcher})

	urls, err := site.ProductURLs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		base + "/oem-parts/gm-wheel-22mm",
		"https://cdn.example.com/parts/wheel-hero",
	}, urls)
}

func TestGenericScrapeProduct(t *testing.T) {
	base := "https://www.acurapartswarehouse.com"
	url := base + "/oem-parts/acura-wheel-08w20tz5200a"
	html := `<html><body>
		<h1 class="product-title">Acura MDX Alloy Wheel 20 Inch</h1>
		<span class="product-sku">08W20-TZ5-200A</span>
		<strong class="sale-price">$412.88</strong>
		<span class="list-price">$498.00</span>
		<img class="product-image" src="/images/08w20tz5200a.jpg">
		<div class="product-description">20 inch diamond cut alloy wheel.</div>
		<table class="fitment-grid">
			<tr><th>Year</th><th>Make</th><th>Model</th><th>Trim</th><th>Engine</th></tr>
			<tr><td>2020</td><td>Acura</td><td>MDX</td><td>Technology</td><td>3.5L V6</td></tr>
		</table>
	</body></html>`

	site := NewGeneric(Config{Name: "acura", BaseURL: base}, Deps{Fetcher: &stubFetcher{pages: map[string]string{url: html}}})

	product, err := site.ScrapeProduct(context.Background(), url)
	require.NoError(t, err)

	assert.Equal(t, "acura", product.Site)
	assert.Equal(t, "Acura MDX Alloy Wheel 20 Inch", product.Title)
	assert.Equal(t, "08W20-TZ5-200A", product.SKU)
	assert.Equal(t, "08W20TZ5200A", product.PartNumber)
	assert.Equal(t, "412.88", product.ActualPrice)
	assert.Equal(t, "498.00", product.MSRP)
	assert.Equal(t, base+"/images/08w20tz5200a.jpg", product.ImageURL)
	assert.Equal(t, "20 inch diamond cut alloy wheel.", product.Description)

	require.Len(t, product.Fitments, 1)
	assert.Equal(t, models.Fitment{
		Year: "2020", Make: "Acura", Model: "MDX", Trim: "Technology", Engine: "3.5L V6",
	}, product.Fitments[0])
}

func TestGenericScrapeProductSkipsNonWheel(t *testing.T) {
	base := "https://www.acurapartswarehouse.com"
	url := base + "/oem-parts/acura-cargo-net"
	html := `<html><body><h1 class="product-title">Acura Cargo Net</h1></body></html>`

	site := NewGeneric(Config{Name: "acura", BaseURL: base}, Deps{Fetcher: &stubFetcher{pages: map[string]string{url: html}}})

	_, err := site.ScrapeProduct(context.Background(), url)
	assert.ErrorIs(t, err, ErrNotWheel)
}
