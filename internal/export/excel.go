// Package export writes pipeline output to disk: formatted spreadsheets for
// the parts team and per-site JSON checkpoints that let an interrupted run
// resume.
package export

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/partsdev/oem-wheel-scraper/internal/models"
	"github.com/partsdev/oem-wheel-scraper/internal/pipeline"
)

const (
	dataSheet    = "Wheels Data"
	summarySheet = "Summary"

	headerFill  = "366092"
	borderColor = "D3D3D3"

	dateFormat = "2006-01-02 15:04:05"

	// Column widths size to content sampled from the first widthSample rows,
	// capped at maxColumnWidth.
	widthSample    = 100
	maxColumnWidth = 50
)

// sheetHeaders is the fixed column layout the parts team imports from,
// columns A through AH. Columns with no scraped counterpart stay empty for
// them to fill in.
var sheetHeaders = []string{
	"url", "Image", "date", "sku", "PN",
	"CCC", "VID", "HOL", "RVID", "RHOL", "IID", "IDHol", "",
	"AC$", "Shipping", "Price", "Core", "msrp",
	"STL", "CC", "RPN", "PaintCode", "ColDesc",
	"title", "also_known_as", "positions", "description", "applications", "replaces",
	"year", "make", "model", "trims", "engines",
}

// fixedWidths overrides the sampled width for the identifier and long-text
// columns, keyed by column letter.
var fixedWidths = map[string]float64{
	"A":  40, // url
	"B":  40, // image
	"C":  18, // date
	"D":  15, // sku
	"E":  15, // part number
	"N":  12, // actual price
	"R":  12, // msrp
	"X":  50, // title
	"AA": 60, // description
	"AD": 8,  // year
	"AE": 15, // make
	"AF": 20, // model
	"AG": 30, // trims
	"AH": 30, // engines
}

// Exporter writes flattened product records to xlsx workbooks.
type Exporter struct {
	log *slog.Logger
}

func NewExporter(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{log: logger.With("component", "export")}
}

// Write saves the records to a single formatted workbook at path, creating
// parent directories as needed.
func (e *Exporter) Write(records []models.ProductRecord, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", dataSheet); err != nil {
		return fmt.Errorf("failed to name data sheet: %w", err)
	}
	if err := e.writeDataSheet(f, records); err != nil {
		return err
	}
	if err := saveWorkbook(f, path); err != nil {
		return err
	}

	e.log.Info("workbook written", "path", path, "rows", len(records))
	return nil
}

// WriteSummary adds a Summary sheet of metric/value rows to the workbook at
// path, creating the workbook when it does not exist yet.
func (e *Exporter) WriteSummary(stats pipeline.Stats, path string) error {
	f, err := summaryTarget(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := []string{"Metric", "Value"}
	if err := f.SetSheetRow(summarySheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write summary header: %w", err)
	}

	rows := summaryRows(stats)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to locate summary row %d: %w", i+2, err)
		}
		line := []string{row[0], row[1]}
		if err := f.SetSheetRow(summarySheet, cell, &line); err != nil {
			return fmt.Errorf("failed to write summary row %d: %w", i+2, err)
		}
	}

	headerStyle, err := newHeaderStyle(f)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A1", "B1", headerStyle); err != nil {
		return fmt.Errorf("failed to style summary header: %w", err)
	}
	if err := f.SetColWidth(summarySheet, "A", "A", 32); err != nil {
		return fmt.Errorf("failed to size summary columns: %w", err)
	}
	if err := f.SetColWidth(summarySheet, "B", "B", 18); err != nil {
		return fmt.Errorf("failed to size summary columns: %w", err)
	}

	if err := saveWorkbook(f, path); err != nil {
		return err
	}

	e.log.Info("summary written", "path", path, "metrics", len(rows))
	return nil
}

// SplitBySite writes one workbook per site under dir, named
// wheels_<site>.xlsx. Records without a site name group by URL host.
func (e *Exporter) SplitBySite(records []models.ProductRecord, dir string) error {
	groups := make(map[string][]models.ProductRecord)
	for _, rec := range records {
		key := siteKey(rec)
		groups[key] = append(groups[key], rec)
	}

	sites := make([]string, 0, len(groups))
	for site := range groups {
		sites = append(sites, site)
	}
	sort.Strings(sites)

	for _, site := range sites {
		path := filepath.Join(dir, fmt.Sprintf("wheels_%s.xlsx", site))
		if err := e.Write(groups[site], path); err != nil {
			return err
		}
	}

	e.log.Info("split workbooks written", "dir", dir, "sites", len(sites))
	return nil
}

func (e *Exporter) writeDataSheet(f *excelize.File, records []models.ProductRecord) error {
	header := make([]string, len(sheetHeaders))
	copy(header, sheetHeaders)
	if err := f.SetSheetRow(dataSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header row: %w", err)
	}

	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to locate row %d: %w", i+2, err)
		}
		row := rowValues(rec)
		if err := f.SetSheetRow(dataSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	return applyFormatting(f, records)
}

// rowValues maps a record onto the A..AH layout. The blank runs are the
// columns the parts team fills in by hand.
func rowValues(r models.ProductRecord) []string {
	date := ""
	if !r.ScrapedAt.IsZero() {
		date = r.ScrapedAt.Format(dateFormat)
	}
	return []string{
		r.URL, r.ImageURL, date, r.SKU, r.PartNumber,
		"", "", "", "", "", "", "", "",
		r.ActualPrice, "", "", "", r.MSRP,
		"", "", "", "", "",
		r.Title, r.AlsoKnownAs, r.Positions, r.Description, r.Applications, r.Replaces,
		r.Fitment.Year, r.Fitment.Make, r.Fitment.Model, r.Fitment.Trim, r.Fitment.Engine,
	}
}

func applyFormatting(f *excelize.File, records []models.ProductRecord) error {
	headerStyle, err := newHeaderStyle(f)
	if err != nil {
		return err
	}
	cellStyle, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Vertical: "top"},
		Border:    thinBorder(),
	})
	if err != nil {
		return fmt.Errorf("failed to build cell style: %w", err)
	}

	lastCol, err := excelize.ColumnNumberToName(len(sheetHeaders))
	if err != nil {
		return fmt.Errorf("failed to resolve last column: %w", err)
	}
	if err := f.SetCellStyle(dataSheet, "A1", lastCol+"1", headerStyle); err != nil {
		return fmt.Errorf("failed to style header row: %w", err)
	}
	if len(records) > 0 {
		bottom := fmt.Sprintf("%s%d", lastCol, len(records)+1)
		if err := f.SetCellStyle(dataSheet, "A2", bottom, cellStyle); err != nil {
			return fmt.Errorf("failed to style data rows: %w", err)
		}
	}

	for i, width := range columnWidths(records) {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to resolve column %d: %w", i+1, err)
		}
		if err := f.SetColWidth(dataSheet, col, col, width); err != nil {
			return fmt.Errorf("failed to size column %s: %w", col, err)
		}
	}

	panes := &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}
	if err := f.SetPanes(dataSheet, panes); err != nil {
		return fmt.Errorf("failed to freeze header row: %w", err)
	}
	return nil
}

// columnWidths sizes every column to its longest sampled value, then applies
// the fixed overrides.
func columnWidths(records []models.ProductRecord) []float64 {
	widths := make([]float64, len(sheetHeaders))
	for i, h := range sheetHeaders {
		widths[i] = float64(len(h))
	}

	sample := len(records)
	if sample > widthSample {
		sample = widthSample
	}
	for i := 0; i < sample; i++ {
		for c, v := range rowValues(records[i]) {
			if l := float64(len(v)); l > widths[c] {
				widths[c] = l
			}
		}
	}

	for i := range widths {
		if widths[i]+2 < maxColumnWidth {
			widths[i] += 2
		} else {
			widths[i] = maxColumnWidth
		}
	}
	for col, width := range fixedWidths {
		num, err := excelize.ColumnNameToNumber(col)
		if err != nil {
			continue
		}
		widths[num-1] = width
	}
	return widths
}

func newHeaderStyle(f *excelize.File) (int, error) {
	id, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{headerFill}, Pattern: 1},
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF", Size: 11},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
		Border:    thinBorder(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to build header style: %w", err)
	}
	return id, nil
}

func thinBorder() []excelize.Border {
	return []excelize.Border{
		{Type: "left", Color: borderColor, Style: 1},
		{Type: "right", Color: borderColor, Style: 1},
		{Type: "top", Color: borderColor, Style: 1},
		{Type: "bottom", Color: borderColor, Style: 1},
	}
}

// summaryRows flattens the stats into metric/value pairs, nested map entries
// as "key - subkey" rows with sorted subkeys.
func summaryRows(stats pipeline.Stats) [][2]string {
	rows := [][2]string{
		{"total_rows", strconv.Itoa(stats.TotalRows)},
		{"unique_parts", strconv.Itoa(stats.UniqueParts)},
	}
	for _, site := range sortedKeys(stats.RowsBySite) {
		rows = append(rows, [2]string{"rows_by_site - " + site, strconv.Itoa(stats.RowsBySite[site])})
	}
	for _, mk := range sortedKeys(stats.RowsByMake) {
		rows = append(rows, [2]string{"rows_by_make - " + mk, strconv.Itoa(stats.RowsByMake[mk])})
	}
	return append(rows,
		[2]string{"average_price", formatPrice(stats.AveragePrice)},
		[2]string{"price_range - min", formatPrice(stats.PriceRange.Min)},
		[2]string{"price_range - max", formatPrice(stats.PriceRange.Max)},
	)
}

func summaryTarget(path string) (*excelize.File, error) {
	if _, err := os.Stat(path); err == nil {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
		}
		if _, err := f.NewSheet(summarySheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to add summary sheet: %w", err)
		}
		return f, nil
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to name summary sheet: %w", err)
	}
	return f, nil
}

func saveWorkbook(f *excelize.File, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to write workbook %s: %w", path, err)
	}
	return nil
}

func siteKey(rec models.ProductRecord) string {
	if rec.Site != "" {
		return rec.Site
	}
	if u, err := url.Parse(rec.URL); err == nil && u.Host != "" {
		return u.Host
	}
	return "unknown"
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
