// internal/cleaner/cleaner.go
package cleaner

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/carscout/carscout/internal/fetcher"
	"github.com/carscout/carscout/internal/utils"
)

// Record is one cleaned, typed vehicle ready for storage. Every field has
// passed its stage's filter; there is no partially cleaned record.
type Record struct {
	BrandModel     string `bson:"brand_model" json:"brand_model"`
	Price          int    `bson:"price" json:"price"`
	Mileage        int    `bson:"mileage" json:"mileage"`
	Transmission   string `bson:"transmission" json:"transmission"`
	Fuel           string `bson:"fuel" json:"fuel"`
	Year           int    `bson:"year" json:"year"`
	CO2            int    `bson:"co2" json:"co2"`
	EmissionClass  string `bson:"emission_class" json:"emission_class"`
	WarrantyMonths int    `bson:"warranty" json:"warranty"`
	Brand          string `bson:"brand" json:"brand"`
	Model          string `bson:"model" json:"model"`
	Link           string `bson:"link" json:"link"`
	Date           string `bson:"date" json:"date"`
}

// Stats reports what the cleaning pass did. Per-filter rejection counts are
// part of the contract, not optional logging.
type Stats struct {
	OriginalRows    int            `bson:"original_rows" json:"original_rows"`
	OriginalColumns int            `bson:"original_columns" json:"original_columns"`
	FinalRows       int            `bson:"final_rows" json:"final_rows"`
	FinalColumns    int            `bson:"final_columns" json:"final_columns"`
	Filtered        map[string]int `bson:"filtered" json:"filtered"`
	SkippedColumns  []string       `bson:"skipped_columns,omitempty" json:"skipped_columns,omitempty"`
}

// Result pairs the cleaned records with the pass statistics.
type Result struct {
	Records []Record
	Stats   Stats
}

// transmissionLabels maps source-language labels to canonical values.
var transmissionLabels = map[string]string{
	"Automatic transmission": "automatic",
	"Manual transmission":    "manual",
}

// fuelLabels maps source-language labels to canonical values.
var fuelLabels = map[string]string{
	"Essence": "petrol",
	"Diesel":  "diesel",
}

// emissionAllowList holds the known emission-standard labels.
var emissionAllowList = map[string]struct{}{
	"euro 6":       {},
	"euro 5":       {},
	"euro 6d":      {},
	"euro 6d-temp": {},
	"euro 6c":      {},
	"euro 6e":      {},
	"euro 6b":      {},
}

// yearLayouts are tried in order; the source uses day-first dates.
var yearLayouts = []string{"02/01/2006", "01/2006", "2006-01-02", "2006"}

const (
	minPrice        = 5000
	maxPrice        = 150000
	maxMileage      = 200000
	minYear         = 2010
	maxCO2          = 300
	defaultWarranty = 12
)

// Cleaner runs the normalization pipeline over raw batches.
type Cleaner struct {
	logger utils.Logger
}

// New returns a Cleaner.
func New() *Cleaner {
	return &Cleaner{logger: utils.NewComponentLogger("cleaner")}
}

// Clean applies the ordered transform and filter table to one batch.
// Filters apply in order; each filter only sees rows that survived the
// previous ones. A column absent from the batch logs a warning and its
// stage is skipped entirely.
func (c *Cleaner) Clean(batch *Batch) *Result {
	stats := Stats{
		OriginalRows:    len(batch.Rows),
		OriginalColumns: len(batch.Columns),
		Filtered: map[string]int{
			"price_filtered":        0,
			"transmission_filtered": 0,
			"mileage_filtered":      0,
			"year_filtered":         0,
			"co2_filtered":          0,
			"emission_filtered":     0,
		},
	}

	batch.rename("price_eur", "price")
	batch.rename("title", "brand_model")
	batch.drop("price_raw")
	batch.drop("subtitle")

	c.cleanPrice(batch, &stats)
	c.cleanTransmission(batch, &stats)
	c.cleanFuel(batch, &stats)
	c.cleanMileage(batch, &stats)
	c.cleanBrand(batch, &stats)
	c.cleanYear(batch, &stats)
	c.cleanCO2(batch, &stats)
	c.cleanEmissionClass(batch, &stats)
	c.cleanWarranty(batch, &stats)
	c.cleanBrandModel(batch, &stats)

	stats.FinalRows = len(batch.Rows)
	stats.FinalColumns = len(batch.Columns)

	result := &Result{
		Records: batch.toRecords(),
		Stats:   stats,
	}
	c.logger.Infof("cleaned batch: %d of %d rows kept, removed per filter: %v",
		stats.FinalRows, stats.OriginalRows, stats.Filtered)
	return result
}

// column resolves a stage's column, warning and skipping when absent.
func (c *Cleaner) column(batch *Batch, name, stage string) int {
	i := batch.columnIndex(name)
	if i < 0 {
		c.logger.Warnf("column %q missing, skipping %s stage", name, stage)
	}
	return i
}

// transformAndFilter rewrites column i with transform and, when filter is
// non-nil, keeps only the rows filter accepts, recording rejections under
// counterKey.
func (c *Cleaner) transformAndFilter(batch *Batch, i int, stats *Stats, counterKey string,
	transform func(string) string, filter func(string) bool) {

	kept := batch.Rows[:0]
	for _, row := range batch.Rows {
		row[i] = transform(row[i])
		if filter != nil && !filter(row[i]) {
			stats.Filtered[counterKey]++
			continue
		}
		kept = append(kept, row)
	}
	batch.Rows = kept
}

func (c *Cleaner) cleanPrice(batch *Batch, stats *Stats) {
	i := c.column(batch, "price", "price")
	if i < 0 {
		stats.SkippedColumns = append(stats.SkippedColumns, "price")
		return
	}
	c.transformAndFilter(batch, i, stats, "price_filtered",
		func(v string) string {
			return correctPrice(utils.DigitsOnly(v))
		},
		func(v string) bool {
			p, err := strconv.Atoi(v)
			return err == nil && p >= minPrice && p <= maxPrice
		})
}

// correctPrice undoes the source's decimal-format artifact: prices scraped
// with a trailing ",15" or ",5" fraction glued onto the integer part.
func correctPrice(digits string) string {
	switch {
	case strings.HasSuffix(digits, "15") && len(digits) > 2:
		return digits[:len(digits)-2]
	case strings.HasSuffix(digits, "5") && len(digits) > 1:
		return digits[:len(digits)-1]
	}
	return digits
}

func (c *Cleaner) cleanTransmission(batch *Batch, stats *Stats) {
	i := c.column(batch, "transmission", "transmission")
	if i < 0 {
		stats.SkippedColumns = append(stats.SkippedColumns, "transmission")
		return
	}
	c.transformAndFilter(batch, i, stats, "transmission_filtered",
		func(v string) string {
			if mapped, ok := transmissionLabels[strings.TrimSpace(v)]; ok {
				return mapped
			}
			return v
		},
		func(v string) bool {
			return v == "automatic" || v == "manual"
		})
}

func (c *Cleaner) cleanFuel(batch *Batch, stats *Stats) {
	i := c.column(batch, "fuel", "fuel")
	if i < 0 {
		stats.SkippedColumns = append(stats.SkippedColumns, "fuel")
		return
	}
	c.transformAndFilter(batch, i, stats, "",
		func(v string) string {
			if mapped, ok := fuelLabels[strings.TrimSpace(v)]; ok {
				return mapped
			}
			return v
		}, nil)
}

func (c *Cleaner) cleanMileage(batch *Batch, stats *Stats) {
	i := c.column(batch, "mileage", "mileage")
	if i < 0 {
		stats.SkippedColumns = append(stats.SkippedColumns, "mileage")
		return
	}
	c.transformAndFilter(batch, i, stats, "mileage_filtered",
		utils.DigitsOnly,
		func(v string) bool {
			m, err := strconv.Atoi(v)
			return err == nil && m < maxMileage
		})
}

func (c *Cleaner) cleanBrand(batch *Batch, stats *Stats) {
	i := c.column(batch, "brand", "brand")
	if i < 0 {
		stats.SkippedColumns = append(stats.SkippedColumns, "brand")
		return
	}
	c.transformAndFilter(batch, i, stats, "", normalizeBrand, nil)
}

// normalizeBrand lowercases and folds the one manufacturer whose legal name
// differs from its common short name.
func normalizeBrand(v string) string {
	lower := strings.ToLower(strings.TrimSpace(v))
	if lower == "mercedes-benz" {
		return "mercedes"
	}
	return lower
}

func (c *Cleaner) cleanYear(batch *Batch, stats *Stats) {
	i := c.column(batch, "year", "year")
	if i < 0 {
		stats.SkippedColumns = append(stats.SkippedColumns, "year")
		return
	}
	c.transformAndFilter(batch, i, stats, "year_filtered",
		func(v string) string {
			return extractYear(strings.TrimSpace(v))
		},
		func(v string) bool {
			y, err := strconv.Atoi(v)
			return err == nil && y >= minYear
		})
}

// extractYear parses a registration date, day-first, and returns the year
// as a string, or "" when unparseable.
func extractYear(v string) string {
	for _, layout := range yearLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return strconv.Itoa(t.Year())
		}
	}
	return ""
}

func (c *Cleaner) cleanCO2(batch *Batch, stats *Stats) {
	i := c.column(batch, "co2", "co2")
	if i < 0 {
		stats.SkippedColumns = append(stats.SkippedColumns, "co2")
		return
	}

	// Extract first, then impute missing values with the batch median
	// before the bound filter sees any row.
	var present []int
	for _, row := range batch.Rows {
		row[i] = utils.LeadingDigits(row[i])
		if n, err := strconv.Atoi(row[i]); err == nil {
			present = append(present, n)
		}
	}
	median := medianInt(present)
	medianStr := strconv.Itoa(median)

	c.transformAndFilter(batch, i, stats, "co2_filtered",
		func(v string) string {
			if _, err := strconv.Atoi(v); err != nil {
				if len(present) == 0 {
					return v
				}
				return medianStr
			}
			return v
		},
		func(v string) bool {
			n, err := strconv.Atoi(v)
			return err == nil && n <= maxCO2
		})
}

// medianInt returns the median of values, averaging the middle pair for
// even counts. Empty input yields 0.
func medianInt(values []int) int {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return int(math.Round(float64(sorted[mid-1]+sorted[mid]) / 2))
}

func (c *Cleaner) cleanEmissionClass(batch *Batch, stats *Stats) {
	i := c.column(batch, "emission_class", "emission class")
	if i < 0 {
		stats.SkippedColumns = append(stats.SkippedColumns, "emission_class")
		return
	}
	c.transformAndFilter(batch, i, stats, "emission_filtered",
		func(v string) string {
			return strings.ToLower(strings.TrimSpace(v))
		},
		func(v string) bool {
			_, ok := emissionAllowList[v]
			return ok
		})
}

func (c *Cleaner) cleanWarranty(batch *Batch, stats *Stats) {
	i := c.column(batch, "warranty", "warranty")
	if i < 0 {
		stats.SkippedColumns = append(stats.SkippedColumns, "warranty")
		return
	}

	// Rare warranty categories are noise from free-text offers; anything
	// occurring fewer than twice in the batch collapses to the default.
	counts := make(map[string]int)
	for _, row := range batch.Rows {
		row[i] = utils.LeadingDigits(row[i])
		counts[row[i]]++
	}

	c.transformAndFilter(batch, i, stats, "",
		func(v string) string {
			if _, err := strconv.Atoi(v); err != nil {
				return strconv.Itoa(defaultWarranty)
			}
			if counts[v] < 2 {
				return strconv.Itoa(defaultWarranty)
			}
			return v
		}, nil)
}

func (c *Cleaner) cleanBrandModel(batch *Batch, stats *Stats) {
	i := c.column(batch, "brand_model", "brand model")
	if i < 0 {
		stats.SkippedColumns = append(stats.SkippedColumns, "brand_model")
		return
	}
	c.transformAndFilter(batch, i, stats, "",
		func(v string) string {
			lower := strings.ToLower(strings.TrimSpace(v))
			return strings.TrimSpace(strings.ReplaceAll(lower, "mercedes-benz", "mercedes"))
		}, nil)
}

// toRecords converts the surviving rows into typed records. Numeric fields
// already hold normalized digit strings; parse failures at this point mean
// the stage was skipped for a missing column, and zero values stand in.
func (b *Batch) toRecords() []Record {
	get := func(row []string, i int) string {
		if i >= 0 && i < len(row) {
			return row[i]
		}
		return ""
	}
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}

	idx := map[string]int{}
	for _, name := range []string{"brand_model", "price", "mileage", "transmission",
		"fuel", "year", "co2", "emission_class", "warranty", "brand", "model", "link", "date"} {
		idx[name] = b.columnIndex(name)
	}

	out := make([]Record, 0, len(b.Rows))
	for _, row := range b.Rows {
		out = append(out, Record{
			BrandModel:     get(row, idx["brand_model"]),
			Price:          atoi(get(row, idx["price"])),
			Mileage:        atoi(get(row, idx["mileage"])),
			Transmission:   get(row, idx["transmission"]),
			Fuel:           get(row, idx["fuel"]),
			Year:           atoi(get(row, idx["year"])),
			CO2:            atoi(get(row, idx["co2"])),
			EmissionClass:  get(row, idx["emission_class"]),
			WarrantyMonths: atoi(get(row, idx["warranty"])),
			Brand:          get(row, idx["brand"]),
			Model:          get(row, idx["model"]),
			Link:           get(row, idx["link"]),
			Date:           get(row, idx["date"]),
		})
	}
	return out
}

// CleanedColumns is the cleaned CSV schema, in column order.
var CleanedColumns = []string{
	"brand_model", "price", "mileage", "transmission", "fuel", "year",
	"co2", "emission_class", "warranty", "brand", "model", "link", "date",
}

// Row returns the record's values in CleanedColumns order.
func (r *Record) Row() []string {
	return []string{
		r.BrandModel,
		strconv.Itoa(r.Price),
		strconv.Itoa(r.Mileage),
		r.Transmission,
		r.Fuel,
		strconv.Itoa(r.Year),
		strconv.Itoa(r.CO2),
		r.EmissionClass,
		strconv.Itoa(r.WarrantyMonths),
		r.Brand,
		r.Model,
		r.Link,
		r.Date,
	}
}

// BatchFromRecords rebuilds a Batch from fetcher records, the in-process
// path when no intermediate CSV is involved.
func BatchFromRecords(records []*fetcher.Record) *Batch {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rec.Row())
	}
	return NewBatch(append([]string(nil), fetcher.Columns...), rows)
}
