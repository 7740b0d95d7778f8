// internal/fetcher/extract.go
package fetcher

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/carscout/carscout/internal/utils"
)

// fieldSelectors maps record fields to the detail page's structural
// selectors, first match wins. These track one site layout and are expected
// to break on redesigns; every miss degrades to NoData rather than failing
// the fetch.
var fieldSelectors = map[string][]string{
	"title":          {`h1 .StageTitle_makeModelContainer__RyjBP`, `h1[data-testid="stage-title"]`, `h1`},
	"subtitle":       {`.StageTitle_modelVersion__Yof2Z`, `[data-testid="stage-subtitle"]`},
	"price":          {`[data-testid="price-section"] .PriceInfo_price__XU0aF`, `.StagePrice_price__j9L0t`, `[data-testid="price"]`},
	"mileage":        {`[data-testid="mileage-road"]`, `.VehicleOverview_itemText__V1yKT.mileage`},
	"transmission":   {`[data-testid="transmission"]`, `.VehicleOverview_itemText__V1yKT.transmission`},
	"emission_class": {`[data-testid="emission-class"]`, `dd.emission-class`},
	"fuel":           {`[data-testid="fuel-type"]`, `dd.fuel-type`},
	"year":           {`[data-testid="first-registration"]`, `dd.first-registration`},
	"co2":            {`[data-testid="co2-emissions"]`, `dd.co2-emissions`},
	"warranty":       {`[data-testid="warranty"]`, `dd.warranty`},
	"model":          {`[data-testid="model"]`, `dd.model`},
}

// ExtractRecord assembles a complete Record from a detail page. Fields the
// page does not expose stay at the NoData sentinel; the cleaning stage
// decides whether the row survives.
func ExtractRecord(html, link, brand string, fetchedAt time.Time) *Record {
	rec := NewRecord(link, fetchedAt)
	rec.Brand = brand

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return rec
	}

	get := func(field string) string {
		for _, sel := range fieldSelectors[field] {
			if text := utils.NormalizeText(doc.Find(sel).First().Text()); text != "" {
				return text
			}
		}
		return NoData
	}

	rec.Title = get("title")
	rec.Subtitle = get("subtitle")
	rec.PriceRaw = get("price")
	rec.Mileage = get("mileage")
	rec.Transmission = get("transmission")
	rec.EmissionClass = get("emission_class")
	rec.Fuel = get("fuel")
	rec.Year = get("year")
	rec.CO2 = get("co2")
	rec.Warranty = get("warranty")
	rec.Model = get("model")

	if rec.PriceRaw != NoData {
		if digits := utils.DigitsOnly(rec.PriceRaw); digits != "" {
			rec.PriceEUR = digits
		}
	}
	if rec.Model == NoData && rec.Title != NoData {
		rec.Model = modelFromTitle(rec.Title, brand)
	}

	return rec
}

// modelFromTitle strips the brand prefix from the page title, leaving the
// model designation.
func modelFromTitle(title, brand string) string {
	lower := strings.ToLower(title)
	for _, p := range brandPatterns[brand] {
		if strings.HasPrefix(lower, p) {
			rest := strings.TrimSpace(title[len(p):])
			if rest != "" {
				return rest
			}
		}
	}
	return title
}
