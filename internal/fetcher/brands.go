// internal/fetcher/brands.go
package fetcher

import (
	"net/url"
	"strings"
)

// brandPatterns maps each canonical brand to the URL-path spellings it
// appears under. Listings outside this allow-list are skipped before any
// network call.
var brandPatterns = map[string][]string{
	"mercedes-benz": {"mercedes-benz", "mercedes", "mercedesbenz"},
	"volkswagen":    {"volkswagen", "vw", "volks"},
	"bmw":           {"bmw"},
	"audi":          {"audi"},
	"peugeot":       {"peugeot"},
	"ford":          {"ford"},
	"volvo":         {"volvo"},
	"kia":           {"kia"},
}

// BrandFromURL derives the brand from a listing URL's path alone. The slug
// convention puts the brand first, so a pattern must be followed by a dash.
// Returns the canonical brand name and whether one matched.
func BrandFromURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	path := strings.ToLower(u.Path)

	for brand, patterns := range brandPatterns {
		for _, p := range patterns {
			if strings.Contains(path, "/"+p+"-") {
				return brand, true
			}
		}
	}
	return "", false
}

// AllowedBrands returns the canonical brand names of the allow-list.
func AllowedBrands() []string {
	out := make([]string, 0, len(brandPatterns))
	for brand := range brandPatterns {
		out = append(out, brand)
	}
	return out
}
