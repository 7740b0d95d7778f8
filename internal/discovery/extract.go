// internal/discovery/extract.go
package discovery

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractListingLinks pulls all listing hrefs from a page's HTML. A listing
// link is any anchor whose href contains pattern. Relative links are
// resolved against baseURL, and the result preserves document order with
// duplicates removed.
func ExtractListingLinks(html, pattern, baseURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page HTML: %w", err)
	}

	seen := make(map[string]struct{})
	var out []string

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || !strings.Contains(href, pattern) {
			return
		}
		if strings.HasPrefix(href, "/") {
			href = strings.TrimRight(baseURL, "/") + href
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		out = append(out, href)
	})

	return out, nil
}
