// internal/discovery/engine_test.go
package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/carscout/carscout/internal/config"
	"github.com/carscout/carscout/internal/links"
)

// fakeSource serves canned listing pages keyed by page number.
type fakeSource struct {
	pages       map[int][]string // page number -> hrefs
	loadCount   map[string]int
	lastPageURL string
	closed      bool
}

func newFakeSource(pages map[int][]string) *fakeSource {
	return &fakeSource{pages: pages, loadCount: make(map[string]int)}
}

func (f *fakeSource) LoadPage(_ context.Context, pageURL string, _ bool) (string, error) {
	f.loadCount[pageURL]++
	f.lastPageURL = pageURL

	page := 0
	if _, err := fmt.Sscanf(pageURL[strings.LastIndex(pageURL, "page=")+5:], "%d", &page); err != nil {
		return "", fmt.Errorf("no page parameter in %s", pageURL)
	}

	var b strings.Builder
	b.WriteString("<html><body>")
	for _, href := range f.pages[page] {
		fmt.Fprintf(&b, `<a href="%s">listing</a>`, href)
	}
	b.WriteString("</body></html>")
	return b.String(), nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func testConfig() (config.DiscoveryConfig, config.SourceConfig) {
	return config.DiscoveryConfig{
			TargetMatches:   1,
			MaxPages:        5,
			PageParam:       "page",
			SkipTopListings: 3,
		}, config.SourceConfig{
			ListURL:     "https://cars.example.com/lst?sort=age",
			LinkPattern: "/offers/",
			Domain:      "https://cars.example.com",
		}
}

// listing builds n offer hrefs named a<start>..a<start+n-1>.
func listing(start, n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf("/offers/car-a%d?position=%d", start+i, i))
	}
	return out
}

func TestRunStopsOnFirstMatch(t *testing.T) {
	cfg, src := testConfig()
	// Page 1: 3 sponsored + 4 organic, the last organic already known.
	source := newFakeSource(map[int][]string{
		1: append(listing(0, 3), "/offers/new-1", "/offers/new-2", "/offers/new-3", "/offers/known-1"),
		2: listing(100, 10),
	})

	known := links.NewSet()
	known.Add("https://cars.example.com/offers/known-1")

	result, err := NewEngine(cfg, src, source).Run(context.Background(), known)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.State != StateDone {
		t.Errorf("state = %s, want done", result.State)
	}
	if result.PagesVisited != 1 {
		t.Errorf("pages visited = %d, want 1", result.PagesVisited)
	}
	if len(result.MatchedLinks) != 1 {
		t.Fatalf("matched = %d, want 1", len(result.MatchedLinks))
	}
	if result.MatchedLinks[0] != "https://cars.example.com/offers/known-1" {
		t.Errorf("unexpected match %s", result.MatchedLinks[0])
	}
	// New links: the three organic unknowns plus the matched link itself.
	want := []string{
		"https://cars.example.com/offers/new-1",
		"https://cars.example.com/offers/new-2",
		"https://cars.example.com/offers/new-3",
		"https://cars.example.com/offers/known-1",
	}
	if len(result.NewLinks) != len(want) {
		t.Fatalf("new links = %v, want %v", result.NewLinks, want)
	}
	for i := range want {
		if result.NewLinks[i] != want[i] {
			t.Errorf("new[%d] = %s, want %s", i, result.NewLinks[i], want[i])
		}
	}
}

func TestRunIdempotentOnUnchangedSource(t *testing.T) {
	cfg, src := testConfig()
	pages := map[int][]string{
		1: append(listing(0, 3), "/offers/k1", "/offers/k2", "/offers/k3"),
	}

	known := links.NewSet()
	for _, l := range []string{"k1", "k2", "k3"} {
		known.Add("https://cars.example.com/offers/" + l)
	}

	result, err := NewEngine(cfg, src, newFakeSource(pages)).Run(context.Background(), known)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.MatchedLinks) != 1 || result.PagesVisited != 1 {
		t.Errorf("expected single match on page 1, got %d matches over %d pages",
			len(result.MatchedLinks), result.PagesVisited)
	}
	// Nothing before the first organic link is new.
	if len(result.NewLinks) != 1 || result.NewLinks[0] != "https://cars.example.com/offers/k1" {
		t.Errorf("new links = %v, want only the matched link", result.NewLinks)
	}
}

func TestRunSkipsSponsoredPlacements(t *testing.T) {
	cfg, src := testConfig()
	// The known link sits in the sponsored slots; it must not count.
	source := newFakeSource(map[int][]string{
		1: {"/offers/known-1", "/offers/sp-2", "/offers/sp-3", "/offers/new-1"},
	})

	known := links.NewSet()
	known.Add("https://cars.example.com/offers/known-1")

	cfg.MaxPages = 1
	result, err := NewEngine(cfg, src, source).Run(context.Background(), known)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.MatchedLinks) != 0 {
		t.Errorf("sponsored placement counted as match: %v", result.MatchedLinks)
	}
	if result.State != StateAborted {
		t.Errorf("state = %s, want aborted at page ceiling", result.State)
	}
	if len(result.NewLinks) != 1 || result.NewLinks[0] != "https://cars.example.com/offers/new-1" {
		t.Errorf("new links = %v", result.NewLinks)
	}
}

func TestRunPageCeilingAborts(t *testing.T) {
	cfg, src := testConfig()
	cfg.MaxPages = 3
	pages := make(map[int][]string)
	for p := 1; p <= 4; p++ {
		pages[p] = listing(p*100, 6)
	}

	result, err := NewEngine(cfg, src, newFakeSource(pages)).Run(context.Background(), links.NewSet())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.State != StateAborted {
		t.Errorf("state = %s, want aborted", result.State)
	}
	if result.PagesVisited != 3 {
		t.Errorf("pages visited = %d, want 3", result.PagesVisited)
	}
	// 3 organic links survive the sponsored skip on each of 3 pages.
	if len(result.NewLinks) != 9 {
		t.Errorf("new links = %d, want 9", len(result.NewLinks))
	}
}

func TestRunEmptyPageRetriesOnceThenStops(t *testing.T) {
	cfg, src := testConfig()
	source := newFakeSource(map[int][]string{
		1: append(listing(0, 3), "/offers/new-1"),
		2: {}, // feed ends
	})

	result, err := NewEngine(cfg, src, source).Run(context.Background(), links.NewSet())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.State != StateDone {
		t.Errorf("state = %s, want done with partial coverage", result.State)
	}
	page2 := "https://cars.example.com/lst?page=2&sort=age"
	if source.loadCount[page2] != 2 {
		t.Errorf("page 2 loaded %d times, want exactly 2 (one retry)", source.loadCount[page2])
	}
	if len(result.NewLinks) != 1 {
		t.Errorf("partial results lost: %v", result.NewLinks)
	}
}

func TestPageURLRewrite(t *testing.T) {
	cfg, src := testConfig()
	e := NewEngine(cfg, src, nil)

	got, err := e.pageURL(7)
	if err != nil {
		t.Fatalf("pageURL: %v", err)
	}
	want := "https://cars.example.com/lst?page=7&sort=age"
	if got != want {
		t.Errorf("pageURL(7) = %s, want %s", got, want)
	}
}

func TestExtractListingLinks(t *testing.T) {
	html := `<html><body>
		<a href="/offers/abc?x=1">one</a>
		<a href="https://cars.example.com/offers/def">two</a>
		<a href="/offers/abc?x=1">dup</a>
		<a href="/about">not a listing</a>
		<a>no href</a>
	</body></html>`

	got, err := ExtractListingLinks(html, "/offers/", "https://cars.example.com")
	if err != nil {
		t.Fatalf("ExtractListingLinks: %v", err)
	}
	want := []string{
		"https://cars.example.com/offers/abc?x=1",
		"https://cars.example.com/offers/def",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("link[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSaveResultsKeepsTopThree(t *testing.T) {
	dir := t.TempDir()
	files := config.FilesConfig{
		MainLinks:   filepath.Join(dir, "main.txt"),
		NewLinks:    filepath.Join(dir, "new.txt"),
		LatestLinks: filepath.Join(dir, "latest.txt"),
	}
	result := &Result{
		NewLinks: []string{
			"https://cars.example.com/offers/a",
			"https://cars.example.com/offers/b",
			"https://cars.example.com/offers/c",
			"https://cars.example.com/offers/d",
		},
		State: StateDone,
	}
	if err := SaveResults(files, result); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}

	newSet, err := links.LoadSet(files.NewLinks)
	if err != nil {
		t.Fatalf("LoadSet new: %v", err)
	}
	if newSet.Len() != 4 {
		t.Errorf("new-links file holds %d links, want 4", newSet.Len())
	}

	for _, path := range []string{files.MainLinks, files.LatestLinks} {
		set, err := links.LoadSet(path)
		if err != nil {
			t.Fatalf("LoadSet %s: %v", path, err)
		}
		if set.Len() != 3 {
			t.Errorf("%s holds %d links, want top 3", path, set.Len())
		}
		if set.Contains("https://cars.example.com/offers/d") {
			t.Errorf("%s contains a link outside the top-3 window", path)
		}
	}

	if _, err := os.Stat(files.MainLinks); err != nil {
		t.Fatalf("main links file missing: %v", err)
	}
}

func TestSaveResultsBarrenRunLeavesFilesAlone(t *testing.T) {
	dir := t.TempDir()
	files := config.FilesConfig{
		MainLinks:   filepath.Join(dir, "main.txt"),
		NewLinks:    filepath.Join(dir, "new.txt"),
		LatestLinks: filepath.Join(dir, "latest.txt"),
	}
	known := []string{
		"https://cars.example.com/offers/a",
		"https://cars.example.com/offers/b",
		"https://cars.example.com/offers/c",
	}
	if err := links.WriteLinks(files.MainLinks, known); err != nil {
		t.Fatalf("seed main links: %v", err)
	}

	if err := SaveResults(files, &Result{State: StateDone}); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}

	mainSet, err := links.LoadSet(files.MainLinks)
	if err != nil {
		t.Fatalf("LoadSet main: %v", err)
	}
	if mainSet.Len() != len(known) {
		t.Fatalf("main links = %d after barren run, want %d", mainSet.Len(), len(known))
	}
	for _, l := range known {
		if !mainSet.Contains(l) {
			t.Errorf("known link %s lost", l)
		}
	}

	// The new and latest files were never created, let alone truncated.
	for _, path := range []string{files.NewLinks, files.LatestLinks} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s written during a barren run", path)
		}
	}
}
