// internal/pipeline/orchestrator_test.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carscout/carscout/internal/cleaner"
	"github.com/carscout/carscout/internal/config"
	"github.com/carscout/carscout/internal/discovery"
	"github.com/carscout/carscout/internal/links"
	"github.com/carscout/carscout/internal/storage"
)

// fakeStore records calls without a database.
type fakeStore struct {
	mu         sync.Mutex
	inserted   []cleaner.Record
	savedStats []*RunStats
	connected  bool
	updateErr  error
}

func (f *fakeStore) Connected() bool { return f.connected }

func (f *fakeStore) UpdateDatabase(_ context.Context, records []cleaner.Record) (*storage.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if !f.connected {
		return &storage.UpdateResult{Status: storage.StatusSkipped}, nil
	}
	f.inserted = append(f.inserted, records...)
	return &storage.UpdateResult{Status: storage.StatusOK, Inserted: len(records)}, nil
}

func (f *fakeStore) SaveRunStats(_ context.Context, _ time.Time, doc interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stats, ok := doc.(*RunStats); ok {
		cp := *stats
		f.savedStats = append(f.savedStats, &cp)
	}
	return storage.StatusOK, nil
}

// fakeSession serves one listings page built from hrefs, then an empty feed.
type fakeSession struct {
	hrefs   []string
	blockCh chan struct{} // when set, LoadPage blocks until closed
	closed  bool
}

func (f *fakeSession) LoadPage(ctx context.Context, pageURL string, _ bool) (string, error) {
	if f.blockCh != nil {
		select {
		case <-f.blockCh:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if !strings.Contains(pageURL, "page=1") {
		return "<html><body></body></html>", nil
	}
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, href := range f.hrefs {
		fmt.Fprintf(&b, `<a href="%s">x</a>`, href)
	}
	b.WriteString("</body></html>")
	return b.String(), nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

const detailPage = `<html><body>
	<h1 data-testid="stage-title">BMW 320d</h1>
	<div data-testid="price-section"><span>29 999</span></div>
	<div data-testid="price">29 999</div>
	<div data-testid="mileage-road">45 000 km</div>
	<div data-testid="transmission">Automatic transmission</div>
	<div data-testid="fuel-type">Diesel</div>
	<div data-testid="first-registration">06/2018</div>
	<div data-testid="co2-emissions">120 g/km</div>
	<div data-testid="emission-class">Euro 6</div>
</body></html>`

func testSetup(t *testing.T, session discovery.PageSource) (*config.Config, *fakeStore, *Orchestrator, string) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Source = config.SourceConfig{
		ListURL:     "https://cars.example.com/lst?sort=age",
		LinkPattern: "/offers/",
		Domain:      "https://cars.example.com",
	}
	cfg.Discovery.PageDelay = 0
	cfg.Discovery.MaxPages = 3
	cfg.Fetcher.MinDelay = 0
	cfg.Fetcher.MaxDelay = 0
	cfg.Fetcher.BatchMinDelay = 0
	cfg.Fetcher.BatchMaxDelay = 0
	cfg.Fetcher.CheckpointPause = 0
	cfg.Fetcher.RateLimitWait = time.Millisecond
	cfg.Fetcher.TimeoutWait = time.Millisecond
	cfg.Files = config.FilesConfig{
		MainLinks:   filepath.Join(dir, "car_links.txt"),
		NewLinks:    filepath.Join(dir, "new_links.txt"),
		LatestLinks: filepath.Join(dir, "latest_links.txt"),
		WorkDir:     dir,
	}
	cfg.Mongo.Timeout = time.Second

	store := &fakeStore{connected: true}
	o := New(cfg, store, nil)
	o.SetSessionFactory(func(config.DiscoveryConfig) (discovery.PageSource, error) {
		return session, nil
	})
	return cfg, store, o, dir
}

func TestRunFullEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(detailPage))
	}))
	defer srv.Close()

	session := &fakeSession{hrefs: []string{
		// Sponsored placements, skipped by discovery.
		srv.URL + "/offers/sponsored-1",
		srv.URL + "/offers/sponsored-2",
		srv.URL + "/offers/sponsored-3",
		// Organic: two fetchable, one outside the brand allow-list, one known.
		srv.URL + "/offers/bmw-320d-1",
		srv.URL + "/offers/audi-a4-1",
		srv.URL + "/offers/lada-niva-1",
		srv.URL + "/offers/bmw-known-1",
	}}

	cfg, store, o, dir := testSetup(t, session)
	if err := links.WriteLinks(cfg.Files.MainLinks, []string{srv.URL + "/offers/bmw-known-1"}); err != nil {
		t.Fatal(err)
	}

	stats, err := o.RunFull(context.Background())
	if err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	if stats.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", stats.Status)
	}
	for _, step := range []string{StepLinkScraping, StepDataScraping, StepDataCleaning, StepStoreUpdate} {
		if _, ok := stats.Steps[step]; !ok {
			t.Errorf("step %s missing from run summary", step)
		}
	}

	// bmw-known-1 is matched and fetched too; lada is prefiltered.
	if len(store.inserted) != 3 {
		t.Fatalf("stored %d records, want 3", len(store.inserted))
	}
	if stats.VehiclesStored != 3 {
		t.Errorf("vehicles_stored = %d, want 3", stats.VehiclesStored)
	}
	if !session.closed {
		t.Error("browser session not released")
	}
	if len(store.savedStats) != 1 {
		t.Fatalf("run summary persisted %d times, want exactly once", len(store.savedStats))
	}
	if store.savedStats[0].Status != StatusCompleted {
		t.Errorf("persisted status = %s", store.savedStats[0].Status)
	}

	// Cleanup ran after a successful upload: intermediates gone, new and
	// latest truncated, main links intact.
	leftovers, _ := filepath.Glob(filepath.Join(dir, "complete_vehicles_*.csv"))
	if len(leftovers) != 0 {
		t.Errorf("intermediate files not cleaned: %v", leftovers)
	}
	newSet, err := links.LoadSet(cfg.Files.NewLinks)
	if err != nil {
		t.Fatal(err)
	}
	if newSet.Len() != 0 {
		t.Errorf("new-links file not truncated after ingestion")
	}
	mainSet, err := links.LoadSet(cfg.Files.MainLinks)
	if err != nil {
		t.Fatal(err)
	}
	if mainSet.Len() != 3 {
		t.Errorf("main links = %d, want top-3 window", mainSet.Len())
	}
}

func TestRunSkipsDownstreamWithoutNewLinks(t *testing.T) {
	// An empty feed: discovery finds nothing, downstream stages are skipped
	// and the run still completes.
	session := &fakeSession{}
	cfg, store, o, _ := testSetup(t, session)

	known := []string{
		"https://cars.example.com/offers/bmw-known-1",
		"https://cars.example.com/offers/bmw-known-2",
		"https://cars.example.com/offers/audi-known-1",
	}
	if err := links.WriteLinks(cfg.Files.MainLinks, known); err != nil {
		t.Fatal(err)
	}

	stats, err := o.RunFull(context.Background())
	if err != nil {
		t.Fatalf("RunFull: %v", err)
	}
	if stats.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", stats.Status)
	}
	if _, ok := stats.Steps[StepDataScraping]; ok {
		t.Error("fetch stage ran despite empty discovery output")
	}
	if len(store.savedStats) != 1 {
		t.Errorf("run summary persisted %d times", len(store.savedStats))
	}

	// The known set must survive a barren run, or the next run loses its
	// stop markers and crawls from scratch.
	mainSet, err := links.LoadSet(cfg.Files.MainLinks)
	if err != nil {
		t.Fatal(err)
	}
	if mainSet.Len() != len(known) {
		t.Fatalf("main links = %d after barren run, want %d", mainSet.Len(), len(known))
	}
	for _, l := range known {
		if !mainSet.Contains(l) {
			t.Errorf("known link %s lost after barren run", l)
		}
	}
}

func TestRunFailurePersistsStatsAndReRaises(t *testing.T) {
	_, store, o, _ := testSetup(t, &fakeSession{})
	bootErr := errors.New("browser launch failed")
	o.SetSessionFactory(func(config.DiscoveryConfig) (discovery.PageSource, error) {
		return nil, bootErr
	})

	stats, err := o.RunFull(context.Background())
	if err == nil {
		t.Fatal("expected the failure to re-raise")
	}
	if !errors.Is(err, bootErr) {
		t.Errorf("error chain lost: %v", err)
	}
	if stats.Status != StatusFailed {
		t.Errorf("status = %s, want failed", stats.Status)
	}
	if stats.Error == "" {
		t.Error("error description missing from summary")
	}
	if len(store.savedStats) != 1 || store.savedStats[0].Status != StatusFailed {
		t.Errorf("failed run summary not persisted: %+v", store.savedStats)
	}
}

func TestRunMutualExclusion(t *testing.T) {
	block := make(chan struct{})
	session := &fakeSession{blockCh: block}
	_, _, o, _ := testSetup(t, session)

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.RunFull(context.Background())
	}()

	// Wait for the first run to take the lock.
	deadline := time.After(2 * time.Second)
	for !o.Running() {
		select {
		case <-deadline:
			t.Fatal("first run never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if _, err := o.RunFull(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("overlapping trigger = %v, want ErrRunInProgress", err)
	}

	close(block)
	<-done
	if o.Running() {
		t.Error("running flag stuck after run finished")
	}
}

func TestRunLinksOnlySkipsFetch(t *testing.T) {
	session := &fakeSession{hrefs: []string{
		"https://cars.example.com/offers/s1",
		"https://cars.example.com/offers/s2",
		"https://cars.example.com/offers/s3",
		"https://cars.example.com/offers/bmw-320d-9",
	}}
	cfg, _, o, _ := testSetup(t, session)

	stats, err := o.RunLinksOnly(context.Background())
	if err != nil {
		t.Fatalf("RunLinksOnly: %v", err)
	}
	if stats.Status != StatusCompleted {
		t.Errorf("status = %s", stats.Status)
	}
	if _, ok := stats.Steps[StepLinkScraping]; !ok {
		t.Error("link stage missing")
	}
	if _, ok := stats.Steps[StepDataScraping]; ok {
		t.Error("fetch stage ran in links-only mode")
	}

	newSet, err := links.LoadSet(cfg.Files.NewLinks)
	if err != nil {
		t.Fatal(err)
	}
	if newSet.Len() != 1 {
		t.Errorf("new links = %d, want 1", newSet.Len())
	}
	if _, err := os.Stat(cfg.Files.LatestLinks); err != nil {
		t.Errorf("latest links file missing: %v", err)
	}
}
