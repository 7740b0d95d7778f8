// internal/pipeline/orchestrator.go

// Package pipeline sequences discovery, fetching, cleaning, and store
// upload into serialized runs with a persisted summary per invocation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/carscout/carscout/internal/cleaner"
	"github.com/carscout/carscout/internal/config"
	"github.com/carscout/carscout/internal/discovery"
	"github.com/carscout/carscout/internal/fetcher"
	"github.com/carscout/carscout/internal/links"
	"github.com/carscout/carscout/internal/monitoring"
	"github.com/carscout/carscout/internal/output"
	"github.com/carscout/carscout/internal/storage"
	"github.com/carscout/carscout/internal/utils"
)

// ErrRunInProgress is returned when a trigger arrives while a run is
// executing. Overlapping triggers coalesce into this no-op; they are never
// queued.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// VehicleStore is the slice of the storage layer the orchestrator needs.
type VehicleStore interface {
	Connected() bool
	UpdateDatabase(ctx context.Context, records []cleaner.Record) (*storage.UpdateResult, error)
	SaveRunStats(ctx context.Context, startTime time.Time, doc interface{}) (string, error)
}

// SessionFactory opens the browser session for one discovery run.
type SessionFactory func(cfg config.DiscoveryConfig) (discovery.PageSource, error)

// Orchestrator owns the run lifecycle. Runs are mutually exclusive; state
// shared across runs lives in files and the store, not in the process.
type Orchestrator struct {
	cfg        *config.Config
	store      VehicleStore
	metrics    *monitoring.Metrics
	newSession SessionFactory
	logger     utils.Logger
	now        func() time.Time

	mu      sync.Mutex // held for the whole run
	stateMu sync.Mutex // guards lastStats/running
	last    *RunStats
	running bool
}

// New builds an orchestrator. metrics may be nil.
func New(cfg *config.Config, store VehicleStore, metrics *monitoring.Metrics) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		metrics: metrics,
		newSession: func(dc config.DiscoveryConfig) (discovery.PageSource, error) {
			return discovery.NewBrowserSession(dc)
		},
		logger: utils.NewComponentLogger("pipeline"),
		now:    time.Now,
	}
}

// SetSessionFactory overrides how discovery sessions are created.
func (o *Orchestrator) SetSessionFactory(f SessionFactory) {
	o.newSession = f
}

// Running reports whether a run is executing right now.
func (o *Orchestrator) Running() bool {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.running
}

// LastRun returns a copy of the most recent run summary, or nil.
func (o *Orchestrator) LastRun() *RunStats {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	if o.last == nil {
		return nil
	}
	cp := *o.last
	return &cp
}

// RunFull executes the complete pipeline. A second concurrent call returns
// ErrRunInProgress immediately.
func (o *Orchestrator) RunFull(ctx context.Context) (*RunStats, error) {
	return o.run(ctx, true)
}

// RunLinksOnly executes only the discovery stage.
func (o *Orchestrator) RunLinksOnly(ctx context.Context) (*RunStats, error) {
	return o.run(ctx, false)
}

func (o *Orchestrator) run(ctx context.Context, full bool) (*RunStats, error) {
	if !o.mu.TryLock() {
		if o.metrics != nil {
			o.metrics.RunsSkipped.Inc()
		}
		o.logger.Warn("trigger coalesced, run already in progress")
		return nil, ErrRunInProgress
	}
	defer o.mu.Unlock()

	stats := newRunStats(o.now())
	o.setState(stats, true)
	defer o.setState(stats, false)

	err := o.execute(ctx, stats, full)
	if err != nil {
		stats.finalize(StatusFailed, o.now())
		stats.Error = err.Error()
	} else {
		stats.finalize(StatusCompleted, o.now())
	}

	o.persistStats(stats)
	if o.metrics != nil {
		o.metrics.ObserveRun(stats.Status, stats.EndTime.Sub(stats.StartTime))
	}

	if err != nil {
		return stats, fmt.Errorf("pipeline run failed: %w", err)
	}
	o.logger.Infof("run completed in %.1fs, %d vehicles stored",
		stats.DurationSeconds, stats.VehiclesStored)
	return stats, nil
}

func (o *Orchestrator) execute(ctx context.Context, stats *RunStats, full bool) error {
	result, err := o.discoverLinks(ctx, stats)
	if err != nil {
		return err
	}
	if !full {
		return nil
	}

	if len(result.NewLinks) == 0 {
		o.logger.Info("no new links discovered, skipping downstream stages")
		return nil
	}

	records, err := o.fetchDetails(ctx, stats, result.NewLinks)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		o.logger.Info("no vehicles fetched, skipping cleaning and store update")
		return nil
	}

	cleaned, err := o.cleanRecords(stats, records)
	if err != nil {
		return err
	}
	if len(cleaned) == 0 {
		o.logger.Info("no rows survived cleaning, skipping store update")
		return nil
	}

	return o.storeRecords(ctx, stats, cleaned)
}

// discoverLinks runs the discovery stage. The browser session is released
// on every exit path.
func (o *Orchestrator) discoverLinks(ctx context.Context, stats *RunStats) (*discovery.Result, error) {
	session, err := o.newSession(o.cfg.Discovery)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser session: %w", err)
	}
	defer session.Close()

	known, err := links.LoadSet(o.cfg.Files.MainLinks)
	if err != nil {
		return nil, err
	}

	engine := discovery.NewEngine(o.cfg.Discovery, o.cfg.Source, session)
	result, err := engine.Run(ctx, known)
	if err != nil {
		return nil, fmt.Errorf("link discovery failed: %w", err)
	}
	if err := discovery.SaveResults(o.cfg.Files, result); err != nil {
		return nil, err
	}

	stats.Steps[StepLinkScraping] = map[string]interface{}{
		"new_links":     len(result.NewLinks),
		"matched_links": len(result.MatchedLinks),
		"pages_visited": result.PagesVisited,
		"state":         string(result.State),
	}
	if o.metrics != nil {
		o.metrics.LinksDiscovered.Add(float64(len(result.NewLinks)))
		o.metrics.PagesCrawled.Add(float64(result.PagesVisited))
	}
	return result, nil
}

// fetchDetails runs the batch fetch stage and writes the completed batch
// CSV.
func (o *Orchestrator) fetchDetails(ctx context.Context, stats *RunStats, newLinks []string) ([]*fetcher.Record, error) {
	client := fetcher.NewClient(o.cfg.Fetcher)
	records, batchStats, err := client.ProcessLinksConservatively(ctx, newLinks, o.cfg.Files.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("detail fetch failed: %w", err)
	}

	if len(records) > 0 {
		path := filepath.Join(o.cfg.Files.WorkDir,
			fmt.Sprintf("complete_vehicles_%s.csv", o.now().Format("20060102_150405")))
		if err := fetcher.WriteBatchCSV(path, records); err != nil {
			return nil, err
		}
	}

	stats.Steps[StepDataScraping] = batchStats
	if o.metrics != nil {
		o.metrics.FetchesTotal.WithLabelValues("success").Add(float64(batchStats.Succeeded))
		o.metrics.FetchesTotal.WithLabelValues("failure").Add(float64(batchStats.Failed))
		o.metrics.FetchesTotal.WithLabelValues("prefiltered").Add(float64(batchStats.SkippedByPrefilter))
	}
	return records, nil
}

// cleanRecords runs the normalizer and writes the cleaned batch CSV.
func (o *Orchestrator) cleanRecords(stats *RunStats, records []*fetcher.Record) ([]cleaner.Record, error) {
	result := cleaner.New().Clean(cleaner.BatchFromRecords(records))

	if len(result.Records) > 0 {
		rows := make([][]string, 0, len(result.Records))
		for i := range result.Records {
			rows = append(rows, result.Records[i].Row())
		}
		path := filepath.Join(o.cfg.Files.WorkDir,
			fmt.Sprintf("cleaned_vehicles_%s.csv", o.now().Format("20060102_150405")))
		if err := output.WriteCSV(path, cleaner.CleanedColumns, rows); err != nil {
			return nil, err
		}
	}

	stats.Steps[StepDataCleaning] = result.Stats
	if o.metrics != nil {
		for filter, n := range result.Stats.Filtered {
			o.metrics.RowsFiltered.WithLabelValues(filter).Add(float64(n))
		}
	}
	return result.Records, nil
}

// storeRecords uploads cleaned records, mirrors them to the local archive
// when enabled, and removes transient artifacts after a successful upload.
func (o *Orchestrator) storeRecords(ctx context.Context, stats *RunStats, cleaned []cleaner.Record) error {
	update, err := o.store.UpdateDatabase(ctx, cleaned)
	if err != nil {
		return fmt.Errorf("store update failed: %w", err)
	}
	stats.Steps[StepStoreUpdate] = update
	stats.VehiclesStored = update.Inserted
	if o.metrics != nil {
		o.metrics.VehiclesStored.Add(float64(update.Inserted))
	}

	if o.cfg.Archive.Enabled {
		if err := o.archive(ctx, cleaned); err != nil {
			o.logger.Warnf("archive write failed: %v", err)
		}
	}

	if update.Status == storage.StatusOK {
		if err := storage.CleanupArtifacts(o.cfg.Files, o.cfg.Files.WorkDir); err != nil {
			o.logger.Warnf("cleanup failed: %v", err)
		} else {
			stats.Steps[StepFileCleanup] = "done"
		}
	}
	return nil
}

func (o *Orchestrator) archive(ctx context.Context, cleaned []cleaner.Record) error {
	a, err := storage.OpenArchive(o.cfg.Archive)
	if err != nil {
		return err
	}
	defer a.Close()
	_, err = a.Store(ctx, cleaned)
	return err
}

// persistStats saves the run summary best-effort. A failure to persist the
// summary is logged and swallowed, never escalated.
func (o *Orchestrator) persistStats(stats *RunStats) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Mongo.Timeout)
	defer cancel()

	if _, err := o.store.SaveRunStats(ctx, stats.StartTime, stats); err != nil {
		o.logger.Errorf("failed to persist run stats: %v", err)
	}
}

func (o *Orchestrator) setState(stats *RunStats, running bool) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	o.running = running
	cp := *stats
	o.last = &cp
}
