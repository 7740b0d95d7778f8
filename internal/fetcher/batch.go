// internal/fetcher/batch.go
package fetcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/carscout/carscout/internal/output"
)

// BatchStats summarizes one batch run. Individual fetch failures are
// counted, never fatal; the batch always runs to the end of the list.
type BatchStats struct {
	TotalLinks         int      `bson:"total_links" json:"total_links"`
	SkippedByPrefilter int      `bson:"skipped_by_prefilter" json:"skipped_by_prefilter"`
	Attempted          int      `bson:"attempted" json:"attempted"`
	Succeeded          int      `bson:"succeeded" json:"succeeded"`
	Failed             int      `bson:"failed" json:"failed"`
	CheckpointFiles    []string `bson:"checkpoint_files,omitempty" json:"checkpoint_files,omitempty"`
}

// ProcessLinksConservatively fetches every allow-listed link sequentially
// with randomized delays, writing a checkpoint CSV after every
// CheckpointEvery successes and pausing to shed load. Returns all records
// fetched plus batch statistics; the only error is context cancellation.
func (c *Client) ProcessLinksConservatively(ctx context.Context, links []string, workDir string) ([]*Record, *BatchStats, error) {
	stats := &BatchStats{TotalLinks: len(links)}

	eligible := make([]string, 0, len(links))
	for _, link := range links {
		if _, ok := BrandFromURL(link); ok {
			eligible = append(eligible, link)
		} else {
			stats.SkippedByPrefilter++
		}
	}
	c.logger.Infof("batch: %d links, %d eligible after brand prefilter",
		stats.TotalLinks, len(eligible))

	var records []*Record
	for i, link := range eligible {
		if i > 0 {
			if err := c.interFetchDelay(ctx); err != nil {
				return records, stats, err
			}
		}

		stats.Attempted++
		rec, err := c.Fetch(ctx, link)
		if err != nil {
			return records, stats, err
		}
		if rec == nil {
			stats.Failed++
			continue
		}
		records = append(records, rec)
		stats.Succeeded++

		if c.cfg.CheckpointEvery > 0 && stats.Succeeded%c.cfg.CheckpointEvery == 0 {
			path := filepath.Join(workDir, fmt.Sprintf("temp_results_%d.csv", stats.Succeeded))
			if err := writeRecordsCSV(path, records); err != nil {
				c.logger.Warnf("checkpoint write failed: %v", err)
			} else {
				stats.CheckpointFiles = append(stats.CheckpointFiles, path)
				c.logger.Infof("checkpoint at %d successes: %s", stats.Succeeded, path)
			}
			if err := wait(ctx, c.cfg.CheckpointPause); err != nil {
				return records, stats, err
			}
		}
	}

	c.logger.Infof("batch done: %d succeeded, %d failed, %d prefiltered",
		stats.Succeeded, stats.Failed, stats.SkippedByPrefilter)
	return records, stats, nil
}

// interFetchDelay sleeps a random interval in [BatchMinDelay, BatchMaxDelay].
func (c *Client) interFetchDelay(ctx context.Context) error {
	span := c.cfg.BatchMaxDelay - c.cfg.BatchMinDelay
	d := c.cfg.BatchMinDelay
	if span > 0 {
		d += time.Duration(c.rng.Int63n(int64(span)))
	}
	return wait(ctx, d)
}

// WriteBatchCSV writes a completed batch to path in schema order.
func WriteBatchCSV(path string, records []*Record) error {
	return writeRecordsCSV(path, records)
}

func writeRecordsCSV(path string, records []*Record) error {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rec.Row())
	}
	return output.WriteCSV(path, Columns, rows)
}
