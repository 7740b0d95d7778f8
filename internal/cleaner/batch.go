// internal/cleaner/batch.go

// Package cleaner converts raw scraped batches into typed vehicle records
// through a fixed ordered sequence of column transforms and row filters,
// reporting per-filter rejection counts.
package cleaner

import (
	"github.com/carscout/carscout/internal/utils"
)

// Batch is a column-ordered table of raw string values, the in-memory
// equivalent of one intermediate CSV.
type Batch struct {
	Columns []string
	Rows    [][]string
}

// NewBatch builds a Batch and deduplicates repeated column names, keeping
// the first occurrence. Later transforms assume one series per name.
func NewBatch(columns []string, rows [][]string) *Batch {
	seen := make(map[string]int, len(columns))
	keep := make([]int, 0, len(columns))
	outCols := make([]string, 0, len(columns))
	dropped := 0

	for i, c := range columns {
		if _, dup := seen[c]; dup {
			dropped++
			continue
		}
		seen[c] = i
		keep = append(keep, i)
		outCols = append(outCols, c)
	}

	outRows := make([][]string, 0, len(rows))
	for _, row := range rows {
		out := make([]string, len(keep))
		for j, idx := range keep {
			if idx < len(row) {
				out[j] = row[idx]
			}
		}
		outRows = append(outRows, out)
	}

	if dropped > 0 {
		utils.NewComponentLogger("cleaner").Warnf("dropped %d duplicate columns", dropped)
	}
	return &Batch{Columns: outCols, Rows: outRows}
}

// columnIndex returns the position of name, or -1.
func (b *Batch) columnIndex(name string) int {
	for i, c := range b.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// rename changes a column's name in place if present.
func (b *Batch) rename(from, to string) {
	if i := b.columnIndex(from); i >= 0 {
		b.Columns[i] = to
	}
}

// drop removes a column and its values if present.
func (b *Batch) drop(name string) {
	i := b.columnIndex(name)
	if i < 0 {
		return
	}
	b.Columns = append(b.Columns[:i], b.Columns[i+1:]...)
	for r, row := range b.Rows {
		b.Rows[r] = append(row[:i], row[i+1:]...)
	}
}
