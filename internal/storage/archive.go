// internal/storage/archive.go
package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/carscout/carscout/internal/cleaner"
	"github.com/carscout/carscout/internal/config"
	"github.com/carscout/carscout/internal/utils"
)

// Archive mirrors cleaned records into a local SQLite database so the
// console tooling can inspect results without store credentials.
type Archive struct {
	db     *sql.DB
	table  string
	logger utils.Logger
}

// OpenArchive opens (creating if needed) the archive database and ensures
// the schema exists.
func OpenArchive(cfg config.ArchiveConfig) (*Archive, error) {
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", cfg.Path, err)
	}

	a := &Archive{
		db:     db,
		table:  cfg.Table,
		logger: utils.NewComponentLogger("archive"),
	}
	if err := a.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) ensureSchema() error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		brand_model TEXT,
		price INTEGER,
		mileage INTEGER,
		transmission TEXT,
		fuel TEXT,
		year INTEGER,
		co2 INTEGER,
		emission_class TEXT,
		warranty INTEGER,
		brand TEXT,
		model TEXT,
		link TEXT UNIQUE,
		date TEXT
	)`, a.table)
	if _, err := a.db.Exec(stmt); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

// Store inserts cleaned records, ignoring links already archived. Returns
// the number of rows actually inserted.
func (a *Archive) Store(ctx context.Context, records []cleaner.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT OR IGNORE INTO %s
		(brand_model, price, mileage, transmission, fuel, year, co2,
		 emission_class, warranty, brand, model, link, date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, a.table))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare archive insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range records {
		res, err := stmt.ExecContext(ctx,
			r.BrandModel, r.Price, r.Mileage, r.Transmission, r.Fuel, r.Year,
			r.CO2, r.EmissionClass, r.WarrantyMonths, r.Brand, r.Model, r.Link, r.Date)
		if err != nil {
			return inserted, fmt.Errorf("failed to archive record %s: %w", r.Link, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	a.logger.Infof("archived %d of %d records", inserted, len(records))
	return inserted, nil
}

// Count returns the number of archived records.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", a.table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count archive rows: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}
