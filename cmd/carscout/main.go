// cmd/carscout/main.go

// The carscout CLI runs the scraping pipeline or a single stage standalone
// for diagnostics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/carscout/carscout/internal/cleaner"
	"github.com/carscout/carscout/internal/config"
	"github.com/carscout/carscout/internal/fetcher"
	"github.com/carscout/carscout/internal/links"
	"github.com/carscout/carscout/internal/output"
	"github.com/carscout/carscout/internal/pipeline"
	"github.com/carscout/carscout/internal/storage"
	"github.com/carscout/carscout/internal/utils"
)

const version = "1.2.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:], true)
	case "discover":
		err = cmdRun(os.Args[2:], false)
	case "fetch":
		err = cmdFetch(os.Args[2:])
	case "clean":
		err = cmdClean(os.Args[2:])
	case "version":
		fmt.Printf("carscout %s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`carscout - vehicle listing scraper

Usage:
  carscout run      [-config file]            run the full pipeline once
  carscout discover [-config file]            run link discovery only
  carscout fetch    [-config file] -links f   fetch details for a link file
  carscout clean    -in file [-out file]      clean a raw batch CSV
  carscout version                            print the version
`)
}

func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	path := fs.String("config", "config.yaml", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg, err := config.LoadFromFile(*path)
	if err != nil {
		return nil, err
	}
	utils.SetDefaultLevel(utils.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// cmdRun executes the pipeline once, full or discovery-only.
func cmdRun(args []string, full bool) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store := storage.Connect(ctx, cfg.Mongo)
	defer store.Close(context.Background())

	o := pipeline.New(cfg, store, nil)
	var stats *pipeline.RunStats
	if full {
		stats, err = o.RunFull(ctx)
	} else {
		stats, err = o.RunLinksOnly(ctx)
	}
	if err != nil {
		return err
	}

	fmt.Printf("run %s in %.1fs, %d vehicles stored\n",
		stats.Status, stats.DurationSeconds, stats.VehiclesStored)
	return nil
}

// cmdFetch fetches details for every link in a file and writes the raw
// batch CSV.
func cmdFetch(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	linksPath := fs.String("links", "", "link file, one URL per line")
	outPath := fs.String("out", "", "output CSV path (default: complete_vehicles_<ts>.csv)")
	configPath := fs.String("config", "config.yaml", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *linksPath == "" {
		return fmt.Errorf("-links is required")
	}

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		return err
	}
	utils.SetDefaultLevel(utils.ParseLevel(cfg.LogLevel))

	set, err := links.LoadSet(*linksPath)
	if err != nil {
		return err
	}
	if set.Len() == 0 {
		return fmt.Errorf("no links in %s", *linksPath)
	}

	client := fetcher.NewClient(cfg.Fetcher)
	records, stats, err := client.ProcessLinksConservatively(context.Background(), set.All(), cfg.Files.WorkDir)
	if err != nil {
		return err
	}

	out := *outPath
	if out == "" {
		out = filepath.Join(cfg.Files.WorkDir,
			fmt.Sprintf("complete_vehicles_%s.csv", time.Now().Format("20060102_150405")))
	}
	if err := fetcher.WriteBatchCSV(out, records); err != nil {
		return err
	}

	fmt.Printf("fetched %d of %d links (%d prefiltered, %d failed) -> %s\n",
		stats.Succeeded, stats.TotalLinks, stats.SkippedByPrefilter, stats.Failed, out)
	return nil
}

// cmdClean normalizes a raw batch CSV and prints the filter report.
func cmdClean(args []string) error {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	inPath := fs.String("in", "", "raw batch CSV")
	outPath := fs.String("out", "", "cleaned CSV path (default: cleaned_vehicles_<ts>.csv)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inPath == "" {
		return fmt.Errorf("-in is required")
	}

	header, rows, err := output.ReadCSV(*inPath)
	if err != nil {
		return err
	}

	result := cleaner.New().Clean(cleaner.NewBatch(header, rows))

	out := *outPath
	if out == "" {
		out = fmt.Sprintf("cleaned_vehicles_%s.csv", time.Now().Format("20060102_150405"))
	}
	cleanedRows := make([][]string, 0, len(result.Records))
	for i := range result.Records {
		cleanedRows = append(cleanedRows, result.Records[i].Row())
	}
	if err := output.WriteCSV(out, cleaner.CleanedColumns, cleanedRows); err != nil {
		return err
	}

	logger := utils.NewComponentLogger("clean")
	logger.Infof("kept %d of %d rows", result.Stats.FinalRows, result.Stats.OriginalRows)
	for filter, n := range result.Stats.Filtered {
		fmt.Printf("  %-24s %d\n", filter, n)
	}
	fmt.Printf("cleaned %d rows -> %s\n", len(cleanedRows), out)
	return nil
}
