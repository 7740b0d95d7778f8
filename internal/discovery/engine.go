// internal/discovery/engine.go

// Package discovery implements the incremental link-discovery crawl: page
// through a newest-first listings feed, classify each link against the
// known-link set, and stop once enough already-known links have been seen.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/carscout/carscout/internal/config"
	"github.com/carscout/carscout/internal/links"
	"github.com/carscout/carscout/internal/utils"
)

// State is the terminal state of a discovery run.
type State string

const (
	// StateDone means the crawl caught up to known links or the feed ended.
	StateDone State = "done"
	// StateAborted means the page ceiling was hit before catching up.
	// Partial results are still returned.
	StateAborted State = "aborted"
)

// Result holds the outcome of one discovery run.
type Result struct {
	NewLinks     []string
	MatchedLinks []string
	PagesVisited int
	State        State
}

// Engine pages through the listings source and classifies links.
type Engine struct {
	cfg    config.DiscoveryConfig
	source config.SourceConfig
	pages  PageSource
	logger utils.Logger
}

// NewEngine builds a discovery engine over a page source. The engine does
// not own the source; the caller closes it.
func NewEngine(cfg config.DiscoveryConfig, source config.SourceConfig, pages PageSource) *Engine {
	return &Engine{
		cfg:    cfg,
		source: source,
		pages:  pages,
		logger: utils.NewComponentLogger("discovery"),
	}
}

// Run crawls pages newest-first until the match target is reached or the
// page ceiling aborts the run. Links already in known count as matches;
// everything else is new. Matches are appended to the new-links output as
// well, preserving the feed's running-window bookkeeping.
func (e *Engine) Run(ctx context.Context, known *links.Set) (*Result, error) {
	result := &Result{State: StateAborted}

	collected := links.NewSet()
	matched := links.NewSet()

	for page := 1; page <= e.cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		pageURL, err := e.pageURL(page)
		if err != nil {
			return result, err
		}

		pageLinks, err := e.loadPageLinks(ctx, pageURL, page == 1)
		if err != nil {
			return result, err
		}
		result.PagesVisited = page

		if len(pageLinks) == 0 {
			e.logger.Warnf("no links on page %d after retry, stopping with partial results", page)
			result.State = StateDone
			break
		}

		// The first few placements are sponsored and outside chronological
		// order; they cannot serve as catch-up evidence.
		if len(pageLinks) > e.cfg.SkipTopListings {
			pageLinks = pageLinks[e.cfg.SkipTopListings:]
		} else {
			pageLinks = nil
		}

		for _, link := range pageLinks {
			canonical := links.Canonicalize(link)
			if known.Contains(canonical) && !matched.Contains(canonical) {
				matched.Add(canonical)
				collected.Add(canonical)
				e.logger.Infof("match %d/%d on page %d: %s",
					matched.Len(), e.cfg.TargetMatches, page, links.VehicleID(canonical))
				break
			}
			collected.Add(canonical)
		}

		if matched.Len() >= e.cfg.TargetMatches {
			result.State = StateDone
			break
		}

		if page < e.cfg.MaxPages {
			if err := wait(ctx, e.cfg.PageDelay); err != nil {
				return result, err
			}
		}
	}

	result.NewLinks = collected.All()
	result.MatchedLinks = matched.All()

	if result.State == StateAborted {
		e.logger.Warnf("page ceiling %d reached with %d/%d matches, returning partial results",
			e.cfg.MaxPages, matched.Len(), e.cfg.TargetMatches)
	}
	e.logger.Infof("discovery finished: %d new, %d matched, %d pages, state=%s",
		len(result.NewLinks), len(result.MatchedLinks), result.PagesVisited, result.State)
	return result, nil
}

// loadPageLinks loads one page and extracts listing links, retrying once
// when extraction yields nothing.
func (e *Engine) loadPageLinks(ctx context.Context, pageURL string, first bool) ([]string, error) {
	html, err := e.pages.LoadPage(ctx, pageURL, first)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", pageURL, err)
	}
	found, err := ExtractListingLinks(html, e.source.LinkPattern, e.source.Domain)
	if err != nil {
		return nil, err
	}
	if len(found) > 0 {
		return found, nil
	}

	e.logger.Warnf("zero links extracted from %s, retrying once", pageURL)
	html, err = e.pages.LoadPage(ctx, pageURL, false)
	if err != nil {
		return nil, fmt.Errorf("failed to reload %s: %w", pageURL, err)
	}
	return ExtractListingLinks(html, e.source.LinkPattern, e.source.Domain)
}

// pageURL rewrites the page query parameter on the configured list URL.
func (e *Engine) pageURL(page int) (string, error) {
	u, err := url.Parse(e.source.ListURL)
	if err != nil {
		return "", fmt.Errorf("invalid list URL %s: %w", e.source.ListURL, err)
	}
	q := u.Query()
	q.Set(e.cfg.PageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SaveResults persists a run's link files: every new link to the new-links
// file, and the three newest to both the main and latest files. The main
// file doubles as the next run's known set; only a narrow window survives,
// so catch-up correctness rests on the match-stop heuristic rather than
// full-set membership. A run with no new links leaves all three files
// untouched, otherwise an overwritten main file would erase the known set
// and force the next run into a full cold-start crawl.
func SaveResults(files config.FilesConfig, result *Result) error {
	if len(result.NewLinks) == 0 {
		return nil
	}
	if err := links.WriteLinks(files.NewLinks, result.NewLinks); err != nil {
		return err
	}
	top := result.NewLinks
	if len(top) > 3 {
		top = top[:3]
	}
	if err := links.WriteLinks(files.MainLinks, top); err != nil {
		return err
	}
	return links.WriteLinks(files.LatestLinks, top)
}

// wait sleeps for d or until the context is cancelled.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
