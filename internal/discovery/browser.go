// internal/discovery/browser.go
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/carscout/carscout/internal/config"
	"github.com/carscout/carscout/internal/utils"
)

// PageSource loads one listings page and returns its rendered HTML. The
// engine owns exactly one PageSource per run and closes it on every exit
// path.
type PageSource interface {
	// LoadPage navigates to url and returns the page HTML after lazy-loaded
	// content has been triggered. acceptCookies is set for the first page of
	// a run only.
	LoadPage(ctx context.Context, url string, acceptCookies bool) (string, error)

	// Close releases the underlying browser resources.
	Close() error
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// cookieButtonSelector matches the consent banner's accept button.
const cookieButtonSelector = `button[data-testid="as24-cmp-accept-all-button"], button.accept-all, #onetrust-accept-btn-handler`

// BrowserSession drives a headless Chrome instance via chromedp.
type BrowserSession struct {
	allocCancel context.CancelFunc
	ctxCancel   context.CancelFunc
	ctx         context.Context
	timeout     time.Duration
	logger      utils.Logger
}

// NewBrowserSession starts a browser for one discovery run.
func NewBrowserSession(cfg config.DiscoveryConfig) (*BrowserSession, error) {
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(ua),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, ctxCancel := chromedp.NewContext(allocCtx)

	// Start the browser now so a broken environment fails fast.
	if err := chromedp.Run(browserCtx); err != nil {
		ctxCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &BrowserSession{
		allocCancel: allocCancel,
		ctxCancel:   ctxCancel,
		ctx:         browserCtx,
		timeout:     cfg.PageLoadTimeout,
		logger:      utils.NewComponentLogger("browser"),
	}, nil
}

// LoadPage navigates to url, dismisses the cookie banner when requested,
// scrolls in stages to trigger lazy loading, and returns the page HTML.
func (s *BrowserSession) LoadPage(ctx context.Context, url string, acceptCookies bool) (string, error) {
	runCtx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < s.timeout {
			runCtx, cancel = context.WithTimeout(s.ctx, remaining)
			defer cancel()
		}
	}

	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.Sleep(2 * time.Second),
	}
	if acceptCookies {
		actions = append(actions, s.acceptCookiesAction())
	}
	actions = append(actions, stagedScrollActions()...)

	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html))

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return "", fmt.Errorf("failed to load page %s: %w", url, err)
	}
	return html, nil
}

// acceptCookiesAction clicks the consent button if present. A missing
// banner is not an error.
func (s *BrowserSession) acceptCookiesAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		clickCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := chromedp.Click(cookieButtonSelector, chromedp.ByQuery).Do(clickCtx); err != nil {
			s.logger.Debugf("cookie banner not dismissed: %v", err)
		}
		return nil
	})
}

// stagedScrollActions scrolls to a third, a half, and the full page height
// so lazily rendered listings are attached before extraction.
func stagedScrollActions() []chromedp.Action {
	return []chromedp.Action{
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight / 3)`, nil),
		chromedp.Sleep(1 * time.Second),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight / 2)`, nil),
		chromedp.Sleep(1 * time.Second),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(2 * time.Second),
	}
}

// Close shuts the browser down.
func (s *BrowserSession) Close() error {
	s.ctxCancel()
	s.allocCancel()
	return nil
}
