// internal/fetcher/client.go
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/carscout/carscout/internal/config"
	"github.com/carscout/carscout/internal/utils"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// outcome classifies one fetch attempt.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetryable
	outcomeFatal
)

// attemptResult is the explicit result of one HTTP attempt, replacing
// exception-driven retry flow with a bounded loop over classified outcomes.
type attemptResult struct {
	outcome outcome
	body    string
	backoff time.Duration
	reason  string
}

// Client fetches one listing page at a time. Each Client owns its HTTP
// connection pool exclusively; the limiter enforces a global minimum
// interval between requests regardless of caller.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	cfg     config.FetcherConfig
	logger  utils.Logger
	rng     *rand.Rand
	now     func() time.Time
}

// NewClient builds a fetch client from configuration.
func NewClient(cfg config.FetcherConfig) *Client {
	limit := rate.Inf
	if cfg.MinDelay > 0 {
		limit = rate.Every(cfg.MinDelay)
	}
	return &Client{
		http: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		cfg:     cfg,
		logger:  utils.NewComponentLogger("fetcher"),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
}

// Fetch retrieves and extracts one listing. It returns (nil, nil) when the
// listing is skipped: brand outside the allow-list, hard block, or retries
// exhausted. An error is returned only for context cancellation.
func (c *Client) Fetch(ctx context.Context, link string) (*Record, error) {
	brand, ok := BrandFromURL(link)
	if !ok {
		c.logger.Debugf("skipping %s: brand not in allow-list", link)
		return nil, nil
	}

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.politenessDelay(ctx); err != nil {
			return nil, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		res := c.attempt(ctx, link)
		switch res.outcome {
		case outcomeSuccess:
			return ExtractRecord(res.body, link, brand, c.now()), nil
		case outcomeFatal:
			c.logger.Warnf("giving up on %s: %s", link, res.reason)
			return nil, nil
		case outcomeRetryable:
			c.logger.Warnf("attempt %d/%d for %s failed: %s",
				attempt, c.cfg.MaxAttempts, link, res.reason)
			if attempt < c.cfg.MaxAttempts {
				// Backoff scales with the attempt counter.
				if err := wait(ctx, res.backoff*time.Duration(attempt)); err != nil {
					return nil, err
				}
			}
		}
	}

	c.logger.Warnf("retries exhausted for %s", link)
	return nil, nil
}

// attempt performs one HTTP round trip and classifies the result.
func (c *Client) attempt(ctx context.Context, link string) attemptResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return attemptResult{outcome: outcomeFatal, reason: fmt.Sprintf("bad URL: %v", err)}
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return attemptResult{outcome: outcomeFatal, reason: "cancelled"}
		}
		if isTimeout(err) {
			return attemptResult{
				outcome: outcomeRetryable,
				backoff: c.timeoutBackoff(),
				reason:  "timeout",
			}
		}
		return attemptResult{
			outcome: outcomeRetryable,
			backoff: c.timeoutBackoff(),
			reason:  fmt.Sprintf("network error: %v", err),
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return attemptResult{
				outcome: outcomeRetryable,
				backoff: c.timeoutBackoff(),
				reason:  fmt.Sprintf("body read failed: %v", err),
			}
		}
		return attemptResult{outcome: outcomeSuccess, body: string(body)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return attemptResult{
			outcome: outcomeRetryable,
			backoff: c.rateLimitBackoff(),
			reason:  "rate limited (429)",
		}
	case resp.StatusCode == http.StatusForbidden:
		return attemptResult{outcome: outcomeFatal, reason: "blocked (403)"}
	case resp.StatusCode >= 500:
		return attemptResult{
			outcome: outcomeRetryable,
			backoff: c.timeoutBackoff(),
			reason:  fmt.Sprintf("server error (%d)", resp.StatusCode),
		}
	default:
		return attemptResult{outcome: outcomeFatal, reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}
}

func (c *Client) setHeaders(req *http.Request) {
	ua := c.cfg.UserAgent
	if ua == "" {
		ua = browserUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,fr;q=0.8")
	req.Header.Set("Connection", "keep-alive")
}

// politenessDelay sleeps a random interval in [MinDelay, MaxDelay].
func (c *Client) politenessDelay(ctx context.Context) error {
	span := c.cfg.MaxDelay - c.cfg.MinDelay
	d := c.cfg.MinDelay
	if span > 0 {
		d += time.Duration(c.rng.Int63n(int64(span)))
	}
	return wait(ctx, d)
}

// Base backoffs; the retry loop scales them by the attempt counter.
func (c *Client) timeoutBackoff() time.Duration {
	return c.cfg.TimeoutWait
}

func (c *Client) rateLimitBackoff() time.Duration {
	return c.cfg.RateLimitWait
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// wait sleeps for d or until ctx is cancelled.
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
