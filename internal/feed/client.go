// Package feed fetches the police event listing from the provider API.
package feed

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sambandhq/samband/internal/model"
)

// DefaultUserAgent is a browser User-Agent; the provider rejects the Go
// default.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Options configures the feed client.
type Options struct {
	Endpoint    string
	UserAgent   string
	Timeout     time.Duration // per-attempt budget, aborts in-flight requests
	MaxAttempts int           // total attempts including the first
	RetryDelay  time.Duration // fixed delay between attempts, no backoff
}

// Client fetches event listings with a bounded fixed-delay retry. The
// provider asks for a steady request rate rather than bursts, so retries
// use a short fixed delay and all requests pass a rate limiter first.
type Client struct {
	client  *http.Client
	opts    Options
	limiter *rate.Limiter
}

// NewClient creates a feed client with the given options.
func NewClient(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &Client{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:    opts,
		limiter: rate.NewLimiter(1, 2),
	}
}

// Fetch retrieves the provider's default ("currently active") listing.
func (c *Client) Fetch(ctx context.Context) ([]model.RawEvent, error) {
	return c.fetch(ctx, c.opts.Endpoint)
}

// FetchDay retrieves the listing filtered to one calendar day.
func (c *Client) FetchDay(ctx context.Context, day time.Time) ([]model.RawEvent, error) {
	return c.fetch(ctx, c.opts.Endpoint+"?DateTime="+day.Format("2006-01-02"))
}

// fetch runs the attempt loop. Exhausting all attempts surfaces the last
// underlying cause; it never returns partial data.
func (c *Client) fetch(ctx context.Context, url string) ([]model.RawEvent, error) {
	var lastErr error
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(c.opts.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, eris.Wrap(lastErr, "feed: cancelled during retry wait")
			case <-timer.C:
			}
		}

		events, err := c.attempt(ctx, url)
		if err == nil {
			return events, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		zap.L().Warn("feed fetch attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, eris.Wrap(lastErr, "feed: all attempts failed")
}

func (c *Client) attempt(ctx context.Context, url string) ([]model.RawEvent, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "feed: rate limiter wait")
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "feed: create request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "feed: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, eris.Errorf("feed: http %d from %s", resp.StatusCode, url)
	}

	var events []model.RawEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		// Non-array bodies (error pages, objects) land here too.
		return nil, eris.Wrap(err, "feed: decode listing")
	}
	return events, nil
}
