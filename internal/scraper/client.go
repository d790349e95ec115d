package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/pfrederiksen/meteo-history/internal/logger"
)

const (
	UserAgent       = "meteo-history/1.0 (github.com/pfrederiksen/meteo-history)"
	Timeout         = 30 * time.Second
	RequestInterval = 250 * time.Millisecond
	Retries         = 2
)

// DocumentFetcher fetches a page and parses it into a navigable node tree
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error)
}

// ClientConfig configures a Client. Zero values select the package defaults, except
// RequestInterval where a negative value disables pacing.
type ClientConfig struct {
	UserAgent       string
	Timeout         time.Duration // Per attempt
	RequestInterval time.Duration // Minimum spacing between requests
	Retries         int           // Extra attempts after a transient failure
	HTTPClient      *http.Client
	Metrics         *logger.Metrics
	Logger          *logger.Logger
}

// Client fetches upstream pages
type Client struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	retries   int
	limiter   *rate.Limiter
	metrics   *logger.Metrics
	log       *logger.Logger
	backoff   func() backoff.BackOff
}

// NewClient creates a Client from cfg
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		client:    cfg.HTTPClient,
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		retries:   cfg.Retries,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
	}
	if c.userAgent == "" {
		c.userAgent = UserAgent
	}
	if c.timeout <= 0 {
		c.timeout = Timeout
	}
	if c.retries < 0 {
		c.retries = 0
	}
	if c.client == nil {
		// Attempts are bounded by a context deadline; this only guards a stuck body read.
		c.client = &http.Client{Timeout: c.timeout + 5*time.Second}
	}
	if c.metrics == nil {
		c.metrics = logger.DefaultMetrics()
	}
	if c.log == nil {
		c.log = logger.Default()
	}

	interval := cfg.RequestInterval
	if interval == 0 {
		interval = RequestInterval
	}
	if interval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(interval), 1)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}

	c.backoff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = 5 * time.Second
		return b
	}

	return c
}

// FetchDocument fetches pageURL and parses it. Transient failures are retried; the
// returned error wraps ErrNetworkTimeout or ErrNetworkFailure, or is the context error
// when ctx was cancelled.
func (c *Client) FetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	start := time.Now()
	var doc *goquery.Document

	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(ctxErr(ctx, err))
		}

		d, err := c.fetchOnce(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil || !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		doc = d
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.backoff(), uint64(c.retries)), ctx)
	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		c.metrics.IncrCounter("fetch.retry")
		c.log.Debug("Retrying fetch", logger.Fields{
			"url":   pageURL,
			"wait":  wait.String(),
			"error": err.Error(),
		})
	})

	c.metrics.RecordTiming("fetch.page", time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.metrics.IncrCounter("fetch.failed")
		return nil, err
	}

	c.metrics.IncrCounter("fetch.ok")
	return doc, nil
}

// fetchOnce performs a single attempt bounded by the per-fetch timeout
func (c *Client) fetchOnce(ctx context.Context, pageURL string) (*goquery.Document, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classify(ctx, pageURL, "fetching page", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: pageURL, Code: resp.StatusCode}
	}

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrPageMalformed, pageURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, classify(ctx, pageURL, "parsing HTML", err)
	}

	return doc, nil
}

// classify maps a transport error onto the package sentinels. Cancellation of the
// caller's context is returned as is.
func classify(ctx context.Context, pageURL, action string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s %s: %v", ErrNetworkTimeout, action, pageURL, err)
	}
	return fmt.Errorf("%w: %s %s: %v", ErrNetworkFailure, action, pageURL, err)
}

// ctxErr explains a failed wait on the pacing limiter
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: waiting for request slot: %v", ErrNetworkTimeout, err)
}
