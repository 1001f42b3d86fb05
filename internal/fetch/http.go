package fetch

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/deepharvest/deepharvest/internal/crawlcore"
)

// RetryPolicy decides whether and how long to wait before retrying a
// failed fetch. Grounded on internal/crawler/retry_policy.go's
// ExponentialRetryPolicy, generalized with a floor from the caller's
// configuration instead of hardcoded constants.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewRetryPolicy builds a RetryPolicy from crawl configuration.
func NewRetryPolicy(maxAttempts int, base, max time.Duration) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if max <= 0 {
		max = 5 * time.Second
	}
	return RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: base, MaxDelay: max}
}

// ShouldRetry reports whether attempt should be retried given err and, for
// HTTP responses, statusCode (0 if not applicable).
func (p RetryPolicy) ShouldRetry(err error, statusCode int, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return netErr.Timeout()
		}
		return true
	}
	switch {
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusTooEarly,
		statusCode == http.StatusTooManyRequests:
		return true
	case statusCode >= 500:
		return true
	default:
		return false
	}
}

// Backoff returns the wait duration before attempt, honoring retryAfter
// (parsed from a Retry-After header) when it is longer than the computed
// exponential-jittered delay.
func (p RetryPolicy) Backoff(attempt int, retryAfter time.Duration) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	computed := time.Duration(delay/2) + jitter
	if retryAfter > computed {
		return retryAfter
	}
	return computed
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// ParseRetryAfter parses an HTTP Retry-After header value (seconds form).
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		return time.Until(when)
	}
	return 0
}

// HTTPFetcherConfig controls the Colly-backed HTTP fetcher.
type HTTPFetcherConfig struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	SpillDir     string
	Retry        RetryPolicy
}

// HTTPFetcher implements crawlcore.Fetcher using a cloned gocolly
// collector per fetch, grounded directly on
// internal/fetcher/colly/fetcher.go and internal/crawler/fetcher_colly.go.
type HTTPFetcher struct {
	cfg           HTTPFetcherConfig
	baseCollector *colly.Collector
}

// NewHTTPFetcher builds an HTTPFetcher with a pooled base transport.
func NewHTTPFetcher(cfg HTTPFetcherConfig) *HTTPFetcher {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newPooledTransport())
	return &HTTPFetcher{cfg: cfg, baseCollector: c}
}

func newPooledTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// Fetch retrieves rec.URL over HTTP, retrying transient failures per the
// configured RetryPolicy with jittered exponential backoff honoring
// Retry-After.
func (f *HTTPFetcher) Fetch(ctx context.Context, rec crawlcore.URLRecord) (crawlcore.FetchResult, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		result, statusCode, retryAfter, err := f.attempt(ctx, rec)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !f.cfg.Retry.ShouldRetry(err, statusCode, attempt) {
			break
		}
		wait := f.cfg.Retry.Backoff(attempt, retryAfter)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return crawlcore.NewFetchError(rec.URL, crawlcore.ErrKindCanceled, ctx.Err()), ctx.Err()
		case <-timer.C:
		}
	}
	kind := crawlcore.ErrKindNetwork
	var netErr net.Error
	if errors.As(lastErr, &netErr) && netErr.Timeout() {
		kind = crawlcore.ErrKindTimeout
	}
	return crawlcore.NewFetchError(rec.URL, kind, lastErr), lastErr
}

func (f *HTTPFetcher) attempt(ctx context.Context, rec crawlcore.URLRecord) (crawlcore.FetchResult, int, time.Duration, error) {
	start := time.Now()
	collector := f.baseCollector.Clone()
	// The clone shares the base collector's visited store, so a retry (or a
	// requeued record) must be allowed to visit the same URL again.
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		result     crawlcore.FetchResult
		statusCode int
		retryAfter time.Duration
		respErr    error
	)

	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		mime := r.Headers.Get("Content-Type")
		body, spillPath, capErr := crawlcore.CappedReadAll(bytes.NewReader(r.Body), f.cfg.MaxBodyBytes, f.cfg.SpillDir != "", f.cfg.SpillDir)
		if capErr != nil {
			respErr = capErr
			return
		}
		result = crawlcore.NewFetchResult(rec.URL, r.Request.URL.String(), statusCode, map[string][]string(*r.Headers), body, mime, time.Since(start), crawlcore.ModeHTTP)
		result.BodyFile = spillPath
		if retryAfterHeader := r.Headers.Get("Retry-After"); retryAfterHeader != "" {
			retryAfter = ParseRetryAfter(retryAfterHeader)
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		respErr = err
		if r != nil {
			statusCode = r.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() { done <- collector.Visit(rec.URL) }()

	select {
	case <-ctx.Done():
		return crawlcore.FetchResult{}, 0, 0, ctx.Err()
	case err := <-done:
		if err != nil {
			return crawlcore.FetchResult{}, statusCode, retryAfter, fmt.Errorf("colly visit: %w", err)
		}
	}
	if respErr != nil {
		return crawlcore.FetchResult{}, statusCode, retryAfter, respErr
	}
	if statusCode >= 400 {
		return crawlcore.FetchResult{}, statusCode, retryAfter, fmt.Errorf("http status %d", statusCode)
	}
	return result, statusCode, retryAfter, nil
}
