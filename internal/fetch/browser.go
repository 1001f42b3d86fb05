package fetch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/deepharvest/deepharvest/internal/crawlcore"
)

// BrowserFetcherConfig controls the headless-Chrome fetch pipeline.
type BrowserFetcherConfig struct {
	UserAgent            string
	Timeout              time.Duration
	MaxConcurrency       int
	HandleInfiniteScroll bool
	ScrollPasses         int
	CaptureScreenshot    bool
}

// BrowserFetcher implements crawlcore.Fetcher using chromedp, grounded on
// internal/crawler/renderer_chromedp.go. Per spec.md §5 a browser context
// belongs to exactly one worker; NewBrowserFetcher's ExecAllocator is
// therefore built once per worker, never shared.
type BrowserFetcher struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	cfg             BrowserFetcherConfig
	sem             chan struct{}
}

// NewBrowserFetcher launches a dedicated headless Chrome instance.
func NewBrowserFetcher(cfg BrowserFetcherConfig) (*BrowserFetcher, error) {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	return &BrowserFetcher{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		cfg:             cfg,
		sem:             make(chan struct{}, cfg.MaxConcurrency),
	}, nil
}

// Close tears down the chromedp allocator and browser contexts.
func (f *BrowserFetcher) Close() error {
	if f == nil {
		return nil
	}
	f.browserCancel()
	f.allocatorCancel()
	return nil
}

// Fetch navigates to rec.URL, waits until the page's body element is ready,
// optionally performs bounded infinite-scroll passes, and optionally
// captures a screenshot; the configured timeout bounds the whole run. It
// does not wait for network idle.
func (f *BrowserFetcher) Fetch(ctx context.Context, rec crawlcore.URLRecord) (crawlcore.FetchResult, error) {
	select {
	case f.sem <- struct{}{}:
		defer func() { <-f.sem }()
	case <-ctx.Done():
		return crawlcore.NewFetchError(rec.URL, crawlcore.ErrKindCanceled, ctx.Err()), ctx.Err()
	}

	start := time.Now()
	tabCtx, cancelTab := chromedp.NewContext(f.browserCtx)
	defer cancelTab()

	timeout := f.cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	taskCtx, cancelTask := context.WithTimeout(tabCtx, timeout)
	defer cancelTask()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, func(ev any) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		meta.once.Do(func() {
			meta.statusCode = int(resp.Response.Status)
			meta.url = resp.Response.URL
			for k, v := range resp.Response.Headers {
				meta.headers.Add(k, fmt.Sprint(v))
			}
		})
	})

	html, screenshot, err := f.run(taskCtx, rec.URL)
	if err != nil {
		return crawlcore.NewFetchError(rec.URL, crawlcore.ErrKindBrowserFailed, err), fmt.Errorf("chromedp run: %w", err)
	}

	result := crawlcore.NewFetchResult(rec.URL, meta.finalURL(rec.URL), meta.statusCode, map[string][]string(meta.headers), []byte(html), "text/html", time.Since(start), crawlcore.ModeBrowser)
	result.Screenshot = screenshot
	return result, nil
}

func (f *BrowserFetcher) run(ctx context.Context, rawURL string) (string, []byte, error) {
	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(f.cfg.UserAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if f.cfg.HandleInfiniteScroll {
		passes := f.cfg.ScrollPasses
		if passes <= 0 {
			passes = 3
		}
		for i := 0; i < passes; i++ {
			tasks = append(tasks, chromedp.ScrollIntoView("body", chromedp.ByQuery))
			tasks = append(tasks, chromedp.Sleep(500*time.Millisecond))
		}
	}
	tasks = append(tasks, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	var screenshot []byte
	if f.cfg.CaptureScreenshot {
		tasks = append(tasks, chromedp.FullScreenshot(&screenshot, 90))
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", nil, err
	}
	return html, screenshot, nil
}

type responseMeta struct {
	once       sync.Once
	statusCode int
	headers    http.Header
	url        string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: make(http.Header)}
}

func (m *responseMeta) finalURL(raw string) string {
	if m.url == "" {
		return raw
	}
	return m.url
}
