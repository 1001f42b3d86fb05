// Package worker implements the crawl pipeline execution loop: lease a
// frontier entry, respect per-host scheduling, fetch, dedup content, extract
// and admit outbound links, and record the outcome. Grounded on the
// dequeue-fetch-persist-publish loop in internal/worker/worker.go, adapted
// from a single-fetcher job queue to the multi-mode frontier/scheduler
// pipeline.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deepharvest/deepharvest/internal/crawlcore"
	"github.com/deepharvest/deepharvest/internal/extract"
	"github.com/deepharvest/deepharvest/internal/fetch"
	"github.com/deepharvest/deepharvest/internal/metrics"
	"github.com/deepharvest/deepharvest/internal/progress"
)

// Stats aggregates crawl counters, mirroring crawlcore.CrawlStats but
// guarded by a mutex since a Pool shares one Stats across every Worker
// goroutine.
type Stats struct {
	mu    sync.Mutex
	inner crawlcore.CrawlStats
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() crawlcore.CrawlStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner
}

// update runs fn against the counters under the mutex.
func (s *Stats) update(fn func(*crawlcore.CrawlStats)) {
	s.mu.Lock()
	fn(&s.inner)
	s.mu.Unlock()
}

// Config controls Worker behavior.
type Config struct {
	MaxDepth      int
	OutputDir     string
	FetchTimeout  time.Duration
	IdleWaitOnEmpty time.Duration
}

// Worker drains the shared frontier, applying per-host scheduling before
// each fetch and feeding discovered links back through the admission
// pipeline.
type Worker struct {
	id         int
	frontier   crawlcore.Frontier
	scheduler  crawlcore.Scheduler
	fetcher    crawlcore.Fetcher
	admitter   *crawlcore.Admitter
	content    crawlcore.ContentDedup
	soft404    *crawlcore.Soft404Detector
	robots     fetch.RobotsPolicy
	writer     PageWriter
	hub        progress.Emitter
	jobID      [16]byte
	cfg        Config
	logger     *zap.Logger
}

// PageWriter persists a fetched result to durable storage. Implementations
// live in internal/store.
type PageWriter interface {
	WritePage(ctx context.Context, rec crawlcore.URLRecord, result crawlcore.FetchResult) error
}

// New constructs a Worker identified by id, used only for logging. robots
// may be fetch.AllowAllPolicy{} when respect_robots is disabled.
func New(id int, frontier crawlcore.Frontier, scheduler crawlcore.Scheduler, fetcher crawlcore.Fetcher, admitter *crawlcore.Admitter, content crawlcore.ContentDedup, soft404 *crawlcore.Soft404Detector, robots fetch.RobotsPolicy, writer PageWriter, hub progress.Emitter, jobID [16]byte, cfg Config, logger *zap.Logger) *Worker {
	if cfg.IdleWaitOnEmpty <= 0 {
		cfg.IdleWaitOnEmpty = 200 * time.Millisecond
	}
	if robots == nil {
		robots = fetch.AllowAllPolicy{}
	}
	return &Worker{
		id:        id,
		frontier:  frontier,
		scheduler: scheduler,
		fetcher:   fetcher,
		admitter:  admitter,
		content:   content,
		soft404:   soft404,
		robots:    robots,
		writer:    writer,
		hub:       hub,
		jobID:     jobID,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, leasing and processing frontier entries until ctx is
// canceled. ErrFrontierEmpty is treated as transient backoff, not
// termination, since other workers may still be discovering new URLs.
func (w *Worker) Run(ctx context.Context, stats *Stats) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rec, err := w.frontier.Lease(ctx)
		if err != nil {
			if errors.Is(err, crawlcore.ErrFrontierEmpty) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(w.cfg.IdleWaitOnEmpty):
				}
				continue
			}
			w.logger.Error("frontier lease failed", zap.Int("worker", w.id), zap.Error(err))
			continue
		}

		w.process(ctx, rec, stats)
	}
}

func (w *Worker) process(ctx context.Context, rec crawlcore.URLRecord, stats *Stats) {
	stats.update(func(cs *crawlcore.CrawlStats) { cs.Processed++ })

	if err := w.scheduler.Wait(ctx, rec.Host); err != nil {
		w.requeueOrDrop(ctx, rec, stats)
		return
	}

	if !w.robots.Allowed(ctx, rec.URL) {
		w.scheduler.Release(rec.Host, crawlcore.OutcomeSuccess)
		w.logger.Debug("robots.txt denied fetch", zap.String("url", rec.URL))
		if err := w.frontier.Complete(ctx, rec.LeaseID); err != nil {
			w.logger.Error("complete lease after robots denial", zap.String("url", rec.URL), zap.Error(err))
		}
		return
	}

	w.emit(progress.NewFetchStartEvent(w.jobID, time.Now(), rec))

	fetchCtx := ctx
	var cancel context.CancelFunc
	if w.cfg.FetchTimeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, w.cfg.FetchTimeout)
	}
	result, fetchErr := w.fetcher.Fetch(fetchCtx, rec)
	if cancel != nil {
		cancel()
	}

	w.emit(progress.NewFetchDoneEvent(w.jobID, time.Now(), rec, result, fetchErr))

	outcome := crawlcore.OutcomeSuccess
	if fetchErr != nil || !result.Succeeded() {
		outcome = crawlcore.OutcomeError
	}
	w.scheduler.Release(rec.Host, outcome)

	metrics.ObserveFetch(fetchStatusLabel(result, fetchErr), string(result.Mode), result.Duration)
	bodyLen := int64(len(result.Body))
	stats.update(func(cs *crawlcore.CrawlStats) { cs.BytesFetched += bodyLen })

	if fetchErr != nil || !result.Succeeded() {
		stats.update(func(cs *crawlcore.CrawlStats) { cs.Errors++ })
		w.logger.Warn("fetch failed", zap.String("url", rec.URL), zap.Error(fetchErr))
		if err := w.frontier.Requeue(ctx, rec.LeaseID); err != nil {
			w.logger.Error("requeue after fetch failure", zap.String("url", rec.URL), zap.Error(err))
		}
		return
	}

	page := extract.ParsePage(result.Body, result.FinalURL)
	if w.soft404 != nil && w.soft404.IsSoft404(result.StatusCode, page.Title, string(result.Body)) {
		stats.update(func(cs *crawlcore.CrawlStats) { cs.Soft404s++ })
	}

	fp := w.content.Fingerprint(result.Body)
	isDup, err := w.content.IsDuplicate(ctx, fp)
	if err != nil {
		w.logger.Error("content dedup check failed", zap.String("url", rec.URL), zap.Error(err))
	}
	if w.admitter != nil {
		w.admitter.RecordContentOutcome(rec.Host, !isDup)
	}
	if isDup {
		stats.update(func(cs *crawlcore.CrawlStats) { cs.Duplicates++ })
		metrics.ObserveDuplicate("content")
		if err := w.frontier.Complete(ctx, rec.LeaseID); err != nil {
			w.logger.Error("complete leased duplicate", zap.String("url", rec.URL), zap.Error(err))
		}
		return
	}
	if err := w.content.Record(ctx, fp); err != nil {
		w.logger.Error("record content fingerprint", zap.String("url", rec.URL), zap.Error(err))
	}

	if w.writer != nil {
		if err := w.writer.WritePage(ctx, rec, result); err != nil {
			w.logger.Error("write page", zap.String("url", rec.URL), zap.Error(err))
		}
	}

	if rec.Depth < w.cfg.MaxDepth {
		w.admitLinks(ctx, rec, page.Links, stats)
	}

	stats.update(func(cs *crawlcore.CrawlStats) { cs.Success++ })
	if err := w.frontier.Complete(ctx, rec.LeaseID); err != nil {
		w.logger.Error("complete lease", zap.String("url", rec.URL), zap.Error(err))
	}
}

// emit forwards evt to the progress hub if one was configured. A worker
// built without a hub (as in unit tests) simply drops progress events.
func (w *Worker) emit(evt progress.Event) {
	if w.hub == nil {
		return
	}
	w.hub.Emit(evt)
}

func (w *Worker) admitLinks(ctx context.Context, parent crawlcore.URLRecord, links []string, stats *Stats) {
	for _, link := range links {
		admitted, err := w.admitter.Admit(ctx, link, parent.Depth+1, parent.URL, parent.Priority)
		if err != nil {
			var crawlErr *crawlcore.CrawlError
			if errors.As(err, &crawlErr) && crawlErr.Kind == crawlcore.ErrKindTrapDetected {
				stats.update(func(cs *crawlcore.CrawlStats) { cs.Traps++ })
				metrics.ObserveTrap(string(crawlErr.Kind))
			}
			w.logger.Debug("admission error", zap.String("url", link), zap.Error(err))
			continue
		}
		if admitted {
			metrics.ObserveAdmitted()
		} else {
			metrics.ObserveDropped("policy")
		}
	}
}

func (w *Worker) requeueOrDrop(ctx context.Context, rec crawlcore.URLRecord, stats *Stats) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return
	}
	stats.update(func(cs *crawlcore.CrawlStats) { cs.Errors++ })
	if err := w.frontier.Requeue(ctx, rec.LeaseID); err != nil {
		w.logger.Error("requeue after scheduler wait failure", zap.String("url", rec.URL), zap.Error(err))
	}
}

func fetchStatusLabel(result crawlcore.FetchResult, err error) string {
	if err != nil {
		return "error"
	}
	if !result.Succeeded() {
		return "http_error"
	}
	return "ok"
}
