// Package app initializes and holds long-lived application services, acting
// as the crawl engine's dependency injection container: it generalizes the
// teacher's storage/database/queue provider selection into DeepHarvest's
// frontier, scheduler, fetch, and store wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	system "github.com/deepharvest/deepharvest/internal/clock/system"
	"github.com/deepharvest/deepharvest/internal/config"
	"github.com/deepharvest/deepharvest/internal/crawlcore"
	"github.com/deepharvest/deepharvest/internal/fetch"
	"github.com/deepharvest/deepharvest/internal/hash/sha256"
	idgen "github.com/deepharvest/deepharvest/internal/id/uuid"
	"github.com/deepharvest/deepharvest/internal/logging"
	"github.com/deepharvest/deepharvest/internal/metrics"
	"github.com/deepharvest/deepharvest/internal/progress"
	"github.com/deepharvest/deepharvest/internal/progress/sinks"
	"github.com/deepharvest/deepharvest/internal/store"
	"github.com/deepharvest/deepharvest/internal/store/local"
	storeredis "github.com/deepharvest/deepharvest/internal/store/redis"
	"github.com/deepharvest/deepharvest/internal/store/sqlite"
	"github.com/deepharvest/deepharvest/internal/worker"
)

// maxBrowserInstances bounds how many dedicated headless-Chrome instances
// the composition root will launch regardless of ConcurrentRequests, since
// each instance is a full browser process. Workers beyond this count still
// fetch over HTTP; the heuristic detector just never gets a chance to
// promote them.
const maxBrowserInstances = 4

// App is the crawl engine's composition root: every collaborator NewApp
// starts is torn down by Close.
type App struct {
	logger       *zap.Logger
	cfg          crawlcore.CrawlConfig
	jobID        uuid.UUID
	frontier     crawlcore.Frontier
	scheduler    *crawlcore.HostScheduler
	admitter     *crawlcore.Admitter
	urlDedup     crawlcore.URLDedup
	checkpointer *crawlcore.FileCheckpointer
	pool         *worker.Pool
	hub          *progress.Hub
	history      *sqlite.HistoryDB
	redisClient  *goredis.Client
	browsers     []*fetch.BrowserFetcher
	metricsSrv   *http.Server
}

// NewApp builds every crawl-engine collaborator from the process's global
// Viper configuration, mirroring the teacher's fail-fast provider selection
// but wiring the DeepHarvest crawl pipeline instead of storage/database/queue
// providers.
func NewApp(ctx context.Context) (*App, error) {
	v := viper.GetViper()
	cfg, err := config.LoadCrawlConfig(v)
	if err != nil {
		return nil, fmt.Errorf("load crawl config: %w", err)
	}
	heuristicCfg := config.LoadHeuristicConfig(v)
	schedulerCfg := config.SchedulerConfigFromViper(v)

	logger := logging.L
	logger.Info("initializing crawl engine")
	metrics.Init()

	clk := system.New()
	ids := idgen.New()
	normalizer := crawlcore.NewNormalizer(cfg.TrackingParams)

	domains, err := crawlcore.NewDomainPolicy(cfg.AllowedDomains, cfg.DeniedDomains)
	if err != nil {
		return nil, fmt.Errorf("compile domain policy: %w", err)
	}

	var trapDetector crawlcore.TrapDetector
	if cfg.EnableTrapDetector {
		trapDetector = crawlcore.NewRuleBasedTrapDetector(nil)
	}

	var hint crawlcore.PriorityHint
	if cfg.Strategy == crawlcore.StrategyPriority {
		hint = crawlcore.NewCanonicalPathPriorityHint()
	}

	digest, err := configDigest(cfg)
	if err != nil {
		return nil, fmt.Errorf("digest config: %w", err)
	}
	checkpointer := crawlcore.NewFileCheckpointer(cfg.StateFile, cfg.Distributed, digest)

	var (
		frontier    crawlcore.Frontier
		urlDedup    crawlcore.URLDedup
		redisClient *goredis.Client
	)
	if cfg.Distributed {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = goredis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("running in distributed mode", zap.String("redis", opts.Addr))
		frontier = storeredis.NewFrontier(redisClient, crawlcore.LeaseDuration)
		urlDedup = crawlcore.NewBloomFrontedURLDedup(1_000_000, 0.001, storeredis.NewURLDedup(redisClient))
	} else {
		frontier = crawlcore.NewLocalFrontier(cfg.Strategy, ids, clk)
		urlDedup = crawlcore.NewMemoryURLDedup()
	}

	contentDedup := crawlcore.NewMemoryContentDedup()
	soft404 := crawlcore.NewSoft404Detector()

	admitter := crawlcore.NewAdmitter(crawlcore.AdmissionConfig{
		MaxDepth: cfg.MaxDepth,
		MaxPages: cfg.MaxURLs,
		Domains:  domains,
	}, cfg.Strategy, frontier, urlDedup, trapDetector, normalizer, hint)

	var robotsPolicy fetch.RobotsPolicy = fetch.AllowAllPolicy{}
	if cfg.RespectRobots {
		robotsPolicy = fetch.NewRobotsEnforcer(cfg.UserAgent, logger)
	}

	heuristicDetector := fetch.NewHeuristicPromotionDetector(
		heuristicCfg.MinHTMLBytes, heuristicCfg.MinOutboundLinks, heuristicCfg.Selectors, heuristicCfg.Keywords)
	siteRules := fetch.CompileSiteRules(cfg.SiteRules, logger)

	pageWriter, err := local.New(local.Config{BaseDir: cfg.OutputDir})
	if err != nil {
		return nil, fmt.Errorf("init page writer: %w", err)
	}

	var (
		history      *sqlite.HistoryDB
		progressRepo store.ProgressRepository
	)
	if cfg.EnableSQLiteStore {
		history, err = sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		progressRepo, err = sqlite.NewProgressRepo(history)
		if err != nil {
			return nil, fmt.Errorf("init progress repo: %w", err)
		}
	}

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	progressSinks := []progress.Sink{sinks.NewLogSink(logger), promSink}
	if progressRepo != nil {
		progressSinks = append(progressSinks, sinks.NewStoreSink(progressRepo, logger))
	}
	hub := progress.NewHub(progress.Config{Logger: logger}, progressSinks...)

	scheduler := crawlcore.NewHostScheduler(schedulerCfg, clk)

	workerCount := cfg.ConcurrentRequests
	if workerCount <= 0 {
		workerCount = 1
	}
	browserBudget := 0
	if cfg.EnableJS {
		browserBudget = maxBrowserInstances
		if workerCount < browserBudget {
			browserBudget = workerCount
		}
	}

	workers := make([]*worker.Worker, 0, workerCount)
	browsers := make([]*fetch.BrowserFetcher, 0, browserBudget)
	jobID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}
	jobIDBytes := progress.UUIDToBytes(jobID)

	for i := 0; i < workerCount; i++ {
		httpFetcher := fetch.NewHTTPFetcher(fetch.HTTPFetcherConfig{
			UserAgent:    cfg.UserAgent,
			Timeout:      cfg.RequestTimeout,
			MaxBodyBytes: cfg.MaxBodyBytes,
			Retry:        fetch.NewRetryPolicy(cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		})

		var browserFetcher *fetch.BrowserFetcher
		if i < browserBudget {
			browserFetcher, err = fetch.NewBrowserFetcher(fetch.BrowserFetcherConfig{
				UserAgent:            cfg.UserAgent,
				Timeout:              time.Duration(cfg.WaitForJSMs) * time.Millisecond,
				MaxConcurrency:       1,
				HandleInfiniteScroll: cfg.HandleInfiniteScroll,
			})
			if err != nil {
				return nil, fmt.Errorf("init browser fetcher %d: %w", i, err)
			}
			browsers = append(browsers, browserFetcher)
		}

		dispatcher := fetch.NewDispatcher(httpFetcher, browserFetcher, heuristicDetector, siteRules, cfg.EnableJS, logger)

		w := worker.New(i, frontier, scheduler, dispatcher, admitter, contentDedup, soft404, robotsPolicy, pageWriter, hub, jobIDBytes, worker.Config{
			MaxDepth:     cfg.MaxDepth,
			OutputDir:    cfg.OutputDir,
			FetchTimeout: cfg.RequestTimeout,
		}, logger)
		workers = append(workers, w)
	}
	pool := worker.NewPool(workers, logger)

	metricsSrv := &http.Server{Addr: ":8080", Handler: metrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("crawl engine initialized",
		zap.Int("workers", workerCount),
		zap.Bool("distributed", cfg.Distributed),
		zap.Bool("enable_js", cfg.EnableJS),
		zap.String("job_id", jobID.String()),
	)

	return &App{
		logger:       logger,
		cfg:          cfg,
		jobID:        jobID,
		frontier:     frontier,
		scheduler:    scheduler,
		admitter:     admitter,
		urlDedup:     urlDedup,
		checkpointer: checkpointer,
		pool:         pool,
		hub:          hub,
		history:      history,
		redisClient:  redisClient,
		browsers:     browsers,
		metricsSrv:   metricsSrv,
	}, nil
}

// GetLogger returns the process-wide logger.
func (a *App) GetLogger() *zap.Logger { return a.logger }

// RunCrawl seeds the frontier with the configured seed URLs, runs the
// worker pool until ctx is canceled or the operator's budget elapses, and
// checkpoints on the way out.
func (a *App) RunCrawl(ctx context.Context) (crawlcore.CrawlStats, error) {
	a.hub.Emit(progress.Event{
		JobID: progress.UUIDToBytes(a.jobID),
		TS:    time.Now(),
		Stage: progress.StageJobStart,
	})

	for _, seed := range a.cfg.SeedURLs {
		if _, err := a.admitter.Admit(ctx, seed, 0, "", seedPriority(a.cfg.Strategy)); err != nil {
			a.logger.Warn("failed to admit seed URL", zap.String("url", seed), zap.Error(err))
		}
	}

	return a.runPool(ctx)
}

// runPool runs the worker pool to completion, emitting job-lifecycle
// progress events and saving a final checkpoint. Shared by RunCrawl (which
// seeds the frontier first) and ResumeCrawl (which restores it instead).
func (a *App) runPool(ctx context.Context) (crawlcore.CrawlStats, error) {
	runCtx := ctx
	var cancelBudget context.CancelFunc
	if a.cfg.BudgetSeconds > 0 {
		runCtx, cancelBudget = context.WithTimeout(ctx, time.Duration(a.cfg.BudgetSeconds)*time.Second)
		defer cancelBudget()
	}

	var checkpointStop chan struct{}
	if a.cfg.CheckpointInterval > 0 {
		checkpointStop = a.startCheckpointLoop(runCtx)
	}

	var reapStop chan struct{}
	if reaper, ok := a.frontier.(leaseReaper); ok {
		reapStop = a.startLeaseReapLoop(runCtx, reaper)
	}

	stats := a.pool.Run(runCtx)
	if checkpointStop != nil {
		close(checkpointStop)
	}
	if reapStop != nil {
		close(reapStop)
	}

	snapshot := stats.Snapshot()
	stage := progress.StageJobDone
	note := ""
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		stage = progress.StageJobError
		note = err.Error()
	}
	a.hub.Emit(progress.Event{
		JobID: progress.UUIDToBytes(a.jobID),
		TS:    time.Now(),
		Stage: stage,
		Note:  note,
	})

	if err := a.saveCheckpoint(context.Background(), snapshot); err != nil {
		a.logger.Warn("final checkpoint failed", zap.Error(err))
	}

	return snapshot, nil
}

// ResumeCrawl loads the last checkpoint written to cfg.StateFile and
// continues the crawl from there. A checkpoint whose recorded config digest
// differs from the current config's digest is rejected with an error. If the
// checkpoint has no frontier section (an old-format or distributed-mode
// checkpoint), it falls back to re-admitting the configured seed URLs,
// matching RunCrawl's behavior.
func (a *App) ResumeCrawl(ctx context.Context) (crawlcore.CrawlStats, error) {
	cp, frontierRestored, err := a.checkpointer.Load(ctx)
	if err != nil {
		return crawlcore.CrawlStats{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp.ConfigDigest != "" {
		digest, err := configDigest(a.cfg)
		if err != nil {
			return crawlcore.CrawlStats{}, fmt.Errorf("digest config: %w", err)
		}
		if digest != cp.ConfigDigest {
			return crawlcore.CrawlStats{}, fmt.Errorf("checkpoint config digest %s does not match current config digest %s", cp.ConfigDigest, digest)
		}
	}

	if frontierRestored {
		if err := a.urlDedup.Restore(ctx, cp.Visited); err != nil {
			return crawlcore.CrawlStats{}, fmt.Errorf("restore visited set: %w", err)
		}
		if err := a.frontier.Restore(ctx, cp.Frontier); err != nil {
			return crawlcore.CrawlStats{}, fmt.Errorf("restore frontier: %w", err)
		}
		a.logger.Info("resumed from checkpoint",
			zap.Int("frontier_entries", len(cp.Frontier)),
			zap.Int("visited_entries", len(cp.Visited)))
		return a.runPool(ctx)
	}

	a.logger.Warn("checkpoint has no frontier section, re-seeding from config")
	return a.RunCrawl(ctx)
}

func (a *App) startCheckpointLoop(ctx context.Context) chan struct{} {
	stop := make(chan struct{})
	interval := time.Duration(a.cfg.CheckpointInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := a.saveCheckpoint(ctx, crawlcore.CrawlStats{}); err != nil {
					a.logger.Warn("periodic checkpoint failed", zap.Error(err))
				}
			}
		}
	}()
	return stop
}

// leaseReaper is implemented by Frontier backends whose leases can expire
// out from under a crashed or partitioned worker (currently
// storeredis.Frontier). LocalFrontier hands leases out and revokes them
// within a single process, so it has nothing to reap.
type leaseReaper interface {
	ReapExpiredLeases(ctx context.Context) (int, error)
}

// leaseReapInterval is how often a distributed frontier is scanned for
// leases whose deadline passed without an Ack, per the crawl checkpoint's
// distributed-mode lease bound: a fetch that started but whose worker
// disappeared must eventually be handed back to the frontier with its
// retry count bumped, not silently disappear from the crawl.
const leaseReapInterval = 30 * time.Second

func (a *App) startLeaseReapLoop(ctx context.Context, reaper leaseReaper) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(leaseReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				n, err := reaper.ReapExpiredLeases(ctx)
				if err != nil {
					a.logger.Warn("lease reap failed", zap.Error(err))
					continue
				}
				if n > 0 {
					a.logger.Info("reaped expired leases", zap.Int("count", n))
				}
			}
		}
	}()
	return stop
}

func (a *App) saveCheckpoint(ctx context.Context, stats crawlcore.CrawlStats) error {
	entries, err := a.frontier.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot frontier: %w", err)
	}
	visited, err := a.urlDedup.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot visited set: %w", err)
	}
	cp := crawlcore.CrawlCheckpoint{
		SchemaVersion: 1,
		Stats:         stats,
		Visited:       visited,
		Frontier:      entries,
		Timestamp:     time.Now(),
	}
	return a.checkpointer.Save(ctx, cp)
}

// Close releases every resource NewApp opened.
func (a *App) Close() {
	a.logger.Info("shutting down crawl engine")
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metricsSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}
	for _, b := range a.browsers {
		if err := b.Close(); err != nil {
			a.logger.Warn("browser fetcher close", zap.Error(err))
		}
	}
	if a.hub != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.hub.Close(closeCtx); err != nil {
			a.logger.Warn("progress hub close", zap.Error(err))
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("history db close", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync on shutdown", zap.Error(err))
	}
}

func seedPriority(strategy crawlcore.CrawlStrategy) float64 {
	if strategy == crawlcore.StrategyPriority {
		return 100
	}
	return 0
}

func configDigest(cfg crawlcore.CrawlConfig) (string, error) {
	hasher := sha256.New()
	return hasher.Hash([]byte(fmt.Sprintf("%+v", cfg)))
}
