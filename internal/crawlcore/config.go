package crawlcore

import (
	"fmt"
	"time"
)

// SiteRuleConfig is the configuration-file shape of a SiteRule, compiled
// into a SiteRule by the fetch pipeline at startup.
type SiteRuleConfig struct {
	Pattern            string            `mapstructure:"pattern"`
	Priority           int               `mapstructure:"priority"`
	UseBrowserDirectly bool              `mapstructure:"use_browser_directly"`
	RequireJS          bool              `mapstructure:"require_js"`
	UserAgent          string            `mapstructure:"user_agent"`
	Headers            map[string]string `mapstructure:"headers"`
}

// CrawlConfig captures every configuration knob that influences a crawl
// run, generalizing internal/crawler/config.go's CrawlerConfig to every key
// in spec.md's configuration schema table.
type CrawlConfig struct {
	SeedURLs      []string
	MaxDepth      int
	MaxURLs       int
	Strategy      CrawlStrategy

	ConcurrentRequests  int
	PerHostConcurrency  int

	EnableJS              bool
	WaitForJSMs           int
	HandleInfiniteScroll  bool

	Distributed bool
	RedisURL    string

	SiteRules []SiteRuleConfig

	CheckpointInterval int
	StateFile          string
	OutputDir          string

	UserAgent       string
	RespectRobots   bool
	AllowedDomains  []string
	DeniedDomains   []string
	TrackingParams  []string

	RequestTimeout   time.Duration
	MaxBodyBytes     int64
	SpillBodyToDisk  bool

	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	ShutdownGrace time.Duration

	BudgetSeconds int

	EnableTrapDetector bool
	EnableSQLiteStore  bool
	SQLitePath         string
}

// DefaultCrawlConfig returns the same baseline values
// pkg/config/viper.go registers as Viper defaults, useful for tests that
// build a CrawlConfig without going through Viper.
func DefaultCrawlConfig() CrawlConfig {
	return CrawlConfig{
		MaxDepth:             3,
		Strategy:             StrategyBFS,
		ConcurrentRequests:   16,
		PerHostConcurrency:   2,
		WaitForJSMs:          5000,
		HandleInfiniteScroll: false,
		CheckpointInterval:   100,
		OutputDir:            "data/crawl",
		UserAgent:            "DeepHarvest/1.0 (+https://github.com/deepharvest/deepharvest)",
		RespectRobots:        true,
		RequestTimeout:       10 * time.Second,
		MaxBodyBytes:         5 * 1024 * 1024,
		MaxRetries:           3,
		RetryBaseDelay:       250 * time.Millisecond,
		RetryMaxDelay:        5 * time.Second,
		ShutdownGrace:        30 * time.Second,
		EnableTrapDetector:   true,
	}
}

// Validate checks for obviously bad configuration combinations, matching
// the teacher's CrawlerConfig.Validate style of one error per offending field.
func (c CrawlConfig) Validate() error {
	if len(c.SeedURLs) == 0 {
		return fmt.Errorf("seed_urls must include at least one seed URL")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent must be set")
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be >= 0")
	}
	if c.ConcurrentRequests <= 0 {
		return fmt.Errorf("concurrent_requests must be > 0")
	}
	if c.PerHostConcurrency <= 0 {
		return fmt.Errorf("per_host_concurrency must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be > 0")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be > 0")
	}
	if c.Distributed && c.RedisURL == "" {
		return fmt.Errorf("redis_url is required when distributed is true")
	}
	switch c.Strategy {
	case StrategyBFS, StrategyDFS, StrategyPriority, "":
	default:
		return fmt.Errorf("strategy must be one of bfs, dfs, priority")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir must be set")
	}
	return nil
}
