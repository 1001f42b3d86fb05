// Package config loads and validates crawl configuration via Viper,
// generalizing internal/crawler/config.go's LoadCrawlerConfig to every key
// in crawlcore.CrawlConfig.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/deepharvest/deepharvest/internal/crawlcore"
)

// LoadCrawlConfig constructs a validated crawlcore.CrawlConfig from v.
func LoadCrawlConfig(v *viper.Viper) (crawlcore.CrawlConfig, error) {
	var siteRules []crawlcore.SiteRuleConfig
	if err := v.UnmarshalKey("crawler.site_rules", &siteRules); err != nil {
		return crawlcore.CrawlConfig{}, err
	}

	strategy := crawlcore.CrawlStrategy(strings.ToLower(v.GetString("crawler.strategy")))

	cfg := crawlcore.CrawlConfig{
		SeedURLs:             v.GetStringSlice("crawler.seed_urls"),
		MaxDepth:             v.GetInt("crawler.max_depth"),
		MaxURLs:              v.GetInt("crawler.max_urls"),
		Strategy:             strategy,
		ConcurrentRequests:   v.GetInt("crawler.concurrent_requests"),
		PerHostConcurrency:   v.GetInt("crawler.per_host_concurrency"),
		EnableJS:             v.GetBool("crawler.enable_js"),
		WaitForJSMs:          v.GetInt("crawler.wait_for_js_ms"),
		HandleInfiniteScroll: v.GetBool("crawler.handle_infinite_scroll"),
		Distributed:          v.GetBool("crawler.distributed"),
		RedisURL:             v.GetString("crawler.redis_url"),
		SiteRules:            siteRules,
		CheckpointInterval:   v.GetInt("crawler.checkpoint_interval"),
		StateFile:            v.GetString("crawler.state_file"),
		OutputDir:            v.GetString("crawler.output_dir"),
		UserAgent:            firstSetString(v, []string{"crawler.user_agent", "crawler.useragent"}),
		RespectRobots:        v.GetBool("crawler.respect_robots"),
		AllowedDomains:       v.GetStringSlice("crawler.allowed_domains"),
		DeniedDomains:        v.GetStringSlice("crawler.denied_domains"),
		TrackingParams:       v.GetStringSlice("crawler.tracking_params"),
		RequestTimeout:       v.GetDuration("crawler.request_timeout"),
		MaxBodyBytes:         v.GetInt64("crawler.max_body_bytes"),
		SpillBodyToDisk:      v.GetBool("crawler.spill_body_to_disk"),
		MaxRetries:           v.GetInt("crawler.max_retries"),
		RetryBaseDelay:       v.GetDuration("crawler.retry_base_delay"),
		RetryMaxDelay:        v.GetDuration("crawler.retry_max_delay"),
		ShutdownGrace:        v.GetDuration("crawler.shutdown_grace"),
		BudgetSeconds:        v.GetInt("crawler.budget_seconds"),
		EnableTrapDetector:   v.GetBool("crawler.enable_trap_detector"),
		EnableSQLiteStore:    v.GetBool("crawler.enable_sqlite_store"),
		SQLitePath:           v.GetString("crawler.sqlite_path"),
	}
	if err := cfg.Validate(); err != nil {
		return crawlcore.CrawlConfig{}, err
	}
	return cfg, nil
}

// HeuristicConfig captures the headless-promotion detector's thresholds,
// mirroring the detector.* Viper namespace from pkg/config/viper.go.
type HeuristicConfig struct {
	MinHTMLBytes     int
	MinOutboundLinks int
	Selectors        []string
	Keywords         []string
}

// LoadHeuristicConfig reads the detector.* namespace.
func LoadHeuristicConfig(v *viper.Viper) HeuristicConfig {
	return HeuristicConfig{
		MinHTMLBytes:     v.GetInt("detector.min_html_bytes"),
		MinOutboundLinks: v.GetInt("detector.min_outbound_links"),
		Selectors:        splitCSV(v.GetString("detector.selector_must")),
		Keywords:         normalizeKeywords(v.GetStringSlice("detector.keywords")),
	}
}

// SchedulerConfigFromViper reads the scheduler.* namespace into a
// crawlcore.SchedulerConfig, falling back to DefaultSchedulerConfig for any
// zero-valued Viper key.
func SchedulerConfigFromViper(v *viper.Viper) crawlcore.SchedulerConfig {
	defaults := crawlcore.DefaultSchedulerConfig()
	return crawlcore.SchedulerConfig{
		GlobalConcurrency:  intOrDefault(v.GetInt("scheduler.global_concurrency"), defaults.GlobalConcurrency),
		PerHostConcurrency: intOrDefault(v.GetInt("scheduler.per_host_concurrency"), defaults.PerHostConcurrency),
		MinHostInterval:    durationOrDefault(v.GetDuration("scheduler.min_host_interval"), defaults.MinHostInterval),
		BackoffGrowth:      floatOrDefault(v.GetFloat64("scheduler.backoff_growth"), defaults.BackoffGrowth),
		BackoffDecay:       floatOrDefault(v.GetFloat64("scheduler.backoff_decay"), defaults.BackoffDecay),
		BackoffCap:         floatOrDefault(v.GetFloat64("scheduler.backoff_cap"), defaults.BackoffCap),
		CircuitOpenFor:     durationOrDefault(v.GetDuration("scheduler.circuit_open_for"), defaults.CircuitOpenFor),
	}
}

func intOrDefault(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func durationOrDefault(v, fallback time.Duration) time.Duration {
	if v == 0 {
		return fallback
	}
	return v
}

func floatOrDefault(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{})
	for _, kw := range in {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

func firstSetString(v *viper.Viper, keys []string) string {
	for _, k := range keys {
		if v.IsSet(k) {
			return v.GetString(k)
		}
	}
	return ""
}
