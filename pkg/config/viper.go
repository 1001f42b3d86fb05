// Package config is responsible for initializing the application's configuration.
// It uses the Viper library to read settings from a config file and
// environment variables; the only command-line flag involved is the root
// command's --config, which selects the config file.
package config

import (
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/deepharvest/deepharvest/internal/logging"
)

// InitConfig initializes the application's configuration using Viper.
// It sets up default values, defines configuration search paths, and enables
// reading from environment variables. This function is designed to be called
// once at application startup to ensure that configuration is loaded and
// available to all other packages.
func InitConfig() {
	// --- Set Search Paths ---
	viper.SetConfigName("config")
	viper.AddConfigPath(".")                                     // Current working directory
	viper.AddConfigPath("/etc/deepharvest/")                     // System-wide configuration
	viper.AddConfigPath(xdg.ConfigHome + "/deepharvest")          // XDG-compliant user configuration

	// --- Set Defaults ---
	const defaultUA = "DeepHarvest/1.0 (+https://github.com/deepharvest/deepharvest)"
	viper.SetDefault("crawler.user_agent", defaultUA)
	viper.SetDefault("crawler.useragent", defaultUA) // backward compatibility
	viper.SetDefault("crawler.respect_robots", true)
	viper.SetDefault("crawler.max_depth", 3)
	viper.SetDefault("crawler.max_urls", 0)
	viper.SetDefault("crawler.strategy", "bfs")
	viper.SetDefault("crawler.seed_urls", []string{})
	viper.SetDefault("crawler.allowed_domains", []string{})
	viper.SetDefault("crawler.denied_domains", []string{})
	viper.SetDefault("crawler.tracking_params", []string{})

	viper.SetDefault("crawler.concurrent_requests", 16)
	viper.SetDefault("crawler.per_host_concurrency", 2)
	viper.SetDefault("crawler.request_timeout", "10s")
	viper.SetDefault("crawler.max_body_bytes", 5*1024*1024)
	viper.SetDefault("crawler.spill_body_to_disk", true)
	viper.SetDefault("crawler.max_retries", 3)
	viper.SetDefault("crawler.retry_base_delay", "250ms")
	viper.SetDefault("crawler.retry_max_delay", "5s")
	viper.SetDefault("crawler.shutdown_grace", "30s")
	viper.SetDefault("crawler.budget_seconds", 0)

	viper.SetDefault("crawler.enable_js", false)
	viper.SetDefault("crawler.wait_for_js_ms", 5000)
	viper.SetDefault("crawler.handle_infinite_scroll", false)

	viper.SetDefault("crawler.distributed", false)
	viper.SetDefault("crawler.redis_url", "")

	viper.SetDefault("crawler.checkpoint_interval", 100)
	viper.SetDefault("crawler.state_file", xdg.StateHome+"/deepharvest/checkpoint.json")
	viper.SetDefault("crawler.output_dir", "data/crawl")

	viper.SetDefault("crawler.enable_trap_detector", true)
	viper.SetDefault("crawler.enable_sqlite_store", false)
	viper.SetDefault("crawler.sqlite_path", xdg.DataHome+"/deepharvest/history.db")

	viper.SetDefault("detector.min_html_bytes", 2000)
	viper.SetDefault("detector.min_outbound_links", 3)
	viper.SetDefault("detector.selector_must", ".main,.app,.content")
	viper.SetDefault("detector.keywords", []string{
		"__NEXT_DATA__",
		"data-reactroot",
		"ng-app",
		"window.__APOLLO_STATE__",
	})

	viper.SetDefault("scheduler.global_concurrency", 16)
	viper.SetDefault("scheduler.per_host_concurrency", 2)
	viper.SetDefault("scheduler.min_host_interval", "1s")
	viper.SetDefault("scheduler.backoff_growth", 1.5)
	viper.SetDefault("scheduler.backoff_decay", 0.9)
	viper.SetDefault("scheduler.backoff_cap", 30.0)
	viper.SetDefault("scheduler.circuit_open_for", "60s")

	// --- Environment Variables ---
	viper.SetEnvPrefix("DEEPHARVEST") // e.g., DEEPHARVEST_CRAWLER_MAX_DEPTH=5
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// --- Read Config File ---
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logging.L.Warn("Config file not found; using defaults and environment variables.")
		} else {
			logging.L.Error("Error reading config file", zap.Error(err))
		}
	} else {
		logging.L.Info("Using config file", zap.String("path", viper.ConfigFileUsed()))
	}
}
