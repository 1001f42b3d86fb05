package fetch

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/deepharvest/deepharvest/internal/crawlcore"
)

// SiteRule pairs a compiled URL pattern with fetch-mode overrides, compiled
// from crawlcore.SiteRuleConfig at startup.
type SiteRule struct {
	Pattern            *regexp.Regexp
	Priority           int
	UseBrowserDirectly bool
	RequireJS          bool
	UserAgent          string
	Headers            map[string]string
}

// CompileSiteRules turns configuration-shape site rules into matchable
// SiteRules, skipping any with an invalid pattern.
func CompileSiteRules(cfgs []crawlcore.SiteRuleConfig, logger *zap.Logger) []SiteRule {
	rules := make([]SiteRule, 0, len(cfgs))
	for _, cfg := range cfgs {
		re, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			if logger != nil {
				logger.Warn("skipping site rule with invalid pattern", zap.String("pattern", cfg.Pattern), zap.Error(err))
			}
			continue
		}
		rules = append(rules, SiteRule{
			Pattern:            re,
			Priority:           cfg.Priority,
			UseBrowserDirectly: cfg.UseBrowserDirectly,
			RequireJS:          cfg.RequireJS,
			UserAgent:          cfg.UserAgent,
			Headers:            cfg.Headers,
		})
	}
	return rules
}

func matchSiteRule(rules []SiteRule, rawURL string) (SiteRule, bool) {
	for _, rule := range rules {
		if rule.Pattern.MatchString(rawURL) {
			return rule, true
		}
	}
	return SiteRule{}, false
}

// Dispatcher selects between the HTTP and browser fetch pipelines per
// spec.md §4.4's site-rule -> heuristic -> default order: a matching
// SiteRule with UseBrowserDirectly wins outright; otherwise the page is
// fetched over HTTP first and promoted to the browser fetcher only if the
// heuristic detector flags it as JS-dependent.
type Dispatcher struct {
	http      *HTTPFetcher
	browser   *BrowserFetcher
	heuristic *HeuristicPromotionDetector
	rules     []SiteRule
	enableJS  bool
	logger    *zap.Logger
}

// NewDispatcher builds a Dispatcher. browser may be nil when EnableJS is
// false, in which case promotion is skipped and pages are always served by
// the HTTP fetcher.
func NewDispatcher(httpFetcher *HTTPFetcher, browserFetcher *BrowserFetcher, heuristic *HeuristicPromotionDetector, rules []SiteRule, enableJS bool, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		http:      httpFetcher,
		browser:   browserFetcher,
		heuristic: heuristic,
		rules:     rules,
		enableJS:  enableJS,
		logger:    logger,
	}
}

// Fetch implements crawlcore.Fetcher, dispatching to HTTP or browser mode.
func (d *Dispatcher) Fetch(ctx context.Context, rec crawlcore.URLRecord) (crawlcore.FetchResult, error) {
	if rule, ok := matchSiteRule(d.rules, rec.URL); ok && rule.UseBrowserDirectly {
		if d.browser == nil {
			return crawlcore.FetchResult{}, fmt.Errorf("site rule for %q requires browser mode but browser fetcher is disabled", rec.URL)
		}
		return d.browser.Fetch(ctx, rec)
	}

	result, err := d.http.Fetch(ctx, rec)
	if err != nil {
		return result, err
	}

	if !d.enableJS || d.browser == nil {
		return result, nil
	}

	rule, hasRule := matchSiteRule(d.rules, rec.URL)
	needsBrowser := (hasRule && rule.RequireJS) || d.heuristic.NeedsBrowser(result.Body)
	if !needsBrowser {
		return result, nil
	}

	if d.logger != nil {
		d.logger.Debug("promoting fetch to headless browser", zap.String("url", rec.URL))
	}
	promoted, err := d.browser.Fetch(ctx, rec)
	if err != nil {
		return result, nil
	}
	return promoted, nil
}
