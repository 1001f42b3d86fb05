package crawlcore

import (
	"context"
	"hash/fnv"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
)

// DomainPolicy decides whether a host is eligible for admission. It
// generalizes internal/crawler/blocklist.go's suffix/exact matching into a
// policy also accepting regex patterns, matching spec.md's AllowedDomains
// configuration shape.
type DomainPolicy struct {
	allowExact    map[string]struct{}
	allowSuffixes []string
	allowRegexes  []*regexp.Regexp
	denyExact     map[string]struct{}
	denySuffixes  []string
}

// NewDomainPolicy builds a policy from allow/deny pattern lists. A pattern
// beginning with "*." or "." is treated as a suffix match; a pattern wrapped
// in "/.../ " is compiled as a regex; everything else is an exact host match.
// Regex patterns take effect only in the allow list: a regex in the deny
// list is compiled (so a malformed one is still an error) but is not
// consulted when a host is checked.
// An empty allow list means "allow everything not denied".
func NewDomainPolicy(allow, deny []string) (*DomainPolicy, error) {
	p := &DomainPolicy{
		allowExact: make(map[string]struct{}),
		denyExact:  make(map[string]struct{}),
	}
	if err := p.load(allow, true); err != nil {
		return nil, err
	}
	if err := p.load(deny, false); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *DomainPolicy) load(patterns []string, isAllow bool) error {
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "/") && strings.HasSuffix(value, "/") && len(value) > 1:
			re, err := regexp.Compile(strings.Trim(value, "/"))
			if err != nil {
				return err
			}
			if isAllow {
				p.allowRegexes = append(p.allowRegexes, re)
			}
		case strings.HasPrefix(value, "*."):
			suffix := strings.TrimPrefix(value, "*.")
			p.addSuffix(suffix, isAllow)
		case strings.HasPrefix(value, "."):
			p.addSuffix(strings.TrimPrefix(value, "."), isAllow)
		default:
			if isAllow {
				p.allowExact[value] = struct{}{}
			} else {
				p.denyExact[value] = struct{}{}
			}
		}
	}
	return nil
}

func (p *DomainPolicy) addSuffix(suffix string, isAllow bool) {
	if isAllow {
		p.allowSuffixes = append(p.allowSuffixes, suffix)
	} else {
		p.denySuffixes = append(p.denySuffixes, suffix)
	}
}

// Allowed reports whether host passes the policy.
func (p *DomainPolicy) Allowed(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	if matchesSuffixOrExact(host, p.denyExact, p.denySuffixes) {
		return false
	}
	hasAllowRules := len(p.allowExact) > 0 || len(p.allowSuffixes) > 0 || len(p.allowRegexes) > 0
	if !hasAllowRules {
		return true
	}
	if matchesSuffixOrExact(host, p.allowExact, p.allowSuffixes) {
		return true
	}
	for _, re := range p.allowRegexes {
		if re.MatchString(host) {
			return true
		}
	}
	return false
}

func matchesSuffixOrExact(host string, exact map[string]struct{}, suffixes []string) bool {
	if _, ok := exact[host]; ok {
		return true
	}
	for _, suffix := range suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// AdmissionConfig bounds the admission pipeline.
type AdmissionConfig struct {
	MaxDepth  int
	MaxPages  int
	Domains   *DomainPolicy
}

// stripeCount matches the shard count used for the local frontier; the
// admission pipeline stripes its dedup-insert-then-push critical section
// the same way so contention is bounded independent of host count.
const stripeCount = 32

// PriorityHint nudges a candidate record's priority before it reaches the
// frontier, letting a caller boost URLs likely to matter more than their
// depth/discovery order alone would suggest (canonical page types, sitemap
// membership, etc). Consulted only when the crawl strategy is
// StrategyPriority; bfs/dfs derive priority purely from depth or discovery
// order and would ignore it regardless.
type PriorityHint interface {
	Adjust(rec URLRecord, base float64) float64
}

// canonicalPaths are the page types original_source/deepharvest/core/
// crawler.py's _calculate_priority boosts ahead of ordinary content pages.
var canonicalPaths = []string{"/about", "/contact", "/products", "/services"}

// CanonicalPathPriorityHint boosts URLs whose path starts with one of a
// fixed set of canonical page types, matching the original implementation's
// hand-tuned priority bump for pages that are disproportionately useful
// relative to their depth.
type CanonicalPathPriorityHint struct {
	Bonus float64
}

// NewCanonicalPathPriorityHint builds a hint using the standard bonus of 5.
func NewCanonicalPathPriorityHint() CanonicalPathPriorityHint {
	return CanonicalPathPriorityHint{Bonus: 5}
}

// Adjust adds Bonus to base when rec's path starts with a canonical prefix.
func (h CanonicalPathPriorityHint) Adjust(rec URLRecord, base float64) float64 {
	u, err := url.Parse(rec.URL)
	if err != nil {
		return base
	}
	lowerPath := strings.ToLower(u.Path)
	for _, prefix := range canonicalPaths {
		if strings.HasPrefix(lowerPath, prefix) {
			return base + h.Bonus
		}
	}
	return base
}

// Admitter runs a candidate URLRecord through domain policy, depth/page
// caps, URL dedup, and the trap detector, then pushes it onto the frontier.
// The dedup-check-and-frontier-push happens inside one striped mutex so two
// goroutines discovering the same URL concurrently cannot both admit it.
type Admitter struct {
	cfg       AdmissionConfig
	strategy  CrawlStrategy
	frontier  Frontier
	dedup     URLDedup
	trap      TrapDetector
	normalize *Normalizer
	hint      PriorityHint
	stripes   [stripeCount]sync.Mutex
	admitted  int64
}

// NewAdmitter wires the collaborators the admission pipeline needs. hint may
// be nil, in which case priority passes through unmodified.
func NewAdmitter(cfg AdmissionConfig, strategy CrawlStrategy, frontier Frontier, dedup URLDedup, trap TrapDetector, normalize *Normalizer, hint PriorityHint) *Admitter {
	return &Admitter{cfg: cfg, strategy: strategy, frontier: frontier, dedup: dedup, trap: trap, normalize: normalize, hint: hint}
}

// Admit normalizes rawURL, applies the admission checks, and if accepted
// pushes it onto the frontier. It returns false, nil for a URL rejected by
// policy (not an error condition).
func (a *Admitter) Admit(ctx context.Context, rawURL string, depth int, parent string, priority float64) (bool, error) {
	normalized, err := a.normalize.Normalize(rawURL)
	if err != nil {
		return false, nil
	}
	host, err := Host(normalized)
	if err != nil {
		return false, nil
	}
	if a.cfg.Domains != nil && !a.cfg.Domains.Allowed(host) {
		return false, nil
	}
	if a.cfg.MaxDepth > 0 && depth > a.cfg.MaxDepth {
		return false, nil
	}
	if a.cfg.MaxPages > 0 && atomic.LoadInt64(&a.admitted) >= int64(a.cfg.MaxPages) {
		return false, nil
	}

	if a.hint != nil && a.strategy == StrategyPriority {
		priority = a.hint.Adjust(URLRecord{URL: normalized, Depth: depth}, priority)
	}

	rec := URLRecord{URL: normalized, Host: host, Depth: depth, Priority: priority, ParentURL: parent}
	if a.trap != nil {
		verdict := a.trap.Evaluate(rec)
		if verdict.Blocked {
			return false, NewCrawlError(ErrKindTrapDetected, normalized, ErrTrapDetected)
		}
		if verdict.Deprioritize {
			rec.Priority /= 2
		}
	}

	stripe := &a.stripes[stripeIndex(normalized)]
	stripe.Lock()
	defer stripe.Unlock()

	seen, err := a.dedup.SeenOrMark(ctx, normalized)
	if err != nil {
		return false, NewCrawlError(ErrKindStoreError, normalized, err)
	}
	if seen {
		return false, nil
	}

	admitted, err := a.frontier.Push(ctx, rec)
	if err != nil {
		return false, NewCrawlError(ErrKindStoreError, normalized, err)
	}
	if admitted {
		atomic.AddInt64(&a.admitted, 1)
	}
	return admitted, nil
}

// pageOutcomeRecorder is implemented by trap detectors that track per-site
// content freshness (currently *RuleBasedTrapDetector's pagination rule).
type pageOutcomeRecorder interface {
	RecordPageOutcome(host string, isNewContent bool)
}

// RecordContentOutcome feeds a completed fetch's dedup result back into the
// trap detector, if it tracks per-site content history. Called once per
// fetch by the worker pipeline, after content dedup has run.
func (a *Admitter) RecordContentOutcome(host string, isNewContent bool) {
	if recorder, ok := a.trap.(pageOutcomeRecorder); ok {
		recorder.RecordPageOutcome(host, isNewContent)
	}
}

func stripeIndex(normalizedURL string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalizedURL))
	return h.Sum32() % stripeCount
}
