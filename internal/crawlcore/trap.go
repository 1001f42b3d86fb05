package crawlcore

import (
	"errors"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var errNotANumber = errors.New("not a number")

// TrapAction is what a matching trap rule does to the candidate URL.
type TrapAction string

const (
	ActionBlock        TrapAction = "block"
	ActionDeprioritize TrapAction = "deprioritize"
)

// TrapRule evaluates one heuristic and reports whether it fired.
type TrapRule interface {
	Name() string
	Fires(rec URLRecord) bool
	Action() TrapAction
}

// Scorer is a pluggable hook consulted after the built-in rules, matching
// the teacher's small-interface style (e.g. crawler.HeadlessDetector): a
// caller can register a domain-specific scorer without touching
// RuleBasedTrapDetector itself.
type Scorer interface {
	Score(rec URLRecord) (deprioritize bool)
}

// calendarPathPattern captures a full four digit year, a one-or-two digit
// month, and an optional one-or-two digit day so callers can test whether
// the date falls inside a configured window instead of only matching the
// shape of the path.
var calendarPathPattern = regexp.MustCompile(`(?i)/((?:19|20)\d{2})/(0?[1-9]|1[0-2])(?:/(0?[1-9]|[12]\d|3[01]))?(?:/|$)`)

// calendarTrapRule flags calendar-shaped archive paths that would otherwise
// let a crawl walk every day of every year a site has ever published to.
// It only fires beyond MinDepth, and never fires for a date inside the
// configured window, so an intentionally-crawled date range (e.g. "this
// year's" event archive) is not blocked outright.
type calendarTrapRule struct {
	minDepth    int
	windowStart time.Time
	windowEnd   time.Time
}

func newCalendarTrapRule(cfg TrapDetectorConfig) calendarTrapRule {
	return calendarTrapRule{
		minDepth:    cfg.CalendarMinDepth,
		windowStart: cfg.CalendarWindowStart,
		windowEnd:   cfg.CalendarWindowEnd,
	}
}

func (calendarTrapRule) Name() string       { return "calendar" }
func (calendarTrapRule) Action() TrapAction { return ActionBlock }
func (r calendarTrapRule) Fires(rec URLRecord) bool {
	if rec.Depth <= r.minDepth {
		return false
	}
	u, err := url.Parse(rec.URL)
	if err != nil {
		return false
	}
	m := calendarPathPattern.FindStringSubmatch(u.Path)
	if m == nil {
		return false
	}
	if r.windowStart.IsZero() && r.windowEnd.IsZero() {
		return true
	}
	date, ok := parseCalendarDate(m)
	if !ok {
		return true
	}
	if !date.Before(r.windowStart) && !date.After(r.windowEnd) {
		return false
	}
	return true
}

// parseCalendarDate turns a calendarPathPattern submatch into a UTC date. A
// missing day (a year/month-only archive path) is treated as the first of
// the month.
func parseCalendarDate(m []string) (time.Time, bool) {
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(m[2])
	if err != nil {
		return time.Time{}, false
	}
	day := 1
	if m[3] != "" {
		day, err = strconv.Atoi(m[3])
		if err != nil {
			return time.Time{}, false
		}
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}

// sessionIDTrapRule flags query parameters whose value
// looks like a random session token: high Shannon entropy over a long
// alphanumeric string, a pattern real navigation links don't produce.
type sessionIDTrapRule struct {
	minLength     int
	minEntropyBPS float64
}

func newSessionIDTrapRule() sessionIDTrapRule {
	return sessionIDTrapRule{minLength: 16, minEntropyBPS: 4.0}
}

func (sessionIDTrapRule) Name() string       { return "session_id" }
func (sessionIDTrapRule) Action() TrapAction { return ActionBlock }
func (r sessionIDTrapRule) Fires(rec URLRecord) bool {
	u, err := url.Parse(rec.URL)
	if err != nil {
		return false
	}
	for key, values := range u.Query() {
		lowerKey := strings.ToLower(key)
		if !strings.Contains(lowerKey, "sid") && !strings.Contains(lowerKey, "session") &&
			!strings.Contains(lowerKey, "token") && !strings.Contains(lowerKey, "phpsessid") &&
			lowerKey != "s" {
			continue
		}
		for _, v := range values {
			if len(v) >= r.minLength && shannonEntropy(v) > r.minEntropyBPS {
				return true
			}
		}
	}
	return false
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	total := float64(len(s))
	entropy := 0.0
	for _, count := range counts {
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

var paginationParamPattern = regexp.MustCompile(`(?i)^(page|p|offset|start|skip)$`)

// paginationTrapRule deprioritizes (does not block) very deep pagination,
// but only once the site has stopped surfacing new content: legitimate
// deep pagination exists (a large archive genuinely has 500 pages), and it
// is the run of stale fetches, not the page number alone, that marks a
// pagination sequence as no longer worth the same priority as fresh
// content. RecordPageOutcome is called by the fetch pipeline after each
// completed fetch to maintain that per-site history.
type paginationTrapRule struct {
	maxPage        int
	staleThreshold int

	mu      sync.Mutex
	history map[string]int // host -> consecutive fetches with no new content
}

func newPaginationTrapRule(cfg TrapDetectorConfig) *paginationTrapRule {
	return &paginationTrapRule{
		maxPage:        cfg.PaginationMaxPage,
		staleThreshold: cfg.PaginationNoNewContentWindow,
		history:        make(map[string]int),
	}
}

func (*paginationTrapRule) Name() string       { return "pagination" }
func (*paginationTrapRule) Action() TrapAction { return ActionDeprioritize }
func (r *paginationTrapRule) Fires(rec URLRecord) bool {
	u, err := url.Parse(rec.URL)
	if err != nil {
		return false
	}
	overCap := false
	for key, values := range u.Query() {
		if !paginationParamPattern.MatchString(key) {
			continue
		}
		for _, v := range values {
			n := 0
			if _, err := fmtSscanInt(v, &n); err == nil && n > r.maxPage {
				overCap = true
			}
		}
	}
	if !overCap {
		return false
	}
	return r.noNewContentRecently(rec.Host)
}

func (r *paginationTrapRule) noNewContentRecently(host string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history[host] >= r.staleThreshold
}

// RecordPageOutcome updates the per-site stale-page run used by Fires.
// isNewContent is false when the fetched page duplicated content already
// seen for this crawl (per crawlcore.ContentDedup).
func (r *paginationTrapRule) RecordPageOutcome(host string, isNewContent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if isNewContent {
		r.history[host] = 0
		return
	}
	r.history[host]++
}

// parameterExplosionTrapRule blocks a URL once its path has accumulated an
// implausible number of sibling query strings, the classic
// infinite-facet-filter shape (a faceted search page that mints a fresh URL
// for every filter combination). The rule tracks previously-seen query
// strings per path rather than counting parameters on a single URL, since a
// single richly-parameterized URL is not itself a trap.
type parameterExplosionTrapRule struct {
	maxSiblings int

	mu   sync.Mutex
	seen map[string]map[string]struct{} // path -> distinct raw query strings seen
}

func newParameterExplosionTrapRule(cfg TrapDetectorConfig) *parameterExplosionTrapRule {
	return &parameterExplosionTrapRule{
		maxSiblings: cfg.ParameterExplosionMaxSiblings,
		seen:        make(map[string]map[string]struct{}),
	}
}

func (*parameterExplosionTrapRule) Name() string       { return "parameter_explosion" }
func (*parameterExplosionTrapRule) Action() TrapAction { return ActionBlock }
func (r *parameterExplosionTrapRule) Fires(rec URLRecord) bool {
	u, err := url.Parse(rec.URL)
	if err != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	siblings := r.seen[u.Path]
	if siblings == nil {
		siblings = make(map[string]struct{})
		r.seen[u.Path] = siblings
	}

	_, alreadySeen := siblings[u.RawQuery]
	priorSiblings := len(siblings)
	if alreadySeen {
		priorSiblings--
	} else {
		siblings[u.RawQuery] = struct{}{}
	}

	return priorSiblings >= r.maxSiblings
}

// infiniteRecursionTrapRule blocks URLs whose path repeats the same segment
// consecutively, the classic "/a/a/a/a/a" symlink-loop or relative-link bug
// shape.
type infiniteRecursionTrapRule struct {
	maxRepeats int
}

func newInfiniteRecursionTrapRule() infiniteRecursionTrapRule {
	return infiniteRecursionTrapRule{maxRepeats: 3}
}
func (infiniteRecursionTrapRule) Name() string       { return "infinite_recursion" }
func (infiniteRecursionTrapRule) Action() TrapAction { return ActionBlock }
func (r infiniteRecursionTrapRule) Fires(rec URLRecord) bool {
	u, err := url.Parse(rec.URL)
	if err != nil {
		return false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	repeats := 1
	for i := 1; i < len(segments); i++ {
		if segments[i] != "" && segments[i] == segments[i-1] {
			repeats++
			if repeats > r.maxRepeats {
				return true
			}
		} else {
			repeats = 1
		}
	}
	return false
}

// TrapDetectorConfig tunes the five built-in rules. The zero value is not
// directly usable; build one with DefaultTrapDetectorConfig and override
// only the fields a deployment needs to change.
type TrapDetectorConfig struct {
	// CalendarMinDepth is the depth a calendar-shaped path must exceed
	// before the rule considers blocking it (spec default: 2).
	CalendarMinDepth int
	// CalendarWindowStart and CalendarWindowEnd bound a date range that is
	// always admitted regardless of depth. Both zero means no window is
	// configured and every over-depth calendar path is blocked.
	CalendarWindowStart time.Time
	CalendarWindowEnd   time.Time

	// PaginationMaxPage is the per-site page number cap (spec default: 50).
	PaginationMaxPage int
	// PaginationNoNewContentWindow is how many consecutive stale fetches
	// (no new content) on a site must be observed before deep pagination
	// on that site is deprioritized (spec default: 5).
	PaginationNoNewContentWindow int

	// ParameterExplosionMaxSiblings is how many previously-seen sibling
	// query strings on the same path trigger the rule (spec default: 200).
	ParameterExplosionMaxSiblings int
}

// DefaultTrapDetectorConfig returns the thresholds spec.md documents as
// defaults for each rule.
func DefaultTrapDetectorConfig() TrapDetectorConfig {
	return TrapDetectorConfig{
		CalendarMinDepth:              2,
		PaginationMaxPage:             50,
		PaginationNoNewContentWindow:  5,
		ParameterExplosionMaxSiblings: 200,
	}
}

// RuleBasedTrapDetector combines the five built-in rules from spec.md §4.6
// via logical OR, plus an optional pluggable Scorer.
type RuleBasedTrapDetector struct {
	rules      []TrapRule
	pagination *paginationTrapRule
	scorer     Scorer
}

// NewRuleBasedTrapDetector builds the detector with all five default rules
// at their spec-default thresholds. An optional Scorer (may be nil) is
// consulted after the built-in rules.
func NewRuleBasedTrapDetector(scorer Scorer) *RuleBasedTrapDetector {
	return NewRuleBasedTrapDetectorWithConfig(DefaultTrapDetectorConfig(), scorer)
}

// NewRuleBasedTrapDetectorWithConfig builds the detector with cfg's
// thresholds, letting a deployment tune the calendar date window or the
// pagination/parameter-explosion sensitivity away from the spec defaults.
func NewRuleBasedTrapDetectorWithConfig(cfg TrapDetectorConfig, scorer Scorer) *RuleBasedTrapDetector {
	pagination := newPaginationTrapRule(cfg)
	return &RuleBasedTrapDetector{
		rules: []TrapRule{
			newCalendarTrapRule(cfg),
			newSessionIDTrapRule(),
			pagination,
			newParameterExplosionTrapRule(cfg),
			newInfiniteRecursionTrapRule(),
		},
		pagination: pagination,
		scorer:     scorer,
	}
}

// Evaluate runs rec through every rule; the first blocking rule short
// circuits, otherwise any deprioritizing rule (or the pluggable scorer)
// halves the record's priority.
func (d *RuleBasedTrapDetector) Evaluate(rec URLRecord) TrapVerdict {
	deprioritize := false
	for _, rule := range d.rules {
		if !rule.Fires(rec) {
			continue
		}
		if rule.Action() == ActionBlock {
			return TrapVerdict{Blocked: true, Rule: rule.Name()}
		}
		deprioritize = true
	}
	if d.scorer != nil && d.scorer.Score(rec) {
		deprioritize = true
	}
	return TrapVerdict{Deprioritize: deprioritize}
}

// RecordPageOutcome feeds a completed fetch's dedup result back into the
// pagination rule's per-site stale-page history. Callers (the worker
// pipeline) call this once per fetch, after content dedup has decided
// whether the page was new.
func (d *RuleBasedTrapDetector) RecordPageOutcome(host string, isNewContent bool) {
	d.pagination.RecordPageOutcome(host, isNewContent)
}

// fmtSscanInt is a tiny wrapper kept local so the pagination rule doesn't
// need to import fmt just for one Sscan call.
func fmtSscanInt(s string, out *int) (int, error) {
	n := 0
	neg := false
	if s == "" {
		return 0, errNotANumber
	}
	for i, r := range s {
		if i == 0 && r == '-' {
			neg = true
			continue
		}
		if r < '0' || r > '9' {
			return 0, errNotANumber
		}
		n = n*10 + int(r-'0')
	}
	if neg {
		n = -n
	}
	*out = n
	return 1, nil
}
