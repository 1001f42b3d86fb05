// Package crawlcore holds the crawl engine's core data model: the frontier,
// scheduler, fetch pipeline, deduplication indexes, trap detector, and
// checkpoint format all operate on the types defined here.
package crawlcore

import (
	"fmt"
	"time"
)

// FetchMode records which pipeline produced a FetchResult.
type FetchMode string

const (
	ModeHTTP    FetchMode = "http"
	ModeBrowser FetchMode = "browser"
)

// CrawlStrategy controls how priority is derived for newly admitted URLs.
type CrawlStrategy string

const (
	StrategyBFS      CrawlStrategy = "bfs"
	StrategyDFS      CrawlStrategy = "dfs"
	StrategyPriority CrawlStrategy = "priority"
)

// URLRecord is a single frontier entry: a URL awaiting or undergoing fetch.
type URLRecord struct {
	URL           string
	Host          string
	Depth         int
	Priority      float64
	ParentURL     string
	DiscoveredAt  time.Time
	Retries       int
	LeaseID       string
	LeaseDeadline time.Time
}

// FetchResult is the outcome of attempting to fetch a URLRecord. Exactly one
// of {Body/BodyFile, Err} is populated; NewFetchResult enforces this rather
// than leaving it to caller discipline.
type FetchResult struct {
	URL          string
	FinalURL     string
	StatusCode   int
	Headers      map[string][]string
	Body         []byte
	BodyFile     string
	MIMEType     string
	Duration     time.Duration
	Mode         FetchMode
	Screenshot   []byte
	Err          error
	ErrKind      ErrorKind
}

// NewFetchResult builds a successful result. Callers that need to record a
// failure should use NewFetchError instead, keeping the two states disjoint.
func NewFetchResult(url, finalURL string, status int, headers map[string][]string, body []byte, mime string, dur time.Duration, mode FetchMode) FetchResult {
	return FetchResult{
		URL:        url,
		FinalURL:   finalURL,
		StatusCode: status,
		Headers:    headers,
		Body:       body,
		MIMEType:   mime,
		Duration:   dur,
		Mode:       mode,
	}
}

// NewFetchError builds a terminal failure result for url.
func NewFetchError(url string, kind ErrorKind, err error) FetchResult {
	return FetchResult{
		URL:     url,
		Err:     err,
		ErrKind: kind,
	}
}

// Succeeded reports whether the fetch produced usable content.
func (r FetchResult) Succeeded() bool {
	return r.Err == nil
}

// HostOutcome is one entry in a HostState's rolling error-rate window.
type HostOutcome bool

const (
	OutcomeSuccess HostOutcome = true
	OutcomeError   HostOutcome = false
)

// HostState tracks per-host politeness and health for the scheduler.
type HostState struct {
	Host              string
	InFlight          int
	NextDispatch      time.Time
	RobotsDisallowAll bool
	CrawlDelay        time.Duration
	BackoffMultiplier float64
	CircuitOpenUntil  time.Time
	outcomes          []HostOutcome
	outcomeHead       int
	outcomeFilled     int
}

const hostOutcomeWindow = 20

// RecordOutcome appends outcome to the rolling window used for adaptive backoff.
func (h *HostState) RecordOutcome(outcome HostOutcome) {
	if h.outcomes == nil {
		h.outcomes = make([]HostOutcome, hostOutcomeWindow)
	}
	h.outcomes[h.outcomeHead] = outcome
	h.outcomeHead = (h.outcomeHead + 1) % hostOutcomeWindow
	if h.outcomeFilled < hostOutcomeWindow {
		h.outcomeFilled++
	}
}

// ErrorRate returns the fraction of failures in the rolling window.
func (h *HostState) ErrorRate() float64 {
	if h.outcomeFilled == 0 {
		return 0
	}
	errs := 0
	for i := 0; i < h.outcomeFilled; i++ {
		if h.outcomes[i] == OutcomeError {
			errs++
		}
	}
	return float64(errs) / float64(h.outcomeFilled)
}

// SiteRule pins fetch behavior for URLs matching Pattern.
type SiteRule struct {
	Pattern            string
	Priority           int
	UseBrowserDirectly bool
	RequireJS          bool
	UserAgent          string
	Headers            map[string]string
}

// ContentFingerprint is the dedup signature computed for fetched content.
type ContentFingerprint struct {
	SHA256   [32]byte
	SimHash  uint64
	MinHash  [128]uint64
}

// CrawlStats accumulates run-wide counters, mirroring the original
// implementation's CrawlStats dataclass.
type CrawlStats struct {
	Processed    int64
	Success      int64
	Errors       int64
	Duplicates   int64
	Traps        int64
	Soft404s     int64
	BytesFetched int64
}

// FrontierEntry is the checkpoint-serializable shape of a pending URLRecord.
type FrontierEntry struct {
	URL      string  `json:"url"`
	Depth    int     `json:"depth"`
	Priority float64 `json:"priority"`
	Parent   string  `json:"parent,omitempty"`
	Retries  int     `json:"retries,omitempty"`
}

// CrawlCheckpoint is the on-disk snapshot written by the Checkpointer.
type CrawlCheckpoint struct {
	SchemaVersion int             `json:"schema_version"`
	ConfigDigest  string          `json:"config_digest"`
	Stats         CrawlStats      `json:"stats"`
	Visited       []string        `json:"visited,omitempty"`
	Frontier      []FrontierEntry `json:"frontier,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

func (h *HostState) String() string {
	return fmt.Sprintf("HostState{host=%s inflight=%d backoff=%.2f}", h.Host, h.InFlight, h.BackoffMultiplier)
}
