package crawlcore

import (
	"context"
	"time"
)

// Frontier holds URLs awaiting fetch, local or distributed. Push enqueues a
// record that has already been through admission; the dedup and trap checks
// run in the Admitter before Push is called.
type Frontier interface {
	Push(ctx context.Context, rec URLRecord) (admitted bool, err error)
	Lease(ctx context.Context) (URLRecord, error)
	Complete(ctx context.Context, leaseID string) error
	Requeue(ctx context.Context, leaseID string) error
	Len(ctx context.Context) (int, error)
	Snapshot(ctx context.Context) ([]FrontierEntry, error)
	Restore(ctx context.Context, entries []FrontierEntry) error
}

// Scheduler enforces host politeness: it grants or delays dispatch and
// records fetch outcomes to drive adaptive backoff and circuit-breaking.
type Scheduler interface {
	Wait(ctx context.Context, host string) error
	Release(host string, outcome HostOutcome)
	HostState(host string) HostState
}

// Fetcher retrieves a URL's content, either over HTTP or via a headless
// browser depending on the caller's selection.
type Fetcher interface {
	Fetch(ctx context.Context, rec URLRecord) (FetchResult, error)
}

// URLDedup answers whether a normalized URL has already been admitted.
// Snapshot/Restore let a checkpoint capture and re-seed the visited set,
// mirroring Frontier's own snapshot/restore shape; a distributed
// implementation backed by an authoritative store (e.g. Redis) may treat
// both as no-ops for the same reason redis.Frontier does.
type URLDedup interface {
	SeenOrMark(ctx context.Context, normalizedURL string) (seen bool, err error)
	Snapshot(ctx context.Context) ([]string, error)
	Restore(ctx context.Context, urls []string) error
}

// ContentDedup answers whether fetched content duplicates or near-duplicates
// previously seen content.
type ContentDedup interface {
	Fingerprint(text []byte) ContentFingerprint
	IsDuplicate(ctx context.Context, fp ContentFingerprint) (bool, error)
	Record(ctx context.Context, fp ContentFingerprint) error
}

// TrapVerdict is the outcome of running a URL through the trap detector.
type TrapVerdict struct {
	Blocked       bool
	Deprioritize  bool
	Rule          string
}

// TrapDetector flags URLs likely to lead into an unbounded crawl space.
type TrapDetector interface {
	Evaluate(rec URLRecord) TrapVerdict
}

// Checkpointer persists and restores run state between process restarts.
type Checkpointer interface {
	Save(ctx context.Context, cp CrawlCheckpoint) error
	Load(ctx context.Context) (CrawlCheckpoint, bool, error)
}

// Clock returns the current time; a small seam for deterministic tests,
// matching the teacher's internal/clock/system pattern.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces lease and job identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
