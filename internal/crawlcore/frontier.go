package crawlcore

import (
	"container/heap"
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// frontierShardCount matches the striping used by the admission pipeline so
// contention on the frontier and the dedup set scale together.
const frontierShardCount = 32

// LeaseDuration is how long a leased URLRecord may remain unacknowledged
// before the reaper re-admits it.
const LeaseDuration = 120 * time.Second

// heapItem orders pending URLRecords by (-priority, depth, discoveryTime),
// i.e. higher priority first, then shallower depth, then earliest discovery
// (FIFO tie-break), matching the priority strategy described in spec.md.
type heapItem struct {
	rec   URLRecord
	index int
}

type recordHeap []*heapItem

func (h recordHeap) Len() int { return len(h) }
func (h recordHeap) Less(i, j int) bool {
	a, b := h[i].rec, h[j].rec
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	return a.DiscoveredAt.Before(b.DiscoveredAt)
}
func (h recordHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *recordHeap) Push(x any) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *recordHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

type frontierShard struct {
	mu       sync.Mutex
	pending  recordHeap
	leased   map[string]*heapItem
}

// LocalFrontier is an in-process priority frontier, sharded by FNV
// hash(host) mod S with one mutex per shard, mirroring the "one lock per
// limiter/host" idiom in internal/policy/ratelimit/limiter.go.
type LocalFrontier struct {
	shards   [frontierShardCount]*frontierShard
	strategy CrawlStrategy
	ids      IDGenerator
	clock    Clock
	seq      int64
	seqMu    sync.Mutex
}

// NewLocalFrontier builds a LocalFrontier using strategy to derive priority
// ordering semantics (bfs/dfs/priority all share the same heap; Push
// overwrites URLRecord.Priority with -depth for bfs and with a rising
// discovery sequence number for dfs, and keeps the caller's Priority only
// for the priority strategy).
func NewLocalFrontier(strategy CrawlStrategy, ids IDGenerator, clock Clock) *LocalFrontier {
	f := &LocalFrontier{strategy: strategy, ids: ids, clock: clock}
	for i := range f.shards {
		f.shards[i] = &frontierShard{leased: make(map[string]*heapItem)}
		heap.Init(&f.shards[i].pending)
	}
	return f
}

func (f *LocalFrontier) shardFor(host string) *frontierShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(host))
	return f.shards[h.Sum32()%frontierShardCount]
}

func (f *LocalFrontier) nextSeq() int64 {
	f.seqMu.Lock()
	defer f.seqMu.Unlock()
	f.seq++
	return f.seq
}

// Push admits rec into its host shard, deriving discovery order and
// strategy-specific priority tie-breaking. It always admits (dedup already
// happened in the Admitter) and returns true.
func (f *LocalFrontier) Push(ctx context.Context, rec URLRecord) (bool, error) {
	if rec.DiscoveredAt.IsZero() {
		if f.clock != nil {
			rec.DiscoveredAt = f.clock.Now()
		} else {
			rec.DiscoveredAt = time.Now()
		}
	}
	switch f.strategy {
	case StrategyDFS:
		// DFS prefers the most recently discovered URL first; encode that by
		// inverting discovery order into priority so the min tie-break above
		// still resolves LIFO.
		rec.Priority = float64(f.nextSeq())
	case StrategyBFS:
		rec.Priority = -float64(rec.Depth)
	}
	shard := f.shardFor(rec.Host)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	heap.Push(&shard.pending, &heapItem{rec: rec})
	return true, nil
}

// Lease pops the highest-priority record across all shards and marks it
// leased under a fresh ID. Callers must Complete or Requeue the lease.
func (f *LocalFrontier) Lease(ctx context.Context) (URLRecord, error) {
	var best *heapItem
	var bestShardIdx = -1
	for i, shard := range f.shards {
		shard.mu.Lock()
		if shard.pending.Len() == 0 {
			shard.mu.Unlock()
			continue
		}
		candidate := shard.pending[0]
		if best == nil || betterCandidate(candidate.rec, best.rec) {
			best = candidate
			bestShardIdx = i
		}
		shard.mu.Unlock()
	}
	if best == nil {
		return URLRecord{}, ErrFrontierEmpty
	}
	bestShard := f.shards[bestShardIdx]
	bestShard.mu.Lock()
	if bestShard.pending.Len() == 0 || bestShard.pending[0].rec.URL != best.rec.URL {
		// Another goroutine leased it between our scan and this lock; retry.
		bestShard.mu.Unlock()
		return f.Lease(ctx)
	}
	best = bestShard.pending[0]
	heap.Remove(&bestShard.pending, best.index)

	leaseID, err := f.newLeaseID()
	if err != nil {
		bestShard.mu.Unlock()
		return URLRecord{}, fmt.Errorf("generate lease id: %w", err)
	}
	best.rec.LeaseID = leaseID
	best.rec.LeaseDeadline = f.now().Add(LeaseDuration)
	bestShard.leased[leaseID] = best
	bestShard.mu.Unlock()
	return best.rec, nil
}

// betterCandidate reports whether a should be leased before b, using the
// same (-priority, depth, discoveryTime) ordering as the per-shard heap.
func betterCandidate(a, b URLRecord) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	return a.DiscoveredAt.Before(b.DiscoveredAt)
}

func (f *LocalFrontier) newLeaseID() (string, error) {
	if f.ids != nil {
		return f.ids.NewID()
	}
	return fmt.Sprintf("lease-%d", f.nextSeq()), nil
}

func (f *LocalFrontier) now() time.Time {
	if f.clock != nil {
		return f.clock.Now()
	}
	return time.Now()
}

// Complete acknowledges a lease, permanently removing the record.
func (f *LocalFrontier) Complete(ctx context.Context, leaseID string) error {
	for _, shard := range f.shards {
		shard.mu.Lock()
		if _, ok := shard.leased[leaseID]; ok {
			delete(shard.leased, leaseID)
			shard.mu.Unlock()
			return nil
		}
		shard.mu.Unlock()
	}
	return nil
}

// Requeue re-admits a leased record (e.g. after a transient fetch error),
// incrementing its retry counter.
func (f *LocalFrontier) Requeue(ctx context.Context, leaseID string) error {
	for _, shard := range f.shards {
		shard.mu.Lock()
		item, ok := shard.leased[leaseID]
		if !ok {
			shard.mu.Unlock()
			continue
		}
		delete(shard.leased, leaseID)
		rec := item.rec
		rec.LeaseID = ""
		rec.Retries++
		heap.Push(&shard.pending, &heapItem{rec: rec})
		shard.mu.Unlock()
		return nil
	}
	return nil
}

// Len returns the total number of pending (unleased) records.
func (f *LocalFrontier) Len(ctx context.Context) (int, error) {
	total := 0
	for _, shard := range f.shards {
		shard.mu.Lock()
		total += shard.pending.Len()
		shard.mu.Unlock()
	}
	return total, nil
}

// Snapshot captures all pending records (not leases in flight) for
// checkpointing, matching LocalFrontier.get_pending_snapshot in the
// original implementation.
func (f *LocalFrontier) Snapshot(ctx context.Context) ([]FrontierEntry, error) {
	var entries []FrontierEntry
	for _, shard := range f.shards {
		shard.mu.Lock()
		for _, item := range shard.pending {
			entries = append(entries, FrontierEntry{
				URL: item.rec.URL, Depth: item.rec.Depth, Priority: item.rec.Priority,
				Parent: item.rec.ParentURL, Retries: item.rec.Retries,
			})
		}
		shard.mu.Unlock()
	}
	return entries, nil
}

// Restore re-populates the frontier from a checkpoint's frontier entries,
// matching LocalFrontier.restore_pending. Restoring is additive, not
// destructive: callers with a fresh frontier can call it once at startup.
func (f *LocalFrontier) Restore(ctx context.Context, entries []FrontierEntry) error {
	for _, e := range entries {
		host, err := Host(e.URL)
		if err != nil {
			continue
		}
		rec := URLRecord{
			URL: e.URL, Host: host, Depth: e.Depth, Priority: e.Priority,
			ParentURL: e.Parent, Retries: e.Retries, DiscoveredAt: f.now(),
		}
		if _, err := f.Push(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
