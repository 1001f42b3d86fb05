package crawlcore

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// MemoryURLDedup is the local URL dedup set: an exact sync.Map-backed
// visited set, matching internal/crawler/politeness.go's
// concurrentVisitTracker idiom generalized to the crawlcore.URLDedup
// interface.
type MemoryURLDedup struct {
	seen sync.Map
}

// NewMemoryURLDedup builds an in-process URL dedup set.
func NewMemoryURLDedup() *MemoryURLDedup {
	return &MemoryURLDedup{}
}

// SeenOrMark returns true if normalizedURL was already marked, otherwise
// marks it and returns false.
func (d *MemoryURLDedup) SeenOrMark(ctx context.Context, normalizedURL string) (bool, error) {
	_, loaded := d.seen.LoadOrStore(normalizedURL, struct{}{})
	return loaded, nil
}

// Snapshot enumerates every URL currently marked seen, so a checkpoint can
// persist the visited set alongside the pending frontier.
func (d *MemoryURLDedup) Snapshot(ctx context.Context) ([]string, error) {
	var urls []string
	d.seen.Range(func(key, _ any) bool {
		urls = append(urls, key.(string))
		return true
	})
	return urls, nil
}

// Restore bulk-marks urls as seen, re-seeding the set from a loaded
// checkpoint before the frontier is restored.
func (d *MemoryURLDedup) Restore(ctx context.Context, urls []string) error {
	for _, u := range urls {
		d.seen.Store(u, struct{}{})
	}
	return nil
}

// BloomFrontedURLDedup fronts a slower authoritative check (e.g. a Redis
// set, in distributed mode) with a plain (non-counting) Bloom filter so that
// the common case of "definitely not seen" avoids a round trip; entries can
// be added but never removed from the filter. Grounded on
// WangYihang-Subdomain-Crawler's BloomFilter wrapper around
// bits-and-blooms/bloom/v3.
type BloomFrontedURLDedup struct {
	mu       sync.Mutex
	filter   *bloom.BloomFilter
	fallback URLDedup
}

// NewBloomFrontedURLDedup builds a Bloom-fronted dedup set sized for
// expectedItems at falsePositiveRate, delegating definite/maybe misses to
// fallback (typically a Redis-backed set in distributed mode).
func NewBloomFrontedURLDedup(expectedItems uint, falsePositiveRate float64, fallback URLDedup) *BloomFrontedURLDedup {
	return &BloomFrontedURLDedup{
		filter:   bloom.NewWithEstimates(expectedItems, falsePositiveRate),
		fallback: fallback,
	}
}

// SeenOrMark checks the Bloom filter first; a filter miss is authoritative
// ("definitely not seen"), so it marks locally and delegates to fallback
// without a round trip. A filter hit still confirms against fallback since
// Bloom filters have false positives.
func (d *BloomFrontedURLDedup) SeenOrMark(ctx context.Context, normalizedURL string) (bool, error) {
	key := []byte(normalizedURL)

	d.mu.Lock()
	maybeSeen := d.filter.Test(key)
	d.mu.Unlock()

	if !maybeSeen {
		d.mu.Lock()
		d.filter.Add(key)
		d.mu.Unlock()
		if d.fallback != nil {
			_, err := d.fallback.SeenOrMark(ctx, normalizedURL)
			return false, err
		}
		return false, nil
	}

	if d.fallback != nil {
		return d.fallback.SeenOrMark(ctx, normalizedURL)
	}
	return true, nil
}

// Snapshot delegates to fallback: in distributed mode the shared store is
// the authoritative visited set, so the local Bloom filter itself never
// needs to be checkpointed, matching redis.Frontier's no-op rationale.
func (d *BloomFrontedURLDedup) Snapshot(ctx context.Context) ([]string, error) {
	if d.fallback != nil {
		return d.fallback.Snapshot(ctx)
	}
	return nil, nil
}

// Restore delegates to fallback for the same reason Snapshot does.
func (d *BloomFrontedURLDedup) Restore(ctx context.Context, urls []string) error {
	if d.fallback != nil {
		return d.fallback.Restore(ctx, urls)
	}
	return nil
}
