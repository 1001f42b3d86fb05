package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// URLDedup implements crawlcore.URLDedup against a shared Redis set,
// serving as the fallback authority behind a per-worker
// crawlcore.BloomFrontedURLDedup: a Bloom-filter hit is only a "maybe",
// this set gives the definitive answer.
type URLDedup struct {
	rdb *redis.Client
}

// NewURLDedup wraps an existing go-redis client.
func NewURLDedup(rdb *redis.Client) *URLDedup {
	return &URLDedup{rdb: rdb}
}

// SeenOrMark adds normalizedURL to the shared visited set, returning
// whether it was already present.
func (d *URLDedup) SeenOrMark(ctx context.Context, normalizedURL string) (bool, error) {
	added, err := d.rdb.SAdd(ctx, visitedSetKey, normalizedURL).Result()
	if err != nil {
		return false, fmt.Errorf("mark visited: %w", err)
	}
	return added == 0, nil
}

// Snapshot is a no-op: the shared Redis set is itself the durable visited
// set in distributed mode, matching Frontier's own snapshot/restore
// rationale.
func (d *URLDedup) Snapshot(ctx context.Context) ([]string, error) {
	return nil, nil
}

// Restore is a no-op for the same reason Snapshot is.
func (d *URLDedup) Restore(ctx context.Context, urls []string) error {
	return nil
}
