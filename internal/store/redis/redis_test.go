package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/deepharvest/deepharvest/internal/crawlcore"
)

// newTestClient dials a real Redis instance for integration coverage of the
// distributed frontier and dedup backends, skipping when none is reachable.
// Set DEEPHARVEST_TEST_REDIS_ADDR to point at a non-default instance.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("DEEPHARVEST_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		_ = rdb.FlushDB(context.Background()).Err()
		_ = rdb.Close()
	})
	require.NoError(t, rdb.FlushDB(context.Background()).Err())
	return rdb
}

func TestFrontierPushLeaseCompleteRoundTrip(t *testing.T) {
	rdb := newTestClient(t)
	f := NewFrontier(rdb, time.Minute)
	ctx := context.Background()

	added, err := f.Push(ctx, crawlcore.URLRecord{URL: "https://example.com/a", Host: "example.com"})
	require.NoError(t, err)
	require.True(t, added)

	n, err := f.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rec, err := f.Lease(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/a", rec.URL)
	require.NotEmpty(t, rec.LeaseID)

	require.NoError(t, f.Complete(ctx, rec.LeaseID))

	n, err = f.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestFrontierLeaseOnEmptyReturnsErrFrontierEmpty(t *testing.T) {
	rdb := newTestClient(t)
	f := NewFrontier(rdb, time.Minute)

	_, err := f.Lease(context.Background())
	require.ErrorIs(t, err, crawlcore.ErrFrontierEmpty)
}

func TestFrontierRequeueIncrementsRetriesAndReturnsToQueue(t *testing.T) {
	rdb := newTestClient(t)
	f := NewFrontier(rdb, time.Minute)
	ctx := context.Background()

	_, err := f.Push(ctx, crawlcore.URLRecord{URL: "https://example.com/b", Host: "example.com"})
	require.NoError(t, err)

	leased, err := f.Lease(ctx)
	require.NoError(t, err)

	require.NoError(t, f.Requeue(ctx, leased.LeaseID))

	again, err := f.Lease(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, again.Retries)
	require.NotEqual(t, leased.LeaseID, again.LeaseID)
}

func TestFrontierPrefersHigherPriorityWithinHost(t *testing.T) {
	rdb := newTestClient(t)
	f := NewFrontier(rdb, time.Minute)
	ctx := context.Background()

	_, err := f.Push(ctx, crawlcore.URLRecord{URL: "https://a.example.com/low", Host: "a.example.com", Priority: 1})
	require.NoError(t, err)
	_, err = f.Push(ctx, crawlcore.URLRecord{URL: "https://a.example.com/high", Host: "a.example.com", Priority: 100})
	require.NoError(t, err)

	rec, err := f.Lease(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://a.example.com/high", rec.URL)
}

func TestFrontierReapExpiredLeasesRequeuesPastDeadline(t *testing.T) {
	rdb := newTestClient(t)
	f := NewFrontier(rdb, time.Millisecond)
	ctx := context.Background()

	_, err := f.Push(ctx, crawlcore.URLRecord{URL: "https://example.com/expiring", Host: "example.com"})
	require.NoError(t, err)

	_, err = f.Lease(ctx)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	reaped, err := f.ReapExpiredLeases(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, reaped)

	n, err := f.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestFrontierSnapshotAndRestoreAreNoOps(t *testing.T) {
	rdb := newTestClient(t)
	f := NewFrontier(rdb, time.Minute)
	ctx := context.Background()

	entries, err := f.Snapshot(ctx)
	require.NoError(t, err)
	require.Nil(t, entries)
	require.NoError(t, f.Restore(ctx, []crawlcore.FrontierEntry{{URL: "https://example.com/x"}}))
}

func TestURLDedupSeenOrMark(t *testing.T) {
	rdb := newTestClient(t)
	d := NewURLDedup(rdb)
	ctx := context.Background()

	seen, err := d.SeenOrMark(ctx, "https://example.com/page")
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = d.SeenOrMark(ctx, "https://example.com/page")
	require.NoError(t, err)
	require.True(t, seen)
}
