package crawlcore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalFrontierBFSOrdersShallowestFirst(t *testing.T) {
	t.Parallel()
	f := NewLocalFrontier(StrategyBFS, nil, nil)
	ctx := context.Background()

	for _, depth := range []int{2, 0, 1} {
		_, err := f.Push(ctx, URLRecord{URL: "https://example.com/d", Host: "example.com", Depth: depth})
		require.NoError(t, err)
	}

	var got []int
	for i := 0; i < 3; i++ {
		rec, err := f.Lease(ctx)
		require.NoError(t, err)
		got = append(got, rec.Depth)
	}
	require.Equal(t, []int{0, 1, 2}, got)
}

func TestLocalFrontierDFSOrdersMostRecentFirst(t *testing.T) {
	t.Parallel()
	f := NewLocalFrontier(StrategyDFS, nil, nil)
	ctx := context.Background()

	for _, u := range []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"} {
		_, err := f.Push(ctx, URLRecord{URL: u, Host: "example.com"})
		require.NoError(t, err)
	}

	var got []string
	for i := 0; i < 3; i++ {
		rec, err := f.Lease(ctx)
		require.NoError(t, err)
		got = append(got, rec.URL)
	}
	require.Equal(t, []string{"https://example.com/c", "https://example.com/b", "https://example.com/a"}, got)
}

func TestLocalFrontierPriorityStrategyRespectsCallerPriority(t *testing.T) {
	t.Parallel()
	f := NewLocalFrontier(StrategyPriority, nil, nil)
	ctx := context.Background()

	_, err := f.Push(ctx, URLRecord{URL: "https://example.com/low", Host: "example.com", Priority: 1})
	require.NoError(t, err)
	_, err = f.Push(ctx, URLRecord{URL: "https://example.com/high", Host: "example.com", Priority: 100})
	require.NoError(t, err)
	_, err = f.Push(ctx, URLRecord{URL: "https://example.com/mid", Host: "example.com", Priority: 50})
	require.NoError(t, err)

	var got []string
	for i := 0; i < 3; i++ {
		rec, err := f.Lease(ctx)
		require.NoError(t, err)
		got = append(got, rec.URL)
	}
	require.Equal(t, []string{"https://example.com/high", "https://example.com/mid", "https://example.com/low"}, got)
}

func TestLocalFrontierLeaseOnEmptyReturnsErrFrontierEmpty(t *testing.T) {
	t.Parallel()
	f := NewLocalFrontier(StrategyBFS, nil, nil)
	_, err := f.Lease(context.Background())
	require.ErrorIs(t, err, ErrFrontierEmpty)
}

func TestLocalFrontierCompleteRemovesLeasePermanently(t *testing.T) {
	t.Parallel()
	f := NewLocalFrontier(StrategyBFS, nil, nil)
	ctx := context.Background()

	_, err := f.Push(ctx, URLRecord{URL: "https://example.com/x", Host: "example.com"})
	require.NoError(t, err)

	rec, err := f.Lease(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, rec.LeaseID)

	require.NoError(t, f.Complete(ctx, rec.LeaseID))

	n, err := f.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = f.Lease(ctx)
	require.ErrorIs(t, err, ErrFrontierEmpty)
}

func TestLocalFrontierRequeueReadmitsWithIncrementedRetries(t *testing.T) {
	t.Parallel()
	f := NewLocalFrontier(StrategyBFS, nil, nil)
	ctx := context.Background()

	_, err := f.Push(ctx, URLRecord{URL: "https://example.com/y", Host: "example.com"})
	require.NoError(t, err)

	first, err := f.Lease(ctx)
	require.NoError(t, err)
	require.Zero(t, first.Retries)

	require.NoError(t, f.Requeue(ctx, first.LeaseID))

	second, err := f.Lease(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, second.Retries)
	require.NotEqual(t, first.LeaseID, second.LeaseID)
}

func TestLocalFrontierSnapshotRestoreRoundTripsPendingEntries(t *testing.T) {
	t.Parallel()
	src := NewLocalFrontier(StrategyBFS, nil, nil)
	ctx := context.Background()

	for _, u := range []string{"https://example.com/1", "https://example.com/2", "https://example.com/3"} {
		_, err := src.Push(ctx, URLRecord{URL: u, Host: "example.com"})
		require.NoError(t, err)
	}

	// Lease one entry so it is no longer pending; it should not appear in the
	// snapshot since Snapshot only covers entries still sitting in the heap.
	leased, err := src.Lease(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, leased.LeaseID)

	entries, err := src.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	dst := NewLocalFrontier(StrategyBFS, nil, nil)
	require.NoError(t, dst.Restore(ctx, entries))

	n, err := dst.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
