package sqlite

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deepharvest/deepharvest/internal/crawlcore"
)

func newTestHistoryDB(t *testing.T) *HistoryDB {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestOpenCreatesDatabaseDirectoryAndSchema(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	h, err := Open(filepath.Join(dir, "nested", "history.db"))
	require.NoError(t, err)
	defer h.Close()

	count, err := h.HostFetchCount(context.Background(), "example.com")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestRecordFetchAndHostFetchCount(t *testing.T) {
	t.Parallel()
	h := newTestHistoryDB(t)
	ctx := context.Background()

	rec := crawlcore.URLRecord{URL: "https://example.com/a", Host: "example.com"}
	result := crawlcore.NewFetchResult("https://example.com/a", "https://example.com/a", http.StatusOK, nil, []byte("hello"), "text/html", 5*time.Millisecond, crawlcore.ModeHTTP)

	require.NoError(t, h.RecordFetch(ctx, rec, result, ""))
	require.NoError(t, h.RecordFetch(ctx, rec, result, ""))

	count, err := h.HostFetchCount(ctx, "example.com")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	count, err = h.HostFetchCount(ctx, "other.com")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestStartRunAndEndRunRoundTrip(t *testing.T) {
	t.Parallel()
	h := newTestHistoryDB(t)
	ctx := context.Background()

	runID, err := h.StartRun(ctx)
	require.NoError(t, err)
	require.NotZero(t, runID)

	stats := crawlcore.CrawlStats{Processed: 10, Success: 9, Errors: 1}
	require.NoError(t, h.EndRun(ctx, runID, stats))
}

func TestRecordFetchCapturesErrorKind(t *testing.T) {
	t.Parallel()
	h := newTestHistoryDB(t)
	ctx := context.Background()

	rec := crawlcore.URLRecord{URL: "https://example.com/fail", Host: "example.com"}
	result := crawlcore.NewFetchError("https://example.com/fail", crawlcore.ErrKindNetwork, context.DeadlineExceeded)

	require.NoError(t, h.RecordFetch(ctx, rec, result, crawlcore.ErrKindNetwork))

	count, err := h.HostFetchCount(ctx, "example.com")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
