package local

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deepharvest/deepharvest/internal/crawlcore"
)

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()
	_, err := New(Config{})
	require.Error(t, err)
}

func TestNewCreatesBaseDir(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "pages")
	_, err := New(Config{BaseDir: dir})
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestWritePageWritesBodyAndMetadataSidecar(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	rec := crawlcore.URLRecord{URL: "https://example.com/page", Depth: 2, ParentURL: "https://example.com"}
	result := crawlcore.NewFetchResult("https://example.com/page", "https://example.com/page", http.StatusOK,
		http.Header{"Content-Type": []string{"text/html"}}, []byte("<html>body</html>"), "text/html", 10*time.Millisecond, crawlcore.ModeHTTP)

	require.NoError(t, w.WritePage(context.Background(), rec, result))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var bodyFound, metaFound bool
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		switch filepath.Ext(e.Name()) {
		case ".body":
			require.Equal(t, "<html>body</html>", string(data))
			bodyFound = true
		case ".json":
			var meta map[string]any
			require.NoError(t, json.Unmarshal(data, &meta))
			require.Equal(t, "https://example.com/page", meta["url"])
			require.Equal(t, float64(2), meta["depth"])
			require.Equal(t, "https://example.com", meta["parent_url"])
			metaFound = true
		}
	}
	require.True(t, bodyFound)
	require.True(t, metaFound)
}

func TestWritePageIsIdempotentForSameURL(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	rec := crawlcore.URLRecord{URL: "https://example.com/page"}
	first := crawlcore.NewFetchResult("https://example.com/page", "https://example.com/page", http.StatusOK, nil, []byte("v1"), "text/html", 0, crawlcore.ModeHTTP)
	second := crawlcore.NewFetchResult("https://example.com/page", "https://example.com/page", http.StatusOK, nil, []byte("v2"), "text/html", 0, crawlcore.ModeHTTP)

	require.NoError(t, w.WritePage(context.Background(), rec, first))
	require.NoError(t, w.WritePage(context.Background(), rec, second))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
