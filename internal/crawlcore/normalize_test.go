package crawlcore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeLowercasesSchemeAndHost(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil)
	got, err := n.Normalize("HTTPS://Example.COM/Path")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/Path", got)
}

func TestNormalizeStripsDefaultPorts(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil)

	got, err := n.Normalize("http://example.com:80/x")
	require.NoError(t, err)
	require.Equal(t, "http://example.com/x", got)

	got, err = n.Normalize("https://example.com:443/x")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/x", got)
}

func TestNormalizeStripsFragment(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil)
	got, err := n.Normalize("https://example.com/x#section")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/x", got)
}

func TestNormalizeCollapsesDotSegments(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil)
	got, err := n.Normalize("https://example.com/a/../b/./c")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/b/c", got)
}

func TestNormalizeEmptyPathBecomesSlash(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil)
	got, err := n.Normalize("https://example.com")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/", got)
}

func TestNormalizeStripsDefaultTrackingParams(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil)
	got, err := n.Normalize("https://example.com/x?utm_source=foo&id=1")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/x?id=1", got)
}

func TestNormalizeStripsCallerSuppliedTrackingParams(t *testing.T) {
	t.Parallel()
	n := NewNormalizer([]string{"SessionID"})
	got, err := n.Normalize("https://example.com/x?sessionid=abc&id=1")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/x?id=1", got)
}

func TestNormalizeSortsQueryParams(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil)
	got, err := n.Normalize("https://example.com/x?b=2&a=1")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/x?a=1&b=2", got)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil)
	first, err := n.Normalize("HTTPS://Example.com:443/a/../b/?utm_source=x&b=2&a=1#frag")
	require.NoError(t, err)
	second, err := n.Normalize(first)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestNormalizeRejectsRelativeURL(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil)
	_, err := n.Normalize("/about")
	require.Error(t, err)
}

func TestNormalizeRejectsNonHTTPScheme(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil)
	_, err := n.Normalize("ftp://example.com/file")
	require.Error(t, err)
}

func TestNormalizeRejectsURLOverTwoKiB(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil)
	longPath := strings.Repeat("a", maxURLBytes)
	_, err := n.Normalize("https://example.com/" + longPath)
	require.Error(t, err)
}

func TestNormalizeAllowsURLAtTwoKiBBoundary(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil)
	base := "https://example.com/"
	padding := strings.Repeat("a", maxURLBytes-len(base))
	got, err := n.Normalize(base + padding)
	require.NoError(t, err)
	require.Len(t, got, maxURLBytes)
}

func TestHostExtractsLowercasedHostWithoutPort(t *testing.T) {
	t.Parallel()
	host, err := Host("https://Example.com:8443/x")
	require.NoError(t, err)
	require.Equal(t, "example.com", host)
}
