package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deepharvest/deepharvest/internal/crawlcore"
)

func newTestHTTPFetcher(t *testing.T, body string) (*HTTPFetcher, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(body))
	}))
	f := NewHTTPFetcher(HTTPFetcherConfig{
		Timeout:      2 * time.Second,
		MaxBodyBytes: 1 << 20,
		Retry:        NewRetryPolicy(1, time.Millisecond, time.Millisecond),
	})
	return f, srv
}

func TestDispatcherReturnsHTTPResultWhenJSDisabled(t *testing.T) {
	t.Parallel()
	httpFetcher, srv := newTestHTTPFetcher(t, "<html><body>tiny</body></html>")
	defer srv.Close()

	d := NewDispatcher(httpFetcher, nil, NewHeuristicPromotionDetector(10000, 0, nil, nil), nil, false, zap.NewNop())

	result, err := d.Fetch(context.Background(), crawlcore.URLRecord{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, "<html><body>tiny</body></html>", string(result.Body))
}

func TestDispatcherSkipsPromotionWhenBrowserFetcherIsNil(t *testing.T) {
	t.Parallel()
	httpFetcher, srv := newTestHTTPFetcher(t, "<html><body>tiny</body></html>")
	defer srv.Close()

	d := NewDispatcher(httpFetcher, nil, NewHeuristicPromotionDetector(10000, 0, nil, nil), nil, true, zap.NewNop())

	result, err := d.Fetch(context.Background(), crawlcore.URLRecord{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, "<html><body>tiny</body></html>", string(result.Body))
}

func TestDispatcherErrorsWhenSiteRuleRequiresBrowserButNoneConfigured(t *testing.T) {
	t.Parallel()
	httpFetcher, srv := newTestHTTPFetcher(t, "<html></html>")
	defer srv.Close()

	rules := CompileSiteRules([]crawlcore.SiteRuleConfig{
		{Pattern: ".*", UseBrowserDirectly: true},
	}, zap.NewNop())

	d := NewDispatcher(httpFetcher, nil, nil, rules, false, zap.NewNop())
	_, err := d.Fetch(context.Background(), crawlcore.URLRecord{URL: srv.URL})
	require.Error(t, err)
}

func TestDispatcherPropagatesHTTPFetchError(t *testing.T) {
	t.Parallel()
	httpFetcher := NewHTTPFetcher(HTTPFetcherConfig{
		Timeout:      50 * time.Millisecond,
		MaxBodyBytes: 1 << 20,
		Retry:        NewRetryPolicy(1, time.Millisecond, time.Millisecond),
	})
	d := NewDispatcher(httpFetcher, nil, nil, nil, false, zap.NewNop())

	_, err := d.Fetch(context.Background(), crawlcore.URLRecord{URL: "http://127.0.0.1:1/unreachable"})
	require.Error(t, err)
}

func TestCompileSiteRulesSkipsInvalidPattern(t *testing.T) {
	t.Parallel()
	rules := CompileSiteRules([]crawlcore.SiteRuleConfig{
		{Pattern: "(unclosed"},
		{Pattern: "example\\.com"},
	}, zap.NewNop())
	require.Len(t, rules, 1)
}
