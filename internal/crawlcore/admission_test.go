package crawlcore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestAdmitterFor(t *testing.T, cfg AdmissionConfig, strategy CrawlStrategy, trap TrapDetector, hint PriorityHint) (*Admitter, *LocalFrontier) {
	t.Helper()
	frontier := NewLocalFrontier(strategy, nil, nil)
	if cfg.Domains == nil {
		domains, err := NewDomainPolicy(nil, nil)
		require.NoError(t, err)
		cfg.Domains = domains
	}
	admitter := NewAdmitter(cfg, strategy, frontier, NewMemoryURLDedup(), trap, NewNormalizer(nil), hint)
	return admitter, frontier
}

func TestAdmitterAdmitsNewURL(t *testing.T) {
	t.Parallel()
	a, frontier := newTestAdmitterFor(t, AdmissionConfig{MaxDepth: 5}, StrategyBFS, nil, nil)

	ok, err := a.Admit(context.Background(), "https://example.com/page", 1, "https://example.com", 0)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := frontier.Len(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestAdmitterRejectsDuplicateURL(t *testing.T) {
	t.Parallel()
	a, _ := newTestAdmitterFor(t, AdmissionConfig{MaxDepth: 5}, StrategyBFS, nil, nil)
	ctx := context.Background()

	ok, err := a.Admit(ctx, "https://example.com/page", 0, "", 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = a.Admit(ctx, "https://example.com/page", 0, "", 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAdmitterRejectsBeyondMaxDepth(t *testing.T) {
	t.Parallel()
	a, _ := newTestAdmitterFor(t, AdmissionConfig{MaxDepth: 2}, StrategyBFS, nil, nil)
	ok, err := a.Admit(context.Background(), "https://example.com/deep", 3, "", 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAdmitterRejectsBeyondMaxPages(t *testing.T) {
	t.Parallel()
	a, _ := newTestAdmitterFor(t, AdmissionConfig{MaxDepth: 5, MaxPages: 1}, StrategyBFS, nil, nil)
	ctx := context.Background()

	ok, err := a.Admit(ctx, "https://example.com/a", 0, "", 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = a.Admit(ctx, "https://example.com/b", 0, "", 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAdmitterRejectsDisallowedDomain(t *testing.T) {
	t.Parallel()
	domains, err := NewDomainPolicy([]string{"good.com"}, nil)
	require.NoError(t, err)
	a, _ := newTestAdmitterFor(t, AdmissionConfig{MaxDepth: 5, Domains: domains}, StrategyBFS, nil, nil)

	ok, err := a.Admit(context.Background(), "https://bad.com/page", 0, "", 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAdmitterRejectsInvalidURL(t *testing.T) {
	t.Parallel()
	a, _ := newTestAdmitterFor(t, AdmissionConfig{MaxDepth: 5}, StrategyBFS, nil, nil)
	ok, err := a.Admit(context.Background(), "/relative/path", 0, "", 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAdmitterRejectsNonHTTPScheme(t *testing.T) {
	t.Parallel()
	a, frontier := newTestAdmitterFor(t, AdmissionConfig{MaxDepth: 5}, StrategyBFS, nil, nil)

	ok, err := a.Admit(context.Background(), "ftp://example.com/file", 0, "", 0)
	require.NoError(t, err)
	require.False(t, ok)

	n, err := frontier.Len(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestAdmitterRejectsURLOverTwoKiB(t *testing.T) {
	t.Parallel()
	a, _ := newTestAdmitterFor(t, AdmissionConfig{MaxDepth: 5}, StrategyBFS, nil, nil)

	longURL := "https://example.com/" + strings.Repeat("a", maxURLBytes)
	ok, err := a.Admit(context.Background(), longURL, 0, "", 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAdmitterBlocksTrapURLsWithError(t *testing.T) {
	t.Parallel()
	trap := NewRuleBasedTrapDetector(nil)
	a, _ := newTestAdmitterFor(t, AdmissionConfig{MaxDepth: 5}, StrategyBFS, trap, nil)

	ok, err := a.Admit(context.Background(), "https://example.com/a/a/a/a/a", 0, "", 0)
	require.Error(t, err)
	require.False(t, ok)
	require.ErrorIs(t, err, ErrTrapDetected)
}

func TestAdmitterHalvesPriorityForDeprioritizedURLs(t *testing.T) {
	t.Parallel()
	trap := NewRuleBasedTrapDetector(nil)
	for i := 0; i < DefaultTrapDetectorConfig().PaginationNoNewContentWindow; i++ {
		trap.RecordPageOutcome("example.com", false)
	}
	frontier := NewLocalFrontier(StrategyPriority, nil, nil)
	domains, err := NewDomainPolicy(nil, nil)
	require.NoError(t, err)
	a := NewAdmitter(AdmissionConfig{MaxDepth: 5, Domains: domains}, StrategyPriority, frontier, NewMemoryURLDedup(), trap, NewNormalizer(nil), nil)

	ok, err := a.Admit(context.Background(), "https://example.com/list?page=500", 0, "", 10)
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := frontier.Lease(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5.0, rec.Priority)
}

func TestAdmitterAppliesPriorityHintOnlyForPriorityStrategy(t *testing.T) {
	t.Parallel()
	hint := NewCanonicalPathPriorityHint()

	frontier := NewLocalFrontier(StrategyPriority, nil, nil)
	domains, err := NewDomainPolicy(nil, nil)
	require.NoError(t, err)
	a := NewAdmitter(AdmissionConfig{MaxDepth: 5, Domains: domains}, StrategyPriority, frontier, NewMemoryURLDedup(), nil, NewNormalizer(nil), hint)

	ok, err := a.Admit(context.Background(), "https://example.com/about", 0, "", 10)
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := frontier.Lease(context.Background())
	require.NoError(t, err)
	require.Equal(t, 15.0, rec.Priority)
}

func TestAdmitterIgnoresPriorityHintForBFSStrategy(t *testing.T) {
	t.Parallel()
	hint := NewCanonicalPathPriorityHint()
	a, frontier := newTestAdmitterFor(t, AdmissionConfig{MaxDepth: 5}, StrategyBFS, nil, hint)

	ok, err := a.Admit(context.Background(), "https://example.com/about", 0, "", 10)
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := frontier.Lease(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0.0, rec.Priority)
}
