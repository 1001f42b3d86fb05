package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepharvest/deepharvest/internal/crawlcore"
)

func TestNewCrawlCmdHasExpectedShape(t *testing.T) {
	t.Parallel()
	cmd := newCrawlCmd()
	require.Equal(t, "crawl", cmd.Use)
	require.NotEmpty(t, cmd.Short)
	require.NotNil(t, cmd.RunE)
}

func TestRunCrawlCommandReturnsErrorWhenAppMissing(t *testing.T) {
	t.Parallel()
	cmd := newCrawlCmd()
	cmd.SetContext(context.Background())
	err := runCrawlCommand(cmd, nil)
	require.Error(t, err)
}

func TestRunCrawlCommandRunsToCompletion(t *testing.T) {
	t.Parallel()
	m := &mockApp{runCrawlStats: crawlcore.CrawlStats{Processed: 5, Success: 4, Errors: 1}}
	cmd := newCrawlCmd()
	cmd.SetContext(context.WithValue(context.Background(), appKey, App(m)))

	require.NoError(t, runCrawlCommand(cmd, nil))
}

func TestRunCrawlCommandSwallowsContextCanceled(t *testing.T) {
	t.Parallel()
	m := &mockApp{runCrawlErr: context.Canceled}
	cmd := newCrawlCmd()
	cmd.SetContext(context.WithValue(context.Background(), appKey, App(m)))

	require.NoError(t, runCrawlCommand(cmd, nil))
}

func TestRunCrawlCommandPropagatesOtherErrors(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("fetch pipeline exploded")
	m := &mockApp{runCrawlErr: wantErr}
	cmd := newCrawlCmd()
	cmd.SetContext(context.WithValue(context.Background(), appKey, App(m)))

	err := runCrawlCommand(cmd, nil)
	require.ErrorIs(t, err, wantErr)
}
