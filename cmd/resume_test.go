package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepharvest/deepharvest/internal/crawlcore"
)

func TestNewResumeCmdHasExpectedShape(t *testing.T) {
	t.Parallel()
	cmd := newResumeCmd()
	require.Equal(t, "resume", cmd.Use)
	require.NotEmpty(t, cmd.Short)
	require.NotNil(t, cmd.RunE)
}

func TestRunResumeCommandReturnsErrorWhenAppMissing(t *testing.T) {
	t.Parallel()
	cmd := newResumeCmd()
	cmd.SetContext(context.Background())
	err := runResumeCommand(cmd, nil)
	require.Error(t, err)
}

func TestRunResumeCommandRunsToCompletion(t *testing.T) {
	t.Parallel()
	m := &mockApp{resumeCrawlStats: crawlcore.CrawlStats{Processed: 3}}
	cmd := newResumeCmd()
	cmd.SetContext(context.WithValue(context.Background(), appKey, App(m)))

	require.NoError(t, runResumeCommand(cmd, nil))
}

func TestRunResumeCommandPropagatesErrors(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("checkpoint corrupt")
	m := &mockApp{resumeCrawlErr: wantErr}
	cmd := newResumeCmd()
	cmd.SetContext(context.WithValue(context.Background(), appKey, App(m)))

	err := runResumeCommand(cmd, nil)
	require.ErrorIs(t, err, wantErr)
}
