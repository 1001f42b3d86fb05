package crawlcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHostSchedulerWaitReleaseRoundTrip(t *testing.T) {
	t.Parallel()
	cfg := DefaultSchedulerConfig()
	cfg.MinHostInterval = time.Millisecond
	s := NewHostScheduler(cfg, nil)

	require.NoError(t, s.Wait(context.Background(), "example.com"))
	state := s.HostState("example.com")
	require.EqualValues(t, 1, state.InFlight)

	s.Release("example.com", OutcomeSuccess)
	state = s.HostState("example.com")
	require.Zero(t, state.InFlight)
	require.Equal(t, 1.0, state.BackoffMultiplier)
}

func TestHostSchedulerPerHostConcurrencyLimitsInFlight(t *testing.T) {
	t.Parallel()
	cfg := DefaultSchedulerConfig()
	cfg.PerHostConcurrency = 1
	cfg.GlobalConcurrency = 4
	cfg.MinHostInterval = 0
	s := NewHostScheduler(cfg, nil)

	require.NoError(t, s.Wait(context.Background(), "example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Wait(ctx, "example.com")
	require.Error(t, err)

	s.Release("example.com", OutcomeSuccess)
}

func TestHostSchedulerBackoffGrowsOnErrorAndDecaysOnSuccess(t *testing.T) {
	t.Parallel()
	cfg := DefaultSchedulerConfig()
	cfg.MinHostInterval = 0
	cfg.BackoffGrowth = 2.0
	cfg.BackoffDecay = 0.5
	s := NewHostScheduler(cfg, nil)

	require.NoError(t, s.Wait(context.Background(), "flaky.example.com"))
	s.Release("flaky.example.com", OutcomeError)

	state := s.HostState("flaky.example.com")
	require.Equal(t, 2.0, state.BackoffMultiplier)

	require.NoError(t, s.Wait(context.Background(), "flaky.example.com"))
	s.Release("flaky.example.com", OutcomeSuccess)

	state = s.HostState("flaky.example.com")
	require.Equal(t, 1.0, state.BackoffMultiplier)
}

func TestHostSchedulerOpensCircuitAfterHighErrorRate(t *testing.T) {
	t.Parallel()
	cfg := DefaultSchedulerConfig()
	cfg.MinHostInterval = 0
	cfg.CircuitOpenFor = time.Minute
	s := NewHostScheduler(cfg, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Wait(context.Background(), "bad.example.com"))
		s.Release("bad.example.com", OutcomeError)
	}

	err := s.Wait(context.Background(), "bad.example.com")
	require.ErrorIs(t, err, ErrHostCircuitOpen)
}

func TestHostSchedulerBackoffMultiplierIsCapped(t *testing.T) {
	t.Parallel()
	cfg := DefaultSchedulerConfig()
	cfg.MinHostInterval = 0
	cfg.BackoffGrowth = 100
	cfg.BackoffCap = 5
	cfg.CircuitOpenFor = 0
	s := NewHostScheduler(cfg, nil)

	require.NoError(t, s.Wait(context.Background(), "capped.example.com"))
	s.Release("capped.example.com", OutcomeError)

	state := s.HostState("capped.example.com")
	require.Equal(t, 5.0, state.BackoffMultiplier)
}

func TestHostSchedulerConcurrentWaitReleaseIsRace(t *testing.T) {
	t.Parallel()
	cfg := DefaultSchedulerConfig()
	cfg.MinHostInterval = 0
	cfg.PerHostConcurrency = 4
	cfg.GlobalConcurrency = 8
	s := NewHostScheduler(cfg, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := s.Wait(ctx, "concurrent.example.com"); err == nil {
				s.Release("concurrent.example.com", OutcomeSuccess)
			}
		}()
	}
	wg.Wait()

	state := s.HostState("concurrent.example.com")
	require.Zero(t, state.InFlight)
}
