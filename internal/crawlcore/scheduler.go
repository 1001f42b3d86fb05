package crawlcore

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SchedulerConfig bounds concurrency and politeness.
type SchedulerConfig struct {
	GlobalConcurrency int
	PerHostConcurrency int
	MinHostInterval    time.Duration
	BackoffGrowth      float64
	BackoffDecay       float64
	BackoffCap         float64
	CircuitOpenFor     time.Duration
}

// DefaultSchedulerConfig matches spec.md's defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		GlobalConcurrency:  16,
		PerHostConcurrency: 2,
		MinHostInterval:    time.Second,
		BackoffGrowth:      1.5,
		BackoffDecay:       0.9,
		BackoffCap:         30,
		CircuitOpenFor:     60 * time.Second,
	}
}

type hostEntry struct {
	state   HostState
	limiter *rate.Limiter
	sem     chan struct{}
}

// HostScheduler generalizes internal/crawler/politeness.go's visited
// tracking and thresholdDomainBlocker and internal/policy/ratelimit's
// per-domain rate.Limiter map into a single host-politeness gate: a
// per-host token bucket for MinHostInterval spacing, a buffered-channel
// semaphore for C_host, and a global buffered-channel semaphore for
// C_global. Adaptive backoff and circuit-open parking live on HostState.
type HostScheduler struct {
	cfg    SchedulerConfig
	mu     sync.Mutex
	hosts  map[string]*hostEntry
	global chan struct{}
	clock  Clock
}

// NewHostScheduler builds a scheduler bounded by cfg.
func NewHostScheduler(cfg SchedulerConfig, clock Clock) *HostScheduler {
	return &HostScheduler{
		cfg:    cfg,
		hosts:  make(map[string]*hostEntry),
		global: make(chan struct{}, cfg.GlobalConcurrency),
		clock:  clock,
	}
}

func (s *HostScheduler) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now()
}

func (s *HostScheduler) entryFor(host string) *hostEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.hosts[host]
	if !ok {
		e = &hostEntry{
			state:   HostState{Host: host, BackoffMultiplier: 1.0},
			limiter: rate.NewLimiter(rate.Every(s.cfg.MinHostInterval), 1),
			sem:     make(chan struct{}, s.cfg.PerHostConcurrency),
		}
		s.hosts[host] = e
	}
	return e
}

// Wait blocks until host is polite to dispatch to and a global + per-host
// concurrency slot is free, or ctx is canceled. Callers must call Release
// exactly once per successful Wait.
func (s *HostScheduler) Wait(ctx context.Context, host string) error {
	e := s.entryFor(host)

	s.mu.Lock()
	circuitUntil := e.state.CircuitOpenUntil
	s.mu.Unlock()
	if s.now().Before(circuitUntil) {
		return ErrHostCircuitOpen
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}

	select {
	case s.global <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		<-s.global
		return ctx.Err()
	}

	s.mu.Lock()
	e.state.InFlight++
	gap := s.hostGap(e)
	e.state.NextDispatch = s.now().Add(gap)
	s.mu.Unlock()
	return nil
}

// hostGap returns the current politeness interval for e, scaling
// MinHostInterval by the host's backoff multiplier per spec.md §4.3:
// next_permitted_dispatch_time = now + gap * host.backoff_multiplier.
// Callers must hold s.mu.
func (s *HostScheduler) hostGap(e *hostEntry) time.Duration {
	return time.Duration(float64(s.cfg.MinHostInterval) * e.state.BackoffMultiplier)
}

// Release records the fetch outcome for host and frees its concurrency
// slots. On error it grows the backoff multiplier (capped) and, once at
// least five outcomes are recorded and the rolling error rate over the last
// 20 outcomes exceeds 50%, parks the host behind a circuit-open window; on
// success it decays backoff toward the floor of 1.0.
func (s *HostScheduler) Release(host string, outcome HostOutcome) {
	e := s.entryFor(host)
	s.mu.Lock()
	defer s.mu.Unlock()

	e.state.InFlight--
	e.state.RecordOutcome(outcome)

	if outcome == OutcomeError {
		e.state.BackoffMultiplier *= s.cfg.BackoffGrowth
		if e.state.BackoffMultiplier > s.cfg.BackoffCap {
			e.state.BackoffMultiplier = s.cfg.BackoffCap
		}
		const minCircuitSamples = 5
		if e.state.outcomeFilled >= minCircuitSamples && e.state.ErrorRate() > 0.5 {
			e.state.CircuitOpenUntil = s.now().Add(s.cfg.CircuitOpenFor)
		}
	} else {
		e.state.BackoffMultiplier *= s.cfg.BackoffDecay
		if e.state.BackoffMultiplier < 1.0 {
			e.state.BackoffMultiplier = 1.0
		}
	}
	e.limiter.SetLimit(rate.Every(s.hostGap(e)))

	<-e.sem
	<-s.global
}

// HostState returns a snapshot of host's current politeness state.
func (s *HostScheduler) HostState(host string) HostState {
	e := s.entryFor(host)
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.state
}
