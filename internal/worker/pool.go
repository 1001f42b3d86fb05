package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Pool runs n Workers concurrently against a shared frontier and aggregates
// their stats into one Stats instance.
type Pool struct {
	workers []*Worker
	logger  *zap.Logger
}

// NewPool wraps a slice of already-constructed Workers.
func NewPool(workers []*Worker, logger *zap.Logger) *Pool {
	return &Pool{workers: workers, logger: logger}
}

// Run starts every worker in its own goroutine and blocks until ctx is
// canceled and all workers have returned.
func (p *Pool) Run(ctx context.Context) *Stats {
	stats := &Stats{}
	var wg sync.WaitGroup
	wg.Add(len(p.workers))
	for _, w := range p.workers {
		go func(w *Worker) {
			defer wg.Done()
			w.Run(ctx, stats)
		}(w)
	}
	if p.logger != nil {
		p.logger.Info("worker pool started", zap.Int("workers", len(p.workers)))
	}
	wg.Wait()
	return stats
}
