package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the pool size used when NewPool is given a non-positive size.
const DefaultWorkers = 4

// Pool runs background work with bounded concurrency. It is shared by all
// sessions so a burst of parses cannot oversubscribe the CPU.
type Pool struct {
	log *slog.Logger
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewPool creates a Pool running at most workers functions concurrently. If
// log is nil, slog.Default() is used.
func NewPool(workers int, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		log: log.With("component", "dispatch-pool", "workers", workers),
		sem: semaphore.NewWeighted(int64(workers)),
	}
}

// Go schedules fn and returns immediately. fn runs once a worker slot is
// free. If ctx is cancelled before a slot frees up, fn is not run and
// onSkip (if non-nil) is called instead so the caller can still clean up.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context), onSkip func(err error)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.log.Debug("work skipped", "error", err)
			if onSkip != nil {
				onSkip(err)
			}
			return
		}
		defer p.sem.Release(1)
		fn(ctx)
	}()
}

// Wait blocks until every scheduled function has returned or been skipped.
func (p *Pool) Wait() {
	p.wg.Wait()
}
