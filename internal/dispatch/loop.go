// Package dispatch provides the two execution contexts a parse session runs
// on: a serial coordination loop that owns all state transitions, and a
// bounded pool of background workers for long-running parse calls.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
)

// Loop runs enqueued functions one at a time, in FIFO order, on a single
// goroutine. Enqueue never blocks, so parser callbacks running on a worker
// can hand events to the loop without waiting for it.
type Loop struct {
	log *slog.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

// NewLoop creates a Loop. Call Run to start draining it. If log is nil,
// slog.Default() is used.
func NewLoop(log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		log:  log.With("component", "dispatch-loop"),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Enqueue schedules fn to run on the loop goroutine. It returns false, and
// drops fn, if the loop has stopped.
func (l *Loop) Enqueue(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Stop prevents further enqueues and makes Run return once the functions
// already queued have run.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done returns a channel closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run drains the queue until Stop is called or ctx is cancelled. On
// cancellation pending functions are discarded.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		stopped := l.stopped
		l.mu.Unlock()

		for _, fn := range batch {
			if ctx.Err() != nil {
				l.discard()
				return
			}
			fn()
		}

		if len(batch) > 0 {
			continue
		}
		if stopped {
			return
		}

		select {
		case <-l.wake:
		case <-ctx.Done():
			l.discard()
			return
		}
	}
}

func (l *Loop) discard() {
	l.mu.Lock()
	n := len(l.queue)
	l.queue = nil
	l.stopped = true
	l.mu.Unlock()
	if n > 0 {
		l.log.Debug("discarding queued work", "count", n)
	}
}
