// Package completion provides a single-assignment result cell with a
// broadcast wait: written once, read by any number of waiters.
package completion

import (
	"context"
	"sync"
)

// Token holds a value that is set at most once. Waiters block until the
// value is set; every waiter then observes the same value.
type Token[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
}

// New returns an incomplete token.
func New[T any]() *Token[T] {
	return &Token[T]{done: make(chan struct{})}
}

// Complete stores v and releases all waiters. Only the first call has an
// effect; it reports whether this call completed the token.
func (t *Token[T]) Complete(v T) bool {
	completed := false
	t.once.Do(func() {
		t.value = v
		close(t.done)
		completed = true
	})
	return completed
}

// Done returns a channel closed when the token is completed.
func (t *Token[T]) Done() <-chan struct{} {
	return t.done
}

// Value returns the stored value and true if the token is complete.
func (t *Token[T]) Value() (T, bool) {
	select {
	case <-t.done:
		return t.value, true
	default:
		var zero T
		return zero, false
	}
}

// Wait blocks until the token is completed or ctx is done.
func (t *Token[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.value, nil
	default:
	}
	select {
	case <-t.done:
		return t.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
