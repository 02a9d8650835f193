package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoop_FIFO(t *testing.T) {
	t.Parallel()
	l := NewLoop(nil)
	go l.Run(context.Background())

	var got []int
	for i := range 100 {
		l.Enqueue(func() { got = append(got, i) })
	}
	l.Stop()

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}

	if len(got) != 100 {
		t.Fatalf("ran %d functions, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, out of order", i, v)
		}
	}
}

func TestLoop_EnqueueAfterStop(t *testing.T) {
	t.Parallel()
	l := NewLoop(nil)
	go l.Run(context.Background())
	l.Stop()
	<-l.Done()

	if l.Enqueue(func() {}) {
		t.Error("Enqueue after Stop should report false")
	}
}

func TestLoop_Serial(t *testing.T) {
	t.Parallel()
	l := NewLoop(nil)
	go l.Run(context.Background())
	defer l.Stop()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			l.Enqueue(func() {
				defer wg.Done()
				n := active.Add(1)
				if n > maxActive.Load() {
					maxActive.Store(n)
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
			})
		}()
	}
	wg.Wait()

	if maxActive.Load() != 1 {
		t.Errorf("max concurrent loop functions = %d, want 1", maxActive.Load())
	}
}

func TestLoop_ContextCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	l := NewLoop(nil)
	go l.Run(ctx)

	cancel()
	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on cancel")
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	t.Parallel()
	p := NewPool(2, nil)

	var active, maxActive atomic.Int32
	var mu sync.Mutex
	for range 10 {
		p.Go(context.Background(), func(context.Context) {
			n := active.Add(1)
			mu.Lock()
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
		}, nil)
	}
	p.Wait()

	if got := maxActive.Load(); got > 2 || got < 1 {
		t.Errorf("max concurrency = %d, want 1..2", got)
	}
}

func TestPool_SkipOnCancelledContext(t *testing.T) {
	t.Parallel()
	p := NewPool(1, nil)

	release := make(chan struct{})
	p.Go(context.Background(), func(context.Context) { <-release }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	skipped := make(chan error, 1)
	ran := make(chan struct{}, 1)
	p.Go(ctx, func(context.Context) { ran <- struct{}{} }, func(err error) { skipped <- err })

	cancel()
	select {
	case err := <-skipped:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("skip error = %v, want Canceled", err)
		}
	case <-ran:
		t.Fatal("work ran despite cancelled context")
	case <-time.After(2 * time.Second):
		t.Fatal("skip callback not invoked")
	}

	close(release)
	p.Wait()
}
