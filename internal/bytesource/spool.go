package bytesource

import (
	"io"
	"sync"
)

// Spool is an append-only in-memory Source filled by an ingest connection.
// Writes are accepted until Seal; reads see only the bytes written so far.
// A parse session is normally started on a spool after it has been sealed.
type Spool struct {
	mu     sync.RWMutex
	buf    []byte
	limit  int64
	sealed bool
	done   chan struct{}
}

// NewSpool creates a spool that rejects writes past limit bytes. A
// non-positive limit means unbounded.
func NewSpool(limit int64) *Spool {
	return &Spool{
		limit: limit,
		done:  make(chan struct{}),
	}
}

// Write appends p to the spool.
func (s *Spool) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return 0, ErrSealed
	}
	if s.limit > 0 && int64(len(s.buf)+len(p)) > s.limit {
		return 0, ErrLimit
	}
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// Seal stops further writes. It is safe to call more than once.
func (s *Spool) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sealed {
		s.sealed = true
		close(s.done)
	}
}

// Sealed returns a channel closed once the spool is sealed.
func (s *Spool) Sealed() <-chan struct{} {
	return s.done
}

// ReadAt implements io.ReaderAt over the bytes written so far.
func (s *Spool) ReadAt(p []byte, off int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Bytes(s.buf).ReadAt(p, off)
}

// Size returns the number of bytes written so far.
func (s *Spool) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.buf))
}

var _ io.Writer = (*Spool)(nil)
