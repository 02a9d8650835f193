// Package stream keeps the set of open readers: one parse session per key,
// each bound to the byte source it was started on. The API and the ingest
// layer open and close readers through the Manager.
package stream

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zsiec/formatreader/internal/bytesource"
	"github.com/zsiec/formatreader/internal/session"
)

var (
	// ErrExists is returned by Open when a reader with the key is open.
	ErrExists = errors.New("stream: key already in use")

	// ErrNotFound is returned for an unknown key.
	ErrNotFound = errors.New("stream: no such reader")
)

// Origin records where a reader's bytes came from.
type Origin string

// Reader origins.
const (
	OriginFile Origin = "file"
	OriginSRT  Origin = "srt"
)

// Reader is one open parse session.
type Reader struct {
	Key       string
	Origin    Origin
	Location  string // file path or remote address
	StartedAt time.Time
	Session   *session.Session

	src    bytesource.Source
	closer io.Closer
}

// Info is the JSON view of a Reader.
type Info struct {
	Key       string        `json:"key"`
	Origin    Origin        `json:"origin"`
	Location  string        `json:"location"`
	Size      int64         `json:"size"`
	StartedAt time.Time     `json:"startedAt"`
	Stats     session.Stats `json:"stats"`
}

// Info returns a snapshot of the reader.
func (r *Reader) Info() Info {
	info := Info{
		Key:       r.Key,
		Origin:    r.Origin,
		Location:  r.Location,
		StartedAt: r.StartedAt,
		Stats:     r.Session.Stats(),
	}
	if r.src != nil {
		info.Size = r.src.Size()
	}
	return info
}

// OpenRequest describes a reader to open.
type OpenRequest struct {
	Key      string
	Origin   Origin
	Location string
	Source   bytesource.Source

	// Closer, when set, is closed with the reader, e.g. the file behind
	// Source.
	Closer io.Closer
}

// Manager owns the open readers.
type Manager struct {
	log *slog.Logger
	cfg session.Config

	mu      sync.RWMutex
	readers map[string]*Reader
}

// NewManager creates a Manager whose sessions are built from cfg; each
// session gets its key as Config.Name. If log is nil, slog.Default() is used.
func NewManager(cfg session.Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log.With("component", "stream-manager"),
		cfg:     cfg,
		readers: make(map[string]*Reader),
	}
}

// Open starts a session on req.Source under req.Key. If the parse cannot
// be started the session is closed and the error returned; req.Closer is
// left to the caller in that case.
func (m *Manager) Open(req OpenRequest) (*Reader, error) {
	if req.Source == nil {
		return nil, fmt.Errorf("stream: open %q: nil source", req.Key)
	}

	m.mu.Lock()
	if _, ok := m.readers[req.Key]; ok {
		m.mu.Unlock()
		m.log.Warn("reader already exists, rejecting duplicate", "key", req.Key)
		return nil, fmt.Errorf("%w: %q", ErrExists, req.Key)
	}

	cfg := m.cfg
	cfg.Name = req.Key
	sess := session.New(cfg, m.log)
	if err := sess.StartParse(req.Source); err != nil {
		m.mu.Unlock()
		sess.Close()
		return nil, fmt.Errorf("stream: open %q: %w", req.Key, err)
	}

	r := &Reader{
		Key:       req.Key,
		Origin:    req.Origin,
		Location:  req.Location,
		StartedAt: time.Now(),
		Session:   sess,
		src:       req.Source,
		closer:    req.Closer,
	}
	m.readers[req.Key] = r
	m.mu.Unlock()

	m.log.Info("reader opened", "key", req.Key, "origin", req.Origin, "location", req.Location, "size", req.Source.Size())
	return r, nil
}

// Get returns the reader for key.
func (m *Manager) Get(key string) (*Reader, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.readers[key]
	return r, ok
}

// Remove closes the reader's session and its source.
func (m *Manager) Remove(key string) error {
	m.mu.Lock()
	r, ok := m.readers[key]
	if ok {
		delete(m.readers, key)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	m.release(r)
	m.log.Info("reader removed", "key", key)
	return nil
}

// List returns the open readers, oldest first.
func (m *Manager) List() []*Reader {
	m.mu.RLock()
	readers := make([]*Reader, 0, len(m.readers))
	for _, r := range m.readers {
		readers = append(readers, r)
	}
	m.mu.RUnlock()

	sort.Slice(readers, func(i, j int) bool {
		if readers[i].StartedAt.Equal(readers[j].StartedAt) {
			return readers[i].Key < readers[j].Key
		}
		return readers[i].StartedAt.Before(readers[j].StartedAt)
	})
	return readers
}

// Close closes every reader.
func (m *Manager) Close() {
	m.mu.Lock()
	readers := m.readers
	m.readers = make(map[string]*Reader)
	m.mu.Unlock()

	for _, r := range readers {
		m.release(r)
	}
}

func (m *Manager) release(r *Reader) {
	r.Session.Close()
	if r.closer != nil {
		if err := r.closer.Close(); err != nil {
			m.log.Warn("closing reader source", "key", r.Key, "error", err)
		}
	}
}
