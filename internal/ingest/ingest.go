// Package ingest spools live ingest connections into byte sources. Each
// connection writes into a Stream keyed by its stream key; when the
// connection ends the spool is sealed and handed to the onSealed callback,
// which opens a reader on it.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/formatreader/internal/bytesource"
)

// ErrExists is returned by Register when the key is already being ingested.
var ErrExists = errors.New("ingest: stream key already active")

// IngestStats captures connection-level metrics for an ingest stream,
// exposed via the API for monitoring source health.
type IngestStats struct {
	Key           string `json:"key"`
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
	Sealed        bool   `json:"sealed"`
}

// Stream is an active ingest connection and the spool its bytes go to.
type Stream struct {
	Key         string
	ContentType string
	StartedAt   time.Time
	spool       *bytesource.Spool

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// RecordRead increments the byte and read counters, called by the SRT
// receiver after each successful socket read.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the remote address of the ingest connection for
// diagnostics.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// RemoteAddr returns the address set by SetRemoteAddr.
func (s *Stream) RemoteAddr() string {
	addr, _ := s.remoteAddr.Load().(string)
	return addr
}

// Spool returns the byte source the connection writes into.
func (s *Stream) Spool() *bytesource.Spool {
	return s.spool
}

// Done returns a channel closed once the stream has been unregistered and
// its spool sealed.
func (s *Stream) Done() <-chan struct{} {
	return s.spool.Sealed()
}

// IngestStats returns a snapshot of ingest connection metrics.
func (s *Stream) IngestStats() IngestStats {
	sealed := false
	select {
	case <-s.spool.Sealed():
		sealed = true
	default:
	}
	return IngestStats{
		Key:           s.Key,
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    s.RemoteAddr(),
		Sealed:        sealed,
	}
}

// Registry tracks active ingest streams by key. It is the rendezvous point
// between the SRT ingest layer and the reader manager.
type Registry struct {
	log   *slog.Logger
	limit int64

	mu      sync.RWMutex
	streams map[string]*Stream

	onSealed func(*Stream)
}

// NewRegistry creates a Registry whose spools hold at most limit bytes
// (non-positive means unbounded). onSealed is invoked asynchronously for
// every unregistered stream that received data. If log is nil,
// slog.Default() is used.
func NewRegistry(limit int64, onSealed func(*Stream), log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log.With("component", "ingest"),
		limit:    limit,
		streams:  make(map[string]*Stream),
		onSealed: onSealed,
	}
}

// Register creates a new ingest stream and returns the Writer the receiver
// should write into.
func (r *Registry) Register(key, contentType string) (*Stream, io.Writer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.streams[key]; ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrExists, key)
	}
	stream := &Stream{
		Key:         key,
		ContentType: contentType,
		StartedAt:   time.Now(),
		spool:       bytesource.NewSpool(r.limit),
	}
	r.streams[key] = stream
	r.log.Info("ingest started", "key", key, "contentType", contentType)
	return stream, stream.spool, nil
}

// Unregister removes a stream by key and seals its spool.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	stream, ok := r.streams[key]
	if ok {
		delete(r.streams, key)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	stream.spool.Seal()
	stats := stream.IngestStats()
	r.log.Info("ingest ended", "key", key, "bytes", stats.BytesReceived, "uptime_ms", stats.UptimeMs)

	if r.onSealed != nil && stream.spool.Size() > 0 {
		go r.onSealed(stream)
	}
}

// Get returns the Stream for the given key, or false if not found.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// List returns the active streams sorted by key.
func (r *Registry) List() []*Stream {
	r.mu.RLock()
	out := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
