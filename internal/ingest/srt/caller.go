package srt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/formatreader/internal/ingest"
)

const dialTimeout = 10 * time.Second

// PullRequest describes a remote SRT source to pull from.
type PullRequest struct {
	Address   string `json:"address"`
	StreamKey string `json:"streamKey"`
	StreamID  string `json:"streamId,omitempty"`
}

// Validate reports a missing address or stream key.
func (r PullRequest) Validate() error {
	if r.Address == "" {
		return fmt.Errorf("address is required")
	}
	if r.StreamKey == "" {
		return fmt.Errorf("streamKey is required")
	}
	return nil
}

type activePull struct {
	req    PullRequest
	cancel context.CancelFunc
}

// Caller manages SRT pull connections, dialing remote SRT sources
// and spooling their data through the ingest registry.
type Caller struct {
	log         *slog.Logger
	contentType string
	registry    *ingest.Registry

	mu    sync.Mutex
	pulls map[string]*activePull
}

// NewCaller creates a Caller that uses the given registry to register
// pulled streams. If log is nil, slog.Default() is used.
func NewCaller(contentType string, registry *ingest.Registry, log *slog.Logger) *Caller {
	if log == nil {
		log = slog.Default()
	}
	return &Caller{
		log:         log.With("component", "srt-caller"),
		contentType: contentType,
		registry:    registry,
		pulls:       make(map[string]*activePull),
	}
}

// Pull dials the remote SRT listener synchronously (with a timeout),
// returning an error if the connection fails. On success, spooling
// continues in a background goroutine until the remote closes or Stop is
// called.
func (c *Caller) Pull(ctx context.Context, req PullRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if _, exists := c.pulls[req.StreamKey]; exists {
		c.mu.Unlock()
		return fmt.Errorf("pull already active for stream key %q", req.StreamKey)
	}
	c.mu.Unlock()

	c.log.Info("dialing", "address", req.Address, "stream_key", req.StreamKey)

	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs

	streamID := req.StreamID
	if streamID == "" {
		streamID = "live/" + req.StreamKey
	}
	cfg.StreamID = streamID

	type dialed struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialed, 1)
	go func() {
		conn, err := srtgo.Dial(req.Address, cfg)
		ch <- dialed{conn, err}
	}()

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("SRT dial %s: %w", req.Address, res.err)
		}
		return c.startSpooling(req, res.conn)
	case <-dctx.Done():
		// The dial cannot be interrupted; close whatever it returns.
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("SRT dial %s timed out after %s", req.Address, dialTimeout)
	}
}

// startSpooling runs detached from the request context; the pull lives
// until the remote ends it or Stop is called.
func (c *Caller) startSpooling(req PullRequest, conn *srtgo.Conn) error {
	pullCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if _, exists := c.pulls[req.StreamKey]; exists {
		c.mu.Unlock()
		cancel()
		conn.Close()
		return fmt.Errorf("pull already active for stream key %q", req.StreamKey)
	}
	stream, writer, err := c.registry.Register(req.StreamKey, c.contentType)
	if err != nil {
		c.mu.Unlock()
		cancel()
		conn.Close()
		return err
	}
	c.pulls[req.StreamKey] = &activePull{req: req, cancel: cancel}
	c.mu.Unlock()

	stream.SetRemoteAddr(req.Address)
	c.log.Info("connected", "address", req.Address, "stream_key", req.StreamKey)

	context.AfterFunc(pullCtx, func() { conn.Close() })
	go func() {
		defer func() {
			cancel()
			c.mu.Lock()
			delete(c.pulls, req.StreamKey)
			c.mu.Unlock()
		}()
		drain(pullCtx, c.registry, c.log, conn, stream, writer)
	}()
	return nil
}

// Stop cancels the pull for streamKey. The spool is sealed and handed on
// as if the remote had closed the connection.
func (c *Caller) Stop(streamKey string) error {
	c.mu.Lock()
	ap, ok := c.pulls[streamKey]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("no active pull for stream key %q", streamKey)
	}

	ap.cancel()
	return nil
}

// ActivePulls lists the running pulls sorted by stream key.
func (c *Caller) ActivePulls() []PullRequest {
	c.mu.Lock()
	out := make([]PullRequest, 0, len(c.pulls))
	for _, ap := range c.pulls {
		out = append(out, ap.req)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StreamKey < out[j].StreamKey })
	return out
}
