package srt

import (
	"context"
	"fmt"
	"log/slog"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/formatreader/internal/ingest"
)

// Server is an SRT listener for publishers. Each accepted connection is
// spooled under its stream key; a reader opens when the publisher leaves.
type Server struct {
	log         *slog.Logger
	addr        string
	contentType string
	registry    *ingest.Registry
}

// NewServer creates a Server listening on addr. If log is nil,
// slog.Default() is used.
func NewServer(addr, contentType string, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:         log.With("component", "srt-server"),
		addr:        addr,
		contentType: contentType,
		registry:    registry,
	}
}

// admit decides whether a connection request may publish.
func (s *Server) admit(streamID string) srtgo.RejectReason {
	if streamID == "" {
		return srtgo.RejPeer
	}
	key, publish := StreamKey(streamID)
	if !publish {
		s.log.Debug("rejecting non-publish connection", "stream_id", streamID)
		return srtgo.RejPeer
	}
	if _, busy := s.registry.Get(key); busy {
		s.log.Debug("rejecting publisher for busy key", "stream_key", key)
		return srtgo.RejPeer
	}
	return 0
}

// Start listens and accepts publishers until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		return s.admit(req.StreamID)
	})
	context.AfterFunc(ctx, func() { l.Close() })

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn *srtgo.Conn) {
	defer conn.Close()

	key, _ := StreamKey(conn.StreamID())
	stream, w, err := s.registry.Register(key, s.contentType)
	if err != nil {
		s.log.Warn("rejecting publish", "stream_key", key, "error", err)
		return
	}
	stream.SetRemoteAddr(conn.RemoteAddr().String())
	s.log.Info("publish", "stream_key", key, "remote", stream.RemoteAddr())

	drain(ctx, s.registry, s.log, conn, stream, w)
}
