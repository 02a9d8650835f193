// Package api serves the reader query API over HTTPS and HTTP/3. Readers are
// opened on files or fed by SRT ingest; their duration, tracks, and sample
// tables are queried through the blocking session calls.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zsiec/formatreader/internal/certs"
	"github.com/zsiec/formatreader/internal/ingest"
	"github.com/zsiec/formatreader/internal/ingest/srt"
	"github.com/zsiec/formatreader/internal/stream"
)

// Puller starts and stops SRT caller-mode pulls. *srt.Caller implements it.
type Puller interface {
	Pull(ctx context.Context, req srt.PullRequest) error
	Stop(streamKey string) error
	ActivePulls() []srt.PullRequest
}

// Config holds the dependencies and listen settings of a Server.
type Config struct {
	// Addr is the HTTP/3 listen address, also reported by /api/cert-hash.
	Addr string
	Cert *certs.CertInfo

	Readers *stream.Manager
	Ingest  *ingest.Registry // optional

	// MediaRoot is the directory POST /api/readers may open files from.
	// Requested paths are resolved inside it. Empty disables file readers.
	MediaRoot string

	SRT     Puller           // optional

	// QueryTimeout bounds each blocking request on top of the session's
	// own bound. Zero leaves requests bounded only by the client.
	QueryTimeout time.Duration
}

// Server is the query API.
type Server struct {
	cfg       Config
	mediaRoot string
	log       *slog.Logger
	tracer trace.Tracer
	h3     *http3.Server
}

// NewServer creates a Server. It returns an error if required fields are
// missing. If log is nil, slog.Default() is used.
func NewServer(cfg Config, log *slog.Logger) (*Server, error) {
	if cfg.Cert == nil {
		return nil, errors.New("api: Cert is required")
	}
	if cfg.Readers == nil {
		return nil, errors.New("api: Readers is required")
	}
	if log == nil {
		log = slog.Default()
	}
	var root string
	if cfg.MediaRoot != "" {
		var err error
		if root, err = filepath.Abs(cfg.MediaRoot); err != nil {
			return nil, fmt.Errorf("api: media root: %w", err)
		}
	}
	return &Server{
		cfg:       cfg,
		mediaRoot: root,
		log:       log.With("component", "api"),
		tracer:    otel.Tracer("github.com/zsiec/formatreader/internal/api"),
	}, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/readers", s.handleListReaders)
	mux.HandleFunc("POST /api/readers", s.handleOpenReader)
	mux.HandleFunc("GET /api/readers/{key}", s.handleGetReader)
	mux.HandleFunc("DELETE /api/readers/{key}", s.handleCloseReader)
	mux.HandleFunc("GET /api/readers/{key}/duration", s.handleDuration)
	mux.HandleFunc("GET /api/readers/{key}/tracks", s.handleTracks)
	mux.HandleFunc("GET /api/readers/{key}/tracks/{id}/samples", s.handleSamples)
	mux.HandleFunc("PUT /api/readers/{key}/tracks/{id}/enabled", s.handleSetEnabled)
	mux.HandleFunc("GET /api/ingest", s.handleListIngest)
	mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
	mux.HandleFunc("GET /api/srt-pull", s.handleSRTPullList)
	mux.HandleFunc("POST /api/srt-pull", s.handleSRTPullCreate)
	mux.HandleFunc("DELETE /api/srt-pull", s.handleSRTPullStop)
	mux.HandleFunc("OPTIONS /api/", s.handleOptions)
}

// Handler returns the API handler shared by the HTTPS and HTTP/3 listeners.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return corsMiddleware(s.traceMiddleware(mux))
}

// Start serves the API over HTTP/3 and blocks until ctx is cancelled or a
// fatal error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.h3 = &http3.Server{
		Addr:      s.cfg.Addr,
		Handler:   s.Handler(),
		TLSConfig: s.cfg.Cert.TLSConfig(),
		QUICConfig: &quic.Config{
			MaxIdleTimeout: 30 * time.Second,
			Allow0RTT:      true,
		},
	}

	s.log.Info("HTTP/3 API server listening", "addr", s.cfg.Addr)

	stop := context.AfterFunc(ctx, func() { s.h3.Close() })
	defer stop()

	err := s.h3.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := s.tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", rec.code))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

type certHashResponse struct {
	Hash string `json:"hash"`
	Addr string `json:"addr"`
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, certHashResponse{
		Hash: s.cfg.Cert.FingerprintBase64(),
		Addr: s.cfg.Addr,
	})
}

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListIngest(w http.ResponseWriter, _ *http.Request) {
	resp := make([]ingest.IngestStats, 0)
	if s.cfg.Ingest != nil {
		for _, st := range s.cfg.Ingest.List() {
			resp = append(resp, st.IngestStats())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
