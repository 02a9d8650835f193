// Package session implements the parse session at the center of the format
// reader: it owns a byte source for one parse generation, drives a container
// parser on a background worker, builds the track list from the parser's
// initialization segment, routes samples to their tracks, and answers
// blocking duration and track queries from any goroutine.
//
// All state transitions run on the session's coordination loop. Queries run
// on the caller's goroutine and wait on the generation's completion token.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zsiec/formatreader/internal/bytesource"
	"github.com/zsiec/formatreader/internal/completion"
	"github.com/zsiec/formatreader/internal/dispatch"
	"github.com/zsiec/formatreader/internal/media"
	"github.com/zsiec/formatreader/internal/parser"
	"github.com/zsiec/formatreader/internal/track"
)

// DefaultContentType is the container type sessions parse unless configured otherwise.
const DefaultContentType = "video/mp2t"

// Config holds the options for a Session.
type Config struct {
	// Name identifies the session in logs and traces.
	Name string

	// ContentType selects the parser from the parser registry.
	ContentType string

	// QueryTimeout bounds how long Duration and Tracks wait for a parse
	// outcome. Zero waits indefinitely.
	QueryTimeout time.Duration

	// Pool runs the byte-consumption work. A private pool with
	// dispatch.DefaultWorkers slots is created when nil.
	Pool *dispatch.Pool

	// Tracer records one span per parse generation. The global tracer
	// provider is used when nil.
	Tracer trace.Tracer
}

// Stats is a point-in-time view of the current generation's counters.
type Stats struct {
	Generation     uint64        `json:"generation"`
	Concluded      bool          `json:"concluded"`
	Finished       bool          `json:"finished"`
	SamplesRouted  int64         `json:"samplesRouted"`
	SamplesDropped int64         `json:"samplesDropped"`
	ParseDuration  time.Duration `json:"parseDurationNs"`
}

// generation is the state of one parse of one byte source. A new generation
// replaces the previous one wholesale, so a reader holding the session mutex
// never sees a mix of old and new fields.
type generation struct {
	id         uint64
	src        bytesource.Source
	parser     parser.Parser
	token      *completion.Token[error]
	superseded chan struct{}
	cancel     context.CancelFunc
	span       trace.Span
	started    time.Time

	duration media.Time
	tracks   []*track.Track
	finished bool
	elapsed  time.Duration
	routed   int64
	dropped  int64
}

func newGeneration(id uint64) *generation {
	return &generation{
		id:         id,
		token:      completion.New[error](),
		superseded: make(chan struct{}),
		cancel:     func() {},
		span:       trace.SpanFromContext(context.Background()),
		duration:   media.InvalidTime(),
	}
}

// Session is a parse session. Create one with New and start a parse with
// StartParse; query it with Duration and Tracks.
type Session struct {
	log    *slog.Logger
	cfg    Config
	loop   *dispatch.Loop
	pool   *dispatch.Pool
	tracer trace.Tracer
	ctx    context.Context
	cancel context.CancelFunc
	closed chan struct{}

	mu      sync.Mutex
	current *generation
	nextID  uint64
	isDone  bool
}

// New creates a Session and starts its coordination loop. If log is nil,
// slog.Default() is used.
func New(cfg Config, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = DefaultContentType
	}
	if cfg.Pool == nil {
		cfg.Pool = dispatch.NewPool(dispatch.DefaultWorkers, log)
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/zsiec/formatreader/internal/session")
	}

	log = log.With("component", "session")
	if cfg.Name != "" {
		log = log.With("session", cfg.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		log:     log,
		cfg:     cfg,
		loop:    dispatch.NewLoop(log),
		pool:    cfg.Pool,
		tracer:  tracer,
		ctx:     ctx,
		cancel:  cancel,
		closed:  make(chan struct{}),
		current: newGeneration(0),
	}
	go s.loop.Run(ctx)
	return s
}

// StartParse begins a new parse generation over src. The parser is created
// synchronously; if that fails ErrAllocationFailure is returned and the
// session is left as it was. Otherwise the state reset and the parse are
// scheduled and StartParse returns without waiting for either.
func (s *Session) StartParse(src bytesource.Source) error {
	if src == nil {
		return errors.New("session: nil byte source")
	}
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	p, err := parser.New(s.cfg.ContentType)
	if err != nil {
		s.log.Error("failed to create parser", "content_type", s.cfg.ContentType, "error", err)
		return fmt.Errorf("%w: %w", ErrAllocationFailure, err)
	}

	if !s.loop.Enqueue(func() { s.parseByteSource(src, p) }) {
		return ErrClosed
	}
	return nil
}

// parseByteSource runs on the coordination loop.
func (s *Session) parseByteSource(src bytesource.Source, p parser.Parser) {
	s.mu.Lock()
	if s.isDone {
		s.mu.Unlock()
		return
	}
	prev := s.current
	s.nextID++
	g := newGeneration(s.nextID)
	g.src = src
	g.parser = p
	g.started = time.Now()

	var ctx context.Context
	ctx, g.cancel = context.WithCancel(s.ctx)
	ctx, g.span = s.tracer.Start(ctx, "session.parse", trace.WithAttributes(
		attribute.Int64("generation", int64(g.id)),
		attribute.String("content_type", s.cfg.ContentType),
		attribute.Int64("source_size", src.Size()),
	))

	s.current = g
	close(prev.superseded)
	s.mu.Unlock()

	// The previous parse may still be running on a worker; stop it and
	// make sure nothing it reports can reach the new generation.
	prev.cancel()
	if prev.parser != nil {
		clearCallbacks(prev.parser)
	}

	s.log.Info("parse started", "generation", g.id, "bytes", src.Size())

	p.SetInitializationCallback(func(seg parser.InitSegment, done func()) {
		s.post(initSegmentParsed{gen: g, seg: seg, done: done})
	})
	p.SetErrorCallback(func(code uint64) {
		s.post(parseError{gen: g, code: code})
	})
	p.SetMediaDataCallback(func(sample media.Sample, trackID uint64, kind media.Kind) {
		s.post(sampleProvided{gen: g, sample: sample, trackID: trackID, kind: kind})
	})

	s.pool.Go(ctx, func(ctx context.Context) {
		p.AppendData(ctx, src)
		s.post(parseFinished{gen: g, parser: p})
	}, func(error) {
		s.post(parseError{gen: g, code: parser.CodeCancelled})
		s.post(parseFinished{gen: g, parser: p})
	})
}

// didParseTracks records the outcome of generation g. It runs on the
// coordination loop and is the only place a generation concludes.
func (s *Session) didParseTracks(g *generation, seg parser.InitSegment, code uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g != s.current {
		s.log.Debug("ignoring initialization for superseded generation", "generation", g.id)
		return
	}
	if _, concluded := g.token.Value(); concluded {
		panic(fmt.Sprintf("session: generation %d concluded twice", g.id))
	}

	var outcome error
	if code != 0 {
		outcome = &ParsingFailure{Code: code}
	}
	g.duration = seg.Duration

	// The first usable video track is enabled; failing that, the first
	// usable audio track.
	enabled := false
	for _, desc := range seg.Video {
		if t := track.New(desc); t != nil {
			g.tracks = append(g.tracks, t)
			if !enabled {
				t.SetEnabled(true)
				enabled = true
			}
		}
	}
	for _, desc := range seg.Audio {
		if t := track.New(desc); t != nil {
			g.tracks = append(g.tracks, t)
			if !enabled {
				t.SetEnabled(true)
				enabled = true
			}
		}
	}
	for _, desc := range seg.Text {
		if t := track.New(desc); t != nil {
			g.tracks = append(g.tracks, t)
		}
	}

	g.token.Complete(outcome)

	if outcome != nil {
		g.span.SetStatus(codes.Error, outcome.Error())
		s.log.Warn("parse failed", "generation", g.id, "code", code)
		return
	}
	g.span.AddEvent("initialization", trace.WithAttributes(
		attribute.Int("tracks", len(g.tracks)),
		attribute.Float64("duration_s", g.duration.Seconds()),
	))
	s.log.Info("tracks parsed", "generation", g.id,
		"video", len(seg.Video), "audio", len(seg.Audio), "text", len(seg.Text),
		"duration", g.duration.Duration())
}

// didProvideMediaData routes a sample to its track. Samples for a track id
// that does not exist in the current generation are dropped.
func (s *Session) didProvideMediaData(g *generation, sample media.Sample, trackID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g == s.current {
		for _, t := range g.tracks {
			if t.ID() == trackID {
				t.AddSample(sample, g.src)
				g.routed++
				return
			}
		}
	}
	g.dropped++
	s.log.Debug("dropped sample", "generation", g.id, "track", trackID)
}

// finishParsing runs once the worker has finished feeding bytes to the
// parser of generation g.
func (s *Session) finishParsing(g *generation, p parser.Parser) {
	s.mu.Lock()
	current := g == s.current
	if current {
		if _, concluded := g.token.Value(); !concluded {
			s.mu.Unlock()
			s.log.Warn("parser finished without initialization", "generation", g.id)
			s.didParseTracks(g, parser.InitSegment{}, parser.CodeNoInitSegment)
			s.mu.Lock()
		}
	}
	if !g.finished {
		g.finished = true
		g.elapsed = time.Since(g.started)
		for _, t := range g.tracks {
			t.Finish()
		}
		g.span.SetAttributes(attribute.Int64("samples_routed", g.routed))
		g.span.End()
	}
	elapsed := g.elapsed
	s.mu.Unlock()

	clearCallbacks(p)
	p.ResetState()

	if current {
		s.log.Info("parse finished", "generation", g.id, "elapsed", elapsed)
	}
}

func clearCallbacks(p parser.Parser) {
	p.SetInitializationCallback(nil)
	p.SetErrorCallback(nil)
	p.SetMediaDataCallback(nil)
}

// Duration blocks until the current generation has an outcome and returns
// the container duration, or ErrValueNotAvailable if none was parsed.
func (s *Session) Duration(ctx context.Context) (media.Time, error) {
	var d media.Time
	err := s.waitConcluded(ctx, func(g *generation, _ error) error {
		if !g.duration.IsValid() {
			return ErrValueNotAvailable
		}
		d = g.duration
		return nil
	})
	return d, err
}

// Tracks blocks until the current generation has an outcome. On a parse
// failure it returns that failure; otherwise it returns the tracks in
// discovery order. The slice is a copy; the tracks are shared.
func (s *Session) Tracks(ctx context.Context) ([]*track.Track, error) {
	var tracks []*track.Track
	err := s.waitConcluded(ctx, func(g *generation, outcome error) error {
		if outcome != nil {
			return outcome
		}
		tracks = make([]*track.Track, len(g.tracks))
		copy(tracks, g.tracks)
		return nil
	})
	return tracks, err
}

// Track blocks like Tracks and returns the track with the given id.
func (s *Session) Track(ctx context.Context, id uint64) (*track.Track, error) {
	tracks, err := s.Tracks(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tracks {
		if t.ID() == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: track %d", ErrValueNotAvailable, id)
}

// Outcome blocks until the current generation concludes and returns its
// outcome: nil for success, or the parse failure.
func (s *Session) Outcome(ctx context.Context) error {
	return s.waitConcluded(ctx, func(_ *generation, outcome error) error {
		return outcome
	})
}

// waitConcluded blocks until the current generation has an outcome, then
// calls read under the session mutex. A generation superseded while the
// caller waits is not reported; the wait moves on to its successor.
func (s *Session) waitConcluded(ctx context.Context, read func(g *generation, outcome error) error) error {
	if s.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
	}

	for {
		s.mu.Lock()
		g, closed := s.current, s.isDone
		s.mu.Unlock()
		if closed {
			return ErrClosed
		}

		select {
		case <-g.token.Done():
			s.mu.Lock()
			if g != s.current {
				s.mu.Unlock()
				continue
			}
			outcome, _ := g.token.Value()
			err := read(g, outcome)
			s.mu.Unlock()
			return err
		case <-g.superseded:
		case <-s.closed:
			return ErrClosed
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
			}
			return ctx.Err()
		}
	}
}

// Generation returns the id of the current parse generation; 0 before the
// first parse has started.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.id
}

// Source returns the byte source of the current generation, or nil.
func (s *Session) Source() bytesource.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.src
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	g := s.current
	_, concluded := g.token.Value()
	st := Stats{
		Generation:     g.id,
		Concluded:      concluded,
		Finished:       g.finished,
		ParseDuration:  g.elapsed,
		SamplesRouted:  g.routed,
		SamplesDropped: g.dropped,
	}
	s.mu.Unlock()
	return st
}

// Close stops the coordination loop, cancels a running parse and releases
// the byte source. Blocked queries return ErrClosed. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.isDone {
		s.mu.Unlock()
		return nil
	}
	s.isDone = true
	g := s.current
	close(s.closed)
	s.mu.Unlock()

	g.cancel()
	s.loop.Stop()
	<-s.loop.Done()
	s.cancel()

	s.mu.Lock()
	p := g.parser
	if !g.finished {
		g.span.End()
	}
	g.src = nil
	s.mu.Unlock()

	if p != nil {
		clearCallbacks(p)
	}
	s.log.Info("session closed", "generation", g.id)
	return nil
}
