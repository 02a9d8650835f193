// Package tsparser parses MPEG transport streams for a parse session. It
// reads the program map, probes codec parameters and the stream duration,
// reports an initialization segment, then walks the whole source emitting
// one sample per video access unit, AAC frame, SCTE-35 splice cue or other
// PES packet.
package tsparser

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zsiec/formatreader/internal/bytesource"
	"github.com/zsiec/formatreader/internal/media"
	"github.com/zsiec/formatreader/internal/mpegts"
	"github.com/zsiec/formatreader/internal/parser"
)

// ContentType is the MIME type this parser is registered for.
const ContentType = "video/mp2t"

const (
	defaultProbeBytes     = 4 << 20
	defaultDurationWindow = 1 << 20
)

var (
	errNoProgram = errors.New("tsparser: no program map table found")
	errNoTracks  = errors.New("tsparser: program has no supported streams")
)

func init() {
	parser.Register(ContentType, func() parser.Parser { return New(Options{}, nil) })
}

// Options tune a Parser. Zero values select the defaults.
type Options struct {
	// ProbeBytes bounds how far into the source the parser looks for the
	// program map and codec parameters.
	ProbeBytes int64

	// DurationWindow is the size of the head and tail regions scanned for
	// presentation timestamps.
	DurationWindow int64

	// RetainPayload copies elementary-stream bytes into Sample.Data in
	// addition to recording their ranges.
	RetainPayload bool
}

// Parser is a parser.Parser for MPEG transport streams. A Parser handles
// one AppendData call at a time.
type Parser struct {
	opts   Options
	log    *slog.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	onInit  parser.InitializationFunc
	onError parser.ErrorFunc
	onData  parser.MediaDataFunc
	run     *emitter
}

// New creates a transport stream parser. A nil logger uses slog.Default().
func New(opts Options, log *slog.Logger) *Parser {
	if log == nil {
		log = slog.Default()
	}
	if opts.ProbeBytes <= 0 {
		opts.ProbeBytes = defaultProbeBytes
	}
	if opts.DurationWindow <= 0 {
		opts.DurationWindow = defaultDurationWindow
	}
	return &Parser{
		opts:   opts,
		log:    log.With("component", "tsparser"),
		tracer: otel.Tracer("github.com/zsiec/formatreader/internal/tsparser"),
	}
}

// SetInitializationCallback sets the function that receives the
// initialization segment. AppendData waits for it to call done before
// emitting samples.
func (p *Parser) SetInitializationCallback(f parser.InitializationFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onInit = f
}

// SetErrorCallback sets the function told of failures found before the
// initialization segment.
func (p *Parser) SetErrorCallback(f parser.ErrorFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = f
}

// SetMediaDataCallback sets the function that receives each sample.
func (p *Parser) SetMediaDataCallback(f parser.MediaDataFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onData = f
}

// ResetState drops caption decoder and held-sample state left by the last
// AppendData call.
func (p *Parser) ResetState() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.run = nil
}

// AppendData parses src. Errors found before the initialization segment
// are reported through the error callback; later read failures end the
// parse early and are only logged.
func (p *Parser) AppendData(ctx context.Context, src bytesource.Source) {
	ctx, span := p.tracer.Start(ctx, "tsparser.AppendData",
		trace.WithAttributes(attribute.Int64("source.size", src.Size())))
	defer span.End()

	pktSize, err := mpegts.ProbePacketSize(src)
	if err != nil {
		p.fail(ctx, span, err)
		return
	}
	span.SetAttributes(attribute.Int("ts.packet_size", pktSize))

	prog, err := p.discover(ctx, src, pktSize)
	if err != nil {
		p.fail(ctx, span, err)
		return
	}
	prog.duration = p.duration(ctx, src, pktSize, prog)
	seg := prog.initSegment()

	span.AddEvent("initialized", trace.WithAttributes(
		attribute.Int("tracks", seg.TrackCount()),
		attribute.Float64("duration", prog.duration.Seconds()),
	))
	p.log.Info("initialization segment",
		"packetSize", pktSize,
		"duration", seg.Duration,
		"video", len(seg.Video),
		"audio", len(seg.Audio),
		"text", len(seg.Text),
	)

	if !p.initialize(ctx, seg) {
		return
	}

	e := newEmitter(prog, p.opts.RetainPayload, p.deliver, p.log)
	p.mu.Lock()
	p.run = e
	p.mu.Unlock()

	if err := e.demux(ctx, src, pktSize); err != nil && ctx.Err() == nil {
		span.RecordError(err)
		p.log.Warn("demux stopped early", "error", err, "samples", e.samples)
		return
	}
	span.SetAttributes(attribute.Int64("samples", e.samples))
	p.log.Debug("demux finished", "samples", e.samples)
}

// initialize hands seg to the session and waits for its acknowledgement.
func (p *Parser) initialize(ctx context.Context, seg parser.InitSegment) bool {
	p.mu.Lock()
	cb := p.onInit
	p.mu.Unlock()
	if cb == nil {
		return true
	}

	ack := make(chan struct{})
	var once sync.Once
	cb(seg, func() { once.Do(func() { close(ack) }) })

	select {
	case <-ack:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Parser) deliver(s media.Sample, trackID uint64, kind media.Kind) {
	p.mu.Lock()
	cb := p.onData
	p.mu.Unlock()
	if cb != nil {
		cb(s, trackID, kind)
	}
}

func (p *Parser) fail(ctx context.Context, span trace.Span, err error) {
	code := errorCode(err)
	if ctx.Err() != nil {
		code = parser.CodeCancelled
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	p.log.Warn("parse failed", "error", err, "code", code)

	p.mu.Lock()
	cb := p.onError
	p.mu.Unlock()
	if cb != nil {
		cb(code)
	}
}

func errorCode(err error) uint64 {
	switch {
	case errors.Is(err, mpegts.ErrNoSync), errors.Is(err, errNoProgram):
		return parser.CodeNoProgram
	case errors.Is(err, errNoTracks):
		return parser.CodeNoTracks
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return parser.CodeCancelled
	}
	return parser.CodeReadFailed
}
