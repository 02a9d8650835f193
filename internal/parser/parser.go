// Package parser defines the contract between a parse session and the
// container-format parser it drives. A parser consumes a byte source and
// reports what it finds through three callbacks: the initialization segment
// (or a parse error) once, then zero or more media samples.
package parser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zsiec/formatreader/internal/bytesource"
	"github.com/zsiec/formatreader/internal/media"
)

// ErrUnsupported is returned by New when no parser is registered for the
// requested content type.
var ErrUnsupported = errors.New("parser: unsupported content type")

// Error codes reported through ErrorFunc by the parsers in this module.
// Codes are opaque to the session beyond "non-zero means failure".
const (
	CodeReadFailed    uint64 = 1 // the byte source could not be read
	CodeNoProgram     uint64 = 2 // no program map found in the container
	CodeNoTracks      uint64 = 3 // program map lists no supported streams
	CodeCancelled     uint64 = 4 // parsing stopped before an outcome was known
	CodeNoInitSegment uint64 = 5 // parser finished without reporting initialization
)

// TrackDescriptor describes one track of an initialization segment.
type TrackDescriptor struct {
	ID         uint64
	Kind       media.Kind
	Codec      string
	Language   string
	PID        uint16
	StreamType uint8
	Width      int
	Height     int
	SampleRate int
	Channels   int
}

// InitSegment is the metadata a parser reports once per byte source: the
// container duration and its tracks, grouped by kind.
type InitSegment struct {
	Duration media.Time
	Video    []TrackDescriptor
	Audio    []TrackDescriptor
	Text     []TrackDescriptor
}

// TrackCount returns the number of track descriptors in the segment.
func (s InitSegment) TrackCount() int {
	return len(s.Video) + len(s.Audio) + len(s.Text)
}

// InitializationFunc receives the initialization segment. The parser waits
// for done to be called before it delivers media samples.
type InitializationFunc func(seg InitSegment, done func())

// ErrorFunc receives a non-zero parser error code.
type ErrorFunc func(code uint64)

// MediaDataFunc receives one sample for the track with the given ID.
type MediaDataFunc func(s media.Sample, trackID uint64, kind media.Kind)

// Parser is a container-format parser. Callbacks are invoked on the
// goroutine running AppendData; a nil callback disables that notification.
type Parser interface {
	SetInitializationCallback(InitializationFunc)
	SetErrorCallback(ErrorFunc)
	SetMediaDataCallback(MediaDataFunc)

	// AppendData consumes src until it is exhausted or ctx is done. It is
	// potentially long running and is called from a background worker.
	AppendData(ctx context.Context, src bytesource.Source)

	// ResetState drops any partial parse state so the parser can be
	// discarded or reused.
	ResetState()
}

// Factory creates a parser instance.
type Factory func() Parser

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a parser available for contentType. Registering the same
// content type twice replaces the earlier factory.
func Register(contentType string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[contentType] = f
}

// New creates a parser for contentType.
func New(contentType string) (Parser, error) {
	registryMu.RLock()
	f, ok := registry[contentType]
	registryMu.RUnlock()
	if !ok || f == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, contentType)
	}
	p := f()
	if p == nil {
		return nil, fmt.Errorf("parser: factory for %q returned nil", contentType)
	}
	return p, nil
}

// ContentTypes returns the registered content types, sorted.
func ContentTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for ct := range registry {
		types = append(types, ct)
	}
	sort.Strings(types)
	return types
}
