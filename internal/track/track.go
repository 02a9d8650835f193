// Package track implements the per-track sample channel a parse session
// creates for every track listed in a container's initialization segment.
package track

import (
	"context"
	"fmt"
	"sync"

	"github.com/zsiec/formatreader/internal/bytesource"
	"github.com/zsiec/formatreader/internal/media"
	"github.com/zsiec/formatreader/internal/parser"
)

// Sample is a media sample together with the byte source it was parsed from.
type Sample struct {
	media.Sample
	Source bytesource.Source
}

// Track is one discovered elementary stream. Identity and descriptor
// metadata are immutable after creation; the enabled flag and the sample
// table are safe for concurrent use.
type Track struct {
	id   uint64
	kind media.Kind
	desc parser.TrackDescriptor

	mu       sync.RWMutex
	enabled  bool
	samples  []Sample
	finished bool
	done     chan struct{}
}

// New builds a disabled, empty track from a parser descriptor. It returns
// nil when the descriptor cannot back a track so the caller can skip it
// without failing the whole parse.
func New(desc parser.TrackDescriptor) *Track {
	if desc.ID == 0 {
		return nil
	}
	switch desc.Kind {
	case media.KindVideo, media.KindAudio, media.KindText:
	default:
		return nil
	}
	return &Track{
		id:   desc.ID,
		kind: desc.Kind,
		desc: desc,
		done: make(chan struct{}),
	}
}

// ID returns the parser-assigned track identifier.
func (t *Track) ID() uint64 { return t.id }

// Kind returns the track kind.
func (t *Track) Kind() media.Kind { return t.kind }

// Descriptor returns the descriptor the track was created from.
func (t *Track) Descriptor() parser.TrackDescriptor { return t.desc }

// SetEnabled toggles the enabled flag. It has no other effect; the flag is
// consumed by downstream readers.
func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

// Enabled reports whether the track is enabled.
func (t *Track) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// AddSample appends s, keeping the order in which samples were received.
func (t *Track) AddSample(s media.Sample, src bytesource.Source) {
	t.mu.Lock()
	t.samples = append(t.samples, Sample{Sample: s, Source: src})
	t.mu.Unlock()
}

// SampleCount returns the number of samples received so far.
func (t *Track) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}

// Samples returns a copy of the sample table.
func (t *Track) Samples() []Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Sample, len(t.samples))
	copy(out, t.samples)
	return out
}

// ReadSample materializes the payload of sample i from its byte source.
func (t *Track) ReadSample(i int) ([]byte, error) {
	t.mu.RLock()
	if i < 0 || i >= len(t.samples) {
		n := len(t.samples)
		t.mu.RUnlock()
		return nil, fmt.Errorf("track %d: sample %d out of range (%d samples)", t.id, i, n)
	}
	s := t.samples[i]
	t.mu.RUnlock()

	if s.Source == nil {
		return nil, fmt.Errorf("track %d: sample %d has no byte source", t.id, i)
	}
	out := make([]byte, 0, s.Size())
	for _, r := range s.Ranges {
		b, err := bytesource.ReadRange(s.Source, r.Offset, r.Length)
		if err != nil {
			return nil, fmt.Errorf("track %d: sample %d: %w", t.id, i, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

// Finish marks the track as complete: no more samples will arrive for this
// parse generation. Calling Finish more than once has no further effect.
func (t *Track) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	t.finished = true
	close(t.done)
}

// Finished reports whether Finish has been called.
func (t *Track) Finished() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.finished
}

// Done returns a channel closed when the track is finished.
func (t *Track) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the track is finished or ctx is done.
func (t *Track) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
