// Package media defines the time, track-kind, and sample types that flow from
// a container parser through the parse session into per-track storage.
package media

import (
	"fmt"
	"time"
)

// MPEGTimescale is the 90 kHz clock used by MPEG-TS presentation timestamps.
const MPEGTimescale = 90000

// Kind identifies the elementary stream type of a track.
type Kind int

// Track kinds, in the order an initialization segment lists them.
const (
	KindVideo Kind = iota
	KindAudio
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindText:
		return "text"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Time is a rational media time. A zero Timescale marks the invalid time,
// which is what a session reports until a duration is known.
type Time struct {
	Value     int64
	Timescale int32
}

// InvalidTime returns the invalid time.
func InvalidTime() Time {
	return Time{}
}

// NewTime returns value/timescale. A non-positive timescale yields the invalid time.
func NewTime(value int64, timescale int32) Time {
	if timescale <= 0 {
		return Time{}
	}
	return Time{Value: value, Timescale: timescale}
}

// FromDuration converts d to a time on the given timescale.
func FromDuration(d time.Duration, timescale int32) Time {
	if timescale <= 0 {
		return Time{}
	}
	return Time{Value: int64(d) * int64(timescale) / int64(time.Second), Timescale: timescale}
}

// IsValid reports whether t carries a usable value.
func (t Time) IsValid() bool {
	return t.Timescale > 0
}

// Seconds returns t in seconds, or 0 for the invalid time.
func (t Time) Seconds() float64 {
	if !t.IsValid() {
		return 0
	}
	return float64(t.Value) / float64(t.Timescale)
}

// Duration converts t to a time.Duration, or 0 for the invalid time.
func (t Time) Duration() time.Duration {
	if !t.IsValid() {
		return 0
	}
	return time.Duration(t.Value * int64(time.Second) / int64(t.Timescale))
}

func (t Time) String() string {
	if !t.IsValid() {
		return "invalid"
	}
	return fmt.Sprintf("%d/%d", t.Value, t.Timescale)
}

// ByteRange is a contiguous span of the byte source.
type ByteRange struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// Sample is one timed unit of encoded media belonging to a single track.
// Ranges locate the elementary-stream payload inside the byte source, in
// order, so a consumer can re-read it later without holding Data. A payload
// split across transport packets has one range per packet fragment.
type Sample struct {
	PTS      Time
	DTS      Time
	Duration Time
	Keyframe bool
	Ranges   []ByteRange
	Data     []byte
	Captions []string // CEA-608 text decoded from this access unit, video only
}

// Size returns the total payload length covered by s.Ranges.
func (s *Sample) Size() int64 {
	var n int64
	for _, r := range s.Ranges {
		n += r.Length
	}
	return n
}

// SliceRanges returns the ranges covering bytes [off, off+n) of the logical
// stream formed by concatenating rs. Adjacent pieces are merged. The result
// is shorter than n when rs ends early.
func SliceRanges(rs []ByteRange, off, n int64) []ByteRange {
	var out []ByteRange
	for _, r := range rs {
		if n <= 0 {
			break
		}
		if off >= r.Length {
			off -= r.Length
			continue
		}
		take := min(r.Length-off, n)
		piece := ByteRange{Offset: r.Offset + off, Length: take}
		if k := len(out) - 1; k >= 0 && out[k].Offset+out[k].Length == piece.Offset {
			out[k].Length += take
		} else {
			out = append(out, piece)
		}
		n -= take
		off = 0
	}
	return out
}
