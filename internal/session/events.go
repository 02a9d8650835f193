package session

import (
	"github.com/zsiec/formatreader/internal/media"
	"github.com/zsiec/formatreader/internal/parser"
)

// Parser callbacks are turned into these events and queued onto the
// session's coordination loop. Each event carries the generation it was
// produced for and owns its payload.

type initSegmentParsed struct {
	gen  *generation
	seg  parser.InitSegment
	done func()
}

type parseError struct {
	gen  *generation
	code uint64
}

type sampleProvided struct {
	gen     *generation
	sample  media.Sample
	trackID uint64
	kind    media.Kind
}

type parseFinished struct {
	gen    *generation
	parser parser.Parser
}

func (s *Session) post(ev any) {
	ok := s.loop.Enqueue(func() { s.handle(ev) })
	if !ok {
		// The loop is gone; unblock a parser waiting on initialization.
		if init, isInit := ev.(initSegmentParsed); isInit && init.done != nil {
			init.done()
		}
	}
}

func (s *Session) handle(ev any) {
	switch ev := ev.(type) {
	case initSegmentParsed:
		s.didParseTracks(ev.gen, ev.seg, 0)
		if ev.done != nil {
			ev.done()
		}
	case parseError:
		s.didParseTracks(ev.gen, parser.InitSegment{}, ev.code)
	case sampleProvided:
		s.didProvideMediaData(ev.gen, ev.sample, ev.trackID)
	case parseFinished:
		s.finishParsing(ev.gen, ev.parser)
	default:
		s.log.Error("unknown session event", "type", ev)
	}
}
