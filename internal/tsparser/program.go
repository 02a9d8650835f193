package tsparser

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/zsiec/ccx"

	"github.com/zsiec/formatreader/internal/bytesource"
	"github.com/zsiec/formatreader/internal/codec"
	"github.com/zsiec/formatreader/internal/media"
	"github.com/zsiec/formatreader/internal/mpegts"
	"github.com/zsiec/formatreader/internal/parser"
)

// captionTrackBase is OR'ed with a video PID to form the ID of the text
// track carrying that stream's CEA-608 captions. PIDs are 13 bits, so the
// result never collides with an elementary stream track.
const captionTrackBase = 1 << 16

// stream is one elementary stream of the selected program.
type stream struct {
	desc     parser.TrackDescriptor
	resolved bool // codec parameters are known
	captions bool // CEA-608 caption data seen in SEI
}

func (s *stream) captionID() uint64 {
	if !s.captions {
		return 0
	}
	return captionTrackBase | uint64(s.desc.PID)
}

type program struct {
	number   uint16
	streams  []*stream
	byPID    map[uint16]*stream
	duration media.Time
}

func newProgram(pmt *mpegts.PMTData) *program {
	prog := &program{
		number:   pmt.ProgramNumber,
		byPID:    make(map[uint16]*stream),
		duration: media.InvalidTime(),
	}
	for _, es := range pmt.ElementaryStreams {
		desc, resolved, ok := classify(es)
		if !ok {
			continue
		}
		if _, dup := prog.byPID[es.ElementaryPID]; dup {
			continue
		}
		s := &stream{desc: desc, resolved: resolved}
		prog.streams = append(prog.streams, s)
		prog.byPID[es.ElementaryPID] = s
	}
	return prog
}

// classify maps a PMT entry to a track. resolved reports whether the codec
// string is final without looking at the elementary stream.
func classify(es *mpegts.PMTElementaryStream) (desc parser.TrackDescriptor, resolved, ok bool) {
	desc = parser.TrackDescriptor{
		ID:         uint64(es.ElementaryPID),
		Language:   es.Language,
		PID:        es.ElementaryPID,
		StreamType: es.StreamType,
	}
	set := func(kind media.Kind, codec string, final bool) (parser.TrackDescriptor, bool, bool) {
		desc.Kind = kind
		desc.Codec = codec
		return desc, final, true
	}

	switch es.StreamType {
	case mpegts.StreamTypeH264:
		return set(media.KindVideo, "avc1", false)
	case mpegts.StreamTypeH265:
		return set(media.KindVideo, "hev1", false)
	case mpegts.StreamTypeAAC:
		return set(media.KindAudio, "mp4a.40.2", false)
	case mpegts.StreamTypeMPEG1Audio:
		return set(media.KindAudio, "mp4a.6B", true)
	case mpegts.StreamTypeMPEG2Audio:
		return set(media.KindAudio, "mp4a.69", true)
	case mpegts.StreamTypeAC3:
		return set(media.KindAudio, "ac-3", true)
	case mpegts.StreamTypeEAC3:
		return set(media.KindAudio, "ec-3", true)
	case mpegts.StreamTypeMetadata:
		return set(media.KindText, "id3", true)
	case mpegts.StreamTypeSCTE35:
		return set(media.KindText, "scte35", true)
	case mpegts.StreamTypePrivateData:
		switch {
		case es.Registration == "ID3 ":
			return set(media.KindText, "id3", true)
		case es.Registration == "AC-3":
			return set(media.KindAudio, "ac-3", true)
		case es.Registration == "EC-3":
			return set(media.KindAudio, "ec-3", true)
		case es.Subtitles:
			return set(media.KindText, "dvbsub", true)
		}
	}
	return desc, false, false
}

// inspect fills in codec parameters from the first PES payloads of s.
func (s *stream) inspect(data []byte) {
	switch s.desc.StreamType {
	case mpegts.StreamTypeH264:
		for _, nalu := range codec.ParseAnnexB(data) {
			switch nalu.Type {
			case codec.NALTypeSPS:
				if s.resolved {
					continue
				}
				if info, err := codec.ParseSPS(nalu.Data); err == nil {
					s.desc.Codec = info.CodecString()
					s.desc.Width, s.desc.Height = info.Width, info.Height
					s.resolved = true
				}
			case codec.NALTypeSEI:
				s.noteCaptions(nalu.Data)
			}
		}
	case mpegts.StreamTypeH265:
		for _, nalu := range codec.ParseAnnexBHEVC(data) {
			switch nalu.Type {
			case codec.HEVCNALSPS:
				if s.resolved {
					continue
				}
				if info, err := codec.ParseHEVCSPS(nalu.Data); err == nil {
					s.desc.Codec = info.CodecString()
					s.desc.Width, s.desc.Height = info.Width, info.Height
					s.resolved = true
				}
			case codec.HEVCNALSEIPrefix:
				s.noteCaptions(nalu.Data)
			}
		}
	case mpegts.StreamTypeAAC:
		if s.resolved {
			return
		}
		frames, _ := codec.ParseADTS(data)
		if len(frames) > 0 {
			f := frames[0]
			s.desc.Codec = f.CodecString()
			s.desc.SampleRate = f.SampleRate
			s.desc.Channels = f.Channels
			s.resolved = true
		}
	}
}

func (s *stream) noteCaptions(sei []byte) {
	if s.captions || len(sei) < 3 {
		return
	}
	if cd := ccx.ExtractCaptions(sei); cd != nil && len(cd.CC608Pairs) > 0 {
		s.captions = true
	}
}

func (prog *program) resolved() bool {
	for _, s := range prog.streams {
		if !s.resolved {
			return false
		}
	}
	return true
}

// clockPID returns the stream whose timestamps define the duration: the
// first video stream, else the first audio stream.
func (prog *program) clockPID() (uint16, bool) {
	for _, kind := range []media.Kind{media.KindVideo, media.KindAudio} {
		for _, s := range prog.streams {
			if s.desc.Kind == kind {
				return s.desc.PID, true
			}
		}
	}
	return 0, false
}

func (prog *program) initSegment() parser.InitSegment {
	seg := parser.InitSegment{Duration: prog.duration}
	for _, s := range prog.streams {
		switch s.desc.Kind {
		case media.KindVideo:
			seg.Video = append(seg.Video, s.desc)
		case media.KindAudio:
			seg.Audio = append(seg.Audio, s.desc)
		case media.KindText:
			seg.Text = append(seg.Text, s.desc)
		}
	}
	for _, s := range prog.streams {
		if id := s.captionID(); id != 0 {
			seg.Text = append(seg.Text, parser.TrackDescriptor{
				ID:         id,
				Kind:       media.KindText,
				Codec:      "cea-608",
				Language:   s.desc.Language,
				PID:        s.desc.PID,
				StreamType: s.desc.StreamType,
			})
		}
	}
	return seg
}

// discover reads the head of src until the first program map is found and
// every stream's codec parameters are known, or ProbeBytes is exhausted.
func (p *Parser) discover(ctx context.Context, src bytesource.Source, pktSize int) (*program, error) {
	ctx, span := p.tracer.Start(ctx, "tsparser.discover")
	defer span.End()

	d := mpegts.NewDemuxer(ctx, src,
		mpegts.DemuxerOptPacketSize(pktSize),
		mpegts.DemuxerOptRange(0, p.opts.ProbeBytes),
	)

	var prog *program
	for prog == nil || !prog.resolved() {
		data, err := d.NextData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch {
		case data.PMT != nil && prog == nil:
			prog = newProgram(data.PMT)
			if len(prog.streams) == 0 {
				return nil, fmt.Errorf("%w: program %d lists %d streams",
					errNoTracks, data.PMT.ProgramNumber, len(data.PMT.ElementaryStreams))
			}
			p.log.Debug("program map", "program", prog.number, "streams", len(prog.streams))
		case data.PES != nil && prog != nil:
			if s := prog.byPID[data.FirstPacket.Header.PID]; s != nil {
				s.inspect(data.PES.Data)
			}
		}
	}
	if prog == nil {
		return nil, errNoProgram
	}
	if d.Skipped() > 0 {
		p.log.Debug("resynchronized during probe", "skipped", d.Skipped())
	}
	for _, s := range prog.streams {
		if !s.resolved {
			p.log.Debug("codec parameters not found in probe window",
				"pid", s.desc.PID, "streamType", s.desc.StreamType, "codec", s.desc.Codec)
		}
	}
	return prog, nil
}

// duration measures the distance between the first PTS near the start of
// src and the last PTS near its end on the program's clock stream.
func (p *Parser) duration(ctx context.Context, src bytesource.Source, pktSize int, prog *program) media.Time {
	pid, ok := prog.clockPID()
	if !ok {
		return media.InvalidTime()
	}
	size := src.Size()
	window := min(p.opts.DurationWindow, size)

	head, err := mpegts.ScanPTS(ctx, src, 0, window, pktSize)
	if err != nil {
		p.log.Debug("PTS scan failed", "region", "head", "error", err)
		return media.InvalidTime()
	}
	tail := head
	if size > window {
		tail, err = mpegts.ScanPTS(ctx, src, size-window, window, pktSize)
		if err != nil {
			p.log.Debug("PTS scan failed", "region", "tail", "error", err)
			return media.InvalidTime()
		}
	}

	first, ok := head[pid]
	if !ok {
		return media.InvalidTime()
	}
	last, ok := tail[pid]
	if !ok {
		return media.InvalidTime()
	}
	return media.NewTime(mpegts.PTSDiff(first.Min, last.Max), media.MPEGTimescale)
}
