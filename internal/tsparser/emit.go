package tsparser

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/zsiec/ccx"

	"github.com/zsiec/formatreader/internal/bytesource"
	"github.com/zsiec/formatreader/internal/codec"
	"github.com/zsiec/formatreader/internal/media"
	"github.com/zsiec/formatreader/internal/mpegts"
	"github.com/zsiec/formatreader/internal/parser"
)

// emitter turns PES packets into samples. A video sample is held until the
// next one on the same PID arrives so its duration can be filled in from
// the DTS delta.
type emitter struct {
	prog    *program
	retain  bool
	send    parser.MediaDataFunc
	log     *slog.Logger
	samples int64

	held    map[uint16]*media.Sample
	lastDur map[uint16]media.Time

	// lastPTS is the most recent PTS seen on any stream, used to place
	// splice cues that carry no splice time.
	lastPTS media.Time

	cea608Decs      map[int]*ccx.CEA608Decoder
	videoCount      int64
	lastCCCtrl      [2][2]byte
	lastCCWasCtrl   [2]bool
	lastCCCtrlFrame [2]int64
}

func newEmitter(prog *program, retain bool, send parser.MediaDataFunc, log *slog.Logger) *emitter {
	return &emitter{
		prog:    prog,
		retain:  retain,
		send:    send,
		log:     log,
		held:    make(map[uint16]*media.Sample),
		lastDur: make(map[uint16]media.Time),
		lastPTS: media.InvalidTime(),
		cea608Decs: map[int]*ccx.CEA608Decoder{
			1: ccx.NewCEA608Decoder(),
			2: ccx.NewCEA608Decoder(),
			3: ccx.NewCEA608Decoder(),
			4: ccx.NewCEA608Decoder(),
		},
	}
}

// demux walks src from the start and emits a sample for every PES packet
// on a known stream.
func (e *emitter) demux(ctx context.Context, src bytesource.Source, pktSize int) error {
	d := mpegts.NewDemuxer(ctx, src, mpegts.DemuxerOptPacketSize(pktSize))
	for {
		data, err := d.NextData()
		if errors.Is(err, io.EOF) {
			e.flush()
			if d.Skipped() > 0 {
				e.log.Debug("resynchronized while demuxing", "skipped", d.Skipped())
			}
			return nil
		}
		if err != nil {
			return err
		}
		s := e.prog.byPID[data.FirstPacket.Header.PID]
		if s == nil {
			continue
		}
		if data.Section != nil {
			e.splice(s, data.Section)
			continue
		}
		if data.PES == nil || len(data.PES.Data) == 0 {
			continue
		}
		if pts, _ := timestamps(data.PES); pts.IsValid() {
			e.lastPTS = pts
		}

		switch {
		case s.desc.Kind == media.KindVideo:
			e.video(s, data.PES)
		case s.desc.StreamType == mpegts.StreamTypeAAC:
			e.aac(s, data.PES)
		default:
			e.whole(s, data.PES)
		}
	}
}

func (e *emitter) emit(s media.Sample, trackID uint64, kind media.Kind) {
	e.samples++
	e.send(s, trackID, kind)
}

func timestamps(pes *mpegts.PESData) (pts, dts media.Time) {
	oh := pes.Header.OptionalHeader
	if oh == nil {
		return media.InvalidTime(), media.InvalidTime()
	}
	pts, dts = oh.PTS.Time(), oh.DTS.Time()
	if !dts.IsValid() {
		dts = pts
	}
	return pts, dts
}

func (e *emitter) video(s *stream, pes *mpegts.PESData) {
	pts, dts := timestamps(pes)
	keyframe := pes.RandomAccess
	var captions []string

	if s.desc.StreamType == mpegts.StreamTypeH265 {
		for _, nalu := range codec.ParseAnnexBHEVC(pes.Data) {
			switch {
			case codec.IsHEVCKeyframe(nalu.Type):
				keyframe = true
			case nalu.Type == codec.HEVCNALSEIPrefix && len(nalu.Data) > 2:
				captions = e.decodeCaptions(nalu.Data, captions)
			}
		}
	} else {
		for _, nalu := range codec.ParseAnnexB(pes.Data) {
			switch {
			case codec.IsKeyframe(nalu.Type):
				keyframe = true
			case nalu.Type == codec.NALTypeSEI:
				captions = e.decodeCaptions(nalu.Data, captions)
			}
		}
	}
	e.videoCount++

	if id := s.captionID(); id != 0 {
		for _, text := range captions {
			e.emit(media.Sample{
				PTS:      pts,
				DTS:      pts,
				Duration: media.InvalidTime(),
				Keyframe: true,
				Data:     []byte(text),
			}, id, media.KindText)
		}
	}

	sample := &media.Sample{
		PTS:      pts,
		DTS:      dts,
		Duration: media.InvalidTime(),
		Keyframe: keyframe,
		Ranges:   pes.Ranges,
		Captions: captions,
	}
	if e.retain {
		sample.Data = pes.Data
	}

	pid := s.desc.PID
	if prev := e.held[pid]; prev != nil {
		if prev.DTS.IsValid() && dts.IsValid() {
			prev.Duration = media.NewTime(mpegts.PTSDiff(prev.DTS.Value, dts.Value), media.MPEGTimescale)
			e.lastDur[pid] = prev.Duration
		}
		e.emit(*prev, s.desc.ID, media.KindVideo)
	}
	e.held[pid] = sample
}

// flush emits held video samples, giving each the duration of the sample
// before it.
func (e *emitter) flush() {
	for _, s := range e.prog.streams {
		pid := s.desc.PID
		sample := e.held[pid]
		if sample == nil {
			continue
		}
		if d, ok := e.lastDur[pid]; ok {
			sample.Duration = d
		}
		e.emit(*sample, s.desc.ID, media.KindVideo)
		delete(e.held, pid)
	}
}

func (e *emitter) aac(s *stream, pes *mpegts.PESData) {
	frames, err := codec.ParseADTS(pes.Data)
	if err != nil {
		e.log.Debug("ADTS parse stopped", "pid", s.desc.PID, "error", err, "frames", len(frames))
	}

	pts, _ := timestamps(pes)
	for i, f := range frames {
		framePTS, dur := pts, media.InvalidTime()
		if f.SampleRate > 0 {
			rate := int64(f.SampleRate)
			dur = media.NewTime(codec.SamplesPerAACFrame*media.MPEGTimescale/rate, media.MPEGTimescale)
			if pts.IsValid() {
				framePTS = media.NewTime(pts.Value+int64(i)*codec.SamplesPerAACFrame*media.MPEGTimescale/rate, media.MPEGTimescale)
			}
		}

		sample := media.Sample{
			PTS:      framePTS,
			DTS:      framePTS,
			Duration: dur,
			Keyframe: true,
			Ranges:   media.SliceRanges(pes.Ranges, int64(f.Offset), int64(f.Length)),
		}
		if e.retain {
			sample.Data = pes.Data[f.Offset : f.Offset+f.Length]
		}
		e.emit(sample, s.desc.ID, media.KindAudio)
	}
}

// whole emits the PES payload as a single sample.
func (e *emitter) whole(s *stream, pes *mpegts.PESData) {
	pts, dts := timestamps(pes)
	sample := media.Sample{
		PTS:      pts,
		DTS:      dts,
		Duration: media.InvalidTime(),
		Keyframe: true,
		Ranges:   pes.Ranges,
	}
	if e.retain || s.desc.Kind == media.KindText {
		sample.Data = pes.Data
	}
	e.emit(sample, s.desc.ID, s.desc.Kind)
}

// decodeCaptions runs the CEA-608 pairs of one SEI message through the
// per-channel decoders and appends any text that became displayable.
// Control codes are sent twice on air; the repeat is dropped.
func (e *emitter) decodeCaptions(sei []byte, out []string) []string {
	cd := ccx.ExtractCaptions(sei)
	if cd == nil {
		return out
	}

	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]

		f := pair.Field
		if f < 0 || f > 1 {
			continue
		}
		if cc1 >= 0x10 && cc1 <= 0x1F {
			cp := [2]byte{cc1, cc2}
			gap := e.videoCount - e.lastCCCtrlFrame[f]
			if e.lastCCWasCtrl[f] && e.lastCCCtrl[f] == cp && gap <= 2 {
				e.lastCCWasCtrl[f] = false
				continue
			}
			e.lastCCCtrl[f] = cp
			e.lastCCWasCtrl[f] = true
			e.lastCCCtrlFrame[f] = e.videoCount
		} else {
			e.lastCCWasCtrl[f] = false
		}

		dec := e.cea608Decs[pair.Channel]
		if dec == nil {
			continue
		}
		if text := dec.Decode(cc1, cc2); text != "" {
			out = append(out, text)
		}
	}
	return out
}
