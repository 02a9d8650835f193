package tsparser

import (
	"github.com/zsiec/formatreader/internal/media"
	"github.com/zsiec/formatreader/internal/mpegts"
	"github.com/zsiec/formatreader/internal/scte35"
)

// splice emits one text sample per splice_info_section on an SCTE-35
// stream. The sample carries the raw section; its PTS is the cue's splice
// time, or the last PTS seen for immediate and unscheduled cues.
func (e *emitter) splice(s *stream, sec *mpegts.SectionData) {
	if s.desc.StreamType != mpegts.StreamTypeSCTE35 {
		return
	}
	cue, err := scte35.Decode(sec.Data)
	if err != nil {
		e.log.Debug("dropping splice section", "pid", s.desc.PID, "error", err)
		return
	}
	if cue.Command == scte35.SpliceNull {
		return
	}

	pts := e.lastPTS
	if v, ok := cue.PTS(); ok {
		pts = media.NewTime(v, media.MPEGTimescale)
	}
	dur := media.InvalidTime()
	if cue.BreakDuration != nil {
		dur = media.NewTime(int64(*cue.BreakDuration), media.MPEGTimescale)
	} else if len(cue.Segments) > 0 && cue.Segments[0].Duration != nil {
		dur = media.NewTime(int64(*cue.Segments[0].Duration), media.MPEGTimescale)
	}

	e.log.Debug("splice cue", "pid", s.desc.PID, "command", cue.Command, "pts", pts.Value, "segments", len(cue.Segments))
	e.emit(media.Sample{
		PTS:      pts,
		DTS:      pts,
		Duration: dur,
		Keyframe: true,
		Ranges:   sec.Ranges,
		Data:     sec.Data,
	}, s.desc.ID, media.KindText)
}
