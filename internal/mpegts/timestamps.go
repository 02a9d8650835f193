package mpegts

import (
	"context"
	"errors"
	"io"

	"github.com/zsiec/formatreader/internal/bytesource"
)

// PTSWrap is the modulus of the 33-bit PES timestamp.
const PTSWrap = 1 << 33

// PTSBounds is the smallest and largest PTS seen on one PID.
type PTSBounds struct {
	Min, Max int64
}

// ScanPTS demuxes [offset, offset+length) of src and collects PTS bounds
// per PID. The range need not start on a packet boundary.
func ScanPTS(ctx context.Context, src bytesource.Source, offset, length int64, pktSize int) (map[uint16]PTSBounds, error) {
	d := NewDemuxer(ctx, src, DemuxerOptPacketSize(pktSize), DemuxerOptRange(offset, length))
	bounds := make(map[uint16]PTSBounds)
	for {
		data, err := d.NextData()
		if errors.Is(err, io.EOF) {
			return bounds, nil
		}
		if err != nil {
			return bounds, err
		}
		if data.PES == nil || data.PES.Header.OptionalHeader == nil || data.PES.Header.OptionalHeader.PTS == nil {
			continue
		}
		pid := data.FirstPacket.Header.PID
		pts := data.PES.Header.OptionalHeader.PTS.Base
		b, ok := bounds[pid]
		if !ok {
			b = PTSBounds{Min: pts, Max: pts}
		}
		b.Min = min(b.Min, pts)
		b.Max = max(b.Max, pts)
		bounds[pid] = b
	}
}

// PTSDiff returns last-first on the 90 kHz clock, allowing for one wrap of
// the 33-bit counter.
func PTSDiff(first, last int64) int64 {
	d := last - first
	if d < 0 {
		d += PTSWrap
	}
	return d
}
