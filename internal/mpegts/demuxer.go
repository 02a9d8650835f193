package mpegts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/zsiec/formatreader/internal/bytesource"
)

// Packet sizes found in the wild: plain TS, M2TS with a 4-byte timecode
// prefix, and TS with 16 trailing Reed-Solomon bytes.
const (
	PacketSize188 = 188
	PacketSize192 = 192
	PacketSize204 = 204
)

// readChunk is how many packets the demuxer reads from the source at once.
const readChunk = 256

// ErrNoSync is returned when no transport stream sync pattern can be found.
var ErrNoSync = errors.New("mpegts: no sync byte pattern found")

// Demuxer reads transport packets from a byte source and produces
// DemuxerData for every PAT, PMT, PES unit and splice info section.
type Demuxer struct {
	ctx     context.Context
	src     bytesource.Source
	offset  int64
	end     int64
	pktSize int
	prefix  int // bytes before the sync byte in each packet

	buf    []byte
	bufOff int64

	pool       *packetPool
	programMap programMap
	pending    []*DemuxerData
	eof        bool
	skipped    int
}

// NewDemuxer creates a demuxer over src starting at offset 0.
func NewDemuxer(ctx context.Context, src bytesource.Source, opts ...func(*Demuxer)) *Demuxer {
	pm := programMap{}
	d := &Demuxer{
		ctx:        ctx,
		src:        src,
		end:        src.Size(),
		pktSize:    PacketSize188,
		programMap: pm,
		pool:       newPacketPool(pm),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.pktSize == PacketSize192 {
		d.prefix = 4
	}
	return d
}

// DemuxerOptPacketSize sets the packet size: 188 (default), 192 or 204.
func DemuxerOptPacketSize(size int) func(*Demuxer) {
	return func(d *Demuxer) {
		d.pktSize = size
	}
}

// DemuxerOptRange limits demuxing to [offset, offset+length) of the source.
func DemuxerOptRange(offset, length int64) func(*Demuxer) {
	return func(d *Demuxer) {
		d.offset = offset
		d.end = min(offset+length, d.src.Size())
	}
}

// Offset returns the source position of the next packet to be read.
func (d *Demuxer) Offset() int64 { return d.offset }

// Skipped returns how many bytes were skipped while resynchronizing.
func (d *Demuxer) Skipped() int { return d.skipped }

// NextData returns the next parsed unit. It returns io.EOF once the range
// is exhausted and every buffered unit has been returned.
func (d *Demuxer) NextData() (*DemuxerData, error) {
	for {
		if len(d.pending) > 0 {
			data := d.pending[0]
			d.pending = d.pending[1:]
			return data, nil
		}
		if d.eof {
			return nil, io.EOF
		}
		if err := d.ctx.Err(); err != nil {
			return nil, err
		}

		pkt, err := d.readPacket()
		if errors.Is(err, io.EOF) {
			d.eof = true
			for _, packets := range d.pool.dump() {
				d.pending = append(d.pending, d.process(packets)...)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if flushed := d.pool.add(pkt); flushed != nil {
			d.pending = d.process(flushed)
		}
	}
}

// readPacket returns the next packet, skipping forward to the next sync
// byte when the expected one is missing.
func (d *Demuxer) readPacket() (*Packet, error) {
	for {
		if d.offset+int64(d.pktSize) > d.end {
			return nil, io.EOF
		}
		raw, err := d.window(d.offset, d.pktSize)
		if err != nil {
			return nil, err
		}
		at := d.offset + int64(d.prefix)
		if raw[d.prefix] != syncByte {
			d.offset++
			d.skipped++
			continue
		}
		d.offset += int64(d.pktSize)

		pkt, err := parsePacket(raw[d.prefix:d.prefix+packetSize], at)
		if err != nil {
			continue
		}
		return pkt, nil
	}
}

// window returns n bytes at off, served from a read-ahead buffer.
func (d *Demuxer) window(off int64, n int) ([]byte, error) {
	if off < d.bufOff || off+int64(n) > d.bufOff+int64(len(d.buf)) {
		size := min(int64(readChunk*d.pktSize), d.end-off)
		if cap(d.buf) < int(size) {
			d.buf = make([]byte, size)
		}
		d.buf = d.buf[:size]
		read, err := d.src.ReadAt(d.buf, off)
		if read < n {
			if err == nil || errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("mpegts: read at %d: %w", off, err)
		}
		d.buf = d.buf[:read]
		d.bufOff = off
	}
	start := int(off - d.bufOff)
	return d.buf[start : start+n], nil
}

func (d *Demuxer) process(packets []*Packet) []*DemuxerData {
	first := packets[0]
	payload, segments := joinPayload(packets)
	if len(payload) == 0 {
		return nil
	}

	if d.programMap.isPSI(first.Header.PID) {
		results, _ := parsePSI(payload, segments, first)
		for _, r := range results {
			switch {
			case r.PAT != nil:
				for _, p := range r.PAT.Programs {
					d.programMap[p.ProgramMapID] = true
				}
			case r.PMT != nil:
				for _, es := range r.PMT.ElementaryStreams {
					if es.StreamType == StreamTypeSCTE35 {
						d.programMap[es.ElementaryPID] = true
					}
				}
			}
		}
		return results
	}

	if !isPESPayload(payload) {
		return nil
	}
	pes, err := parsePES(payload, segments)
	if err != nil {
		return nil
	}
	pes.RandomAccess = first.Header.RandomAccessIndicator
	return []*DemuxerData{{FirstPacket: first, PES: pes}}
}

// ProbePacketSize looks for the sync byte repeating at a fixed stride at
// the start of src and returns the packet size.
func ProbePacketSize(src bytesource.Source) (int, error) {
	const probePackets = 5
	head := make([]byte, min(src.Size(), PacketSize204*(probePackets+1)))
	n, err := src.ReadAt(head, 0)
	if n < len(head) && err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("mpegts: probe: %w", err)
	}
	head = head[:n]

	for _, size := range []int{PacketSize188, PacketSize192, PacketSize204} {
		prefix := 0
		if size == PacketSize192 {
			prefix = 4
		}
		count := 0
		for i := prefix; i < len(head) && head[i] == syncByte; i += size {
			count++
		}
		if count >= min(probePackets, len(head)/size) && count > 0 {
			return size, nil
		}
	}
	return 0, ErrNoSync
}
