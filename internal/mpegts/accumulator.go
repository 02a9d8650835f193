package mpegts

import (
	"slices"

	"github.com/zsiec/formatreader/internal/media"
)

const pidPAT = 0x0000

// programMap tracks which PIDs carry PSI sections: PMTs and splice info.
type programMap map[uint16]bool

func (pm programMap) isPSI(pid uint16) bool {
	return pid == pidPAT || pm[pid]
}

// packetAccumulator buffers the packets of one PID until a unit is complete:
// for PES, when the next payload_unit_start arrives; for PSI, as soon as the
// buffered sections are whole.
type packetAccumulator struct {
	pid     uint16
	packets []*Packet
	pm      programMap
}

func (pa *packetAccumulator) add(p *Packet) []*Packet {
	if p.Header.TransportErrorIndicator {
		pa.packets = nil
		return nil
	}
	if !p.Header.HasPayload {
		return nil
	}

	// A continuity jump not signaled by discontinuity_indicator means lost
	// packets; the partial unit is unusable. A repeated counter is a
	// duplicate.
	if n := len(pa.packets); n > 0 && !p.Header.DiscontinuityIndicator {
		prev := pa.packets[n-1].Header.ContinuityCounter
		if p.Header.ContinuityCounter != (prev+1)&0x0F {
			if p.Header.ContinuityCounter == prev {
				return nil
			}
			pa.packets = nil
		}
	}

	var flushed []*Packet
	if p.Header.PayloadUnitStartIndicator && len(pa.packets) > 0 {
		flushed = pa.packets
		pa.packets = nil
	}
	if !p.Header.PayloadUnitStartIndicator && len(pa.packets) == 0 {
		// Continuation of a unit whose start we never saw.
		return flushed
	}
	pa.packets = append(pa.packets, p)

	if flushed == nil && pa.pm.isPSI(pa.pid) {
		if payload, _ := joinPayload(pa.packets); psiComplete(payload) {
			flushed = pa.packets
			pa.packets = nil
		}
	}
	return flushed
}

func (pa *packetAccumulator) flush() []*Packet {
	flushed := pa.packets
	pa.packets = nil
	return flushed
}

// joinPayload concatenates packet payloads and returns the source ranges
// they came from.
func joinPayload(packets []*Packet) ([]byte, []media.ByteRange) {
	var payload []byte
	segments := make([]media.ByteRange, 0, len(packets))
	for _, p := range packets {
		payload = append(payload, p.Payload...)
		segments = append(segments, media.ByteRange{Offset: p.PayloadOffset, Length: int64(len(p.Payload))})
	}
	return payload, segments
}

// psiComplete reports whether payload holds whole sections up to stuffing
// or the end of data.
func psiComplete(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	off := 1 + int(payload[0])
	if off >= len(payload) {
		return false
	}
	for off < len(payload) {
		if payload[off] == 0xFF {
			return true
		}
		if off+3 > len(payload) {
			return false
		}
		if endOfSections(payload[off], payload[off+1]) {
			return true
		}
		off += 3 + (int(payload[off+1]&0x0F)<<8 | int(payload[off+2]))
		if off > len(payload) {
			return false
		}
	}
	return true
}

// packetPool holds one accumulator per PID.
type packetPool struct {
	accs map[uint16]*packetAccumulator
	pm   programMap
}

func newPacketPool(pm programMap) *packetPool {
	return &packetPool{accs: make(map[uint16]*packetAccumulator), pm: pm}
}

func (pp *packetPool) add(p *Packet) []*Packet {
	acc, ok := pp.accs[p.Header.PID]
	if !ok {
		acc = &packetAccumulator{pid: p.Header.PID, pm: pp.pm}
		pp.accs[p.Header.PID] = acc
	}
	return acc.add(p)
}

// dump flushes every accumulator in PID order, so the PAT comes out before
// any PMT.
func (pp *packetPool) dump() [][]*Packet {
	pids := make([]uint16, 0, len(pp.accs))
	for pid := range pp.accs {
		pids = append(pids, pid)
	}
	slices.Sort(pids)

	var all [][]*Packet
	for _, pid := range pids {
		if packets := pp.accs[pid].flush(); len(packets) > 0 {
			all = append(all, packets)
		}
	}
	return all
}
