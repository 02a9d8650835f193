package mpegts

import "fmt"

const (
	packetSize = 188
	syncByte   = 0x47
)

// parsePacket parses the 188-byte packet in buf found at offset off of the
// byte source.
func parsePacket(buf []byte, off int64) (*Packet, error) {
	if len(buf) != packetSize {
		return nil, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), packetSize)
	}
	if buf[0] != syncByte {
		return nil, fmt.Errorf("mpegts: invalid sync byte 0x%02X at offset %d", buf[0], off)
	}

	p := &Packet{Offset: off}
	h := &p.Header
	h.TransportErrorIndicator = buf[1]&0x80 != 0
	h.PayloadUnitStartIndicator = buf[1]&0x40 != 0
	h.PID = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	h.HasAdaptationField = buf[3]&0x20 != 0
	h.HasPayload = buf[3]&0x10 != 0
	h.ContinuityCounter = buf[3] & 0x0F

	start := 4
	if h.HasAdaptationField {
		afLen := int(buf[4])
		if afLen > 0 {
			h.DiscontinuityIndicator = buf[5]&0x80 != 0
			h.RandomAccessIndicator = buf[5]&0x40 != 0
		}
		start = min(5+afLen, packetSize)
	}

	if h.HasPayload && start < packetSize {
		p.Payload = make([]byte, packetSize-start)
		copy(p.Payload, buf[start:])
		p.PayloadOffset = off + int64(start)
	}
	return p, nil
}
