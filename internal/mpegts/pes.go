package mpegts

import (
	"fmt"

	"github.com/zsiec/formatreader/internal/media"
)

// isPESPayload checks for the PES start code prefix (0x000001).
func isPESPayload(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

// hasOptionalHeader reports whether a PES stream id carries the optional
// header. padding, private_stream_2, ECM, EMM, DSMCC, H.222.1 type E and the
// program stream directory do not.
func hasOptionalHeader(streamID uint8) bool {
	switch streamID {
	case 0xBC, 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

// parsePES parses a reassembled PES packet. segments locate payload in the
// byte source and are used to derive the ranges of the ES data.
func parsePES(payload []byte, segments []media.ByteRange) (*PESData, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(payload))
	}
	if !isPESPayload(payload) {
		return nil, fmt.Errorf("mpegts: invalid PES start code")
	}

	pes := &PESData{
		Header: &PESHeader{
			StreamID:     payload[3],
			PacketLength: int(payload[4])<<8 | int(payload[5]),
		},
	}

	start, end := 6, len(payload)
	if n := pes.Header.PacketLength; n > 0 && 6+n < end {
		end = 6 + n
	}

	if hasOptionalHeader(pes.Header.StreamID) {
		if len(payload) < 9 {
			return nil, fmt.Errorf("mpegts: PES optional header too short")
		}
		// payload[7] holds PTS_DTS_flags in its top two bits; payload[8] is
		// PES_header_data_length.
		oh := &PESOptionalHeader{}
		switch payload[7] >> 6 {
		case 2:
			if len(payload) >= 14 {
				oh.PTS = parsePTSOrDTS(payload[9:14])
			}
		case 3:
			if len(payload) >= 19 {
				oh.PTS = parsePTSOrDTS(payload[9:14])
				oh.DTS = parsePTSOrDTS(payload[14:19])
			}
		}
		pes.Header.OptionalHeader = oh
		start = min(9+int(payload[8]), end)
	}

	pes.Data = payload[start:end]
	pes.Ranges = media.SliceRanges(segments, int64(start), int64(end-start))
	return pes, nil
}

// parsePTSOrDTS extracts a 33-bit timestamp from 5 PES timestamp bytes.
func parsePTSOrDTS(bs []byte) *ClockReference {
	if len(bs) < 5 {
		return nil
	}
	base := int64(bs[0]>>1&0x07)<<30 |
		int64(bs[1])<<22 |
		int64(bs[2]>>1&0x7F)<<15 |
		int64(bs[3])<<7 |
		int64(bs[4]>>1&0x7F)
	return &ClockReference{Base: base}
}
