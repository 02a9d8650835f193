package codec

import (
	"errors"
	"fmt"
)

// ErrInvalidADTS is returned when an ADTS header carries an out-of-range
// sampling frequency index.
var ErrInvalidADTS = errors.New("codec: invalid ADTS header")

// ISO 14496-3 sampling frequency table.
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// SamplesPerAACFrame is the number of PCM samples one AAC frame decodes to.
const SamplesPerAACFrame = 1024

// ADTSFrame locates one AAC frame inside an ADTS byte stream.
type ADTSFrame struct {
	Offset     int // start of the ADTS header within the scanned buffer
	Length     int // header plus payload
	ObjectType int // MPEG-4 audio object type (profile + 1)
	SampleRate int
	Channels   int
}

// CodecString returns the RFC 6381 codec string, e.g. "mp4a.40.2".
func (f ADTSFrame) CodecString() string {
	return fmt.Sprintf("mp4a.40.%d", f.ObjectType)
}

// ParseADTS splits an ADTS byte stream into frames, resynchronizing on the
// 0xFFF sync word after garbage. A truncated trailing frame is dropped.
func ParseADTS(data []byte) ([]ADTSFrame, error) {
	var frames []ADTSFrame
	off := 0
	for len(data)-off >= 7 {
		h := data[off:]
		if h[0] != 0xFF || h[1]&0xF0 != 0xF0 {
			off++
			continue
		}

		headerLen := 7
		if h[1]&0x01 == 0 {
			headerLen = 9 // CRC present
		}
		rateIdx := int(h[2]>>2) & 0x0F
		if rateIdx >= len(aacSampleRates) {
			return frames, ErrInvalidADTS
		}
		frameLen := int(h[3]&0x03)<<11 | int(h[4])<<3 | int(h[5]>>5)
		if frameLen < headerLen || off+frameLen > len(data) {
			break
		}

		frames = append(frames, ADTSFrame{
			Offset:     off,
			Length:     frameLen,
			ObjectType: int(h[2]>>6) + 1,
			SampleRate: aacSampleRates[rateIdx],
			Channels:   int(h[2]&0x01)<<2 | int(h[3]>>6),
		})
		off += frameLen
	}
	return frames, nil
}
