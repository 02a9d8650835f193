package codec

import (
	"errors"
	"testing"
)

// buildADTS returns one ADTS frame (no CRC) carrying payload.
func buildADTS(objectType, rateIdx, channels int, payload []byte) []byte {
	frameLen := 7 + len(payload)
	h := []byte{
		0xFF,
		0xF1,
		byte((objectType-1)<<6 | rateIdx<<2 | channels>>2&0x01),
		byte(channels&0x03<<6 | frameLen>>11&0x03),
		byte(frameLen >> 3),
		byte(frameLen&0x07<<5 | 0x1F),
		0xFC,
	}
	return append(h, payload...)
}

func TestParseAnnexB(t *testing.T) {
	t.Parallel()
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x09, 0xF0, // AUD
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xE0, 0x1E, // SPS
		0x00, 0x00, 0x01, 0x68, 0xCE, 0x38, 0x80, // PPS, 3-byte start code
		0x00, 0x00, 0x01, 0x65, 0x88, 0x84, // IDR
	}
	nalus := ParseAnnexB(data)

	wantTypes := []byte{NALTypeAUD, NALTypeSPS, NALTypePPS, NALTypeIDR}
	wantOffsets := []int{4, 10, 17, 24}
	if len(nalus) != len(wantTypes) {
		t.Fatalf("got %d NAL units, want %d", len(nalus), len(wantTypes))
	}
	for i, n := range nalus {
		if n.Type != wantTypes[i] {
			t.Errorf("nalu[%d] type = %d, want %d", i, n.Type, wantTypes[i])
		}
		if n.Offset != wantOffsets[i] {
			t.Errorf("nalu[%d] offset = %d, want %d", i, n.Offset, wantOffsets[i])
		}
	}
	if !IsKeyframe(nalus[3].Type) || IsKeyframe(nalus[1].Type) {
		t.Error("only the IDR slice is a keyframe")
	}
	if got := ParseAnnexB([]byte{0x00, 0x01}); got != nil {
		t.Errorf("short input = %v, want nil", got)
	}
}

func TestParseAnnexBHEVC(t *testing.T) {
	t.Parallel()
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x40, 0x01, 0x0C, // VPS
		0x00, 0x00, 0x00, 0x01, 0x42, 0x01, 0x01, // SPS
		0x00, 0x00, 0x00, 0x01, 0x26, 0x01, 0xAF, // IDR_W_RADL
	}
	nalus := ParseAnnexBHEVC(data)
	wantTypes := []byte{HEVCNALVPS, HEVCNALSPS, 19}
	if len(nalus) != len(wantTypes) {
		t.Fatalf("got %d NAL units, want %d", len(nalus), len(wantTypes))
	}
	for i, n := range nalus {
		if n.Type != wantTypes[i] {
			t.Errorf("nalu[%d] type = %d, want %d", i, n.Type, wantTypes[i])
		}
	}
	if !IsHEVCKeyframe(nalus[2].Type) {
		t.Error("IDR_W_RADL should be a keyframe")
	}
}

func TestParseSPS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		sps    []byte
		width  int
		height int
		codec  string
	}{
		{
			name: "720p high",
			sps: []byte{
				0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
				0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
				0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
				0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
			},
			width: 1280, height: 720, codec: "avc1.64001F",
		},
		{
			name: "256x192 main",
			sps: []byte{
				0x67, 0x4d, 0x40, 0x1f, 0xb9, 0x08, 0x08, 0x0c,
				0xd8, 0x0b, 0x50, 0x10, 0x10, 0x14, 0x00, 0x00,
				0x0f, 0xa4, 0x00, 0x02, 0xee, 0x03, 0x81, 0x80,
				0x04, 0x93, 0xc0, 0x02, 0x49, 0xe8, 0xa0, 0xc0,
				0x3a, 0x8e, 0x18, 0xc9,
			},
			width: 256, height: 192, codec: "avc1.4D401F",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			info, err := ParseSPS(tt.sps)
			if err != nil {
				t.Fatalf("ParseSPS: %v", err)
			}
			if info.Width != tt.width || info.Height != tt.height {
				t.Errorf("size = %dx%d, want %dx%d", info.Width, info.Height, tt.width, tt.height)
			}
			if got := info.CodecString(); got != tt.codec {
				t.Errorf("CodecString() = %q, want %q", got, tt.codec)
			}
		})
	}
}

func TestParseSPS_Truncated(t *testing.T) {
	t.Parallel()
	if _, err := ParseSPS([]byte{0x67, 0x64, 0x00}); err == nil {
		t.Error("expected error for 3-byte SPS")
	}
	if _, err := ParseSPS([]byte{0x67, 0x64, 0x00, 0x1f, 0xac}); !errors.Is(err, errShortRBSP) {
		t.Errorf("ParseSPS = %v, want errShortRBSP", err)
	}
}

func TestParseHEVCSPS(t *testing.T) {
	t.Parallel()
	// Main profile, 320x240, level 3.1.
	sps := []byte{
		0x42, 0x01,
		0x01,
		0x01,
		0x40, 0x00, 0x00, 0x00,
		0xB0, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x5D,
		0xA0, 0x0A, 0x08, 0x0F, 0x10,
	}
	info, err := ParseHEVCSPS(sps)
	if err != nil {
		t.Fatalf("ParseHEVCSPS: %v", err)
	}
	if info.Width != 320 || info.Height != 240 {
		t.Errorf("size = %dx%d, want 320x240", info.Width, info.Height)
	}
	if info.ProfileIDC != 1 || info.TierFlag != 0 || info.LevelIDC != 93 {
		t.Errorf("profile/tier/level = %d/%d/%d", info.ProfileIDC, info.TierFlag, info.LevelIDC)
	}
	if got := info.CodecString(); got != "hev1.1.2.L93.B0" {
		t.Errorf("CodecString() = %q", got)
	}
}

func TestHEVCSPSInfo_CodecStringHighTier(t *testing.T) {
	t.Parallel()
	info := HEVCSPSInfo{ProfileIDC: 2, TierFlag: 1, LevelIDC: 120, ProfileCompatibilityFlags: 0x20000000}
	if got := info.CodecString(); got != "hev1.2.4.H120" {
		t.Errorf("CodecString() = %q, want hev1.2.4.H120", got)
	}
}

func TestParseADTS(t *testing.T) {
	t.Parallel()
	first := buildADTS(2, 3, 2, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	second := buildADTS(2, 3, 2, []byte{0xCA, 0xFE})
	data := append([]byte{0x00, 0x11}, first...) // leading garbage
	data = append(data, second...)
	data = append(data, 0xFF, 0xF1, 0x4C) // truncated header

	frames, err := ParseADTS(data)
	if err != nil {
		t.Fatalf("ParseADTS: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Offset != 2 || frames[0].Length != len(first) {
		t.Errorf("frame 0 at %d+%d, want 2+%d", frames[0].Offset, frames[0].Length, len(first))
	}
	if frames[1].Offset != 2+len(first) || frames[1].Length != len(second) {
		t.Errorf("frame 1 at %d+%d", frames[1].Offset, frames[1].Length)
	}
	f := frames[0]
	if f.SampleRate != 48000 || f.Channels != 2 || f.CodecString() != "mp4a.40.2" {
		t.Errorf("frame 0 = %+v (%s)", f, f.CodecString())
	}
}

func TestParseADTS_BadSampleRate(t *testing.T) {
	t.Parallel()
	frame := buildADTS(2, 3, 2, []byte{0x01})
	frame[2] = frame[2]&^0x3C | 0x0F<<2
	if _, err := ParseADTS(frame); !errors.Is(err, ErrInvalidADTS) {
		t.Errorf("ParseADTS = %v, want ErrInvalidADTS", err)
	}
}
