package mpegts

import (
	"encoding/binary"
	"testing"
)

type patEntry struct{ num, pid uint16 }

type pmtEntry struct {
	streamType  uint8
	pid         uint16
	descriptors []byte
}

// section finishes a PSI section: fills in section_length and appends the
// CRC32.
func section(body []byte) []byte {
	n := len(body) - 3 + 4
	body[1] = 0xB0 | byte(n>>8)&0x0F
	body[2] = byte(n)
	return binary.BigEndian.AppendUint32(body, CRC32(body))
}

func buildPAT(tsID uint16, programs []patEntry) []byte {
	b := []byte{tableIDPAT, 0, 0, byte(tsID >> 8), byte(tsID), 0xC1, 0x00, 0x00}
	for _, p := range programs {
		b = append(b, byte(p.num>>8), byte(p.num), 0xE0|byte(p.pid>>8)&0x1F, byte(p.pid))
	}
	return section(b)
}

func buildPMT(programNum, pcrPID uint16, streams []pmtEntry) []byte {
	b := []byte{
		tableIDPMT, 0, 0,
		byte(programNum >> 8), byte(programNum), 0xC1, 0x00, 0x00,
		0xE0 | byte(pcrPID>>8)&0x1F, byte(pcrPID),
		0xF0, 0x00,
	}
	for _, s := range streams {
		n := len(s.descriptors)
		b = append(b, s.streamType, 0xE0|byte(s.pid>>8)&0x1F, byte(s.pid), 0xF0|byte(n>>8)&0x0F, byte(n))
		b = append(b, s.descriptors...)
	}
	return section(b)
}

func languageDescriptor(lang string) []byte {
	return append([]byte{descriptorLanguage, 4}, lang[0], lang[1], lang[2], 0x00)
}

// psiPayload prefixes a section with a zero pointer field.
func psiPayload(sec []byte) []byte {
	return append([]byte{0x00}, sec...)
}

func TestParsePATSection(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		programs []patEntry
		want     []patEntry
	}{
		{"one program", []patEntry{{1, 0x1000}}, []patEntry{{1, 0x1000}}},
		{"two programs", []patEntry{{1, 0x100}, {2, 0x200}}, []patEntry{{1, 0x100}, {2, 0x200}}},
		{"network PID skipped", []patEntry{{0, 0x10}, {1, 0x100}}, []patEntry{{1, 0x100}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pat, err := parsePATSection(buildPAT(7, tt.programs))
			if err != nil {
				t.Fatal(err)
			}
			if pat.TransportStreamID != 7 {
				t.Errorf("transport_stream_id = %d, want 7", pat.TransportStreamID)
			}
			if len(pat.Programs) != len(tt.want) {
				t.Fatalf("got %d programs, want %d", len(pat.Programs), len(tt.want))
			}
			for i, w := range tt.want {
				if p := pat.Programs[i]; p.ProgramNumber != w.num || p.ProgramMapID != w.pid {
					t.Errorf("program %d = %d/0x%X, want %d/0x%X", i, p.ProgramNumber, p.ProgramMapID, w.num, w.pid)
				}
			}
		})
	}
}

func TestParsePMTSection(t *testing.T) {
	t.Parallel()
	data := buildPMT(1, 481, []pmtEntry{
		{streamType: StreamTypeH264, pid: 481},
		{streamType: StreamTypeAAC, pid: 494, descriptors: languageDescriptor("eng")},
		{streamType: StreamTypePrivateData, pid: 500, descriptors: append([]byte{descriptorRegistration, 4}, "ID3 "...)},
		{streamType: StreamTypePrivateData, pid: 501, descriptors: append([]byte{descriptorSubtitling, 8}, "fra\x10\x00\x01\x00\x01"...)},
	})

	pmt, err := parsePMTSection(data)
	if err != nil {
		t.Fatal(err)
	}
	if pmt.ProgramNumber != 1 || pmt.PCRPID != 481 {
		t.Errorf("program/PCR = %d/%d, want 1/481", pmt.ProgramNumber, pmt.PCRPID)
	}
	if len(pmt.ElementaryStreams) != 4 {
		t.Fatalf("got %d streams, want 4", len(pmt.ElementaryStreams))
	}
	want := []PMTElementaryStream{
		{ElementaryPID: 481, StreamType: StreamTypeH264},
		{ElementaryPID: 494, StreamType: StreamTypeAAC, Language: "eng"},
		{ElementaryPID: 500, StreamType: StreamTypePrivateData, Registration: "ID3 "},
		{ElementaryPID: 501, StreamType: StreamTypePrivateData, Language: "fra", Subtitles: true},
	}
	for i, w := range want {
		if got := *pmt.ElementaryStreams[i]; got != w {
			t.Errorf("stream %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestParseSections_BadCRC(t *testing.T) {
	t.Parallel()
	pat := buildPAT(1, []patEntry{{1, 0x100}})
	pat[len(pat)-1] ^= 0xFF
	if _, err := parsePATSection(pat); err == nil {
		t.Error("expected PAT CRC error")
	}

	pmt := buildPMT(1, 481, []pmtEntry{{streamType: StreamTypeH264, pid: 481}})
	pmt[len(pmt)-1] ^= 0xFF
	if _, err := parsePMTSection(pmt); err == nil {
		t.Error("expected PMT CRC error")
	}
}

func TestParsePSI(t *testing.T) {
	t.Parallel()
	pat := buildPAT(1, []patEntry{{1, 0x1000}})
	pmt := buildPMT(1, 0x100, []pmtEntry{{streamType: StreamTypeH264, pid: 0x100}})

	stuffed := append(psiPayload(pat), 0xFF, 0xFF, 0xFF)
	pointer := append([]byte{0x03, 0xAA, 0xBB, 0xCC}, pat...)
	twoSections := append(psiPayload(pat), pmt...)

	tests := []struct {
		name     string
		payload  []byte
		wantPAT  int
		wantPMT  int
		wantFail bool
	}{
		{"pat", psiPayload(pat), 1, 0, false},
		{"pmt", psiPayload(pmt), 0, 1, false},
		{"stuffing ignored", stuffed, 1, 0, false},
		{"pointer field skips bytes", pointer, 1, 0, false},
		{"two sections", twoSections, 1, 1, false},
		{"pointer out of range", []byte{0x10, 0x00}, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			results, err := parsePSI(tt.payload, nil, &Packet{})
			if (err != nil) != tt.wantFail {
				t.Fatalf("parsePSI error = %v, wantFail %v", err, tt.wantFail)
			}
			var pats, pmts int
			for _, r := range results {
				if r.PAT != nil {
					pats++
				}
				if r.PMT != nil {
					pmts++
				}
			}
			if pats != tt.wantPAT || pmts != tt.wantPMT {
				t.Errorf("got %d PAT / %d PMT, want %d / %d", pats, pmts, tt.wantPAT, tt.wantPMT)
			}
		})
	}
}
