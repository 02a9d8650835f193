package mpegts

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/zsiec/formatreader/internal/media"
)

const (
	tableIDPAT        = 0x00
	tableIDPMT        = 0x02
	tableIDSpliceInfo = 0xFC

	descriptorRegistration = 0x05
	descriptorLanguage     = 0x0A
	descriptorTeletext     = 0x56
	descriptorSubtitling   = 0x59
)

// parsePSI walks the sections of a reassembled PSI payload. segments locate
// payload in the byte source.
func parsePSI(payload []byte, segments []media.ByteRange, firstPacket *Packet) ([]*DemuxerData, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("mpegts: PSI payload too short")
	}
	off := 1 + int(payload[0]) // pointer_field
	if off >= len(payload) {
		return nil, fmt.Errorf("mpegts: PSI pointer field out of range")
	}

	var results []*DemuxerData
	for off+3 <= len(payload) {
		tableID := payload[off]
		if endOfSections(tableID, payload[off+1]) {
			break
		}
		end := off + 3 + (int(payload[off+1]&0x0F)<<8 | int(payload[off+2]))
		if end > len(payload) {
			break
		}
		section := payload[off:end]

		switch tableID {
		case tableIDPAT:
			pat, err := parsePATSection(section)
			if err != nil {
				return results, err
			}
			results = append(results, &DemuxerData{FirstPacket: firstPacket, PAT: pat})
		case tableIDPMT:
			pmt, err := parsePMTSection(section)
			if err != nil {
				return results, err
			}
			results = append(results, &DemuxerData{FirstPacket: firstPacket, PMT: pmt})
		case tableIDSpliceInfo:
			results = append(results, &DemuxerData{FirstPacket: firstPacket, Section: &SectionData{
				TableID: tableID,
				Data:    bytes.Clone(section),
				Ranges:  media.SliceRanges(segments, int64(off), int64(end-off)),
			}})
		}
		off = end
	}
	return results, nil
}

// endOfSections reports whether a section starting with tableID and flags
// ends the section list. 0xFF is stuffing; a clear section_syntax_indicator
// is zero padding, except on splice_info_section which always has it clear.
func endOfSections(tableID, flags byte) bool {
	return tableID == 0xFF || (flags&0x80 == 0 && tableID != tableIDSpliceInfo)
}

// parsePATSection parses a complete PAT section including its CRC.
//
//	[0]      table_id
//	[1-2]    section_syntax_indicator, section_length
//	[3-4]    transport_stream_id
//	[5-7]    version, section_number, last_section_number
//	[8..N-4] 4-byte program entries
//	[N-4..N] CRC32
func parsePATSection(data []byte) (*PATData, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("mpegts: PAT too short")
	}
	if err := verifyCRC32(data); err != nil {
		return nil, fmt.Errorf("mpegts: PAT %w", err)
	}

	pat := &PATData{TransportStreamID: uint16(data[3])<<8 | uint16(data[4])}
	for i := 8; i+4 <= len(data)-4; i += 4 {
		number := uint16(data[i])<<8 | uint16(data[i+1])
		if number == 0 {
			continue // network PID
		}
		pat.Programs = append(pat.Programs, &PATProgram{
			ProgramNumber: number,
			ProgramMapID:  uint16(data[i+2]&0x1F)<<8 | uint16(data[i+3]),
		})
	}
	return pat, nil
}

// parsePMTSection parses a complete PMT section including its CRC.
//
//	[0-7]   common section header, program_number at [3-4]
//	[8-9]   PCR_PID
//	[10-11] program_info_length, followed by program descriptors
//	[...]   5-byte elementary stream entries, each followed by ES descriptors
//	[N-4..] CRC32
func parsePMTSection(data []byte) (*PMTData, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("mpegts: PMT too short")
	}
	if err := verifyCRC32(data); err != nil {
		return nil, fmt.Errorf("mpegts: PMT %w", err)
	}

	pmt := &PMTData{
		ProgramNumber: uint16(data[3])<<8 | uint16(data[4]),
		PCRPID:        uint16(data[8]&0x1F)<<8 | uint16(data[9]),
	}
	esEnd := len(data) - 4
	off := 12 + (int(data[10]&0x0F)<<8 | int(data[11]))
	for off+5 <= esEnd {
		es := &PMTElementaryStream{
			StreamType:    data[off],
			ElementaryPID: uint16(data[off+1]&0x1F)<<8 | uint16(data[off+2]),
		}
		infoLen := int(data[off+3]&0x0F)<<8 | int(data[off+4])
		infoEnd := min(off+5+infoLen, esEnd)
		parseESDescriptors(data[off+5:infoEnd], es)
		pmt.ElementaryStreams = append(pmt.ElementaryStreams, es)
		off = infoEnd
	}
	return pmt, nil
}

func parseESDescriptors(b []byte, es *PMTElementaryStream) {
	for len(b) >= 2 {
		tag, n := b[0], int(b[1])
		if 2+n > len(b) {
			return
		}
		body := b[2 : 2+n]
		switch tag {
		case descriptorLanguage:
			if n >= 3 {
				es.Language = strings.TrimRight(string(body[:3]), "\x00 ")
			}
		case descriptorRegistration:
			if n >= 4 {
				es.Registration = string(body[:4])
			}
		case descriptorTeletext, descriptorSubtitling:
			es.Subtitles = true
			if n >= 3 && es.Language == "" {
				es.Language = strings.TrimRight(string(body[:3]), "\x00 ")
			}
		}
		b = b[2+n:]
	}
}
