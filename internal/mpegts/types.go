// Package mpegts demultiplexes an MPEG transport stream held in a
// random-access byte source. It discovers programs through PAT/PMT,
// reassembles PES packets with PTS/DTS, and records where every byte of an
// elementary-stream payload lives in the source so samples can be re-read
// by range later.
package mpegts

import "github.com/zsiec/formatreader/internal/media"

// Packet is one parsed transport stream packet.
type Packet struct {
	Header PacketHeader

	// Offset is the position of the sync byte in the byte source.
	Offset int64

	// Payload is a copy of the packet payload; PayloadOffset is where it
	// starts in the byte source.
	Payload       []byte
	PayloadOffset int64
}

// PacketHeader contains the parsed header fields of a transport stream packet.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
	RandomAccessIndicator     bool
}

// DemuxerData is one logical unit produced by the demuxer. Exactly one of
// PAT, PMT, PES or Section is set.
type DemuxerData struct {
	FirstPacket *Packet
	PAT         *PATData
	PMT         *PMTData
	PES         *PESData
	Section     *SectionData
}

// SectionData is a private section passed through undecoded, such as an
// SCTE-35 splice_info_section.
type SectionData struct {
	TableID uint8

	// Data is the complete section from table_id through CRC.
	Data []byte

	// Ranges locate Data in the byte source.
	Ranges []media.ByteRange
}

// PATData is a parsed Program Association Table.
type PATData struct {
	TransportStreamID uint16
	Programs          []*PATProgram
}

// PATProgram maps a program number to its PMT PID.
type PATProgram struct {
	ProgramMapID  uint16
	ProgramNumber uint16
}

// PMTData is a parsed Program Map Table.
type PMTData struct {
	ProgramNumber     uint16
	PCRPID            uint16
	ElementaryStreams []*PMTElementaryStream
}

// PMTElementaryStream describes one elementary stream of a program.
type PMTElementaryStream struct {
	ElementaryPID uint16
	StreamType    uint8

	// Language is the ISO 639 code from an ISO_639_language_descriptor,
	// empty when the stream carries none.
	Language string

	// Registration is the format identifier from a registration
	// descriptor, e.g. "HEVC" or "AC-3".
	Registration string

	// Subtitles is set when a DVB teletext or subtitling descriptor is
	// present on a private-data stream.
	Subtitles bool
}

// PESData is a reassembled Packetized Elementary Stream packet.
type PESData struct {
	Header *PESHeader

	// Data is the elementary-stream payload following the PES header.
	Data []byte

	// Ranges locate Data in the byte source, one range per run of
	// contiguous packet payload.
	Ranges []media.ByteRange

	// RandomAccess is set when the first transport packet of this PES
	// signaled random_access_indicator.
	RandomAccess bool
}

// PESHeader contains the parsed PES packet header.
type PESHeader struct {
	OptionalHeader *PESOptionalHeader
	StreamID       uint8
	PacketLength   int
}

// PESOptionalHeader carries the optional PES timestamps.
type PESOptionalHeader struct {
	PTS *ClockReference
	DTS *ClockReference
}

// ClockReference holds a 33-bit timestamp on the 90 kHz clock.
type ClockReference struct {
	Base int64
}

// Time converts the timestamp to media time.
func (c *ClockReference) Time() media.Time {
	if c == nil {
		return media.InvalidTime()
	}
	return media.NewTime(c.Base, media.MPEGTimescale)
}

// Stream types recognized by the format reader.
const (
	StreamTypeMPEG1Audio  = 0x03
	StreamTypeMPEG2Audio  = 0x04
	StreamTypePrivateData = 0x06
	StreamTypeAAC         = 0x0F
	StreamTypeMetadata    = 0x15
	StreamTypeH264        = 0x1B
	StreamTypeH265        = 0x24
	StreamTypeAC3         = 0x81
	StreamTypeSCTE35      = 0x86
	StreamTypeEAC3        = 0x87
)
