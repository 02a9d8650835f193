// Package scte35 decodes SCTE-35 splice_info_section tables carried on a
// transport stream splice PID. Decoding covers splice_null, splice_insert
// and time_signal commands and the segmentation descriptor; other commands
// decode to their type only.
package scte35

import (
	"errors"
	"fmt"
)

// TableID is the table_id of a splice_info_section.
const TableID = 0xFC

// ptsMask wraps a 33-bit presentation time.
const ptsMask = 1<<33 - 1

var (
	// ErrNotSpliceInfo is returned for a section with another table_id.
	ErrNotSpliceInfo = errors.New("scte35: not a splice_info_section")

	// ErrEncrypted is returned for sections with encrypted_packet set.
	ErrEncrypted = errors.New("scte35: encrypted sections are not supported")

	errTruncated = errors.New("scte35: section truncated")
)

// CommandType is a splice_command_type.
type CommandType uint8

// Splice command types.
const (
	SpliceNull           CommandType = 0x00
	SpliceSchedule       CommandType = 0x04
	SpliceInsert         CommandType = 0x05
	TimeSignal           CommandType = 0x06
	BandwidthReservation CommandType = 0x07
	PrivateCommand       CommandType = 0xFF
)

func (t CommandType) String() string {
	switch t {
	case SpliceNull:
		return "splice_null"
	case SpliceSchedule:
		return "splice_schedule"
	case SpliceInsert:
		return "splice_insert"
	case TimeSignal:
		return "time_signal"
	case BandwidthReservation:
		return "bandwidth_reservation"
	case PrivateCommand:
		return "private_command"
	}
	return fmt.Sprintf("command(0x%02X)", uint8(t))
}

// Cue is a decoded splice_info_section. Times are 90 kHz ticks.
type Cue struct {
	SAPType       uint8
	PTSAdjustment uint64
	Tier          uint16
	Command       CommandType

	// splice_insert fields.
	EventID         uint32
	Cancel          bool
	OutOfNetwork    bool
	Immediate       bool
	UniqueProgramID uint16
	AvailNum        uint8
	AvailsExpected  uint8

	// SpliceTime is the pts_time of a time_signal or of a program-level
	// splice_insert, before PTSAdjustment is applied. Nil when immediate
	// or unspecified.
	SpliceTime *uint64

	BreakDuration *uint64
	AutoReturn    bool

	Segments []Segmentation
}

// PTS returns the splice time with the PTS adjustment applied, wrapped to
// 33 bits. ok is false when the cue carries no splice time.
func (c *Cue) PTS() (pts int64, ok bool) {
	if c.SpliceTime == nil {
		return 0, false
	}
	return int64((*c.SpliceTime + c.PTSAdjustment) & ptsMask), true
}

// Decode parses one complete splice_info_section including its CRC.
func Decode(section []byte) (*Cue, error) {
	if len(section) < 3 {
		return nil, errTruncated
	}
	if section[0] != TableID {
		return nil, fmt.Errorf("%w: table_id 0x%02X", ErrNotSpliceInfo, section[0])
	}
	end := 3 + (int(section[1]&0x0F)<<8 | int(section[2]))
	if end > len(section) || end < 3+11+4 {
		return nil, errTruncated
	}
	section = section[:end]
	if err := verifyCRC(section); err != nil {
		return nil, err
	}

	body := section[:len(section)-4]
	r := newReader(body)
	r.skip(8) // table_id
	r.skip(2) // section_syntax_indicator, private_indicator
	c := &Cue{SAPType: uint8(r.bits(2))}
	r.skip(12) // section_length
	r.skip(8)  // protocol_version
	if r.flag() {
		return nil, ErrEncrypted
	}
	r.skip(6) // encryption_algorithm
	c.PTSAdjustment = r.bits(33)
	r.skip(8) // cw_index
	c.Tier = uint16(r.bits(12))
	cmdLen := int(r.bits(12))
	c.Command = CommandType(r.bits(8))
	if r.err != nil {
		return nil, r.err
	}

	cmdStart := r.pos
	switch c.Command {
	case SpliceInsert:
		c.decodeInsert(r)
	case TimeSignal:
		c.SpliceTime = r.spliceTime()
	}
	if r.err != nil {
		return nil, fmt.Errorf("scte35: decoding %s: %w", c.Command, r.err)
	}

	// 0xFFF is the legacy "unspecified" length; the command was parsed to
	// find where it ends.
	if cmdLen != 0xFFF {
		r.pos = cmdStart + cmdLen*8
	} else if c.Command != SpliceInsert && c.Command != TimeSignal && c.Command != SpliceNull {
		return c, nil
	}

	loopLen := int(r.bits(16))
	descs := r.bytes(loopLen)
	if r.err != nil {
		return nil, fmt.Errorf("scte35: descriptor loop: %w", r.err)
	}
	segs, err := decodeDescriptors(descs)
	if err != nil {
		return nil, err
	}
	c.Segments = segs
	return c, nil
}

func (c *Cue) decodeInsert(r *reader) {
	c.EventID = uint32(r.bits(32))
	c.Cancel = r.flag()
	r.skip(7)
	if c.Cancel {
		return
	}

	c.OutOfNetwork = r.flag()
	programSplice := r.flag()
	hasDuration := r.flag()
	c.Immediate = r.flag()
	r.skip(4)

	if programSplice {
		if !c.Immediate {
			c.SpliceTime = r.spliceTime()
		}
	} else {
		components := int(r.bits(8))
		for range components {
			r.skip(8) // component_tag
			if !c.Immediate {
				r.spliceTime()
			}
		}
	}

	if hasDuration {
		c.AutoReturn = r.flag()
		r.skip(6)
		d := r.bits(33)
		c.BreakDuration = &d
	}
	c.UniqueProgramID = uint16(r.bits(16))
	c.AvailNum = uint8(r.bits(8))
	c.AvailsExpected = uint8(r.bits(8))
}
