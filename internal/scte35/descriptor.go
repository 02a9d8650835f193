package scte35

const (
	segmentationDescriptorTag = 0x02
	cueIdentifier             = 0x43554549 // "CUEI"
)

// Segmentation is a decoded segmentation_descriptor.
type Segmentation struct {
	EventID          uint32
	Cancel           bool
	TypeID           uint8
	Duration         *uint64 // 90 kHz ticks
	UPIDType         uint8
	UPID             []byte
	SegmentNum       uint8
	SegmentsExpected uint8
}

var segmentationTypes = map[uint8]string{
	0x00: "Not Indicated",
	0x01: "Content Identification",
	0x10: "Program Start",
	0x11: "Program End",
	0x12: "Program Early Termination",
	0x13: "Program Breakaway",
	0x14: "Program Resumption",
	0x17: "Program Overlap Start",
	0x20: "Chapter Start",
	0x21: "Chapter End",
	0x22: "Break Start",
	0x23: "Break End",
	0x30: "Provider Advertisement Start",
	0x31: "Provider Advertisement End",
	0x32: "Distributor Advertisement Start",
	0x33: "Distributor Advertisement End",
	0x34: "Provider Placement Opportunity Start",
	0x35: "Provider Placement Opportunity End",
	0x36: "Distributor Placement Opportunity Start",
	0x37: "Distributor Placement Opportunity End",
	0x40: "Unscheduled Event Start",
	0x41: "Unscheduled Event End",
	0x50: "Network Start",
	0x51: "Network End",
}

// TypeName returns the name of the segmentation type, or "Unknown".
func (s Segmentation) TypeName() string {
	if name, ok := segmentationTypes[s.TypeID]; ok {
		return name
	}
	return "Unknown"
}

// decodeDescriptors walks a splice descriptor loop and returns the
// segmentation descriptors. Other descriptors are skipped.
func decodeDescriptors(b []byte) ([]Segmentation, error) {
	var segs []Segmentation
	for len(b) >= 2 {
		tag, n := b[0], int(b[1])
		if 2+n > len(b) {
			return segs, errTruncated
		}
		body := b[2 : 2+n]
		b = b[2+n:]

		if tag != segmentationDescriptorTag || n < 4 {
			continue
		}
		if uint32(body[0])<<24|uint32(body[1])<<16|uint32(body[2])<<8|uint32(body[3]) != cueIdentifier {
			continue
		}
		seg, err := decodeSegmentation(body[4:])
		if err != nil {
			return segs, err
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func decodeSegmentation(b []byte) (Segmentation, error) {
	r := newReader(b)
	var s Segmentation
	s.EventID = uint32(r.bits(32))
	s.Cancel = r.flag()
	r.skip(7) // event_id_compliance_indicator, reserved
	if s.Cancel {
		return s, r.err
	}

	programSegmentation := r.flag()
	hasDuration := r.flag()
	r.skip(6) // delivery_not_restricted and restriction flags or reserved

	if !programSegmentation {
		components := int(r.bits(8))
		r.skip(components * 48) // component_tag, reserved, pts_offset
	}
	if hasDuration {
		d := r.bits(40)
		s.Duration = &d
	}
	s.UPIDType = uint8(r.bits(8))
	s.UPID = r.bytes(int(r.bits(8)))
	s.TypeID = uint8(r.bits(8))
	s.SegmentNum = uint8(r.bits(8))
	s.SegmentsExpected = uint8(r.bits(8))
	return s, r.err
}
