package codec

// H.264 NAL unit types (ITU-T H.264 Table 7-1).
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

// H.265 NAL unit types (ITU-T H.265 Table 7-1).
const (
	HEVCNALBlaWLP    = 16
	HEVCNALCraNut    = 21
	HEVCNALVPS       = 32
	HEVCNALSPS       = 33
	HEVCNALPPS       = 34
	HEVCNALAUD       = 35
	HEVCNALSEIPrefix = 39
)

// NALUnit is one NAL unit of an Annex B byte stream.
type NALUnit struct {
	Type   byte
	Offset int    // offset of Data within the scanned buffer
	Data   []byte // NAL header and payload, without start code
}

// ParseAnnexB splits an H.264 Annex B byte stream into NAL units.
func ParseAnnexB(data []byte) []NALUnit {
	return splitAnnexB(data, 1, func(b []byte) byte { return b[0] & 0x1F })
}

// ParseAnnexBHEVC splits an H.265 Annex B byte stream into NAL units using
// the 2-byte HEVC NAL header for the type.
func ParseAnnexBHEVC(data []byte) []NALUnit {
	return splitAnnexB(data, 2, func(b []byte) byte { return HEVCNALType(b[0]) })
}

// HEVCNALType extracts the unit type from the first HEVC NAL header byte.
func HEVCNALType(b byte) byte {
	return (b >> 1) & 0x3F
}

// IsKeyframe reports whether an H.264 NAL type is an IDR slice.
func IsKeyframe(nalType byte) bool { return nalType == NALTypeIDR }

// IsHEVCKeyframe reports whether an H.265 NAL type is a random access point
// (BLA, IDR or CRA).
func IsHEVCKeyframe(nalType byte) bool {
	return nalType >= HEVCNALBlaWLP && nalType <= HEVCNALCraNut
}

// splitAnnexB recognizes both 3-byte and 4-byte start codes.
func splitAnnexB(data []byte, minLen int, typeOf func([]byte) byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type mark struct{ sc, start int }
	var marks []mark
	for i := 0; i < n-2; {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				marks = append(marks, mark{i, i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				marks = append(marks, mark{i, i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units []NALUnit
	for k, m := range marks {
		end := n
		if k+1 < len(marks) {
			end = marks[k+1].sc
		}
		if end-m.start < minLen {
			continue
		}
		nal := data[m.start:end]
		units = append(units, NALUnit{Type: typeOf(nal), Offset: m.start, Data: nal})
	}
	return units
}
