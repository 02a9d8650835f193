package codec

import (
	"fmt"
	"math/bits"
	"strings"
)

// HEVCSPSInfo is what a track descriptor needs from an H.265 sequence
// parameter set.
type HEVCSPSInfo struct {
	Width      int
	Height     int
	ProfileIDC byte
	TierFlag   byte
	LevelIDC   byte

	ProfileCompatibilityFlags uint32
	ConstraintIndicatorFlags  uint64
}

// CodecString returns the RFC 6381 codec string, e.g. "hev1.1.6.L93.B0".
func (s HEVCSPSInfo) CodecString() string {
	tier := "L"
	if s.TierFlag == 1 {
		tier = "H"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "hev1.%d.%X.%s%d", s.ProfileIDC, bits.Reverse32(s.ProfileCompatibilityFlags), tier, s.LevelIDC)

	var constraints [6]byte
	last := -1
	for i := range constraints {
		constraints[i] = byte(s.ConstraintIndicatorFlags >> uint((5-i)*8))
		if constraints[i] != 0 {
			last = i
		}
	}
	for i := 0; i <= last; i++ {
		fmt.Fprintf(&b, ".%X", constraints[i])
	}
	return b.String()
}

// ParseHEVCSPS decodes an H.265 SPS NAL unit (2-byte header included) up
// to the conformance window.
func ParseHEVCSPS(nalu []byte) (HEVCSPSInfo, error) {
	if len(nalu) < 4 {
		return HEVCSPSInfo{}, errShortRBSP
	}
	br := newBitReader(unescapeRBSP(nalu[2:]))

	br.u(4) // sps_video_parameter_set_id
	maxSubLayersMinus1 := br.u(3)
	br.u(1) // sps_temporal_id_nesting_flag

	var info HEVCSPSInfo
	readProfileTierLevel(br, &info, maxSubLayersMinus1)

	br.ue() // sps_seq_parameter_set_id
	chromaFormat := br.ue()
	if chromaFormat == 3 {
		br.u(1) // separate_colour_plane_flag
	}
	info.Width = int(br.ue())
	info.Height = int(br.ue())
	if br.err != nil {
		return HEVCSPSInfo{}, fmt.Errorf("codec: hevc SPS: %w", br.err)
	}

	if br.flag() {
		left, right, top, bottom := br.ue(), br.ue(), br.ue(), br.ue()
		if br.err == nil {
			subW, subH := uint(1), uint(1)
			switch chromaFormat {
			case 1:
				subW, subH = 2, 2
			case 2:
				subW = 2
			}
			info.Width -= int((left + right) * subW)
			info.Height -= int((top + bottom) * subH)
		}
	}
	return info, nil
}

func readProfileTierLevel(br *bitReader, info *HEVCSPSInfo, maxSubLayersMinus1 uint) {
	br.u(2) // general_profile_space
	info.TierFlag = byte(br.u(1))
	info.ProfileIDC = byte(br.u(5))
	info.ProfileCompatibilityFlags = uint32(br.u(32))
	info.ConstraintIndicatorFlags = uint64(br.u(24))<<24 | uint64(br.u(24))
	info.LevelIDC = byte(br.u(8))

	if maxSubLayersMinus1 == 0 {
		return
	}
	var profilePresent, levelPresent [8]bool
	for i := range maxSubLayersMinus1 {
		profilePresent[i] = br.flag()
		levelPresent[i] = br.flag()
	}
	for i := maxSubLayersMinus1; i < 8; i++ {
		br.u(2) // reserved_zero_2bits
	}
	for i := range maxSubLayersMinus1 {
		if profilePresent[i] {
			br.u(32)
			br.u(32)
			br.u(24)
		}
		if levelPresent[i] {
			br.u(8)
		}
	}
}
