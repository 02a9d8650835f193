// Package codec inspects H.264, H.265 and AAC elementary streams far enough
// to describe a track: NAL unit boundaries, keyframes, coded picture size,
// ADTS framing and the RFC 6381 codec string of each stream.
package codec

import "errors"

var errShortRBSP = errors.New("codec: parameter set too short")

// bitReader reads a big-endian bit string. The first read past the end sets
// err; later reads return zero so parsers can check err once per section.
type bitReader struct {
	data []byte
	pos  int
	bit  int
	err  error
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (br *bitReader) u(n int) uint {
	var v uint
	for range n {
		if br.err != nil {
			return 0
		}
		if br.pos >= len(br.data) {
			br.err = errShortRBSP
			return 0
		}
		v = v<<1 | uint(br.data[br.pos]>>(7-br.bit)&1)
		br.bit++
		if br.bit == 8 {
			br.bit = 0
			br.pos++
		}
	}
	return v
}

func (br *bitReader) flag() bool { return br.u(1) == 1 }

// ue reads an unsigned Exp-Golomb code.
func (br *bitReader) ue() uint {
	zeros := 0
	for br.u(1) == 0 {
		if br.err != nil {
			return 0
		}
		zeros++
		if zeros > 31 {
			br.err = errShortRBSP
			return 0
		}
	}
	return (1 << zeros) - 1 + br.u(zeros)
}

// se reads a signed Exp-Golomb code.
func (br *bitReader) se() int {
	v := br.ue()
	if v%2 == 0 {
		return -int(v / 2)
	}
	return int((v + 1) / 2)
}

func (br *bitReader) skipScalingList(size int) {
	last, next := 8, 8
	for range size {
		if next != 0 {
			next = (last + br.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

// unescapeRBSP strips emulation prevention bytes (00 00 03) from a NAL
// unit payload.
func unescapeRBSP(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
			continue
		}
		out = append(out, data[i])
	}
	return out
}
