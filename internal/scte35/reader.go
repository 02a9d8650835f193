package scte35

import (
	"fmt"

	"github.com/zsiec/formatreader/internal/mpegts"
)

// reader reads MSB-first bit fields. Reading past the end sets err and
// yields zeros.
type reader struct {
	b   []byte
	pos int // bit position
	err error
}

func newReader(b []byte) *reader {
	return &reader{b: b}
}

func (r *reader) bits(n int) uint64 {
	if r.err != nil {
		return 0
	}
	if r.pos+n > len(r.b)*8 {
		r.err = errTruncated
		return 0
	}
	var v uint64
	for range n {
		v = v<<1 | uint64(r.b[r.pos/8]>>(7-r.pos%8)&1)
		r.pos++
	}
	return v
}

func (r *reader) flag() bool { return r.bits(1) == 1 }

func (r *reader) skip(n int) {
	if r.err == nil && r.pos+n > len(r.b)*8 {
		r.err = errTruncated
		return
	}
	r.pos += n
}

// bytes returns the next n whole bytes. The reader must be byte aligned.
func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	start := r.pos / 8
	if r.pos%8 != 0 || start+n > len(r.b) {
		r.err = errTruncated
		return nil
	}
	r.pos += n * 8
	return r.b[start : start+n]
}

// spliceTime reads a splice_time() structure.
func (r *reader) spliceTime() *uint64 {
	if !r.flag() {
		r.skip(7)
		return nil
	}
	r.skip(6)
	pts := r.bits(33)
	return &pts
}

func verifyCRC(section []byte) error {
	n := len(section) - 4
	stored := uint32(section[n])<<24 | uint32(section[n+1])<<16 | uint32(section[n+2])<<8 | uint32(section[n+3])
	if got := mpegts.CRC32(section[:n]); got != stored {
		return fmt.Errorf("scte35: CRC mismatch: computed 0x%08X, stored 0x%08X", got, stored)
	}
	return nil
}
