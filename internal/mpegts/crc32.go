package mpegts

import "errors"

var errCRC = errors.New("mpegts: section CRC32 mismatch")

// crcTable drives CRC32 for the MPEG-2 polynomial 0x04C11DB7, MSB first.
var crcTable = func() (t [256]uint32) {
	for i := range t {
		c := uint32(i) << 24
		for range 8 {
			c = c<<1 ^ 0x04C11DB7&-(c>>31)
		}
		t[i] = c
	}
	return t
}()

// CRC32 computes the CRC carried at the end of PSI and private sections.
// Running it over a section including its CRC trailer yields zero.
func CRC32(data []byte) uint32 {
	crc := ^uint32(0)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// verifyCRC32 checks a section whose last four bytes are its CRC.
func verifyCRC32(section []byte) error {
	if len(section) < 4 || CRC32(section) != 0 {
		return errCRC
	}
	return nil
}
