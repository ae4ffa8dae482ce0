package mpegts

import (
	"encoding/binary"
	"errors"
)

var errCRC = errors.New("CRC32 mismatch")

// crcTable is the MPEG-2 CRC32 table, polynomial 0x04C11DB7, MSB first.
var crcTable = func() (t [256]uint32) {
	for i := range t {
		c := uint32(i) << 24
		for range 8 {
			if c&0x80000000 != 0 {
				c = c<<1 ^ 0x04C11DB7
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

func crc32MPEG(b []byte) uint32 {
	c := uint32(0xFFFFFFFF)
	for _, v := range b {
		c = c<<8 ^ crcTable[byte(c>>24)^v]
	}
	return c
}

// verifyCRC32 checks a section whose last four bytes are its CRC. The CRC
// over the whole section including the CRC field is zero when intact.
func verifyCRC32(section []byte) error {
	if len(section) < 4 || crc32MPEG(section) != 0 {
		return errCRC
	}
	return nil
}

func appendCRC32(section []byte) []byte {
	return binary.BigEndian.AppendUint32(section, crc32MPEG(section))
}
