package mpegts

import "fmt"

func isPESPayload(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

// hasOptionalPESHeader reports whether streams with this id carry the
// optional PES header. Padding, private_stream_2, ECM, EMM, DSMCC, H.222.1
// type E and the program stream directory do not.
func hasOptionalPESHeader(streamID uint8) bool {
	switch streamID {
	case 0xBC, 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

func parsePES(payload []byte) (*PESData, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(payload))
	}
	if !isPESPayload(payload) {
		return nil, fmt.Errorf("mpegts: missing PES start code")
	}

	streamID := payload[3]
	length := int(payload[4])<<8 | int(payload[5])
	pes := &PESData{Header: &PESHeader{StreamID: streamID}}

	// A zero length means the packet runs to the next unit start.
	end := len(payload)
	if length > 0 && 6+length < end {
		end = 6 + length
	}

	if !hasOptionalPESHeader(streamID) {
		pes.Data = payload[6:end]
		return pes, nil
	}

	if len(payload) < 9 {
		return nil, fmt.Errorf("mpegts: PES optional header too short")
	}

	flags := payload[7] >> 6
	start := min(9+int(payload[8]), end)

	opt := &PESOptionalHeader{}
	switch flags {
	case 0x2:
		if len(payload) >= 14 {
			opt.PTS = parseTimestamp(payload[9:14])
		}
	case 0x3:
		if len(payload) >= 19 {
			opt.PTS = parseTimestamp(payload[9:14])
			opt.DTS = parseTimestamp(payload[14:19])
		}
	}
	pes.Header.OptionalHeader = opt
	pes.Data = payload[start:end]
	return pes, nil
}

// parseTimestamp decodes a 33-bit PTS or DTS from its 5-byte form.
func parseTimestamp(b []byte) *ClockReference {
	if len(b) < 5 {
		return nil
	}
	v := int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1)
	return &ClockReference{Base: v}
}

// appendTimestamp encodes v in the 5-byte PTS/DTS form with the given
// 4-bit prefix.
func appendTimestamp(dst []byte, prefix byte, v int64) []byte {
	return append(dst,
		prefix<<4|byte(v>>29)&0x0E|0x01,
		byte(v>>22),
		byte(v>>14)&0xFE|0x01,
		byte(v>>7),
		byte(v<<1)&0xFE|0x01,
	)
}
