package main

const packetSize = 188

// stamp is the byte offset of a PTS, DTS or PCR field inside a TS file.
type stamp struct {
	offset int
	isPCR  bool
}

// timeline is what a file needs to loop seamlessly: every timestamp
// location and the span of the reference stream.
type timeline struct {
	stamps   []stamp
	firstPTS int64
	lastPTS  int64
	units    int
}

// duration returns the loop length in 90 kHz ticks, one unit beyond the
// last reference timestamp.
func (tl timeline) duration() int64 {
	if tl.units < 2 || tl.lastPTS <= tl.firstPTS {
		return 0
	}
	span := tl.lastPTS - tl.firstPTS
	return span + span/int64(tl.units-1)
}

// isMediaStream reports whether a PES stream id carries audio or video:
// MPEG audio, video, or private stream 1 (LPCM and friends).
func isMediaStream(id byte) bool {
	return id == 0xBD || (id >= 0xC0 && id <= 0xEF)
}

// scanTimestamps walks the TS data and records every PTS, DTS and PCR.
// The reference stream is video if any, otherwise the first media PES
// seen.
func scanTimestamps(data []byte) timeline {
	tl := timeline{firstPTS: -1}
	var refID byte

	for off := 0; off+packetSize <= len(data); off += packetSize {
		pkt := data[off : off+packetSize]
		if pkt[0] != 0x47 {
			continue
		}

		hasAdapt := pkt[3]&0x20 != 0
		hasPayload := pkt[3]&0x10 != 0
		payloadOff := 4

		if hasAdapt {
			afLen := int(pkt[4])
			if afLen >= 7 && pkt[5]&0x10 != 0 {
				tl.stamps = append(tl.stamps, stamp{offset: off + 6, isPCR: true})
			}
			payloadOff += 1 + afLen
		}

		pusi := pkt[1]&0x40 != 0
		if !pusi || !hasPayload || payloadOff+14 > packetSize {
			continue
		}
		payload := pkt[payloadOff:]
		if payload[0] != 0 || payload[1] != 0 || payload[2] != 1 || !isMediaStream(payload[3]) {
			continue
		}

		id := payload[3]
		flags := payload[7]
		if flags&0x80 == 0 {
			continue
		}
		ptsOff := off + payloadOff + 9
		tl.stamps = append(tl.stamps, stamp{offset: ptsOff})
		if flags&0x40 != 0 && payloadOff+19 <= packetSize {
			tl.stamps = append(tl.stamps, stamp{offset: ptsOff + 5})
		}

		video := id >= 0xE0 && id <= 0xEF
		switch {
		case refID == 0, video && !(refID >= 0xE0 && refID <= 0xEF):
			refID = id
			tl.firstPTS, tl.lastPTS, tl.units = -1, 0, 0
		case id != refID:
			continue
		}
		pts := decodePTS(data[ptsOff:])
		if tl.firstPTS < 0 || pts < tl.firstPTS {
			tl.firstPTS = pts
		}
		tl.lastPTS = max(tl.lastPTS, pts)
		tl.units++
	}
	return tl
}

// shift adds delta ticks to every recorded timestamp, wrapping at 33
// bits.
func (tl timeline) shift(data []byte, delta int64) {
	for _, s := range tl.stamps {
		if s.isPCR {
			encodePCR(data[s.offset:], (decodePCR(data[s.offset:])+delta)&(1<<33-1))
		} else {
			encodePTS(data[s.offset:], (decodePTS(data[s.offset:])+delta)&(1<<33-1))
		}
	}
}

// decodePTS extracts a 33-bit PTS/DTS from the 5-byte PES encoding.
func decodePTS(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1&0x7F)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1&0x7F)
}

// encodePTS writes a 33-bit PTS/DTS, keeping the prefix nibble.
func encodePTS(b []byte, pts int64) {
	prefix := b[0] & 0xF0
	b[0] = prefix | byte((pts>>29)&0x0E) | 0x01
	b[1] = byte(pts >> 22)
	b[2] = byte((pts>>14)&0xFE) | 0x01
	b[3] = byte(pts >> 7)
	b[4] = byte((pts<<1)&0xFE) | 0x01
}

// decodePCR extracts the 33-bit PCR base; the extension is ignored.
func decodePCR(b []byte) int64 {
	return int64(b[0])<<25 |
		int64(b[1])<<17 |
		int64(b[2])<<9 |
		int64(b[3])<<1 |
		int64(b[4]>>7)
}

// encodePCR writes a 33-bit PCR base, keeping the 9-bit extension.
func encodePCR(b []byte, base int64) {
	ext := uint16(b[4]&0x01)<<8 | uint16(b[5])
	b[0] = byte(base >> 25)
	b[1] = byte(base >> 17)
	b[2] = byte(base >> 9)
	b[3] = byte(base >> 1)
	b[4] = byte((base&1)<<7) | 0x7E | byte(ext>>8)
	b[5] = byte(ext)
}
