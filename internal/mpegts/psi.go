package mpegts

import "fmt"

const (
	pidPAT     uint16 = 0x0000
	tableIDPAT        = 0x00
	tableIDPMT        = 0x02
)

// sectionBounds returns the length of the long-form section at the start
// of b. ok is false for stuffing or zero padding.
func sectionBounds(b []byte) (end int, ok bool) {
	if len(b) < 3 || b[0] == 0xFF || b[1]&0x80 == 0 {
		return 0, false
	}
	return 3 + (int(b[1]&0x0F)<<8 | int(b[2])), true
}

func parsePSI(payload []byte, firstPacket *Packet) ([]*DemuxerData, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("mpegts: empty PSI payload")
	}
	off := 1 + int(payload[0])
	if off >= len(payload) {
		return nil, fmt.Errorf("mpegts: PSI pointer field out of range")
	}

	var out []*DemuxerData
	for off < len(payload) {
		n, ok := sectionBounds(payload[off:])
		if !ok || off+n > len(payload) {
			break
		}
		section := payload[off : off+n]
		off += n

		switch section[0] {
		case tableIDPAT:
			pat, err := parsePAT(section)
			if err != nil {
				return out, err
			}
			out = append(out, &DemuxerData{FirstPacket: firstPacket, PAT: pat})
		case tableIDPMT:
			pmt, err := parsePMT(section)
			if err != nil {
				return out, err
			}
			out = append(out, &DemuxerData{FirstPacket: firstPacket, PMT: pmt})
		}
	}
	return out, nil
}

// parsePAT decodes a PAT section. Entries start after the 8-byte long
// section header and stop before the CRC.
func parsePAT(s []byte) (*PATData, error) {
	if len(s) < 12 {
		return nil, fmt.Errorf("mpegts: PAT too short")
	}
	if err := verifyCRC32(s); err != nil {
		return nil, fmt.Errorf("mpegts: PAT %w", err)
	}

	pat := &PATData{}
	for i := 8; i+4 <= len(s)-4; i += 4 {
		num := uint16(s[i])<<8 | uint16(s[i+1])
		pid := uint16(s[i+2]&0x1F)<<8 | uint16(s[i+3])
		if num == 0 {
			continue // network PID
		}
		pat.Programs = append(pat.Programs, &PATProgram{ProgramNumber: num, ProgramMapID: pid})
	}
	return pat, nil
}

// parsePMT decodes a PMT section including each stream's descriptors.
func parsePMT(s []byte) (*PMTData, error) {
	if len(s) < 16 {
		return nil, fmt.Errorf("mpegts: PMT too short")
	}
	if err := verifyCRC32(s); err != nil {
		return nil, fmt.Errorf("mpegts: PMT %w", err)
	}

	pmt := &PMTData{
		ProgramNumber: uint16(s[3])<<8 | uint16(s[4]),
		PCRPID:        uint16(s[8]&0x1F)<<8 | uint16(s[9]),
	}
	end := len(s) - 4
	off := 12 + (int(s[10]&0x0F)<<8 | int(s[11]))

	for off+5 <= end {
		es := &PMTElementaryStream{
			StreamType:    s[off],
			ElementaryPID: uint16(s[off+1]&0x1F)<<8 | uint16(s[off+2]),
		}
		infoLen := int(s[off+3]&0x0F)<<8 | int(s[off+4])
		off += 5
		if off+infoLen > end {
			return nil, fmt.Errorf("mpegts: PMT ES info overruns section")
		}
		es.Descriptors = parseDescriptors(s[off : off+infoLen])
		off += infoLen
		pmt.ElementaryStreams = append(pmt.ElementaryStreams, es)
	}
	return pmt, nil
}

func parseDescriptors(b []byte) []Descriptor {
	var out []Descriptor
	for len(b) >= 2 {
		n := int(b[1])
		if 2+n > len(b) {
			break
		}
		out = append(out, Descriptor{Tag: b[0], Data: append([]byte(nil), b[2:2+n]...)})
		b = b[2+n:]
	}
	return out
}
