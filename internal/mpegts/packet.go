package mpegts

import "fmt"

const (
	packetSize = 188
	syncByte   = 0x47
)

// PacketSize is the size of a transport stream packet in bytes.
const PacketSize = packetSize

func parsePacket(buf []byte) (*Packet, error) {
	if len(buf) != packetSize {
		return nil, fmt.Errorf("mpegts: packet is %d bytes, want %d", len(buf), packetSize)
	}
	if buf[0] != syncByte {
		return nil, fmt.Errorf("mpegts: bad sync byte 0x%02X", buf[0])
	}

	p := &Packet{}
	h := &p.Header
	h.TransportErrorIndicator = buf[1]&0x80 != 0
	h.PayloadUnitStartIndicator = buf[1]&0x40 != 0
	h.PID = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	h.HasAdaptationField = buf[3]&0x20 != 0
	h.HasPayload = buf[3]&0x10 != 0
	h.ContinuityCounter = buf[3] & 0x0F

	off := 4
	if h.HasAdaptationField {
		afLen := int(buf[off])
		if afLen > 0 {
			h.DiscontinuityIndicator = buf[off+1]&0x80 != 0
			h.RandomAccessIndicator = buf[off+1]&0x40 != 0
		}
		off = min(off+1+afLen, packetSize)
	}

	if h.HasPayload && off < packetSize {
		p.Payload = append([]byte(nil), buf[off:]...)
	}
	return p, nil
}
