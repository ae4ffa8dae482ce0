package mpegts

import (
	"fmt"
	"io"
)

// MuxStream describes one elementary stream written by a Muxer.
type MuxStream struct {
	PID          uint16
	StreamType   uint8
	StreamID     uint8  // PES stream_id, e.g. 0xE0 video, 0xC0 audio, 0xBD private
	Registration string // optional 4-character registration descriptor
}

// Muxer writes a single-program transport stream. PAT and PMT are written
// before the first PES and again every TableInterval PES packets.
type Muxer struct {
	w       io.Writer
	streams []MuxStream
	pmtPID  uint16
	cc      map[uint16]uint8
	count   int

	// TableInterval is how many PES packets are written between table
	// repeats. Zero writes the tables only once.
	TableInterval int
}

// NewMuxer returns a muxer for program 1 with its PMT on pmtPID. The first
// stream carries the PCR.
func NewMuxer(w io.Writer, pmtPID uint16, streams ...MuxStream) *Muxer {
	return &Muxer{
		w:       w,
		streams: streams,
		pmtPID:  pmtPID,
		cc:      make(map[uint16]uint8),
	}
}

// WritePES writes one PES packet for the stream on pid. A negative pts
// writes the packet without a timestamp.
func (m *Muxer) WritePES(pid uint16, pts int64, data []byte) error {
	var st *MuxStream
	for i := range m.streams {
		if m.streams[i].PID == pid {
			st = &m.streams[i]
		}
	}
	if st == nil {
		return fmt.Errorf("mpegts: no stream on PID 0x%04X", pid)
	}

	if m.count == 0 || (m.TableInterval > 0 && m.count%m.TableInterval == 0) {
		if err := m.writeTables(); err != nil {
			return err
		}
	}
	m.count++

	return m.writePayload(pid, buildPES(st.StreamID, pts, data))
}

func (m *Muxer) writeTables() error {
	if err := m.writePayload(pidPAT, append([]byte{0}, m.pat()...)); err != nil {
		return err
	}
	return m.writePayload(m.pmtPID, append([]byte{0}, m.pmt()...))
}

func (m *Muxer) pat() []byte {
	const sectionLength = 5 + 4 + 4
	s := []byte{
		tableIDPAT, 0xB0, sectionLength,
		0x00, 0x01, // transport_stream_id
		0xC1, 0x00, 0x00,
		0x00, 0x01, // program 1
		0xE0 | byte(m.pmtPID>>8)&0x1F, byte(m.pmtPID),
	}
	return appendCRC32(s)
}

func (m *Muxer) pmt() []byte {
	var es []byte
	for _, st := range m.streams {
		var desc []byte
		if st.Registration != "" {
			desc = append(desc, DescriptorRegistration, 4)
			desc = append(desc, []byte(fmt.Sprintf("%-4.4s", st.Registration))...)
		}
		es = append(es,
			st.StreamType,
			0xE0|byte(st.PID>>8)&0x1F, byte(st.PID),
			0xF0|byte(len(desc)>>8)&0x0F, byte(len(desc)),
		)
		es = append(es, desc...)
	}

	var pcr uint16 = 0x1FFF
	if len(m.streams) > 0 {
		pcr = m.streams[0].PID
	}
	sectionLength := 9 + len(es) + 4
	s := []byte{
		tableIDPMT, 0xB0 | byte(sectionLength>>8)&0x0F, byte(sectionLength),
		0x00, 0x01, // program_number
		0xC1, 0x00, 0x00,
		0xE0 | byte(pcr>>8)&0x1F, byte(pcr),
		0xF0, 0x00, // no program descriptors
	}
	s = append(s, es...)
	return appendCRC32(s)
}

// writePayload splits payload over as many packets as needed, padding the
// last one with an adaptation field.
func (m *Muxer) writePayload(pid uint16, payload []byte) error {
	first := true
	for len(payload) > 0 {
		var pkt [packetSize]byte
		pkt[0] = syncByte
		pkt[1] = byte(pid>>8) & 0x1F
		if first {
			pkt[1] |= 0x40
			first = false
		}
		pkt[2] = byte(pid)
		cc := m.cc[pid]
		m.cc[pid] = (cc + 1) & 0x0F
		pkt[3] = 0x10 | cc

		room := packetSize - 4
		n := min(len(payload), room)
		if pad := room - n; pad > 0 {
			pkt[3] |= 0x20
			pkt[4] = byte(pad - 1)
			if pad > 1 {
				pkt[5] = 0x00
				for i := 6; i < 4+pad; i++ {
					pkt[i] = 0xFF
				}
			}
			copy(pkt[4+pad:], payload[:n])
		} else {
			copy(pkt[4:], payload[:n])
		}
		payload = payload[n:]

		if _, err := m.w.Write(pkt[:]); err != nil {
			return err
		}
	}
	return nil
}

func buildPES(streamID uint8, pts int64, data []byte) []byte {
	var hdr []byte
	flags := byte(0)
	if pts >= 0 {
		flags = 0x80
		hdr = appendTimestamp(hdr, 0x2, pts)
	}

	length := 3 + len(hdr) + len(data)
	if length > 0xFFFF {
		length = 0
	}
	out := make([]byte, 0, 9+len(hdr)+len(data))
	out = append(out, 0x00, 0x00, 0x01, streamID, byte(length>>8), byte(length))
	out = append(out, 0x80, flags, byte(len(hdr)))
	out = append(out, hdr...)
	return append(out, data...)
}
