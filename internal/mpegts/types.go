// Package mpegts parses and writes MPEG transport streams. The demuxer
// discovers programs from the PAT and PMT (including elementary stream
// descriptors) and reassembles PES packets with their PTS/DTS. The muxer
// writes a single-program stream and is used by ingest tooling and tests.
package mpegts

// Stream types carried in the PMT.
const (
	StreamTypeMPEG1Video uint8 = 0x01
	StreamTypeMPEG2Video uint8 = 0x02
	StreamTypeMPEG1Audio uint8 = 0x03
	StreamTypeMPEG2Audio uint8 = 0x04
	StreamTypePrivatePES uint8 = 0x06
	StreamTypeAAC        uint8 = 0x0F
	StreamTypeH264       uint8 = 0x1B
	StreamTypeH265       uint8 = 0x24
	StreamTypeHDMVLPCM   uint8 = 0x80
	StreamTypeAC3        uint8 = 0x81
)

// Descriptor tags used when classifying streams.
const (
	DescriptorRegistration uint8 = 0x05
	DescriptorISO639       uint8 = 0x0A
)

// Packet is a parsed 188-byte transport stream packet.
type Packet struct {
	Header  PacketHeader
	Payload []byte
}

// PacketHeader holds the transport packet header and the adaptation field
// flags the demuxer cares about.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
	RandomAccessIndicator     bool
}

// DemuxerData is one unit produced by the demuxer. Exactly one of PAT,
// PMT or PES is set.
type DemuxerData struct {
	FirstPacket *Packet
	PAT         *PATData
	PMT         *PMTData
	PES         *PESData
}

// PATData is a parsed Program Association Table.
type PATData struct {
	Programs []*PATProgram
}

// PATProgram maps a program number to the PID of its PMT.
type PATProgram struct {
	ProgramNumber uint16
	ProgramMapID  uint16
}

// PMTData is a parsed Program Map Table.
type PMTData struct {
	ProgramNumber     uint16
	PCRPID            uint16
	ElementaryStreams []*PMTElementaryStream
}

// PMTElementaryStream is one elementary stream entry of a PMT.
type PMTElementaryStream struct {
	ElementaryPID uint16
	StreamType    uint8
	Descriptors   []Descriptor
}

// Registration returns the format_identifier of the stream's registration
// descriptor, or "" when it has none.
func (es *PMTElementaryStream) Registration() string {
	for _, d := range es.Descriptors {
		if d.Tag == DescriptorRegistration && len(d.Data) >= 4 {
			return string(d.Data[:4])
		}
	}
	return ""
}

// Language returns the ISO 639 language code of the stream, or "".
func (es *PMTElementaryStream) Language() string {
	for _, d := range es.Descriptors {
		if d.Tag == DescriptorISO639 && len(d.Data) >= 3 {
			return string(d.Data[:3])
		}
	}
	return ""
}

// Descriptor is a raw tag/length/value descriptor.
type Descriptor struct {
	Tag  uint8
	Data []byte
}

// PESData is a reassembled Packetized Elementary Stream packet.
type PESData struct {
	Data   []byte
	Header *PESHeader
}

// PESHeader is the fixed PES header plus the optional header when present.
type PESHeader struct {
	OptionalHeader *PESOptionalHeader
	StreamID       uint8
}

// PESOptionalHeader carries the timestamps of a PES packet.
type PESOptionalHeader struct {
	PTS *ClockReference
	DTS *ClockReference
}

// ClockReference is a 33-bit timestamp on the 90 kHz system clock.
type ClockReference struct {
	Base int64
}
