package codec

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/pion/opus"

	"github.com/t0nitogp/hacktv/internal/media"
)

// OpusSampleRate is the rate of decoded Opus audio.
const OpusSampleRate = 48000

// opusMaxSamples is the longest Opus packet, 120 ms at 48 kHz.
const opusMaxSamples = 5760

// OpusPacketSamples returns the number of samples per channel at 48 kHz
// that the Opus packet encodes, read from its table-of-contents byte. It
// returns 0 for a malformed packet.
func OpusPacketSamples(p []byte) int {
	if len(p) < 1 {
		return 0
	}
	toc := p[0]
	config := int(toc >> 3)

	// Frame duration in units of 2.5 ms.
	var units int
	switch {
	case config < 12: // SILK: 10, 20, 40, 60 ms
		units = []int{4, 8, 16, 24}[config%4]
	case config < 16: // hybrid: 10, 20 ms
		units = []int{4, 8}[config%2]
	default: // CELT: 2.5, 5, 10, 20 ms
		units = []int{1, 2, 4, 8}[config%4]
	}

	var frames int
	switch toc & 0x03 {
	case 0:
		frames = 1
	case 1, 2:
		frames = 2
	default:
		if len(p) < 2 {
			return 0
		}
		frames = int(p[1] & 0x3F)
	}

	n := frames * units * OpusSampleRate / 400
	if n > opusMaxSamples {
		return 0
	}
	return n
}

type opusDecoder struct {
	log *slog.Logger
	dec opus.Decoder
	out []byte
}

func newOpus(log *slog.Logger) *opusDecoder {
	return &opusDecoder{
		log: log,
		dec: opus.NewDecoder(),
		out: make([]byte, opusMaxSamples*2*2),
	}
}

func (d *opusDecoder) decode(pkt *media.Packet) ([]*media.AudioFrame, error) {
	n := OpusPacketSamples(pkt.Data)
	if n == 0 {
		return nil, fmt.Errorf("%w: opus: malformed packet", ErrInvalidData)
	}

	bandwidth, stereo, err := d.dec.Decode(pkt.Data, d.out)
	if err != nil {
		return nil, fmt.Errorf("%w: opus: %v", ErrInvalidData, err)
	}

	channels := 1
	if stereo {
		channels = 2
	}
	count := min(n*channels, len(d.out)/2)
	samples := make([]int16, count)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(d.out[2*i:]))
	}

	d.log.Debug("opus packet", "bandwidth", bandwidth.String(), "samples", n, "stereo", stereo)
	return []*media.AudioFrame{{
		Samples:    samples,
		Channels:   channels,
		SampleRate: OpusSampleRate,
		PTS:        pkt.PTS,
	}}, nil
}

// LPCMHeader is the 4-byte header in front of every Blu-ray LPCM packet.
type LPCMHeader struct {
	PayloadSize   int
	Channels      int
	SampleRate    int
	BitsPerSample int
}

var lpcmChannels = [16]int{0, 1, 0, 2, 3, 3, 4, 4, 5, 6, 7, 8, 0, 0, 0, 0}

// ParseLPCMHeader decodes a Blu-ray LPCM packet header.
func ParseLPCMHeader(p []byte) (LPCMHeader, error) {
	if len(p) < 4 {
		return LPCMHeader{}, fmt.Errorf("%w: lpcm: short header", ErrInvalidData)
	}
	h := LPCMHeader{
		PayloadSize: int(binary.BigEndian.Uint16(p)),
		Channels:    lpcmChannels[p[2]>>4],
	}
	switch p[2] & 0x0F {
	case 1:
		h.SampleRate = 48000
	case 4:
		h.SampleRate = 96000
	case 5:
		h.SampleRate = 192000
	}
	switch p[3] >> 6 {
	case 1:
		h.BitsPerSample = 16
	case 2:
		h.BitsPerSample = 20
	case 3:
		h.BitsPerSample = 24
	}
	if h.Channels == 0 || h.SampleRate == 0 || h.BitsPerSample == 0 {
		return h, fmt.Errorf("%w: lpcm: reserved header value % x", ErrInvalidData, p[:4])
	}
	return h, nil
}

// decodeLPCM converts big-endian Blu-ray LPCM to 16-bit samples. Odd
// channel counts carry one padding channel on the wire, which is dropped.
func decodeLPCM(pkt *media.Packet) ([]*media.AudioFrame, error) {
	h, err := ParseLPCMHeader(pkt.Data)
	if err != nil {
		return nil, err
	}
	data := pkt.Data[4:]

	stored := h.Channels + h.Channels%2
	width := 2
	if h.BitsPerSample > 16 {
		width = 3
	}
	n := len(data) / (stored * width)

	samples := make([]int16, 0, n*h.Channels)
	for i := range n {
		frame := data[i*stored*width:]
		for ch := range h.Channels {
			s := frame[ch*width:]
			samples = append(samples, int16(uint16(s[0])<<8|uint16(s[1])))
		}
	}
	return []*media.AudioFrame{{
		Samples:    samples,
		Channels:   h.Channels,
		SampleRate: h.SampleRate,
		PTS:        pkt.PTS,
	}}, nil
}

// AppendLPCM encodes interleaved 16-bit samples as a Blu-ray LPCM packet.
// channels must be 1, 2 or 6 and rate 48000, 96000 or 192000.
func AppendLPCM(dst []byte, samples []int16, channels, rate int) []byte {
	var assign, freq byte
	switch channels {
	case 1:
		assign = 1
	case 2:
		assign = 3
	case 6:
		assign = 9
	}
	switch rate {
	case 48000:
		freq = 1
	case 96000:
		freq = 4
	case 192000:
		freq = 5
	}
	stored := channels + channels%2
	size := len(samples) / channels * stored * 2
	dst = append(dst, byte(size>>8), byte(size), assign<<4|freq, 1<<6)
	for i := 0; i+channels <= len(samples); i += channels {
		for ch := range stored {
			var v int16
			if ch < channels {
				v = samples[i+ch]
			}
			dst = binary.BigEndian.AppendUint16(dst, uint16(v))
		}
	}
	return dst
}
