package demux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"os"

	"golang.org/x/image/vp8"

	"github.com/t0nitogp/hacktv/internal/codec"
	"github.com/t0nitogp/hacktv/internal/media"
	"github.com/t0nitogp/hacktv/internal/mpegts"
)

// tsTimeBase is the 90 kHz MPEG system clock.
var tsTimeBase = media.R(1, 90000)

const (
	ptsWrap     = int64(1) << 33
	ptsHalfWrap = int64(1) << 32
)

type tsDemuxer struct {
	log     *slog.Logger
	dmx     *mpegts.Demuxer
	closer  *closer
	streams []media.StreamInfo
	byPID   map[uint16]*tsStream
	pending []*media.Packet
	eof     bool
}

type tsStream struct {
	index  int
	pid    uint16
	last   int64
	offset int64

	// probing state
	units   int
	prevPTS int64
}

func openTS(ctx context.Context, r io.Reader, c *closer, opts Options) (*tsDemuxer, error) {
	d := &tsDemuxer{
		log:    opts.logger().With("component", "demux", "format", FormatMPEGTS),
		dmx:    mpegts.NewDemuxer(ctx, r),
		closer: c,
		byPID:  make(map[uint16]*tsStream),
	}
	if err := d.probe(opts.probeUnits()); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *tsDemuxer) Streams() []media.StreamInfo {
	return d.streams
}

func (d *tsDemuxer) Close() error {
	return d.closer.Close()
}

// probe reads until the first PMT has been seen and every stream has
// yielded enough units to fill in its parameters, or the budget runs out.
// Packets read on the way are kept for ReadPacket.
func (d *tsDemuxer) probe(budget int) error {
	haveTables := false
	for units := 0; units < budget; {
		data, err := d.dmx.NextData()
		if errors.Is(err, io.EOF) {
			d.eof = true
			break
		}
		if err != nil {
			return fmt.Errorf("demux: probe: %w", err)
		}

		if data.PMT != nil && !haveTables {
			haveTables = true
			d.addStreams(data.PMT)
			continue
		}
		if data.PES == nil || !haveTables {
			continue
		}

		s, ok := d.byPID[data.FirstPacket.Header.PID]
		if !ok {
			continue
		}
		units++
		pkts := d.packets(s, data)
		d.learn(s, data.PES.Data, pkts)
		d.pending = append(d.pending, pkts...)

		if d.probed() {
			break
		}
	}

	if !haveTables {
		return fmt.Errorf("%w: no PMT found", ErrNoStreams)
	}
	if len(d.streams) == 0 {
		return ErrNoStreams
	}

	for i := range d.streams {
		st := &d.streams[i]
		if st.Type == media.TypeVideo && !st.FrameRate.Valid() {
			st.FrameRate = media.R(25, 1)
		}
		d.log.Info("stream",
			"index", st.Index,
			"type", st.Type.String(),
			"codec", string(st.Codec),
			"start", st.StartTime,
			"width", st.Width, "height", st.Height,
			"fps", st.FrameRate.String(),
			"rate", st.SampleRate, "channels", st.Channels,
		)
	}
	return nil
}

func (d *tsDemuxer) addStreams(pmt *mpegts.PMTData) {
	for _, es := range pmt.ElementaryStreams {
		typ, c := classify(es)
		if typ == media.TypeUnknown {
			d.log.Debug("ignoring stream", "pid", es.ElementaryPID, "stream_type", es.StreamType)
			continue
		}
		idx := len(d.streams)
		d.streams = append(d.streams, media.StreamInfo{
			Index:     idx,
			Type:      typ,
			Codec:     c,
			TimeBase:  tsTimeBase,
			StartTime: media.NoPTS,
		})
		d.byPID[es.ElementaryPID] = &tsStream{
			index:   idx,
			pid:     es.ElementaryPID,
			last:    media.NoPTS,
			prevPTS: media.NoPTS,
		}
	}
}

// classify maps a PMT entry to a stream type and codec. Private PES
// streams are identified by their registration descriptor.
func classify(es *mpegts.PMTElementaryStream) (media.Type, media.Codec) {
	switch es.StreamType {
	case mpegts.StreamTypePrivatePES:
		switch es.Registration() {
		case "MJPG":
			return media.TypeVideo, media.CodecMJPEG
		case "VP80":
			return media.TypeVideo, media.CodecVP8
		case "Opus":
			return media.TypeAudio, media.CodecOpus
		}
	case mpegts.StreamTypeHDMVLPCM:
		return media.TypeAudio, media.CodecLPCM
	case mpegts.StreamTypeMPEG1Video, mpegts.StreamTypeMPEG2Video:
		return media.TypeVideo, media.CodecMPEG2
	case mpegts.StreamTypeH264:
		return media.TypeVideo, media.CodecH264
	case mpegts.StreamTypeH265:
		return media.TypeVideo, media.CodecH265
	case mpegts.StreamTypeMPEG1Audio, mpegts.StreamTypeMPEG2Audio:
		return media.TypeAudio, media.CodecMP2
	case mpegts.StreamTypeAAC:
		return media.TypeAudio, media.CodecAAC
	case mpegts.StreamTypeAC3:
		return media.TypeAudio, media.CodecAC3
	}
	return media.TypeUnknown, ""
}

// learn fills in stream parameters from one probed unit.
func (d *tsDemuxer) learn(s *tsStream, payload []byte, pkts []*media.Packet) {
	st := &d.streams[s.index]
	s.units++
	if len(pkts) == 0 {
		return
	}
	pts := pkts[0].PTS

	if st.StartTime == media.NoPTS && pts != media.NoPTS {
		st.StartTime = pts
	}

	switch st.Codec {
	case media.CodecMJPEG:
		if st.Width == 0 {
			if cfg, err := jpeg.DecodeConfig(bytes.NewReader(payload)); err == nil {
				st.Width, st.Height = cfg.Width, cfg.Height
			}
		}
	case media.CodecVP8:
		if st.Width == 0 {
			dec := vp8.NewDecoder()
			dec.Init(bytes.NewReader(payload), len(payload))
			if fh, err := dec.DecodeFrameHeader(); err == nil && fh.KeyFrame {
				st.Width, st.Height = fh.Width, fh.Height
			}
		}
	case media.CodecOpus:
		st.SampleRate = codec.OpusSampleRate
		if st.Channels == 0 {
			st.Channels = 2
			if pkts[0].Data[0]&0x04 == 0 {
				st.Channels = 1
			}
		}
		if st.FrameSize == 0 {
			st.FrameSize = codec.OpusPacketSamples(pkts[0].Data)
		}
	case media.CodecLPCM:
		if h, err := codec.ParseLPCMHeader(payload); err == nil && st.SampleRate == 0 {
			st.SampleRate = h.SampleRate
			st.Channels = h.Channels
			width := 2
			if h.BitsPerSample > 16 {
				width = 3
			}
			st.FrameSize = (len(payload) - 4) / ((h.Channels + h.Channels%2) * width)
		}
	}

	if st.Type == media.TypeVideo && pts != media.NoPTS {
		if s.prevPTS != media.NoPTS && pts > s.prevPTS && !st.FrameRate.Valid() {
			st.FrameRate = media.R(90000, pts-s.prevPTS).Reduce()
		}
		s.prevPTS = pts
	}
}

// probed reports whether every stream has the parameters its decoder and
// the timing logic need.
func (d *tsDemuxer) probed() bool {
	for _, s := range d.byPID {
		st := d.streams[s.index]
		switch st.Type {
		case media.TypeVideo:
			if s.units < 2 || st.StartTime == media.NoPTS {
				return false
			}
		case media.TypeAudio:
			if s.units < 1 || st.StartTime == media.NoPTS {
				return false
			}
		}
	}
	return true
}

func (d *tsDemuxer) ReadPacket() (*media.Packet, error) {
	for {
		if len(d.pending) > 0 {
			p := d.pending[0]
			d.pending[0] = nil
			d.pending = d.pending[1:]
			return p, nil
		}
		if d.eof {
			return nil, io.EOF
		}

		data, err := d.dmx.NextData()
		switch {
		case errors.Is(err, io.EOF):
			d.eof = true
			continue
		case errors.Is(err, os.ErrDeadlineExceeded):
			return nil, ErrTryAgain
		case err != nil:
			return nil, fmt.Errorf("demux: %w", err)
		}

		if data.PES == nil {
			continue
		}
		if s, ok := d.byPID[data.FirstPacket.Header.PID]; ok {
			d.pending = append(d.pending, d.packets(s, data)...)
		}
	}
}

// packets converts one PES unit to packets. Opus units may carry several
// access units, each stamped with its own PTS.
func (d *tsDemuxer) packets(s *tsStream, data *mpegts.DemuxerData) []*media.Packet {
	pes := data.PES
	pts, dts := media.NoPTS, media.NoPTS
	if oh := pes.Header.OptionalHeader; oh != nil {
		if oh.PTS != nil {
			pts = s.unwrap(oh.PTS.Base)
		}
		if oh.DTS != nil {
			dts = s.unwrap(oh.DTS.Base)
		}
	}
	key := data.FirstPacket.Header.RandomAccessIndicator

	if d.streams[s.index].Codec != media.CodecOpus {
		if len(pes.Data) == 0 {
			return nil
		}
		return []*media.Packet{{StreamIndex: s.index, PTS: pts, DTS: dts, Keyframe: key, Data: pes.Data}}
	}

	var out []*media.Packet
	for _, au := range splitOpus(pes.Data) {
		out = append(out, &media.Packet{StreamIndex: s.index, PTS: pts, DTS: pts, Keyframe: true, Data: au})
		if pts != media.NoPTS {
			pts += media.Rescale(int64(codec.OpusPacketSamples(au)), media.R(1, codec.OpusSampleRate), tsTimeBase)
		}
	}
	return out
}

// unwrap extends a 33-bit timestamp across wrap-arounds of the system
// clock.
func (s *tsStream) unwrap(v int64) int64 {
	v += s.offset
	if s.last != media.NoPTS && v < s.last-ptsHalfWrap {
		s.offset += ptsWrap
		v += ptsWrap
	}
	s.last = v
	return v
}

// splitOpus separates the access units of an Opus PES payload. Each unit
// is preceded by a control header: an 11-bit 0x3FF prefix, trim and
// extension flags, and the unit size coded as a run of 0xFF bytes plus a
// final byte. A payload without control headers is one raw packet.
func splitOpus(p []byte) [][]byte {
	var out [][]byte
	for len(p) >= 2 && p[0] == 0x7F && p[1]&0xE0 == 0xE0 {
		flags := p[1]
		i, size := 2, 0
		for i < len(p) {
			b := p[i]
			i++
			size += int(b)
			if b != 0xFF {
				break
			}
		}
		if flags&0x10 != 0 {
			i += 2 // start trim
		}
		if flags&0x08 != 0 {
			i += 2 // end trim
		}
		if flags&0x04 != 0 && i < len(p) {
			i += 1 + int(p[i])
		}
		if size == 0 || i+size > len(p) {
			break
		}
		out = append(out, p[i:i+size])
		p = p[i+size:]
	}
	if len(out) == 0 && len(p) > 0 {
		out = append(out, p)
	}
	return out
}
