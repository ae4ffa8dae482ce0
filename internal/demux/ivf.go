package demux

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/t0nitogp/hacktv/internal/media"
)

const (
	ivfHeaderSize      = 32
	ivfFrameHeaderSize = 12
)

// ivfDemuxer reads the single video stream of an IVF file.
type ivfDemuxer struct {
	log     *slog.Logger
	r       io.Reader
	closer  *closer
	info    media.StreamInfo
	first   *media.Packet
	hdr     [ivfFrameHeaderSize]byte
	maxSize int
}

func openIVF(r io.Reader, c *closer, opts Options) (*ivfDemuxer, error) {
	var h [ivfHeaderSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return nil, fmt.Errorf("demux: ivf header: %w", err)
	}
	if string(h[:4]) != "DKIF" {
		return nil, fmt.Errorf("%w: missing DKIF signature", ErrUnknownFormat)
	}

	hdrLen := int(binary.LittleEndian.Uint16(h[6:]))
	fourcc := string(h[8:12])
	rate := int64(binary.LittleEndian.Uint32(h[16:]))
	scale := int64(binary.LittleEndian.Uint32(h[20:]))
	if rate == 0 || scale == 0 {
		return nil, fmt.Errorf("demux: ivf: invalid time base %d/%d", scale, rate)
	}
	if hdrLen > ivfHeaderSize {
		if _, err := io.CopyN(io.Discard, r, int64(hdrLen-ivfHeaderSize)); err != nil {
			return nil, fmt.Errorf("demux: ivf header: %w", err)
		}
	}

	var vc media.Codec
	switch fourcc {
	case "VP80":
		vc = media.CodecVP8
	case "MJPG":
		vc = media.CodecMJPEG
	default:
		vc = media.Codec(strings.ToLower(strings.TrimSpace(fourcc)))
	}

	d := &ivfDemuxer{
		log:    opts.logger().With("component", "demux", "format", FormatIVF),
		r:      r,
		closer: c,
		info: media.StreamInfo{
			Index:     0,
			Type:      media.TypeVideo,
			Codec:     vc,
			TimeBase:  media.R(scale, rate),
			FrameRate: media.R(rate, scale).Reduce(),
			Width:     int(binary.LittleEndian.Uint16(h[12:])),
			Height:    int(binary.LittleEndian.Uint16(h[14:])),
			StartTime: media.NoPTS,
		},
		maxSize: 16 << 20,
	}

	// The first frame gives the start time.
	p, err := d.next()
	switch {
	case err == nil:
		d.first = p
		d.info.StartTime = p.PTS
	case errors.Is(err, io.EOF):
	default:
		return nil, err
	}

	d.log.Info("stream", "codec", string(vc), "width", d.info.Width, "height", d.info.Height,
		"fps", d.info.FrameRate.String(), "start", d.info.StartTime)
	return d, nil
}

func (d *ivfDemuxer) Streams() []media.StreamInfo {
	return []media.StreamInfo{d.info}
}

func (d *ivfDemuxer) Close() error {
	return d.closer.Close()
}

func (d *ivfDemuxer) ReadPacket() (*media.Packet, error) {
	if p := d.first; p != nil {
		d.first = nil
		return p, nil
	}
	return d.next()
}

func (d *ivfDemuxer) next() (*media.Packet, error) {
	if _, err := io.ReadFull(d.r, d.hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			d.log.Warn("truncated frame header at end of file")
			return nil, io.EOF
		}
		return nil, err
	}
	size := int(binary.LittleEndian.Uint32(d.hdr[:4]))
	if size > d.maxSize {
		return nil, fmt.Errorf("demux: ivf: frame of %d bytes exceeds limit", size)
	}
	pts := int64(binary.LittleEndian.Uint64(d.hdr[4:]))

	data := make([]byte, size)
	if _, err := io.ReadFull(d.r, data); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			d.log.Warn("truncated frame at end of file", "pts", pts)
			return nil, io.EOF
		}
		return nil, err
	}
	return &media.Packet{StreamIndex: 0, PTS: pts, DTS: pts, Keyframe: true, Data: data}, nil
}

// WriteIVFHeader writes an IVF file header for frames of the given codec
// fourcc, size and time base.
func WriteIVFHeader(w io.Writer, fourcc string, width, height int, tb media.Rational, frames int) error {
	var h [ivfHeaderSize]byte
	copy(h[:4], "DKIF")
	binary.LittleEndian.PutUint16(h[6:], ivfHeaderSize)
	copy(h[8:12], fourcc)
	binary.LittleEndian.PutUint16(h[12:], uint16(width))
	binary.LittleEndian.PutUint16(h[14:], uint16(height))
	binary.LittleEndian.PutUint32(h[16:], uint32(tb.Den))
	binary.LittleEndian.PutUint32(h[20:], uint32(tb.Num))
	binary.LittleEndian.PutUint32(h[24:], uint32(frames))
	_, err := w.Write(h[:])
	return err
}

// WriteIVFFrame writes one IVF frame record.
func WriteIVFFrame(w io.Writer, pts int64, data []byte) error {
	var h [ivfFrameHeaderSize]byte
	binary.LittleEndian.PutUint32(h[:4], uint32(len(data)))
	binary.LittleEndian.PutUint64(h[4:], uint64(pts))
	if _, err := w.Write(h[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
