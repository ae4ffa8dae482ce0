package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"

	"golang.org/x/image/vp8"

	"github.com/t0nitogp/hacktv/internal/media"
)

func sampleAspect(info media.StreamInfo) media.Rational {
	if info.SampleAspect.Valid() {
		return info.SampleAspect
	}
	return media.R(1, 1)
}

type mjpegDecoder struct {
	sar media.Rational
}

func newMJPEG(info media.StreamInfo) *mjpegDecoder {
	return &mjpegDecoder{sar: sampleAspect(info)}
}

func (d *mjpegDecoder) decode(pkt *media.Packet) ([]*media.VideoFrame, error) {
	img, err := jpeg.Decode(bytes.NewReader(pkt.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: mjpeg: %v", ErrInvalidData, err)
	}
	return []*media.VideoFrame{{Image: img, SampleAspect: d.sar, PTS: pkt.PTS}}, nil
}

// vp8Decoder decodes key frames only. Inter frames produce no picture, so
// the previous key frame is held on screen by timestamp alignment.
type vp8Decoder struct {
	log *slog.Logger
	dec *vp8.Decoder
	sar media.Rational

	skipped int
}

func newVP8(info media.StreamInfo, log *slog.Logger) *vp8Decoder {
	return &vp8Decoder{log: log, dec: vp8.NewDecoder(), sar: sampleAspect(info)}
}

func (d *vp8Decoder) decode(pkt *media.Packet) ([]*media.VideoFrame, error) {
	d.dec.Init(bytes.NewReader(pkt.Data), len(pkt.Data))
	fh, err := d.dec.DecodeFrameHeader()
	if err != nil {
		return nil, fmt.Errorf("%w: vp8 header: %v", ErrInvalidData, err)
	}
	if !fh.KeyFrame {
		d.skipped++
		if d.skipped == 1 || d.skipped%250 == 0 {
			d.log.Debug("skipping vp8 inter frames", "count", d.skipped)
		}
		return nil, nil
	}
	if !fh.ShowFrame {
		return nil, nil
	}

	img, err := d.dec.DecodeFrame()
	if err != nil {
		return nil, fmt.Errorf("%w: vp8: %v", ErrInvalidData, err)
	}
	// The decoder reuses its picture buffer between calls.
	return []*media.VideoFrame{{Image: cloneYCbCr(img), SampleAspect: d.sar, PTS: pkt.PTS}}, nil
}

// cloneYCbCr copies src into a tightly packed picture. src may be a
// sub-image with wider strides.
func cloneYCbCr(src *image.YCbCr) *image.YCbCr {
	r := src.Rect
	dst := image.NewYCbCr(r, src.SubsampleRatio)
	w, cw := r.Dx(), dst.CStride
	for y := r.Min.Y; y < r.Max.Y; y++ {
		si, di := src.YOffset(r.Min.X, y), dst.YOffset(r.Min.X, y)
		copy(dst.Y[di:di+w], src.Y[si:])
		si, di = src.COffset(r.Min.X, y), dst.COffset(r.Min.X, y)
		copy(dst.Cb[di:di+cw], src.Cb[si:])
		copy(dst.Cr[di:di+cw], src.Cr[si:])
	}
	return dst
}
