// Package transform converts decoded frames into the pipeline's output
// formats: RGBA pictures at the output size and interleaved stereo s16
// audio at the output rate.
package transform

import (
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"

	"github.com/t0nitogp/hacktv/internal/media"
)

// Scaler resizes decoded pictures to the output size and converts them to
// RGBA.
type Scaler struct {
	width  int
	height int
	kernel xdraw.Interpolator
}

// NewScaler returns a scaler producing width×height pictures. A zero
// width is derived per frame from height and the frame's display aspect
// ratio. A nil kernel means bilinear.
func NewScaler(width, height int, kernel xdraw.Interpolator) *Scaler {
	if kernel == nil {
		kernel = xdraw.BiLinear
	}
	return &Scaler{width: width, height: height, kernel: kernel}
}

// Size returns the output size for a frame.
func (s *Scaler) Size(f *media.VideoFrame) (int, int) {
	if s.width > 0 {
		return s.width, s.height
	}
	if f.Width() == 0 || f.Height() == 0 {
		return s.height * 4 / 3, s.height
	}
	sar := sampleAspect(f)
	w := media.Rescale(int64(s.height), media.R(int64(f.Width())*sar.Num, 1), media.R(int64(f.Height())*sar.Den, 1))
	w = max(w&^1, 2)
	return int(w), s.height
}

// Scale draws f into dst, reallocating dst only when the output size
// changes, and returns the picture with its pixel aspect ratio.
func (s *Scaler) Scale(dst *image.RGBA, f *media.VideoFrame) (*image.RGBA, media.Rational) {
	w, h := s.Size(f)
	if dst == nil || dst.Rect.Dx() != w || dst.Rect.Dy() != h {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	src := f.Image
	if src == nil {
		clear(dst.Pix)
		return dst, media.R(1, 1)
	}

	sb := src.Bounds()
	if sb.Dx() == w && sb.Dy() == h {
		draw.Draw(dst, dst.Rect, src, sb.Min, draw.Src)
	} else {
		s.kernel.Scale(dst, dst.Rect, src, sb, xdraw.Src, nil)
	}
	return dst, OutputAspect(f, w, h)
}

// OutputAspect returns the pixel aspect ratio that keeps f's display
// aspect ratio when it is shown at w×h.
func OutputAspect(f *media.VideoFrame, w, h int) media.Rational {
	sar := sampleAspect(f)
	return media.R(
		int64(f.Width())*sar.Num*int64(h),
		int64(f.Height())*sar.Den*int64(w),
	).Reduce()
}

func sampleAspect(f *media.VideoFrame) media.Rational {
	if f.SampleAspect.Valid() {
		return f.SampleAspect
	}
	return media.R(1, 1)
}
