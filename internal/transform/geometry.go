package transform

import (
	"fmt"
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"

	"github.com/t0nitogp/hacktv/internal/media"
)

// Fit chooses how widescreen pictures are reshaped.
type Fit int

const (
	// FitWide pads widescreen pictures to 16:9.
	FitWide Fit = iota
	// FitLetterbox pads widescreen pictures to 4:3 with bars above and
	// below.
	FitLetterbox
	// FitPillarbox crops the centre 4:3 of widescreen pictures.
	FitPillarbox
)

func (f Fit) String() string {
	switch f {
	case FitLetterbox:
		return "letterbox"
	case FitPillarbox:
		return "pillarbox"
	default:
		return "wide"
	}
}

// ParseFit parses a Fit name as printed by String.
func ParseFit(s string) (Fit, error) {
	switch s {
	case "", "wide":
		return FitWide, nil
	case "letterbox":
		return FitLetterbox, nil
	case "pillarbox":
		return FitPillarbox, nil
	}
	return FitWide, fmt.Errorf("transform: unknown fit %q", s)
}

// widescreen is the picture ratio from which a source is treated as
// widescreen.
var widescreen = media.R(14, 9)

// Geometry reshapes widescreen pictures for a 4:3 or 16:9 display. The
// reshaped picture keeps the source dimensions; its pixel aspect ratio
// is set so it displays at the target ratio.
type Geometry struct {
	Fit    Fit
	Kernel xdraw.Interpolator
}

// Target returns the display ratio pictures are shaped for.
func (g Geometry) Target(widescreen bool) media.Rational {
	if g.Fit == FitWide && widescreen {
		return media.R(16, 9)
	}
	return media.R(4, 3)
}

// Widescreen reports whether a w×h picture counts as widescreen.
func Widescreen(w, h int) bool {
	if h == 0 {
		return false
	}
	return media.R(int64(w), int64(h)).Cmp(widescreen) >= 0
}

// Apply reshapes f if it is widescreen, rendering into buf (reallocated
// when nil or of the wrong size). Other frames are returned unchanged.
// The returned buffer should be passed back on the next call.
func (g Geometry) Apply(f media.VideoFrame, buf *image.RGBA) (media.VideoFrame, *image.RGBA) {
	if f.Image == nil {
		return f, buf
	}
	sb := f.Image.Bounds()
	w, h := sb.Dx(), sb.Dy()
	if !Widescreen(w, h) {
		return f, buf
	}

	if buf == nil || buf.Rect.Dx() != w || buf.Rect.Dy() != h {
		buf = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	kernel := g.Kernel
	if kernel == nil {
		kernel = xdraw.BiLinear
	}

	src := sb
	dst := buf.Rect
	switch g.Fit {
	case FitPillarbox:
		cw := h * 4 / 3
		x0 := sb.Min.X + (w-cw)/2
		src = image.Rect(x0, sb.Min.Y, x0+cw, sb.Max.Y)
	case FitLetterbox:
		dst = letterbox(w, h, media.R(4, 3))
	default:
		if media.R(int64(w), int64(h)).Cmp(media.R(16, 9)) >= 0 {
			dst = letterbox(w, h, media.R(16, 9))
		} else {
			// Between 14:9 and 16:9: pad the sides out to 16:9.
			cw := w * w * 9 / (h * 16)
			x0 := (w - cw) / 2
			dst = image.Rect(x0, 0, x0+cw, h)
		}
	}

	if dst != buf.Rect {
		draw.Draw(buf, buf.Rect, image.Black, image.Point{}, draw.Src)
	}
	kernel.Scale(buf, dst, f.Image, src, xdraw.Src, nil)

	target := g.Target(true)
	f.Image = buf
	f.SampleAspect = media.R(target.Num*int64(h), target.Den*int64(w)).Reduce()
	return f, buf
}

// letterbox returns where a w×h picture lands after padding it to the
// given ratio and scaling the result back to w×h.
func letterbox(w, h int, ratio media.Rational) image.Rectangle {
	// Padded height is w/ratio; the picture keeps h of it.
	ch := int(media.Rescale(int64(h)*int64(h), media.R(1, 1), media.R(int64(w)*ratio.Den, ratio.Num)))
	ch = min(ch, h)
	y0 := (h - ch) / 2
	return image.Rect(0, y0, w, y0+ch)
}
