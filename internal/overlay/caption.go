package overlay

import (
	"image"
	"image/color"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// Caption draws text centred on a point given as a fraction of the
// picture size.
type Caption struct {
	face   font.Face
	fx, fy float64
	text   func() string
}

// NewLabel returns a caption showing fixed text with glyphs size pixels
// high.
func NewLabel(text string, size, fx, fy float64) *Caption {
	return &Caption{face: newFace(size), fx: fx, fy: fy, text: func() string { return text }}
}

// NewClock returns a caption showing the wall clock as HH:MM:SS. A nil
// now uses time.Now.
func NewClock(size, fx, fy float64, now func() time.Time) *Caption {
	if now == nil {
		now = time.Now
	}
	return &Caption{face: newFace(size), fx: fx, fy: fy, text: func() string {
		return now().Format("15:04:05")
	}}
}

func (c *Caption) Apply(dst *image.RGBA, _ time.Duration) {
	text := c.text()
	b := dst.Bounds()
	bounds, _ := font.BoundString(c.face, text)

	w := bounds.Max.X - bounds.Min.X
	h := bounds.Max.Y - bounds.Min.Y
	cx := fixed.I(b.Min.X) + fixed.Int26_6(float64(fixed.I(b.Dx()))*c.fx)
	cy := fixed.I(b.Min.Y) + fixed.Int26_6(float64(fixed.I(b.Dy()))*c.fy)
	dot := fixed.Point26_6{X: cx - w/2 - bounds.Min.X, Y: cy - h/2 - bounds.Min.Y}

	drawText(dst, c.face, text, dot, color.RGBA{R: 255, G: 255, B: 255, A: 255})
}
