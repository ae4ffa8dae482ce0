package overlay

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Timestamp draws the source position as HH:MM:SS in the lower left of
// the picture, white over a drop shadow.
type Timestamp struct {
	face   font.Face
	height int
}

// NewTimestamp returns a timestamp overlay sized for pictures of the
// given height. If the font cannot be loaded it falls back to a fixed
// bitmap face.
func NewTimestamp(height int) *Timestamp {
	return &Timestamp{face: newFace(float64(height) / 14), height: height}
}

func newFace(size float64) font.Face {
	f, err := opentype.Parse(gomono.TTF)
	if err == nil {
		face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
		if err == nil {
			return face
		}
	}
	return basicfont.Face7x13
}

// FormatPosition renders pos as HH:MM:SS.
func FormatPosition(pos time.Duration) string {
	if pos < 0 {
		pos = 0
	}
	s := int64(pos / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}

func (t *Timestamp) Apply(dst *image.RGBA, pos time.Duration) {
	b := dst.Bounds()
	text := FormatPosition(pos)
	origin := fixed.P(b.Min.X+b.Dx()/10, b.Min.Y+b.Dy()*9/10)

	shadow := max(1, b.Dy()/288)
	drawText(dst, t.face, text, origin.Add(fixed.P(shadow, shadow)), color.RGBA{A: 255})
	drawText(dst, t.face, text, origin, color.RGBA{R: 255, G: 255, B: 255, A: 255})
}

func drawText(dst *image.RGBA, face font.Face, text string, dot fixed.Point26_6, c color.Color) {
	d := font.Drawer{Dst: dst, Src: image.NewUniform(c), Face: face, Dot: dot}
	d.DrawString(text)
}
