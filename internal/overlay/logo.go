package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/png"
	"os"
	"time"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Logo draws a still image in one corner of the picture. The image is
// scaled once per output size so its height is a fixed share of the
// picture height.
type Logo struct {
	src   image.Image
	pos   Position
	scale float64

	cached *image.RGBA
	sized  image.Rectangle
}

// LoadLogo reads a PNG or WebP file.
func LoadLogo(path string, pos Position) (*Logo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("overlay: reading logo: %w", err)
	}
	return DecodeLogo(data, pos)
}

// DecodeLogo decodes a PNG or WebP image for use as a logo.
func DecodeLogo(data []byte, pos Position) (*Logo, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("overlay: decoding logo: %w", err)
	}
	return NewLogo(img, pos), nil
}

// NewLogo returns a logo overlay for img.
func NewLogo(img image.Image, pos Position) *Logo {
	return &Logo{src: img, pos: pos, scale: 0.75}
}

func (l *Logo) Apply(dst *image.RGBA, _ time.Duration) {
	b := dst.Bounds()
	if l.cached == nil || l.sized != b {
		l.cached = l.render(b)
		l.sized = b
	}
	r := l.cached.Bounds()
	at := anchor(l.pos, b, r.Dx(), r.Dy(), b.Dy()/20)
	draw.Draw(dst, r.Add(at), l.cached, image.Point{}, draw.Over)
}

// render scales the logo to take a share of a 576-line picture
// proportional to the output height.
func (l *Logo) render(b image.Rectangle) *image.RGBA {
	sb := l.src.Bounds()
	k := l.scale * float64(b.Dy()) / 576
	w := max(1, int(float64(sb.Dx())*k))
	h := max(1, int(float64(sb.Dy())*k))
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(out, out.Rect, l.src, sb, xdraw.Src, nil)
	return out
}
