// Package testcard provides a synthetic source: colour bars with a live
// clock, and a 1 kHz line-up tone with alternating channel breaks.
package testcard

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/t0nitogp/hacktv/internal/avsource"
	"github.com/t0nitogp/hacktv/internal/media"
	"github.com/t0nitogp/hacktv/internal/overlay"
)

// DefaultName is the pattern used when none is named.
const DefaultName = "colourbars"

// ErrUnknownPattern is returned for a pattern name that cannot be drawn.
var ErrUnknownPattern = errors.New("testcard: unknown pattern")

// Tone parameters.
const (
	toneFrequency = 1000
	toneLevel     = 0.1
)

var barColours = [8]uint32{0x000000, 0x0000BF, 0xBF0000, 0xBF00BF, 0x00BF00, 0x00BFBF, 0xBFBF00, 0xFFFFFF}

// Card is a test card Source.
type Card struct {
	log     *slog.Logger
	pattern *image.RGBA
	frame   *image.RGBA
	aspect  media.Rational
	caption overlay.Chain

	tone  []int16
	block []int16
	pos   int

	closed atomic.Bool
}

var _ avsource.Source = (*Card)(nil)

// Options adjusts a Card beyond what avsource.Config carries.
type Options struct {
	// Now supplies the wall clock shown on the card.
	Now func() time.Time
}

// New builds a test card named name, sized and timed per cfg. An empty
// name selects DefaultName.
func New(name string, cfg avsource.Config, opts Options) (*Card, error) {
	if name == "" {
		name = DefaultName
	}
	switch strings.ToLower(name) {
	case "colourbars", "colorbars", "bars":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPattern, name)
	}

	w, h := cfg.Width, cfg.Height
	if h <= 0 {
		h = avsource.DefaultHeight
	}
	if w <= 0 {
		w = h * 4 / 3
		if cfg.Height <= 0 {
			w = avsource.DefaultWidth
		}
	}
	if w < 16 || h < 160 {
		return nil, fmt.Errorf("testcard: picture %dx%d too small", w, h)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	c := &Card{
		log:     log.With("component", "testcard", "pattern", name),
		pattern: drawBars(w, h),
		frame:   image.NewRGBA(image.Rect(0, 0, w, h)),
		aspect:  media.R(int64(4*h), int64(3*w)).Reduce(),
	}

	fh := float64(h)
	c.caption = overlay.Chain{
		overlay.NewLabel("HACKTV", fh*72/576, 0.5, 0.25),
		overlay.NewClock(fh*56/576, 0.5, 0.5, opts.Now),
	}
	if cfg.LogoPath != "" {
		logo, err := overlay.LoadLogo(cfg.LogoPath, cfg.LogoPosition)
		if err != nil {
			c.log.Warn("logo not loaded", "path", cfg.LogoPath, "error", err)
		} else {
			c.caption = append(c.caption, logo)
		}
	}

	rate := cfg.SampleRate
	if rate == 0 {
		rate = avsource.DefaultSampleRate
	}
	if rate > 0 {
		fps := cfg.FrameRate
		if !fps.Valid() {
			fps = avsource.DefaultFrameRate
		}
		c.tone = lineUpTone(rate)
		n := max(1, int(media.Rescale(1, fps.Inv(), media.R(1, int64(rate)))))
		c.block = make([]int16, n*2)
	}

	c.log.Debug("test card ready", "width", w, "height", h, "sample_rate", rate)
	return c, nil
}

// drawBars renders 75% colour bars over a red strip, a grey ramp and
// eight grey steps.
func drawBars(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		row := img.Pix[y*img.Stride:]
		for x := range w {
			var c uint32
			switch {
			case y < h-140:
				c = barColours[7-x*8/w]
			case y < h-120:
				c = 0xBF0000
			case y < h-100:
				g := uint32(x * 0xFF / (w - 1))
				c = g<<16 | g<<8 | g
			default:
				g := uint32(x*0xFF/(w-1)) & 0xE0
				g |= g>>3 | g>>6
				c = g<<16 | g<<8 | g
			}
			p := row[x*4 : x*4+4]
			p[0], p[1], p[2], p[3] = byte(c>>16), byte(c>>8), byte(c), 0xFF
		}
	}
	return img
}

// lineUpTone builds one 6.4 s loop of the stereo tone. Segments are
// 640 ms long; the left channel drops out in the first and the right in
// the third and fifth.
func lineUpTone(rate int) []int16 {
	seg := rate * 64 / 100
	out := make([]int16, seg*10*2)
	step := 2 * math.Pi * toneFrequency / float64(rate)
	for x := range seg * 10 {
		s := int16(math.Sin(float64(x)*step) * toneLevel * math.MaxInt16)
		l, r := s, s
		switch {
		case x < seg:
			l = 0
		case x >= seg*2 && x < seg*3, x >= seg*4 && x < seg*5:
			r = 0
		}
		out[x*2], out[x*2+1] = l, r
	}
	return out
}

// ReadVideo returns the pattern with the clock drawn over it.
func (c *Card) ReadVideo() (avsource.VideoFrame, error) {
	if c.closed.Load() {
		return avsource.VideoFrame{}, avsource.ErrAborted
	}
	copy(c.frame.Pix, c.pattern.Pix)
	c.caption.Apply(c.frame, 0)
	return avsource.VideoFrame{Image: c.frame, PixelAspect: c.aspect}, nil
}

// ReadAudio returns one frame period of the tone, looping.
func (c *Card) ReadAudio() ([]int16, error) {
	if c.closed.Load() {
		return nil, avsource.ErrAborted
	}
	if c.tone == nil {
		return nil, nil
	}
	for n := 0; n < len(c.block); {
		k := copy(c.block[n:], c.tone[c.pos:])
		n += k
		c.pos = (c.pos + k) % len(c.tone)
	}
	return c.block, nil
}

// EOF is always false: the card never ends.
func (c *Card) EOF() bool { return false }

func (c *Card) Close() error {
	c.closed.Store(true)
	return nil
}
