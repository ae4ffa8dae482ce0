package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"
)

// playDuration is how long the play icon stays up after resuming.
const playDuration = 5 * time.Second

// MediaIcon shows a pause symbol while playback is paused and a play
// symbol for a few seconds after it resumes.
type MediaIcon struct {
	mu      sync.Mutex
	paused  bool
	resumed time.Time
	now     func() time.Time
}

// NewMediaIcon returns an icon overlay showing nothing.
func NewMediaIcon() *MediaIcon {
	return &MediaIcon{now: time.Now}
}

// SetPaused records a pause or resume.
func (m *MediaIcon) SetPaused(paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused && !paused {
		m.resumed = m.now()
	}
	m.paused = paused
}

func (m *MediaIcon) Apply(dst *image.RGBA, _ time.Duration) {
	m.mu.Lock()
	paused := m.paused
	playing := !m.resumed.IsZero() && m.now().Sub(m.resumed) < playDuration
	m.mu.Unlock()

	switch {
	case paused:
		drawPause(dst)
	case playing:
		drawPlay(dst)
	}
}

var iconColor = image.NewUniform(color.RGBA{R: 230, G: 230, B: 230, A: 230})

// iconBox returns the square the icon occupies near the top right corner.
func iconBox(b image.Rectangle) image.Rectangle {
	size := max(8, b.Dy()/12)
	at := anchor(TopRight, b, size, size, b.Dy()/20)
	return image.Rect(at.X, at.Y, at.X+size, at.Y+size)
}

func drawPause(dst *image.RGBA) {
	r := iconBox(dst.Bounds())
	bar := r.Dx() / 3
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+bar, r.Max.Y), iconColor, image.Point{}, draw.Over)
	draw.Draw(dst, image.Rect(r.Max.X-bar, r.Min.Y, r.Max.X, r.Max.Y), iconColor, image.Point{}, draw.Over)
}

func drawPlay(dst *image.RGBA) {
	r := iconBox(dst.Bounds())
	h := r.Dy()
	for y := range h {
		// Row half-width grows to the vertical centre and shrinks after.
		d := min(y, h-1-y)
		w := d * 2 * r.Dx() / h
		row := image.Rect(r.Min.X, r.Min.Y+y, r.Min.X+w, r.Min.Y+y+1)
		draw.Draw(dst, row, iconColor, image.Point{}, draw.Over)
	}
}
