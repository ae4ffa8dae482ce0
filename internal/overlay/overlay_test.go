package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"
	"time"
)

func canvas(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Rect, image.NewUniform(color.RGBA{A: 255}), image.Point{}, draw.Src)
	return img
}

func countNonBlack(img *image.RGBA, r image.Rectangle) int {
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			c := img.RGBAAt(x, y)
			if c.R|c.G|c.B != 0 {
				n++
			}
		}
	}
	return n
}

func TestFormatPosition(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{-time.Second, "00:00:00"},
		{59*time.Second + 999*time.Millisecond, "00:00:59"},
		{time.Hour + 2*time.Minute + 3*time.Second, "01:02:03"},
		{100 * time.Hour, "100:00:00"},
	}
	for _, tt := range tests {
		if got := FormatPosition(tt.in); got != tt.want {
			t.Errorf("FormatPosition(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTimestampDrawsLowerLeft(t *testing.T) {
	t.Parallel()
	img := canvas(720, 576)
	NewTimestamp(576).Apply(img, 90*time.Minute)

	if n := countNonBlack(img, image.Rect(0, 440, 360, 576)); n == 0 {
		t.Fatal("no text drawn in the lower left")
	}
	if n := countNonBlack(img, image.Rect(0, 0, 720, 300)); n != 0 {
		t.Fatalf("%d pixels drawn in the top half", n)
	}
}

func TestLogoPlacement(t *testing.T) {
	t.Parallel()
	src := image.NewRGBA(image.Rect(0, 0, 40, 20))
	draw.Draw(src, src.Rect, image.NewUniform(color.RGBA{G: 255, A: 255}), image.Point{}, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}

	l, err := DecodeLogo(buf.Bytes(), TopRight)
	if err != nil {
		t.Fatal(err)
	}
	img := canvas(720, 576)
	l.Apply(img, 0)

	// 0.75 scale at 576 lines gives a 30×15 logo inset by 28 pixels.
	if got := img.RGBAAt(720-28-15, 28+7); got.G < 200 {
		t.Errorf("logo pixel = %v", got)
	}
	if n := countNonBlack(img, image.Rect(0, 0, 360, 576)); n != 0 {
		t.Errorf("%d pixels drawn on the left half", n)
	}

	if _, err := DecodeLogo([]byte("not an image"), TopLeft); err == nil {
		t.Error("expected decode error")
	}
}

func TestMediaIcon(t *testing.T) {
	t.Parallel()
	now := time.Unix(1000, 0)
	m := NewMediaIcon()
	m.now = func() time.Time { return now }
	box := iconBox(image.Rect(0, 0, 720, 576))

	img := canvas(720, 576)
	m.Apply(img, 0)
	if countNonBlack(img, box) != 0 {
		t.Fatal("icon drawn before any pause")
	}

	m.SetPaused(true)
	m.Apply(img, 0)
	paused := countNonBlack(img, box)
	if paused == 0 {
		t.Fatal("pause icon not drawn")
	}

	m.SetPaused(false)
	img = canvas(720, 576)
	m.Apply(img, 0)
	playing := countNonBlack(img, box)
	if playing == 0 || playing == paused {
		t.Fatalf("play icon not drawn (%d pixels, pause had %d)", playing, paused)
	}

	now = now.Add(6 * time.Second)
	img = canvas(720, 576)
	m.Apply(img, 0)
	if countNonBlack(img, box) != 0 {
		t.Fatal("play icon still shown after 5s")
	}
}

func TestChainSkipsNil(t *testing.T) {
	t.Parallel()
	img := canvas(320, 240)
	Chain{nil, NewTimestamp(240)}.Apply(img, time.Second)
	if countNonBlack(img, img.Rect) == 0 {
		t.Fatal("chain did not run its overlays")
	}
}

func TestParsePosition(t *testing.T) {
	t.Parallel()
	if ParsePosition("bottom-left") != BottomLeft || ParsePosition("tl") != TopLeft || ParsePosition("") != TopRight {
		t.Fatal("unexpected mapping")
	}
}

func TestClockCentred(t *testing.T) {
	t.Parallel()
	now := func() time.Time { return time.Date(2024, 1, 1, 12, 34, 56, 0, time.Local) }
	img := canvas(720, 576)
	NewClock(56, 0.5, 0.5, now).Apply(img, 0)

	if countNonBlack(img, image.Rect(200, 250, 520, 326)) == 0 {
		t.Fatal("clock not drawn around the centre")
	}
	if n := countNonBlack(img, image.Rect(0, 0, 720, 200)) + countNonBlack(img, image.Rect(0, 376, 720, 576)); n != 0 {
		t.Fatalf("%d pixels drawn away from the centre", n)
	}
}

func TestLabel(t *testing.T) {
	t.Parallel()
	img := canvas(720, 576)
	NewLabel("HACKTV", 72, 0.5, 0.25).Apply(img, 0)
	if countNonBlack(img, image.Rect(0, 100, 720, 188)) == 0 {
		t.Fatal("label not drawn at a quarter height")
	}
	if countNonBlack(img, image.Rect(0, 288, 720, 576)) != 0 {
		t.Fatal("label drawn in the lower half")
	}
}
