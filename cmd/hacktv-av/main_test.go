package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"io"
	"testing"
	"time"

	"github.com/t0nitogp/hacktv/internal/avsource"
	"github.com/t0nitogp/hacktv/internal/media"
	"github.com/t0nitogp/hacktv/internal/transform"
)

// scriptedSource plays n frames of a 4x2 picture and a two-sample block.
type scriptedSource struct {
	n, read int
	closed  bool
	img     *image.RGBA
}

func (s *scriptedSource) ReadVideo() (avsource.VideoFrame, error) {
	if s.closed {
		return avsource.VideoFrame{}, avsource.ErrAborted
	}
	if s.read >= s.n {
		return avsource.VideoFrame{}, io.EOF
	}
	s.read++
	// Stride wider than the picture: padding must not be written.
	s.img = &image.RGBA{Pix: make([]byte, 2*24), Stride: 24, Rect: image.Rect(0, 0, 4, 2)}
	for i := range s.img.Pix {
		s.img.Pix[i] = byte(s.read)
	}
	return avsource.VideoFrame{Image: s.img, PixelAspect: media.R(1, 1)}, nil
}

func (s *scriptedSource) ReadAudio() ([]int16, error) {
	if s.closed {
		return nil, avsource.ErrAborted
	}
	if s.read > s.n || s.read == 0 {
		return nil, io.EOF
	}
	return []int16{int16(s.read), -1, 2, 3}, nil
}

func (s *scriptedSource) EOF() bool { return s.read >= s.n }

func (s *scriptedSource) Close() error {
	s.closed = true
	return nil
}

func TestPlayerWritesRawStreams(t *testing.T) {
	t.Parallel()
	var video, audio bytes.Buffer
	p := &player{src: &scriptedSource{n: 3}, video: &video, audio: &audio}
	if err := p.play(context.Background(), media.R(25, 1), false); err != nil {
		t.Fatal(err)
	}
	if p.frames != 3 || p.samples != 6 {
		t.Fatalf("frames %d samples %d", p.frames, p.samples)
	}
	if video.Len() != 3*4*2*4 {
		t.Fatalf("video bytes = %d, want %d", video.Len(), 3*4*2*4)
	}
	if got := video.Bytes()[4*2*4]; got != 2 {
		t.Fatalf("second frame starts with %d", got)
	}
	pcm := audio.Bytes()
	if len(pcm) != 3*4*2 {
		t.Fatalf("audio bytes = %d", len(pcm))
	}
	if l, r := int16(binary.LittleEndian.Uint16(pcm[0:])), int16(binary.LittleEndian.Uint16(pcm[2:])); l != 1 || r != -1 {
		t.Fatalf("first sample = %d,%d", l, r)
	}
}

func TestPlayerStopsOnAbort(t *testing.T) {
	t.Parallel()
	src := &scriptedSource{n: 100}
	src.Close()
	p := &player{src: src}
	if err := p.play(context.Background(), media.R(25, 1), false); err != nil {
		t.Fatal(err)
	}
	if p.frames != 0 {
		t.Fatalf("played %d frames after close", p.frames)
	}
}

func TestPlayerRealtimePacing(t *testing.T) {
	t.Parallel()
	p := &player{src: &scriptedSource{n: 5}}
	start := time.Now()
	if err := p.play(context.Background(), media.R(50, 1), true); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("5 frames at 50 fps took %v", elapsed)
	}
}

func TestPlayerHonoursContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &player{src: &scriptedSource{n: 100}}
	if err := p.play(ctx, media.R(25, 1), true); err != nil {
		t.Fatal(err)
	}
	if p.frames != 0 {
		t.Fatalf("played %d frames with a cancelled context", p.frames)
	}
}

func TestParseSize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		w, h int
		ok   bool
	}{
		{"720x576", 720, 576, true},
		{"640X480", 640, 480, true},
		{"x576", 0, 576, true},
		{"720", 0, 0, false},
		{"720x", 0, 0, false},
		{"-1x576", 0, 0, false},
	}
	for _, tt := range tests {
		w, h, err := parseSize(tt.in)
		if (err == nil) != tt.ok || w != tt.w || h != tt.h {
			t.Errorf("parseSize(%q) = %d, %d, %v", tt.in, w, h, err)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("FPS", "30000/1001")
	t.Setenv("SAMPLE_RATE", "48000")
	t.Setenv("SIZE", "x480")
	t.Setenv("FIT", "letterbox")
	t.Setenv("START_MINUTES", "1.5")
	t.Setenv("TIMESTAMP", "true")
	t.Setenv("REALTIME", "false")

	c, err := loadConfig([]string{"test:"})
	if err != nil {
		t.Fatal(err)
	}
	if c.input != "test:" || c.realtime {
		t.Fatalf("config = %+v", c)
	}
	s := c.source
	if s.FrameRate != media.R(30000, 1001) || s.SampleRate != 48000 {
		t.Fatalf("rates %v %d", s.FrameRate, s.SampleRate)
	}
	if s.Width != 0 || s.Height != 480 || s.Fit != transform.FitLetterbox {
		t.Fatalf("picture %dx%d fit %v", s.Width, s.Height, s.Fit)
	}
	if s.Position != 90*time.Second || !s.Timestamp || s.Volume != 1 {
		t.Fatalf("position %v timestamp %v volume %v", s.Position, s.Timestamp, s.Volume)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := loadConfig(nil); err == nil {
		t.Fatal("missing input accepted")
	}
	t.Setenv("FPS", "fast")
	if _, err := loadConfig([]string{"-"}); err == nil {
		t.Fatal("bad FPS accepted")
	}
	t.Setenv("FPS", "25")
	t.Setenv("START_MINUTES", "-2")
	if _, err := loadConfig([]string{"-"}); err == nil {
		t.Fatal("negative start accepted")
	}
}
