package avsource

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/t0nitogp/hacktv/internal/codec"
	"github.com/t0nitogp/hacktv/internal/demux"
	"github.com/t0nitogp/hacktv/internal/media"
	"github.com/t0nitogp/hacktv/internal/metrics"
	"github.com/t0nitogp/hacktv/internal/mpegts"
)

func TestEndToEnd(t *testing.T) {
	t.Parallel()
	var pkts []*media.Packet
	for i := range int64(100) {
		pkts = append(pkts, videoPacket(i), audioPacket(i*1280, 1280))
	}
	dmx := newFakeDemuxer([]media.StreamInfo{videoInfo, audioInfo}, pkts)

	var vcloses, acloses atomic.Int32
	cfg := testConfig(&vcloses, &acloses, 0)
	cfg.Metrics = metrics.New()
	p, err := New(context.Background(), dmx, cfg)
	if err != nil {
		t.Fatal(err)
	}

	c, ok := consume(p, 5*time.Second)
	if !ok {
		t.Fatal("consumer did not reach EOF")
	}
	if c.err != nil {
		t.Fatal(c.err)
	}
	if len(c.shades) != 100 {
		t.Fatalf("got %d video frames, want 100", len(c.shades))
	}
	for i, s := range c.shades {
		if s != uint8(i) {
			t.Fatalf("frame %d has shade %d", i, s)
		}
	}
	if c.blocks != 100 {
		t.Fatalf("got %d audio blocks, want 100", c.blocks)
	}
	if !p.EOF() {
		t.Fatal("EOF() = false after both streams ended")
	}
	if _, err := p.ReadVideo(); err != io.EOF {
		t.Fatalf("ReadVideo after end = %v, want io.EOF", err)
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if vcloses.Load() != 1 || acloses.Load() != 1 || dmx.closes.Load() != 1 {
		t.Fatalf("closes: video %d audio %d demux %d", vcloses.Load(), acloses.Load(), dmx.closes.Load())
	}
	if p.State() != StateStopped {
		t.Fatalf("state = %v", p.State())
	}
	if got := cfg.Metrics.Video.FramesOutput.Load(); got != 100 {
		t.Fatalf("frames output = %d", got)
	}
}

func TestRepeatOnFuture(t *testing.T) {
	t.Parallel()
	dmx := newFakeDemuxer([]media.StreamInfo{videoInfo}, []*media.Packet{videoPacket(0), videoPacket(5)})
	cfg := testConfig(nil, nil, 0)
	cfg.Metrics = metrics.New()
	p, err := New(context.Background(), dmx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	c, ok := consume(p, 5*time.Second)
	if !ok {
		t.Fatal("consumer did not reach EOF")
	}
	want := []uint8{0, 0, 0, 0, 0, 5}
	if !bytes.Equal(c.shades, want) {
		t.Fatalf("shades = %v, want %v", c.shades, want)
	}
	if got := cfg.Metrics.Video.FramesRepeated.Load(); got != 4 {
		t.Fatalf("repeated = %d, want 4", got)
	}
}

func TestDropOnPast(t *testing.T) {
	t.Parallel()
	pkts := []*media.Packet{videoPacket(0), videoPacket(1), videoPacket(1), videoPacket(2)}
	dmx := newFakeDemuxer([]media.StreamInfo{videoInfo}, pkts)
	cfg := testConfig(nil, nil, 0)
	cfg.Metrics = metrics.New()
	p, err := New(context.Background(), dmx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	c, ok := consume(p, 5*time.Second)
	if !ok {
		t.Fatal("consumer did not reach EOF")
	}
	if !bytes.Equal(c.shades, []uint8{0, 1, 2}) {
		t.Fatalf("shades = %v", c.shades)
	}
	if got := cfg.Metrics.Video.FramesDropped.Load(); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
	if got := cfg.Metrics.Video.FramesRepeated.Load(); got != 0 {
		t.Fatalf("repeated = %d, want 0", got)
	}
}

func TestStartPositionDropsEarlierFrames(t *testing.T) {
	t.Parallel()
	var pkts []*media.Packet
	for i := range int64(60) {
		pkts = append(pkts, videoPacket(i))
	}
	cfg := testConfig(nil, nil, 0)
	cfg.Position = 2 * time.Second
	p, err := New(context.Background(), newFakeDemuxer([]media.StreamInfo{videoInfo}, pkts), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	c, ok := consume(p, 5*time.Second)
	if !ok {
		t.Fatal("consumer did not reach EOF")
	}
	if len(c.shades) != 10 || c.shades[0] != 50 {
		t.Fatalf("shades = %v, want 50..59", c.shades)
	}
}

func TestAudioDrift(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		second   int64 // pts of the second frame
		trimmed  uint64
		injected uint64
		dropped  uint64
	}{
		{"on time", 1280, 0, 0, 0},
		{"late within tolerance", 1280 + 600, 0, 0, 0},
		{"early within tolerance", 1280 - 600, 0, 0, 0},
		{"gap", 1280 + 1000, 0, 1000, 0},
		{"overlap", 1280 - 1000, 1000, 0, 0},
		{"entirely past", -2000, 0, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pkts := []*media.Packet{audioPacket(0, 1280), audioPacket(tt.second, 1280), audioPacket(tt.second+1280, 1280)}
			if tt.dropped > 0 {
				pkts = pkts[:2]
			}
			cfg := testConfig(nil, nil, 0)
			cfg.Metrics = metrics.New()
			p, err := New(context.Background(), newFakeDemuxer([]media.StreamInfo{audioInfo}, pkts), cfg)
			if err != nil {
				t.Fatal(err)
			}
			if _, ok := consume(p, 5*time.Second); !ok {
				t.Fatal("consumer did not reach EOF")
			}
			if err := p.Close(); err != nil {
				t.Fatal(err)
			}

			a := &cfg.Metrics.Audio
			if got := a.SamplesTrimmed.Load(); got != tt.trimmed {
				t.Errorf("trimmed = %d, want %d", got, tt.trimmed)
			}
			if got := a.SamplesInjected.Load(); got != tt.injected {
				t.Errorf("injected = %d, want %d", got, tt.injected)
			}
			if got := a.FramesDropped.Load(); got != tt.dropped {
				t.Errorf("dropped = %d, want %d", got, tt.dropped)
			}
		})
	}
}

func TestCloseMidDecode(t *testing.T) {
	t.Parallel()
	var pkts []*media.Packet
	for i := range int64(500) {
		pkts = append(pkts, videoPacket(i), audioPacket(i*1280, 1280))
	}
	dmx := newFakeDemuxer([]media.StreamInfo{videoInfo, audioInfo}, pkts)
	dmx.hang = true

	var vcloses, acloses atomic.Int32
	p, err := New(context.Background(), dmx, testConfig(&vcloses, &acloses, 2*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if _, err := p.ReadVideo(); err != nil {
			t.Fatal(err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- p.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	if _, err := p.ReadVideo(); !errors.Is(err, ErrAborted) {
		t.Fatalf("ReadVideo after Close = %v, want ErrAborted", err)
	}
	if _, err := p.ReadAudio(); !errors.Is(err, ErrAborted) {
		t.Fatalf("ReadAudio after Close = %v, want ErrAborted", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close = %v", err)
	}
	if vcloses.Load() != 1 || acloses.Load() != 1 || dmx.closes.Load() != 1 {
		t.Fatalf("closes: video %d audio %d demux %d", vcloses.Load(), acloses.Load(), dmx.closes.Load())
	}
}

func TestContextCancelAborts(t *testing.T) {
	t.Parallel()
	dmx := newFakeDemuxer([]media.StreamInfo{videoInfo}, nil)
	dmx.hang = true
	ctx, cancel := context.WithCancel(context.Background())
	p, err := New(ctx, dmx, testConfig(nil, nil, 0))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	res := make(chan error, 1)
	go func() {
		_, err := p.ReadVideo()
		res <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-res:
		if !errors.Is(err, ErrAborted) {
			t.Fatalf("got %v, want ErrAborted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancel did not unblock ReadVideo")
	}
}

func TestStallRecovery(t *testing.T) {
	t.Parallel()
	// One video frame, then more audio than its queue holds. The
	// consumer waits on video while the input stage waits on audio.
	pkts := []*media.Packet{videoPacket(0)}
	for i := range int64(50) {
		pkt := audioPacket(i*1280, 1280)
		pkt.Data = append(pkt.Data, make([]byte, 600)...)
		pkts = append(pkts, pkt)
	}
	for i := range int64(5) {
		pkts = append(pkts, videoPacket(60+i))
	}

	cfg := testConfig(nil, nil, 0)
	cfg.QueueCapacity = 2000
	cfg.Metrics = metrics.New()
	p, err := New(context.Background(), newFakeDemuxer([]media.StreamInfo{videoInfo, audioInfo}, pkts), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	c, ok := consume(p, 5*time.Second)
	if !ok {
		t.Fatal("pipeline deadlocked on a stalled input")
	}
	// Silence injected while the audio queue briefly runs dry may add a
	// block; trimming takes it back later.
	if c.blocks < 45 {
		t.Fatalf("got %d audio blocks, want about 50", c.blocks)
	}
	if cfg.Metrics.InputStalls.Load() == 0 {
		t.Fatal("no input stall recorded")
	}
	if cfg.Metrics.Video.FramesRepeated.Load() == 0 {
		t.Fatal("no video repeats while stalled")
	}
}

func TestInvalidPacketSkipped(t *testing.T) {
	t.Parallel()
	bad := videoPacket(1)
	bad.Data = []byte{0xEE}
	cfg := testConfig(nil, nil, 0)
	cfg.Metrics = metrics.New()
	p, err := New(context.Background(), newFakeDemuxer([]media.StreamInfo{videoInfo}, []*media.Packet{videoPacket(0), bad, videoPacket(2)}), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	c, _ := consume(p, 5*time.Second)
	if !bytes.Equal(c.shades, []uint8{0, 0, 2}) {
		t.Fatalf("shades = %v", c.shades)
	}
	if cfg.Metrics.Video.DecodeErrors.Load() != 1 {
		t.Fatal("decode error not counted")
	}
}

func TestPause(t *testing.T) {
	t.Parallel()
	var pkts []*media.Packet
	for i := range int64(5) {
		pkts = append(pkts, videoPacket(i), audioPacket(i*1280, 1280))
	}
	p, err := New(context.Background(), newFakeDemuxer([]media.StreamInfo{videoInfo, audioInfo}, pkts), testConfig(nil, nil, 0))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	first, err := p.ReadVideo()
	if err != nil {
		t.Fatal(err)
	}
	p.SetPaused(true)
	for range 3 {
		f, err := p.ReadVideo()
		if err != nil || f.Image != first.Image {
			t.Fatalf("paused ReadVideo returned a new frame (%v)", err)
		}
		if b, err := p.ReadAudio(); b != nil || err != nil {
			t.Fatalf("paused ReadAudio = %d samples, %v", len(b), err)
		}
	}
	p.SetPaused(false)
	f, err := p.ReadVideo()
	if err != nil {
		t.Fatal(err)
	}
	if f.Image.RGBAAt(0, 0).R != 1 {
		t.Fatalf("resumed on shade %d, want 1", f.Image.RGBAAt(0, 0).R)
	}
}

func TestVideoFrameShape(t *testing.T) {
	t.Parallel()
	p, err := New(context.Background(), newFakeDemuxer([]media.StreamInfo{videoInfo}, []*media.Packet{videoPacket(0)}), testConfig(nil, nil, 0))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	f, err := p.ReadVideo()
	if err != nil {
		t.Fatal(err)
	}
	if f.Width() != 64 || f.Height() != 48 || f.Stride() != 64*4 || len(f.Pix()) != 64*48*4 {
		t.Fatalf("frame %dx%d stride %d", f.Width(), f.Height(), f.Stride())
	}
	// 8×6 shown at 64×48 keeps square pixels.
	if f.PixelAspect != media.R(1, 1) {
		t.Fatalf("pixel aspect = %v", f.PixelAspect)
	}
	if _, err := p.ReadVideo(); err != io.EOF {
		t.Fatalf("got %v, want io.EOF", err)
	}
	if f, _ := p.ReadVideo(); !f.Empty() {
		t.Fatal("frame after end is not empty")
	}
}

func TestNoDecodableStreams(t *testing.T) {
	t.Parallel()
	h264 := videoInfo
	h264.Codec = media.CodecH264
	_, err := New(context.Background(), newFakeDemuxer([]media.StreamInfo{h264}, nil), testConfig(nil, nil, 0))
	if !errors.Is(err, demux.ErrNoStreams) {
		t.Fatalf("got %v, want ErrNoStreams", err)
	}
}

func TestSelectStreams(t *testing.T) {
	t.Parallel()
	silent := audioInfo
	silent.Channels = 0
	h264 := videoInfo
	h264.Codec = media.CodecH264
	second := videoInfo
	second.Index = 3

	v, a, err := selectStreams([]media.StreamInfo{h264, silent, second, audioInfo}, true)
	if err != nil {
		t.Fatal(err)
	}
	if v.Index != 3 || a.Index != 1 || a.Channels != 2 {
		t.Fatalf("picked video %d audio %d", v.Index, a.Index)
	}
	if _, a, _ := selectStreams([]media.StreamInfo{videoInfo, audioInfo}, false); a != nil {
		t.Fatal("audio selected with audio disabled")
	}
}

func TestOpenMPEGTS(t *testing.T) {
	t.Parallel()
	var jpg bytes.Buffer
	if err := jpeg.Encode(&jpg, image.NewGray(image.Rect(0, 0, 32, 24)), nil); err != nil {
		t.Fatal(err)
	}
	var ts bytes.Buffer
	m := mpegts.NewMuxer(&ts, 0x1000,
		mpegts.MuxStream{PID: 0x100, StreamType: mpegts.StreamTypePrivatePES, StreamID: 0xE0, Registration: "MJPG"},
		mpegts.MuxStream{PID: 0x101, StreamType: mpegts.StreamTypeHDMVLPCM, StreamID: 0xBD},
	)
	lpcm := codec.AppendLPCM(nil, make([]int16, 2*1920), 2, 48000)
	for i := range int64(10) {
		pts := 90000 + i*3600
		if err := m.WritePES(0x100, pts, jpg.Bytes()); err != nil {
			t.Fatal(err)
		}
		if err := m.WritePES(0x101, pts, lpcm); err != nil {
			t.Fatal(err)
		}
	}

	p, err := Open(context.Background(), &ts, Config{
		Width:  64,
		Height: 48,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	c, ok := consume(p, 5*time.Second)
	if !ok {
		t.Fatal("consumer did not reach EOF")
	}
	if c.err != nil {
		t.Fatal(c.err)
	}
	if len(c.shades) != 10 {
		t.Fatalf("got %d video frames, want 10", len(c.shades))
	}
	if c.blocks < 8 || c.blocks > 10 {
		t.Fatalf("got %d audio blocks, want about 10", c.blocks)
	}
}
