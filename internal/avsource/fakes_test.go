package avsource

import (
	"image"
	"image/color"
	"image/draw"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/t0nitogp/hacktv/internal/codec"
	"github.com/t0nitogp/hacktv/internal/media"
)

var (
	videoInfo = media.StreamInfo{
		Index:     0,
		Type:      media.TypeVideo,
		Codec:     media.CodecMJPEG,
		TimeBase:  media.R(1, 90000),
		StartTime: 0,
		Width:     8,
		Height:    6,
		FrameRate: media.R(25, 1),
	}
	audioInfo = media.StreamInfo{
		Index:      1,
		Type:       media.TypeAudio,
		Codec:      media.CodecLPCM,
		TimeBase:   media.R(1, 32000),
		StartTime:  0,
		SampleRate: 32000,
		Channels:   2,
		FrameSize:  1280,
	}
)

// fakeDemuxer replays a fixed packet list. With hang set it blocks at
// the end until closed instead of reporting io.EOF.
type fakeDemuxer struct {
	streams []media.StreamInfo
	pkts    []*media.Packet
	next    int
	hang    bool

	done   chan struct{}
	once   sync.Once
	closes atomic.Int32
}

func newFakeDemuxer(streams []media.StreamInfo, pkts []*media.Packet) *fakeDemuxer {
	return &fakeDemuxer{streams: streams, pkts: pkts, done: make(chan struct{})}
}

func (d *fakeDemuxer) Streams() []media.StreamInfo { return d.streams }

func (d *fakeDemuxer) ReadPacket() (*media.Packet, error) {
	if d.next < len(d.pkts) {
		p := d.pkts[d.next]
		d.next++
		return p, nil
	}
	if d.hang {
		<-d.done
		return nil, io.ErrClosedPipe
	}
	return nil, io.EOF
}

func (d *fakeDemuxer) Close() error {
	d.closes.Add(1)
	d.once.Do(func() { close(d.done) })
	return nil
}

// fakeDecoder turns each packet into one frame. A packet starting with
// 0xEE is rejected as invalid data.
type fakeDecoder[F any] struct {
	newFrame func(*media.Packet) F
	delay    time.Duration
	pending  []F
	draining bool
	closes   *atomic.Int32
}

func (d *fakeDecoder[F]) Submit(pkt *media.Packet) error {
	if len(d.pending) > 0 {
		return codec.ErrTryAgain
	}
	if pkt == nil {
		d.draining = true
		return nil
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if len(pkt.Data) > 0 && pkt.Data[0] == 0xEE {
		return codec.ErrInvalidData
	}
	d.pending = append(d.pending, d.newFrame(pkt))
	return nil
}

func (d *fakeDecoder[F]) Receive() (F, error) {
	var zero F
	if len(d.pending) > 0 {
		f := d.pending[0]
		d.pending = d.pending[1:]
		return f, nil
	}
	if d.draining {
		return zero, io.EOF
	}
	return zero, codec.ErrTryAgain
}

func (d *fakeDecoder[F]) Close() error {
	if d.closes != nil {
		d.closes.Add(1)
	}
	return nil
}

// shade is the red level a fake video frame is painted with: its frame
// number at 25 fps.
func shade(pts int64) uint8 {
	return uint8(pts / 3600)
}

func fakeVideoFrame(pkt *media.Packet) *media.VideoFrame {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	draw.Draw(img, img.Rect, image.NewUniform(color.RGBA{R: shade(pkt.PTS), A: 255}), image.Point{}, draw.Src)
	return &media.VideoFrame{Image: img, PTS: pkt.PTS}
}

func fakeAudioFrame(pkt *media.Packet) *media.AudioFrame {
	n := 1280
	if len(pkt.Data) >= 2 {
		n = int(pkt.Data[0])<<8 | int(pkt.Data[1])
	}
	s := make([]int16, 2*n)
	for i := range s {
		s[i] = 100
	}
	return &media.AudioFrame{Samples: s, Channels: 2, SampleRate: 32000, PTS: pkt.PTS}
}

// testConfig returns a small-output config wired to fake decoders whose
// Close calls are counted.
func testConfig(vcloses, acloses *atomic.Int32, delay time.Duration) Config {
	return Config{
		Width:      64,
		Height:     48,
		SampleRate: 32000,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewVideoDecoder: func(media.StreamInfo, *slog.Logger) (codec.VideoDecoder, error) {
			return &fakeDecoder[*media.VideoFrame]{newFrame: fakeVideoFrame, delay: delay, closes: vcloses}, nil
		},
		NewAudioDecoder: func(media.StreamInfo, *slog.Logger) (codec.AudioDecoder, error) {
			return &fakeDecoder[*media.AudioFrame]{newFrame: fakeAudioFrame, delay: delay, closes: acloses}, nil
		},
	}
}

func videoPacket(frame int64) *media.Packet {
	return &media.Packet{StreamIndex: 0, PTS: frame * 3600, Data: []byte{0}}
}

// audioPacket returns a packet decoding to n stereo samples at pts (in
// 1/32000).
func audioPacket(pts int64, n int) *media.Packet {
	return &media.Packet{StreamIndex: 1, PTS: pts, Data: []byte{byte(n >> 8), byte(n)}}
}

// consumed is what a consumer saw before the source reported EOF.
type consumed struct {
	shades []uint8
	blocks int
	err    error
}

// consume reads video and audio alternately until EOF, or fails after
// timeout.
func consume(src Source, timeout time.Duration) (consumed, bool) {
	res := make(chan consumed, 1)
	go func() {
		var c consumed
		for !src.EOF() {
			f, err := src.ReadVideo()
			if err == nil {
				c.shades = append(c.shades, f.Image.RGBAAt(0, 0).R)
			} else if err != io.EOF {
				c.err = err
				break
			}
			b, err := src.ReadAudio()
			if err == nil && b != nil {
				c.blocks++
			} else if err != nil && err != io.EOF {
				c.err = err
				break
			}
		}
		res <- c
	}()
	select {
	case c := <-res:
		return c, true
	case <-time.After(timeout):
		return consumed{}, false
	}
}
