// Package codec provides the decoders for the elementary streams the
// demuxers recognise. Every decoder follows the same submit/receive
// protocol: Submit hands over one packet and Receive returns decoded
// frames until it reports ErrTryAgain. Submitting nil starts draining,
// after which Receive returns io.EOF once the last frame is out.
package codec

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/t0nitogp/hacktv/internal/media"
)

var (
	// ErrTryAgain means the call cannot make progress until the other
	// half of the protocol is called.
	ErrTryAgain = errors.New("codec: try again")

	// ErrUnsupported is returned when no decoder exists for a codec.
	ErrUnsupported = errors.New("codec: unsupported codec")

	// ErrInvalidData marks a packet that could not be decoded. The
	// decoder stays usable.
	ErrInvalidData = errors.New("codec: invalid data")
)

// Decoder turns packets of one stream into frames of type F.
type Decoder[F any] interface {
	Submit(pkt *media.Packet) error
	Receive() (F, error)
	Close() error
}

// VideoDecoder decodes a video stream.
type VideoDecoder = Decoder[*media.VideoFrame]

// AudioDecoder decodes an audio stream to interleaved signed 16-bit PCM.
type AudioDecoder = Decoder[*media.AudioFrame]

// Supported reports whether a decoder is available for c.
func Supported(c media.Codec) bool {
	switch c {
	case media.CodecMJPEG, media.CodecVP8, media.CodecOpus, media.CodecLPCM:
		return true
	}
	return false
}

// NewVideoDecoder returns a decoder for the video stream described by info.
func NewVideoDecoder(info media.StreamInfo, log *slog.Logger) (VideoDecoder, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "decoder", "codec", string(info.Codec), "stream", info.Index)

	switch info.Codec {
	case media.CodecMJPEG:
		return newFrameDecoder(newMJPEG(info).decode), nil
	case media.CodecVP8:
		return newFrameDecoder(newVP8(info, log).decode), nil
	}
	return nil, fmt.Errorf("%w: video %q", ErrUnsupported, info.Codec)
}

// NewAudioDecoder returns a decoder for the audio stream described by info.
func NewAudioDecoder(info media.StreamInfo, log *slog.Logger) (AudioDecoder, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "decoder", "codec", string(info.Codec), "stream", info.Index)

	switch info.Codec {
	case media.CodecOpus:
		return newFrameDecoder(newOpus(log).decode), nil
	case media.CodecLPCM:
		return newFrameDecoder(decodeLPCM), nil
	}
	return nil, fmt.Errorf("%w: audio %q", ErrUnsupported, info.Codec)
}

// frameDecoder adapts a synchronous packet decode function to the
// submit/receive protocol. It holds the frames of at most one packet.
type frameDecoder[F any] struct {
	decode   func(*media.Packet) ([]F, error)
	pending  []F
	draining bool
	closed   bool
}

func newFrameDecoder[F any](decode func(*media.Packet) ([]F, error)) *frameDecoder[F] {
	return &frameDecoder[F]{decode: decode}
}

func (d *frameDecoder[F]) Submit(pkt *media.Packet) error {
	if d.closed {
		return io.ErrClosedPipe
	}
	if d.draining {
		return io.EOF
	}
	if len(d.pending) > 0 {
		return ErrTryAgain
	}
	if pkt == nil {
		d.draining = true
		return nil
	}
	frames, err := d.decode(pkt)
	if err != nil {
		return err
	}
	d.pending = frames
	return nil
}

func (d *frameDecoder[F]) Receive() (F, error) {
	var zero F
	if len(d.pending) > 0 {
		f := d.pending[0]
		d.pending[0] = zero
		d.pending = d.pending[1:]
		return f, nil
	}
	if d.draining {
		return zero, io.EOF
	}
	return zero, ErrTryAgain
}

func (d *frameDecoder[F]) Close() error {
	d.closed = true
	d.pending = nil
	return nil
}
