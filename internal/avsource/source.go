// Package avsource turns a demuxed audio/video source into a real-time
// pull API: fixed-rate RGBA video frames and fixed-size stereo audio
// blocks, aligned on the source timestamps.
//
// A Pipeline runs one goroutine per stage:
//
//	input → video queue → video decode → in-video buffer → scale → out-video buffer → ReadVideo
//	      → audio queue → audio decode → in-audio buffer → resample → out-audio buffer → ReadAudio
//
// Packet queues are bounded by bytes; the buffers between stages hold a
// single frame, so a consumer that stops reading holds the whole
// pipeline back.
package avsource

import (
	"errors"
	"image"

	"github.com/t0nitogp/hacktv/internal/media"
)

// ErrAborted is returned by the read calls once the source has been
// closed.
var ErrAborted = errors.New("avsource: aborted")

// Source is a real-time audio/video source. ReadVideo and ReadAudio are
// meant to be called from a single consumer goroutine; Close may be
// called from any goroutine.
type Source interface {
	// ReadVideo returns the next output frame. At the end of the stream
	// it returns an empty frame and io.EOF, or ErrAborted after Close.
	ReadVideo() (VideoFrame, error)

	// ReadAudio returns the next block of interleaved stereo samples. It
	// returns nil with a nil error when there is no audio or playback is
	// paused, and nil with io.EOF or ErrAborted at the end.
	ReadAudio() ([]int16, error)

	// EOF reports whether every stream has ended.
	EOF() bool

	// Close stops the source and releases its resources. It is safe to
	// call more than once.
	Close() error
}

// Pauser is implemented by sources that can hold playback.
type Pauser interface {
	SetPaused(paused bool)
}

// VideoFrame is one output picture. The image stays valid until the
// next ReadVideo call.
type VideoFrame struct {
	Image         *image.RGBA
	PixelAspect   media.Rational
	Interlaced    bool
	TopFieldFirst bool
}

// Empty reports whether the frame carries no picture.
func (f VideoFrame) Empty() bool { return f.Image == nil }

func (f VideoFrame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dx()
}

func (f VideoFrame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dy()
}

// Stride is the byte distance between rows of Pix.
func (f VideoFrame) Stride() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Stride
}

// Pix returns the RGBA pixel bytes.
func (f VideoFrame) Pix() []byte {
	if f.Image == nil {
		return nil
	}
	return f.Image.Pix
}
