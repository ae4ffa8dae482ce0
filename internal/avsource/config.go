package avsource

import (
	"log/slog"
	"time"

	"github.com/t0nitogp/hacktv/internal/codec"
	"github.com/t0nitogp/hacktv/internal/demux"
	"github.com/t0nitogp/hacktv/internal/media"
	"github.com/t0nitogp/hacktv/internal/metrics"
	"github.com/t0nitogp/hacktv/internal/overlay"
	"github.com/t0nitogp/hacktv/internal/pktqueue"
	"github.com/t0nitogp/hacktv/internal/transform"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultSampleRate = 32000
	DefaultWidth      = 720
	DefaultHeight     = 576
)

// DefaultFrameRate is the output frame rate when none is configured.
var DefaultFrameRate = media.R(25, 1)

// Config controls how a source is opened and shaped for output.
type Config struct {
	// FrameRate is the output video frame rate.
	FrameRate media.Rational
	// Width and Height are the output picture size, 720×576 when both
	// are zero. A zero Width with a set Height is derived from Height
	// and the source display aspect ratio.
	Width, Height int

	// SampleRate is the output audio rate. Negative disables audio.
	SampleRate int

	// Fit reshapes widescreen sources.
	Fit transform.Fit
	// Downmix folds surround audio into stereo.
	Downmix bool
	// Volume is a linear audio gain; zero means unchanged.
	Volume float64

	// Position skips this far into the source.
	Position time.Duration

	// Timestamp draws the source position on every frame.
	Timestamp bool
	// LogoPath names a PNG or WebP logo drawn at LogoPosition.
	LogoPath     string
	LogoPosition overlay.Position

	// Format forces a container format instead of probing.
	Format string
	// Demux tunes stream probing.
	Demux demux.Options

	// QueueCapacity is the byte budget of each packet queue.
	QueueCapacity int

	// NewVideoDecoder and NewAudioDecoder override the decoder
	// constructors.
	NewVideoDecoder func(media.StreamInfo, *slog.Logger) (codec.VideoDecoder, error)
	NewAudioDecoder func(media.StreamInfo, *slog.Logger) (codec.AudioDecoder, error)

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (c Config) withDefaults() Config {
	if !c.FrameRate.Valid() {
		c.FrameRate = DefaultFrameRate
	}
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Height <= 0 {
		c.Height = DefaultHeight
		if c.Width == 0 {
			c.Width = DefaultWidth
		}
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = pktqueue.DefaultCapacity
	}
	if c.NewVideoDecoder == nil {
		c.NewVideoDecoder = codec.NewVideoDecoder
	}
	if c.NewAudioDecoder == nil {
		c.NewAudioDecoder = codec.NewAudioDecoder
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// audioEnabled reports whether audio output was requested.
func (c Config) audioEnabled() bool {
	return c.SampleRate > 0
}
