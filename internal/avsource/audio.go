package avsource

import (
	"fmt"

	"github.com/t0nitogp/hacktv/internal/codec"
	"github.com/t0nitogp/hacktv/internal/dbuffer"
	"github.com/t0nitogp/hacktv/internal/media"
	"github.com/t0nitogp/hacktv/internal/pktqueue"
	"github.com/t0nitogp/hacktv/internal/transform"
)

// driftTolerance is how far audio may drift from its timestamps, in
// milliseconds, before it is trimmed or padded.
const driftTolerance = 20

type audioStream struct {
	streamQueue

	dec    codec.AudioDecoder
	in     *dbuffer.Buffer[*audioSlot]
	out    *dbuffer.Buffer[*blockSlot]
	filter transform.AudioFilter

	// Owned by the resample stage. tb is one input sample; counter is
	// the input time the resampler has consumed up to.
	rs       *transform.Resampler
	rate     int
	channels int
	outRate  int
	block    int
	tb       media.Rational
	allowed  int64
	counter  int64
}

type audioSlot struct {
	frame media.AudioFrame
}

type blockSlot struct {
	samples []int16
}

func newAudioStream(p *Pipeline, info media.StreamInfo, start timePoint) (*audioStream, error) {
	cfg := p.cfg
	log := p.log.With("stream", "audio", "codec", string(info.Codec))
	dec, err := cfg.NewAudioDecoder(info, log)
	if err != nil {
		return nil, err
	}

	rate := info.SampleRate
	if rate <= 0 {
		rate = codec.OpusSampleRate
	}
	channels := info.Channels
	if cfg.Downmix && channels > 2 {
		channels = 2
	}

	// One output block per decoded frame; a second when the frame size
	// is unknown.
	block := cfg.SampleRate
	if info.FrameSize > 0 {
		block = int(media.RescaleUp(int64(info.FrameSize), media.R(1, int64(rate)), media.R(1, int64(cfg.SampleRate))))
	}

	a := &audioStream{
		streamQueue: streamQueue{
			info:  info,
			queue: pktqueue.New(cfg.QueueCapacity, p.stall),
			log:   log,
			m:     p.metrics.For(false),
		},
		dec:     dec,
		in:      dbuffer.New(&audioSlot{}, &audioSlot{}),
		out:     dbuffer.New(&blockSlot{samples: make([]int16, 2*block)}, &blockSlot{samples: make([]int16, 2*block)}),
		filter:  transform.AudioFilter{Downmix: cfg.Downmix, Volume: cfg.Volume},
		outRate: cfg.SampleRate,
		block:   block,
	}
	if err := a.reconfigure(rate, channels); err != nil {
		dec.Close()
		return nil, err
	}
	a.counter = start.in(a.tb)

	log.Info("audio stream", "index", info.Index, "rate", rate, "channels", info.Channels,
		"out_rate", cfg.SampleRate, "block", block)
	return a, nil
}

// reconfigure sets up the resampler for input at rate with the given
// channel count, keeping the counter on the same instant.
func (a *audioStream) reconfigure(rate, channels int) error {
	rs, err := transform.NewResampler(rate, channels, a.outRate, a.block)
	if err != nil {
		return fmt.Errorf("audio resampler: %w", err)
	}
	tb := media.R(1, int64(rate))
	if a.tb.Valid() {
		a.counter = media.Rescale(a.counter, a.tb, tb)
	}
	a.rs = rs
	a.rate = rate
	a.channels = channels
	a.tb = tb
	a.allowed = media.Rescale(driftTolerance, media.R(1, 1000), tb)
	return nil
}

// decode is the audio decode stage.
func (a *audioStream) decode() error {
	defer a.in.Close()
	err := decodeLoop(&a.streamQueue, a.dec, a.emit, a.stalled)
	if err != nil {
		a.log.Error("audio decode stopped", "error", err)
	}
	return err
}

func (a *audioStream) emit(f *media.AudioFrame) bool {
	slot, ok := a.in.Back()
	if !ok {
		return false
	}
	a.filter.Apply(f)
	slot.frame = *f
	return a.in.Publish(false)
}

// stalled asks the resample stage for a block of silence so a consumer
// waiting on audio lets the other stream drain.
func (a *audioStream) stalled() bool {
	return a.in.Publish(true)
}

// resample is the audio resample stage. It keeps the output within
// driftTolerance of the timestamps by trimming early samples and
// inserting silence for gaps.
func (a *audioStream) resample() error {
	defer a.out.Close()
	for {
		slot, repeat, ok := a.in.Flip()
		if !ok {
			return nil
		}

		var src []int16
		if repeat {
			n := int(media.Rescale(int64(a.block), media.R(1, int64(a.outRate)), a.tb))
			a.inject(int64(n))
		} else {
			f := &slot.frame
			if f.Channels != a.channels || f.SampleRate != a.rate {
				a.log.Info("audio format changed", "rate", f.SampleRate, "channels", f.Channels)
				if err := a.reconfigure(f.SampleRate, f.Channels); err != nil {
					return err
				}
			}
			src = f.Samples[:f.NumSamples()*f.Channels]

			if f.PTS != media.NoPTS {
				pts := media.Rescale(f.PTS, a.info.TimeBase, a.tb) - a.counter
				next := pts + int64(f.NumSamples())
				switch {
				case next <= 0:
					a.m.Dropped()
					continue
				case pts < -a.allowed:
					// Starts too early: trim; the counter follows the
					// samples actually converted.
					src = src[-pts*int64(f.Channels):]
					a.m.Trimmed(int(-pts))
				case pts > a.allowed:
					a.inject(pts)
				}
			}
		}

		if !a.convert(src) {
			return nil
		}
	}
}

// inject queues n input samples of silence.
func (a *audioStream) inject(n int64) {
	if n <= 0 {
		return
	}
	a.rs.InjectSilence(int(n))
	a.counter += n
	a.m.Injected(int(n))
}

// convert feeds src to the resampler and publishes every full block.
func (a *audioStream) convert(src []int16) bool {
	for {
		b, ok := a.out.Back()
		if !ok {
			return false
		}
		produced := a.rs.Convert(b.samples, src)
		a.counter += int64(len(src) / a.channels)
		src = nil
		if !produced {
			return true
		}
		if !a.out.Publish(false) {
			return false
		}
		a.m.Output()
	}
}
