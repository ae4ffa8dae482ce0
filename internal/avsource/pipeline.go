package avsource

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/t0nitogp/hacktv/internal/codec"
	"github.com/t0nitogp/hacktv/internal/demux"
	"github.com/t0nitogp/hacktv/internal/media"
	"github.com/t0nitogp/hacktv/internal/metrics"
	"github.com/t0nitogp/hacktv/internal/overlay"
	"github.com/t0nitogp/hacktv/internal/pktqueue"
)

// State is the lifecycle state of a Pipeline.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Pipeline is the live Source built on a demuxer.
type Pipeline struct {
	log     *slog.Logger
	id      string
	cfg     Config
	metrics *metrics.Metrics

	dmx        demux.Demuxer
	closeDemux func() error
	ctx        context.Context
	cancel     context.CancelFunc
	stop       func() bool

	stall *pktqueue.Stall
	video *videoStream
	audio *audioStream

	input    errgroup.Group
	videoRun errgroup.Group
	audioRun errgroup.Group

	state      atomic.Int32
	closing    atomic.Bool
	videoEnded atomic.Bool
	audioEnded atomic.Bool
	paused     atomic.Bool
	icon       *overlay.MediaIcon

	closeOnce sync.Once
	closeErr  error
}

var (
	_ Source = (*Pipeline)(nil)
	_ Pauser = (*Pipeline)(nil)
)

// Open demuxes r and starts a pipeline on it. r is closed by Close when
// it is an io.Closer.
func Open(ctx context.Context, r io.Reader, cfg Config) (*Pipeline, error) {
	opts := cfg.Demux
	if opts.Logger == nil {
		opts.Logger = cfg.Logger
	}
	dmx, err := demux.Open(ctx, r, cfg.Format, opts)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	p, err := New(ctx, dmx, cfg)
	if err != nil {
		dmx.Close()
		return nil, err
	}
	return p, nil
}

// New starts a pipeline reading from dmx. Once New succeeds the pipeline
// owns dmx and closes it on Close. Cancelling ctx aborts the pipeline as if Close had
// been called, except that resources are released only by Close.
func New(ctx context.Context, dmx demux.Demuxer, cfg Config) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	p := &Pipeline{
		log:     cfg.Logger.With("component", "avsource", "session", id),
		id:      id,
		cfg:     cfg,
		metrics: cfg.Metrics,
		dmx:     dmx,
		stall:   pktqueue.NewStall(),
		icon:    overlay.NewMediaIcon(),
	}
	p.closeDemux = sync.OnceValue(dmx.Close)

	vinfo, ainfo, err := selectStreams(dmx.Streams(), cfg.audioEnabled())
	if err != nil {
		return nil, err
	}
	start := referenceStart(vinfo, ainfo, cfg)

	if vinfo != nil {
		p.video, err = newVideoStream(p, *vinfo, start)
		if err != nil {
			return nil, err
		}
	}
	if ainfo != nil {
		p.audio, err = newAudioStream(p, *ainfo, start)
		if err != nil {
			if p.video != nil {
				p.video.dec.Close()
			}
			return nil, err
		}
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.stop = context.AfterFunc(p.ctx, p.abort)

	p.state.Store(int32(StateRunning))
	p.metrics.SessionOpened()
	p.log.Info("pipeline started", "video", vinfo != nil, "audio", ainfo != nil,
		"fps", cfg.FrameRate.String(), "rate", cfg.SampleRate)

	p.input.Go(p.runInput)
	if p.video != nil {
		p.videoRun.Go(p.video.decode)
		p.videoRun.Go(p.video.scale)
	}
	if p.audio != nil {
		p.audioRun.Go(p.audio.decode)
		p.audioRun.Go(p.audio.resample)
	}
	return p, nil
}

// ID returns the session id used in logs.
func (p *Pipeline) ID() string { return p.id }

// State returns the current lifecycle state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// selectStreams picks the first video and first audio stream that have a
// decoder.
func selectStreams(streams []media.StreamInfo, wantAudio bool) (video, audio *media.StreamInfo, err error) {
	for i := range streams {
		st := &streams[i]
		if !codec.Supported(st.Codec) {
			continue
		}
		switch {
		case st.Type == media.TypeVideo && video == nil:
			video = st
		case st.Type == media.TypeAudio && audio == nil && wantAudio && st.Channels > 0:
			audio = st
		}
	}
	if video == nil && audio == nil {
		return nil, nil, fmt.Errorf("%w: none with a supported codec", demux.ErrNoStreams)
	}
	return video, audio, nil
}

// timePoint is an instant expressed in a stream time base.
type timePoint struct {
	pts int64
	tb  media.Rational
}

// referenceStart returns the instant output begins at: the video start
// time if known, else the audio one, shifted by the configured position.
func referenceStart(video, audio *media.StreamInfo, cfg Config) timePoint {
	ref := timePoint{pts: 0, tb: media.R(1, 90000)}
	switch {
	case video != nil && video.StartTime != media.NoPTS:
		ref = timePoint{pts: video.StartTime, tb: video.TimeBase}
	case audio != nil && audio.StartTime != media.NoPTS:
		ref = timePoint{pts: audio.StartTime, tb: audio.TimeBase}
	}
	if cfg.Position > 0 {
		ref.pts += media.Rescale(int64(cfg.Position), media.R(1, 1e9), ref.tb)
	}
	return ref
}

// in returns the reference instant in time base tb.
func (t timePoint) in(tb media.Rational) int64 {
	return media.Rescale(t.pts, t.tb, tb)
}

func (p *Pipeline) setState(from, to State) {
	if p.state.CompareAndSwap(int32(from), int32(to)) {
		p.log.Debug("state", "from", from.String(), "to", to.String())
	}
}

// abort wakes every stage. It runs when the pipeline context ends.
func (p *Pipeline) abort() {
	p.setState(StateRunning, StateDraining)
	if p.video != nil {
		p.video.queue.Abort()
		p.video.in.Abort()
		p.video.out.Abort()
	}
	if p.audio != nil {
		p.audio.queue.Abort()
		p.audio.in.Abort()
		p.audio.out.Abort()
	}
	// Unblocks a read stuck on a network source.
	p.closeDemux()
}

// Close stops every stage, waits for them and releases the pipeline's
// resources. Errors from failed stages are returned.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.closing.Store(true)
		p.stop()
		p.cancel()
		p.setState(StateRunning, StateDraining)

		var errs []error
		if p.video != nil {
			p.video.queue.Abort()
		}
		if p.audio != nil {
			p.audio.queue.Abort()
		}
		// Closing the source unblocks a read stuck on the network.
		p.closeDemux()
		errs = append(errs, p.input.Wait())

		if p.video != nil {
			p.video.in.Abort()
			p.video.out.Abort()
			errs = append(errs, p.videoRun.Wait())
		}
		if p.audio != nil {
			p.audio.in.Abort()
			p.audio.out.Abort()
			errs = append(errs, p.audioRun.Wait())
		}
		errs = append(errs, p.release())

		p.state.Store(int32(StateStopped))
		p.metrics.SessionClosed()
		p.closeErr = errors.Join(errs...)
		p.log.Info("pipeline closed")
	})
	return p.closeErr
}

// release frees decoders, queued packets and the demuxer.
func (p *Pipeline) release() error {
	var errs []error
	if p.video != nil {
		p.video.queue.Flush()
		errs = append(errs, p.video.dec.Close())
	}
	if p.audio != nil {
		p.audio.queue.Flush()
		errs = append(errs, p.audio.dec.Close())
	}
	errs = append(errs, p.closeDemux())
	return errors.Join(errs...)
}

// endErr is the error a read returns once its stream has ended.
func (p *Pipeline) endErr() error {
	if p.closing.Load() || p.ctx.Err() != nil {
		return ErrAborted
	}
	return io.EOF
}

// ReadVideo implements Source.
func (p *Pipeline) ReadVideo() (VideoFrame, error) {
	if p.video == nil || p.videoEnded.Load() {
		p.videoEnded.Store(true)
		return VideoFrame{}, p.endErr()
	}
	if p.paused.Load() {
		f := p.video.out.Front()
		if f.img != nil {
			p.icon.Apply(f.img, 0)
		}
		return f.frame(), nil
	}
	f, _, ok := p.video.out.Flip()
	if !ok {
		p.videoEnded.Store(true)
		p.log.Info("video ended")
		return VideoFrame{}, p.endErr()
	}
	return f.frame(), nil
}

// ReadAudio implements Source.
func (p *Pipeline) ReadAudio() ([]int16, error) {
	if p.audio == nil || p.paused.Load() {
		return nil, nil
	}
	if p.audioEnded.Load() {
		return nil, p.endErr()
	}
	b, _, ok := p.audio.out.Flip()
	if !ok {
		p.audioEnded.Store(true)
		p.log.Info("audio ended")
		return nil, p.endErr()
	}
	return b.samples, nil
}

// EOF implements Source.
func (p *Pipeline) EOF() bool {
	return (p.video == nil || p.videoEnded.Load()) &&
		(p.audio == nil || p.audioEnded.Load())
}

// SetPaused pauses or resumes output. While paused ReadVideo repeats the
// current frame with a pause symbol and ReadAudio returns no samples.
func (p *Pipeline) SetPaused(paused bool) {
	if p.paused.Swap(paused) != paused {
		p.icon.SetPaused(paused)
		p.log.Info("playback", "paused", paused)
	}
}

// blank returns a black picture of the configured output size.
func blank(cfg Config) *image.RGBA {
	w := cfg.Width
	if w <= 0 {
		w = cfg.Height * 4 / 3
	}
	img := image.NewRGBA(image.Rect(0, 0, w, cfg.Height))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xFF
	}
	return img
}
