package avsource

import (
	"image"
	"time"

	"github.com/t0nitogp/hacktv/internal/codec"
	"github.com/t0nitogp/hacktv/internal/dbuffer"
	"github.com/t0nitogp/hacktv/internal/media"
	"github.com/t0nitogp/hacktv/internal/overlay"
	"github.com/t0nitogp/hacktv/internal/pktqueue"
	"github.com/t0nitogp/hacktv/internal/transform"
)

type videoStream struct {
	streamQueue

	dec      codec.VideoDecoder
	in       *dbuffer.Buffer[*videoSlot]
	out      *dbuffer.Buffer[*pictureSlot]
	geometry transform.Geometry
	scaler   *transform.Scaler
	overlays overlay.Chain

	// tb is the output frame period; counter is the next output
	// frame's time in it. Both are owned by the scale stage.
	tb      media.Rational
	counter int64
}

// videoSlot holds a decoded frame and the buffer its reshaped picture is
// drawn into.
type videoSlot struct {
	frame media.VideoFrame
	geo   *image.RGBA
}

// pictureSlot holds an output picture.
type pictureSlot struct {
	img           *image.RGBA
	aspect        media.Rational
	interlaced    bool
	topFieldFirst bool
}

func (s *pictureSlot) frame() VideoFrame {
	return VideoFrame{
		Image:         s.img,
		PixelAspect:   s.aspect,
		Interlaced:    s.interlaced,
		TopFieldFirst: s.topFieldFirst,
	}
}

func newVideoStream(p *Pipeline, info media.StreamInfo, start timePoint) (*videoStream, error) {
	cfg := p.cfg
	log := p.log.With("stream", "video", "codec", string(info.Codec))
	dec, err := cfg.NewVideoDecoder(info, log)
	if err != nil {
		return nil, err
	}

	v := &videoStream{
		streamQueue: streamQueue{
			info:  info,
			queue: pktqueue.New(cfg.QueueCapacity, p.stall),
			log:   log,
			m:     p.metrics.For(true),
		},
		dec:      dec,
		in:       dbuffer.New(&videoSlot{}, &videoSlot{}),
		out:      dbuffer.New(&pictureSlot{img: blank(cfg), aspect: media.R(1, 1)}, &pictureSlot{img: blank(cfg), aspect: media.R(1, 1)}),
		geometry: transform.Geometry{Fit: cfg.Fit},
		scaler:   transform.NewScaler(cfg.Width, cfg.Height, nil),
		tb:       cfg.FrameRate.Inv(),
	}
	v.counter = start.in(v.tb)

	if cfg.Timestamp {
		v.overlays = append(v.overlays, overlay.NewTimestamp(cfg.Height))
	}
	if cfg.LogoPath != "" {
		logo, err := overlay.LoadLogo(cfg.LogoPath, cfg.LogoPosition)
		if err != nil {
			log.Warn("logo disabled", "path", cfg.LogoPath, "error", err)
		} else {
			v.overlays = append(v.overlays, logo)
		}
	}
	v.overlays = append(v.overlays, p.icon)

	log.Info("video stream", "index", info.Index, "size", image.Pt(info.Width, info.Height).String(),
		"fps", info.FrameRate.String(), "fit", cfg.Fit.String())
	return v, nil
}

// decode is the video decode stage.
func (v *videoStream) decode() error {
	defer v.in.Close()
	err := decodeLoop(&v.streamQueue, v.dec, v.emit, v.stalled)
	if err != nil {
		v.log.Error("video decode stopped", "error", err)
	}
	return err
}

func (v *videoStream) emit(f *media.VideoFrame) bool {
	slot, ok := v.in.Back()
	if !ok {
		return false
	}
	slot.frame, slot.geo = v.geometry.Apply(*f, slot.geo)
	return v.in.Publish(false)
}

// stalled repeats the last frame so a consumer waiting on video lets the
// other stream drain.
func (v *videoStream) stalled() bool {
	return v.in.Publish(true)
}

// scale is the video scale stage. It places each decoded frame on the
// output timeline: late frames are dropped and gaps are filled by
// repeating the previous output frame.
func (v *videoStream) scale() error {
	defer v.out.Close()
	for {
		slot, repeat, ok := v.in.Flip()
		if !ok {
			return nil
		}
		if repeat {
			if !v.repeat() {
				return nil
			}
			continue
		}

		f := &slot.frame
		if f.PTS != media.NoPTS {
			pts := media.Rescale(f.PTS, v.info.TimeBase, v.tb) - v.counter
			if pts < 0 {
				v.m.Dropped()
				continue
			}
			for ; pts > 0; pts-- {
				if !v.repeat() {
					return nil
				}
			}
		}

		out, ok := v.out.Back()
		if !ok {
			return nil
		}
		out.img, out.aspect = v.scaler.Scale(out.img, f)
		out.interlaced, out.topFieldFirst = f.Interlaced, f.TopFieldFirst
		v.overlays.Apply(out.img, v.position(f.PTS))
		if !v.out.Publish(false) {
			return nil
		}
		v.counter++
		v.m.Output()
	}
}

func (v *videoStream) repeat() bool {
	if !v.out.Publish(true) {
		return false
	}
	v.counter++
	v.m.Repeated()
	return true
}

// position returns how far into the source pts lies.
func (v *videoStream) position(pts int64) time.Duration {
	if pts == media.NoPTS {
		return 0
	}
	if v.info.StartTime != media.NoPTS {
		pts -= v.info.StartTime
	}
	return time.Duration(media.Rescale(pts, v.info.TimeBase, media.R(1, int64(time.Second))))
}
