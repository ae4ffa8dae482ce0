package transform

import (
	"fmt"
	"math"

	"github.com/t0nitogp/hacktv/internal/media"
)

// Downmix gains for folding surround channels into stereo: each side
// takes the centre plus 0.3 of its front and back channels, normalised so
// the gains sum to one.
const (
	downmixCentre = 1.0 / 1.6
	downmixSide   = 0.3 / 1.6
)

// AudioFilter adjusts decoded audio before resampling.
type AudioFilter struct {
	// Downmix folds frames with more than two channels into stereo.
	Downmix bool
	// Volume is a linear gain. Zero is treated as 1.
	Volume float64
}

// Apply filters fr in place.
func (a AudioFilter) Apply(fr *media.AudioFrame) {
	if a.Downmix && fr.Channels > 2 {
		downmix(fr)
	}
	if a.Volume > 0 && a.Volume != 1 {
		for i, s := range fr.Samples {
			fr.Samples[i] = clip16(float64(s) * a.Volume)
		}
	}
}

// downmix folds channels in FL FR FC LFE BL BR order into stereo. The
// output reuses the frame's sample slice.
func downmix(fr *media.AudioFrame) {
	ch := fr.Channels
	n := fr.NumSamples()
	out := fr.Samples[:2*n]
	for i := range n {
		in := fr.Samples[i*ch : (i+1)*ch]
		fl, fright, fc := float64(in[0]), float64(in[1]), float64(in[2])
		var bl, br float64
		if ch >= 6 {
			bl, br = float64(in[4]), float64(in[5])
		}
		l := fc*downmixCentre + (fl+bl)*downmixSide
		r := fc*downmixCentre + (fright+br)*downmixSide
		out[2*i] = clip16(l)
		out[2*i+1] = clip16(r)
	}
	fr.Samples = out
	fr.Channels = 2
}

func clip16(v float64) int16 {
	switch {
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(math.Round(v))
}

// Resampler converts interleaved s16 audio of any channel count and rate
// to stereo at the output rate using linear interpolation. Output is
// handed out in fixed-size blocks; samples that do not yet fill a block
// stay queued.
type Resampler struct {
	inRate     int
	outRate    int
	inChannels int
	block      int

	step float64 // input frames per output frame
	pos  float64 // next output position; -1 addresses prev
	prev [2]int16

	stereo []int16
	fifo   []int16
	zeros  []int16
}

// NewResampler returns a resampler from inRate with inChannels channels
// to stereo at outRate, producing blocks of block frames.
func NewResampler(inRate, inChannels, outRate, block int) (*Resampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("transform: invalid sample rates %d -> %d", inRate, outRate)
	}
	if inChannels <= 0 {
		return nil, fmt.Errorf("transform: invalid channel count %d", inChannels)
	}
	if block <= 0 {
		return nil, fmt.Errorf("transform: invalid block size %d", block)
	}
	return &Resampler{
		inRate:     inRate,
		outRate:    outRate,
		inChannels: inChannels,
		block:      block,
		step:       float64(inRate) / float64(outRate),
	}, nil
}

// BlockSize returns the number of stereo frames per output block.
func (r *Resampler) BlockSize() int { return r.block }

// Buffered returns the number of converted stereo frames waiting for a
// full block.
func (r *Resampler) Buffered() int { return len(r.fifo) / 2 }

// Convert queues src (interleaved, inChannels wide) for conversion and,
// if a full block is ready, writes it to dst as interleaved stereo and
// returns true. dst must hold 2*BlockSize samples. Call again with a nil
// src to drain further blocks.
func (r *Resampler) Convert(dst, src []int16) bool {
	if len(src) > 0 {
		r.push(r.toStereo(src))
	}
	n := 2 * r.block
	if len(r.fifo) < n {
		return false
	}
	copy(dst[:n], r.fifo)
	r.fifo = r.fifo[:copy(r.fifo, r.fifo[n:])]
	return true
}

// InjectSilence queues n input frames of silence.
func (r *Resampler) InjectSilence(n int) {
	const chunk = 4096
	if r.zeros == nil {
		r.zeros = make([]int16, 2*chunk)
	}
	for n > 0 {
		k := min(n, chunk)
		r.push(r.zeros[:2*k])
		n -= k
	}
}

// toStereo maps src to stereo: mono is duplicated and extra channels
// beyond the first two are dropped.
func (r *Resampler) toStereo(src []int16) []int16 {
	ch := r.inChannels
	if ch == 2 {
		return src[:len(src)&^1]
	}
	n := len(src) / ch
	if cap(r.stereo) < 2*n {
		r.stereo = make([]int16, 2*n)
	}
	out := r.stereo[:2*n]
	for i := range n {
		if ch == 1 {
			out[2*i], out[2*i+1] = src[i], src[i]
		} else {
			out[2*i], out[2*i+1] = src[i*ch], src[i*ch+1]
		}
	}
	return out
}

// push resamples stereo input frames onto the fifo.
func (r *Resampler) push(in []int16) {
	n := len(in) / 2
	if n == 0 {
		return
	}
	if r.inRate == r.outRate {
		r.fifo = append(r.fifo, in[:2*n]...)
		return
	}

	at := func(i, c int) float64 {
		if i < 0 {
			return float64(r.prev[c])
		}
		return float64(in[2*i+c])
	}
	last := float64(n - 1)
	for r.pos < last {
		i := int(math.Floor(r.pos))
		frac := r.pos - float64(i)
		for c := range 2 {
			a, b := at(i, c), at(i+1, c)
			r.fifo = append(r.fifo, clip16(a+(b-a)*frac))
		}
		r.pos += r.step
	}
	r.pos -= float64(n)
	r.prev = [2]int16{in[2*(n-1)], in[2*(n-1)+1]}
}
