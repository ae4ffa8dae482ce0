package avsource

import (
	"errors"
	"io"
	"time"

	"github.com/t0nitogp/hacktv/internal/demux"
	"github.com/t0nitogp/hacktv/internal/pktqueue"
)

// retryDelay is how long the input stage waits when a live source has
// no data yet.
const retryDelay = 10 * time.Millisecond

// runInput reads packets and routes them to the stream queues until the
// source ends, fails, or the pipeline is cancelled. It always ends the
// queues it feeds.
func (p *Pipeline) runInput() error {
	log := p.log.With("stage", "input")
	defer func() {
		if p.video != nil {
			p.video.queue.PushEOF()
		}
		if p.audio != nil {
			p.audio.queue.PushEOF()
		}
		p.setState(StateRunning, StateDraining)
	}()

	stalls := p.stall.Count()
	for p.ctx.Err() == nil {
		pkt, err := p.dmx.ReadPacket()
		switch {
		case errors.Is(err, demux.ErrTryAgain):
			p.metrics.Retried()
			select {
			case <-p.ctx.Done():
			case <-time.After(retryDelay):
			}
			continue
		case errors.Is(err, io.EOF):
			log.Info("end of input")
			return nil
		case err != nil:
			if p.ctx.Err() != nil {
				return nil
			}
			log.Warn("read failed, ending input", "error", err)
			return nil
		}

		var s *streamQueue
		switch {
		case p.video != nil && pkt.StreamIndex == p.video.info.Index:
			s = &p.video.streamQueue
		case p.audio != nil && pkt.StreamIndex == p.audio.info.Index:
			s = &p.audio.streamQueue
		default:
			p.metrics.Discarded()
			continue
		}

		if err := s.queue.Push(pkt); err != nil {
			if errors.Is(err, pktqueue.ErrAborted) {
				return nil
			}
			log.Warn("dropping packet", "stream", pkt.StreamIndex, "error", err)
			continue
		}
		s.m.Queued(s.queue.Size())

		if n := p.stall.Count(); n != stalls {
			p.metrics.Stalled()
			log.Debug("input stalled on a full queue", "stream", pkt.StreamIndex)
			stalls = n
		}
	}
	return nil
}
