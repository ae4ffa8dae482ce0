package avsource

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/t0nitogp/hacktv/internal/codec"
	"github.com/t0nitogp/hacktv/internal/media"
	"github.com/t0nitogp/hacktv/internal/metrics"
	"github.com/t0nitogp/hacktv/internal/pktqueue"
)

// streamQueue is the part of a stream the input stage feeds.
type streamQueue struct {
	info  media.StreamInfo
	queue *pktqueue.Queue
	log   *slog.Logger
	m     *metrics.Stream
}

// decodeLoop pops packets and runs them through dec until the queue ends
// or is aborted. emit hands a frame to the next stage and stalled is
// called when the queue is empty because the input stage is blocked on a
// sibling queue; both return false once their output is aborted.
func decodeLoop[F any](s *streamQueue, dec codec.Decoder[F], emit func(F) bool, stalled func() bool) error {
	for {
		pkt, res := s.queue.Pop()
		switch res {
		case pktqueue.Aborted:
			return nil
		case pktqueue.Stalled:
			if !stalled() {
				return nil
			}
			continue
		case pktqueue.EOF:
			// A nil packet drains the decoder.
			pkt = nil
		}

		done, err := decodePacket(s, dec, pkt, emit)
		if err != nil || done {
			return err
		}
	}
}

func decodePacket[F any](s *streamQueue, dec codec.Decoder[F], pkt *media.Packet, emit func(F) bool) (done bool, err error) {
	for {
		err := dec.Submit(pkt)
		if errors.Is(err, codec.ErrTryAgain) {
			// Take the decoder's output, then offer the same packet again.
			if done, err := receive(s, dec, emit); done || err != nil {
				return done, err
			}
			continue
		}
		if errors.Is(err, codec.ErrInvalidData) {
			s.m.DecodeError()
			s.log.Warn("skipping undecodable packet", "pts", pkt.PTS, "error", err)
			return false, nil
		}
		if err != nil {
			return true, fmt.Errorf("decoding %s: %w", s.info.Codec, err)
		}
		break
	}
	return receive(s, dec, emit)
}

// receive passes on every frame dec has ready. done is true once the
// decoder is drained or the next stage is gone.
func receive[F any](s *streamQueue, dec codec.Decoder[F], emit func(F) bool) (done bool, err error) {
	for {
		f, err := dec.Receive()
		switch {
		case errors.Is(err, codec.ErrTryAgain):
			return false, nil
		case errors.Is(err, io.EOF):
			s.log.Debug("decoder drained")
			return true, nil
		case errors.Is(err, codec.ErrInvalidData):
			s.m.DecodeError()
			s.log.Warn("dropping undecodable frame", "error", err)
			return false, nil
		case err != nil:
			return true, fmt.Errorf("decoding %s: %w", s.info.Codec, err)
		}
		s.m.Decoded()
		if !emit(f) {
			return true, nil
		}
	}
}
