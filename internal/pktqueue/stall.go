package pktqueue

import (
	"sync"
	"sync/atomic"
)

// Stall is the flag a producer raises while it is blocked on a full
// queue. It is shared by every queue the producer feeds.
type Stall struct {
	stalled atomic.Bool

	mu     sync.Mutex
	queues []*Queue
	count  atomic.Int64
}

// NewStall returns a cleared stall flag.
func NewStall() *Stall {
	return &Stall{}
}

// Stalled reports whether the producer is currently blocked.
func (s *Stall) Stalled() bool {
	return s.stalled.Load()
}

// Count returns how many times the producer has stalled.
func (s *Stall) Count() int64 {
	return s.count.Load()
}

func (s *Stall) attach(q *Queue) {
	s.mu.Lock()
	s.queues = append(s.queues, q)
	s.mu.Unlock()
}

func (s *Stall) set(v bool) {
	if s.stalled.Swap(v) == v {
		return
	}
	if !v {
		return
	}
	s.count.Add(1)

	s.mu.Lock()
	queues := append([]*Queue(nil), s.queues...)
	s.mu.Unlock()
	for _, q := range queues {
		q.wake()
	}
}
