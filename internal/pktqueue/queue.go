// Package pktqueue implements the bounded FIFO of compressed packets that
// sits between the input stage and a decode stage.
//
// Each queue has its own lock. Queues fed by the same producer share a
// Stall so a consumer can tell that its queue is empty only because the
// producer is blocked pushing to a sibling queue.
package pktqueue

import (
	"errors"
	"sync"

	"github.com/t0nitogp/hacktv/internal/media"
)

// DefaultCapacity is the byte budget of a queue including per-item overhead.
const DefaultCapacity = 15 * 1024 * 1024

// ItemOverhead is the fixed accounting cost added to every queued packet.
const ItemOverhead = 64

// ErrAborted is returned by Push when the queue was aborted while the
// caller waited for space.
var ErrAborted = errors.New("pktqueue: aborted")

// ErrClosed is returned by Push after PushEOF.
var ErrClosed = errors.New("pktqueue: push after end of stream")

// Result is the outcome of Pop.
type Result int

// Pop results.
const (
	OK Result = iota
	Stalled
	EOF
	Aborted
)

func (r Result) String() string {
	switch r {
	case OK:
		return "ok"
	case Stalled:
		return "stalled"
	case EOF:
		return "eof"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Queue is a single-producer single-consumer packet FIFO bounded by bytes.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []*media.Packet
	head     int
	size     int
	capacity int
	eof      bool
	abort    bool
	stall    *Stall
}

// New creates a queue with the given byte capacity. If capacity is not
// positive DefaultCapacity is used. stall may be nil.
func New(capacity int, stall *Stall) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		capacity: capacity,
		stall:    stall,
	}
	q.cond = sync.NewCond(&q.mu)
	if stall != nil {
		stall.attach(q)
	}
	return q
}

// Push appends pkt, blocking while the queue has no room for it. It
// returns ErrAborted, dropping pkt, if the queue is aborted while waiting,
// and ErrClosed once the end of stream has been pushed.
func (q *Queue) Push(pkt *media.Packet) error {
	cost := pkt.Size() + ItemOverhead

	q.mu.Lock()
	if q.eof && !q.abort {
		q.mu.Unlock()
		return ErrClosed
	}
	stalled := false
	// An oversized packet is still accepted into an empty queue.
	for !q.abort && q.len() > 0 && q.size+cost > q.capacity {
		if q.stall != nil && !stalled {
			// Raise the stall outside our own lock, then re-check.
			stalled = true
			q.mu.Unlock()
			q.stall.set(true)
			q.mu.Lock()
			continue
		}
		q.cond.Wait()
	}

	if q.abort {
		q.cond.Broadcast()
		q.mu.Unlock()
		if stalled {
			q.stall.set(false)
		}
		return ErrAborted
	}

	q.items = append(q.items, pkt)
	q.size += cost
	q.cond.Broadcast()
	q.mu.Unlock()

	if stalled {
		q.stall.set(false)
	}
	return nil
}

// PushEOF marks the end of the stream. It never blocks.
func (q *Queue) PushEOF() {
	q.mu.Lock()
	q.eof = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Pop removes the oldest packet. When the queue is empty it blocks until
// a packet arrives, the stream ends, the queue is aborted, or the producer
// stalls on a sibling queue. Abort takes precedence over EOF.
func (q *Queue) Pop() (*media.Packet, Result) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.len() == 0 {
		switch {
		case q.abort:
			return nil, Aborted
		case q.eof:
			return nil, EOF
		case q.stall != nil && q.stall.Stalled():
			return nil, Stalled
		}
		q.cond.Wait()
	}

	pkt := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	q.size -= pkt.Size() + ItemOverhead
	q.cond.Broadcast()
	return pkt, OK
}

// Abort wakes every waiter and makes all further operations terminal.
func (q *Queue) Abort() {
	q.mu.Lock()
	q.abort = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Flush drops any queued packets and returns how many were dropped.
func (q *Queue) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.len()
	for i := range q.items {
		q.items[i] = nil
	}
	q.items = q.items[:0]
	q.head = 0
	q.size = 0
	q.cond.Broadcast()
	return n
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.len()
}

// Size returns the queued bytes including per-item overhead.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *Queue) len() int {
	return len(q.items) - q.head
}

// wake broadcasts on the queue's condition so a blocked consumer
// re-evaluates the shared stall flag.
func (q *Queue) wake() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}
