// Package dbuffer implements the single-slot handoff between two pipeline
// stages. A producer fills the back slot and publishes it; the consumer
// flips, taking the back slot as its new front. At most one frame is ever
// in flight, so a slow consumer holds its producer back.
package dbuffer

import "sync"

// Buffer is a two-slot double buffer. T is normally a pointer so slots can
// be filled in place and recycled for the life of the stream.
type Buffer[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	slots [2]T
	front int

	ready  bool
	repeat bool
	done   bool
	abort  bool
}

// New returns a buffer whose initial front and back slots are front and
// back.
func New[T any](front, back T) *Buffer[T] {
	b := &Buffer[T]{slots: [2]T{front, back}}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Back waits until the consumer has taken the last published frame and
// returns the back slot for filling. ok is false if the buffer was
// aborted or closed.
func (b *Buffer[T]) Back() (slot T, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.ready && !b.abort {
		b.cond.Wait()
	}
	if b.abort || b.done {
		var zero T
		return zero, false
	}
	return b.slots[1-b.front], true
}

// Publish marks the back slot ready. With repeat set the consumer's next
// Flip keeps its current front instead of swapping. It returns false if
// the buffer was aborted or closed.
func (b *Buffer[T]) Publish(repeat bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.ready && !b.abort {
		b.cond.Wait()
	}
	if b.abort || b.done {
		return false
	}
	b.ready = true
	b.repeat = repeat
	b.cond.Broadcast()
	return true
}

// Flip waits for a published frame and returns the new front slot and
// whether it is a repeat of the previous one. ok is false once the
// buffer is aborted, or once it is closed and the last frame was taken.
func (b *Buffer[T]) Flip() (front T, repeat bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for !b.ready && !b.abort && !b.done {
		b.cond.Wait()
	}
	if b.abort || !b.ready {
		var zero T
		return zero, false, false
	}
	repeat = b.repeat
	if !repeat {
		b.front = 1 - b.front
	}
	b.ready = false
	b.repeat = false
	b.cond.Broadcast()
	return b.slots[b.front], repeat, true
}

// Front returns the slot the consumer currently owns without waiting.
func (b *Buffer[T]) Front() T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slots[b.front]
}

// Close ends the stream. A frame already published can still be
// flipped; after that Flip reports the end. It is idempotent.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	b.done = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Abort wakes every waiter and discards any published frame. It is
// idempotent.
func (b *Buffer[T]) Abort() {
	b.mu.Lock()
	b.abort = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Aborted reports whether Abort has been called.
func (b *Buffer[T]) Aborted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.abort
}
