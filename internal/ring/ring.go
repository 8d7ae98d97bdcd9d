// Package ring implements a single-producer/single-consumer lock-free
// ring buffer over unwrapped 64-bit head/tail counters. It backs both
// boundary rings between user mode and the kernel (events in,
// responses out) and each deck's internal routing FIFO.
package ring

import (
	"fmt"
	"sync/atomic"
)

// cacheLinePad is sized to keep the producer-owned head counter and
// the consumer-owned tail counter on separate cache lines, so the two
// sides never contend on the same line the way they would if packed
// adjacently in one struct.
const cacheLinePad = 64 - 8

// Ring is a fixed-capacity SPSC queue over values of type T. The zero
// value is not usable; construct with New. A Ring must have exactly
// one producer goroutine calling TryPush and exactly one consumer
// goroutine calling TryPop/PushFront — mixing producers or consumers
// breaks the lock-free invariants this type relies on.
type Ring[T any] struct {
	mask uint64
	buf  []T

	_    [cacheLinePad]byte
	head atomic.Uint64 // producer-owned

	_    [cacheLinePad]byte
	tail atomic.Uint64 // consumer-owned
}

// New constructs a ring of the given capacity, which must be a power
// of two and at least 2.
func New[T any](capacity uint64) *Ring[T] {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		panic(fmt.Sprintf("ring: capacity must be a power of two >= 2, got %d", capacity))
	}
	return &Ring[T]{
		mask: capacity - 1,
		buf:  make([]T, capacity),
	}
}

// Cap returns the ring's fixed capacity.
func (r *Ring[T]) Cap() uint64 { return r.mask + 1 }

// Len returns the number of items currently queued. Because head and
// tail are read with separate atomic loads, this is a snapshot that
// may be stale by the time the caller acts on it — callers on the
// producer or consumer side should prefer TryPush/TryPop's own
// full/empty checks over racing against Len.
func (r *Ring[T]) Len() uint64 {
	return r.head.Load() - r.tail.Load()
}

// IsEmpty reports whether the ring currently holds no items.
func (r *Ring[T]) IsEmpty() bool { return r.Len() == 0 }

// IsFull reports whether the ring is at capacity.
func (r *Ring[T]) IsFull() bool { return r.Len() == r.Cap() }

// TryPush enqueues v without blocking. It returns false, leaving the
// ring unchanged, if the ring is full.
func (r *Ring[T]) TryPush(v T) bool {
	head := r.head.Load()
	tail := r.tail.Load()
	if head-tail >= r.Cap() {
		return false
	}
	r.buf[head&r.mask] = v
	r.head.Store(head + 1)
	return true
}

// TryPop dequeues the oldest item without blocking. It returns the
// zero value and false if the ring is empty.
func (r *Ring[T]) TryPop() (T, bool) {
	var zero T
	tail := r.tail.Load()
	head := r.head.Load()
	if tail == head {
		return zero, false
	}
	v := r.buf[tail&r.mask]
	r.buf[tail&r.mask] = zero
	r.tail.Store(tail + 1)
	return v, true
}

// PushFront re-enqueues v at the front of the ring, so the next
// TryPop call returns it before anything already queued. It is used
// only by a ring's single consumer, to requeue an item it dequeued
// but could not fully process (the router's retry-on-backpressure
// path) — calling it from the producer side, or from more than one
// goroutine, races with TryPop.
//
// PushFront fails the same way TryPush does: if the ring is already
// full it returns false and leaves the ring unchanged.
func (r *Ring[T]) PushFront(v T) bool {
	head := r.head.Load()
	tail := r.tail.Load()
	if head-tail >= r.Cap() {
		return false
	}
	newTail := tail - 1
	r.buf[newTail&r.mask] = v
	r.tail.Store(newTail)
	return true
}
