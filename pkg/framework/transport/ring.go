// Package transport carries audio blocks and control messages between the
// real-time audio goroutine and the script host without locks.
package transport

import (
	"errors"
	"sync/atomic"
)

// ErrOverflow is reported when a producer finds its queue full.
var ErrOverflow = errors.New("transport: queue full")

// Ring is a bounded single-producer/single-consumer queue. The producer
// side (Reserve/Commit/TryPush) and the consumer side (Front/Release/TryPop)
// may each be used by exactly one goroutine. Neither side ever blocks and
// the ring never grows.
//
// Slots are reused in place, so values with preallocated storage (see
// Block) travel through the ring without allocation.
type Ring[T any] struct {
	slots    []T
	capacity uint64

	// Monotonic positions; slot index is position % capacity.
	head atomic.Uint64 // next slot to read, written by the consumer
	tail atomic.Uint64 // next slot to write, written by the producer

	overflows atomic.Uint64
	pushed    atomic.Uint64
}

// NewRing creates a ring holding capacity items. init, when non-nil, is
// called once per slot to preallocate storage.
func NewRing[T any](capacity int, init func(*T)) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	r := &Ring[T]{
		slots:    make([]T, capacity),
		capacity: uint64(capacity),
	}
	if init != nil {
		for i := range r.slots {
			init(&r.slots[i])
		}
	}
	return r
}

// Reserve returns the next free slot for the producer to fill, or nil if
// the ring is full. A full ring counts one overflow; the newest item is the
// one dropped. The slot is not visible to the consumer until Commit.
func (r *Ring[T]) Reserve() *T {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail-head >= r.capacity {
		r.overflows.Add(1)
		return nil
	}
	return &r.slots[tail%r.capacity]
}

// Commit publishes the slot returned by the last successful Reserve.
func (r *Ring[T]) Commit() {
	r.tail.Store(r.tail.Load() + 1)
	r.pushed.Add(1)
}

// TryPush copies v into the ring. It reports false, and counts an
// overflow, when the ring is full.
func (r *Ring[T]) TryPush(v T) bool {
	slot := r.Reserve()
	if slot == nil {
		return false
	}
	*slot = v
	r.Commit()
	return true
}

// Front returns the oldest committed slot without removing it, or nil if
// the ring is empty. The slot stays owned by the consumer until Release.
func (r *Ring[T]) Front() *T {
	head := r.head.Load()
	if head == r.tail.Load() {
		return nil
	}
	return &r.slots[head%r.capacity]
}

// Release hands the slot returned by Front back to the producer.
func (r *Ring[T]) Release() {
	head := r.head.Load()
	if head == r.tail.Load() {
		return
	}
	r.head.Store(head + 1)
}

// TryPop removes and returns the oldest item.
func (r *Ring[T]) TryPop() (T, bool) {
	var zero T
	slot := r.Front()
	if slot == nil {
		return zero, false
	}
	v := *slot
	*slot = zero
	r.Release()
	return v, true
}

// Discard releases every committed item. Consumer side only.
func (r *Ring[T]) Discard() int {
	n := 0
	for r.Front() != nil {
		r.Release()
		n++
	}
	return n
}

// Len returns the number of committed, unreleased items.
func (r *Ring[T]) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return int(r.capacity)
}

// Overflows returns how many pushes were dropped because the ring was full.
func (r *Ring[T]) Overflows() uint64 {
	return r.overflows.Load()
}

// Pushed returns how many items were committed.
func (r *Ring[T]) Pushed() uint64 {
	return r.pushed.Load()
}

// Doorbell wakes a sleeping consumer. Ring never blocks: if a wakeup is
// already pending the call is a no-op.
type Doorbell struct {
	ch chan struct{}
}

// NewDoorbell creates a doorbell with a single pending wakeup slot.
func NewDoorbell() *Doorbell {
	return &Doorbell{ch: make(chan struct{}, 1)}
}

// Ring signals the consumer.
func (d *Doorbell) Ring() {
	select {
	case d.ch <- struct{}{}:
	default:
	}
}

// C is the channel the consumer waits on.
func (d *Doorbell) C() <-chan struct{} {
	return d.ch
}
