package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by [Ring.Pop] once the ring has been closed and every
// buffered frame has been delivered.
var ErrClosed = errors.New("audio: ring closed")

// RingOption configures a [Ring].
type RingOption func(*Ring)

// WithEvictHook registers fn to be called (outside the ring lock) with every
// frame that is evicted to make room for a newer one.
func WithEvictHook(fn func(dropped Frame)) RingOption {
	return func(r *Ring) { r.onEvict = fn }
}

// Ring is a bounded FIFO of frames that decouples the capture worker from the
// processing worker.
//
// Push never blocks: when the ring is full the oldest frame is evicted and
// counted, so a stalled consumer costs audio, never capture liveness. Pop
// blocks until a frame is available, the context is done, or the ring is
// closed. Frames are delivered strictly in push order.
//
// Ring is safe for one producer and one consumer running concurrently; Drain,
// Len and Evicted may be called from any goroutine.
type Ring struct {
	mu     sync.Mutex
	buf    []Frame
	head   int // index of the oldest frame
	size   int
	closed bool

	// ready holds at most one wake-up token for a blocked Pop.
	ready chan struct{}
	done  chan struct{}

	evicted atomic.Uint64
	onEvict func(Frame)
}

// NewRing creates a ring holding at most capacity frames. A capacity below 1
// is raised to 1.
func NewRing(capacity int, opts ...RingOption) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	r := &Ring{
		buf:   make([]Frame, capacity),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Push appends f. If the ring is full the oldest frame is evicted and Push
// reports true. Frames pushed after Close are discarded.
func (r *Ring) Push(f Frame) (evicted bool) {
	var dropped Frame

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if r.size == len(r.buf) {
		dropped = r.buf[r.head]
		r.buf[r.head] = Frame{}
		r.head = (r.head + 1) % len(r.buf)
		r.size--
		evicted = true
	}
	r.buf[(r.head+r.size)%len(r.buf)] = f
	r.size++
	r.mu.Unlock()

	if evicted {
		r.evicted.Add(1)
		if r.onEvict != nil {
			r.onEvict(dropped)
		}
	}

	select {
	case r.ready <- struct{}{}:
	default:
	}
	return evicted
}

// Pop removes and returns the oldest frame, blocking until one is available.
// Frames buffered before Close are still delivered; after that Pop returns
// [ErrClosed]. If ctx is done first, ctx.Err() is returned.
func (r *Ring) Pop(ctx context.Context) (Frame, error) {
	for {
		if f, ok, closed := r.take(); ok {
			return f, nil
		} else if closed {
			return Frame{}, ErrClosed
		}

		select {
		case <-r.ready:
		case <-r.done:
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}

// TryPop removes and returns the oldest frame without blocking.
func (r *Ring) TryPop() (Frame, bool) {
	f, ok, _ := r.take()
	return f, ok
}

func (r *Ring) take() (f Frame, ok bool, closed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return Frame{}, false, r.closed
	}
	f = r.buf[r.head]
	r.buf[r.head] = Frame{}
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return f, true, r.closed
}

// Drain discards every buffered frame and returns how many were dropped.
// Drained frames are not counted as evictions.
func (r *Ring) Drain() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.size
	for i := range r.buf {
		r.buf[i] = Frame{}
	}
	r.head = 0
	r.size = 0
	return n
}

// Close marks the ring as closed and wakes a blocked Pop. Close is idempotent.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.done)
}

// Closed reports whether Close has been called.
func (r *Ring) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Len returns the number of buffered frames.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the maximum number of buffered frames.
func (r *Ring) Cap() int { return len(r.buf) }

// Evicted returns the total number of frames dropped due to overflow.
func (r *Ring) Evicted() uint64 { return r.evicted.Load() }
