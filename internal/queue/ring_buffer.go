// Package queue provides a thread-safe ring buffer carrying verdicts from
// the analyzers to the persistence consumers.
package queue

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"chainsentry/internal/schema"
)

var (
	// ErrQueueFull is returned when pushing to a full queue.
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueEmpty is returned when no verdict arrives within a timeout.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrQueueClosed is returned once the queue is drained after Close.
	ErrQueueClosed = errors.New("queue is closed")
)

// RingBuffer is a bounded circular buffer of verdicts. Pushes never block;
// a full buffer drops the verdict (counted) rather than stalling the
// detect path.
type RingBuffer struct {
	verdicts []*schema.ThreatDetectionResult
	size     int
	head     int
	tail     int
	count    int
	closed   bool
	mu       sync.Mutex
	cond     *sync.Cond

	pushed  atomic.Uint64
	popped  atomic.Uint64
	dropped atomic.Uint64
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 10000
	}
	rb := &RingBuffer{
		verdicts: make([]*schema.ThreatDetectionResult, size),
		size:     size,
	}
	rb.cond = sync.NewCond(&rb.mu)
	return rb
}

// Push enqueues a verdict. Returns ErrQueueFull at capacity.
func (rb *RingBuffer) Push(v *schema.ThreatDetectionResult) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.closed {
		return ErrQueueClosed
	}
	if rb.count == rb.size {
		rb.dropped.Add(1)
		return ErrQueueFull
	}

	rb.verdicts[rb.tail] = v
	rb.tail = (rb.tail + 1) % rb.size
	rb.count++
	rb.pushed.Add(1)

	rb.cond.Signal()
	return nil
}

// PopBlocking dequeues a verdict, blocking until one is available or the
// queue is closed and drained.
func (rb *RingBuffer) PopBlocking() (*schema.ThreatDetectionResult, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for rb.count == 0 && !rb.closed {
		rb.cond.Wait()
	}
	if rb.closed && rb.count == 0 {
		return nil, ErrQueueClosed
	}
	return rb.popLocked(), nil
}

// PopWithTimeout dequeues a verdict, waiting at most timeout. Returns
// ErrQueueEmpty if none arrived in time.
func (rb *RingBuffer) PopWithTimeout(timeout time.Duration) (*schema.ThreatDetectionResult, error) {
	deadline := time.Now().Add(timeout)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	for rb.count == 0 && !rb.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrQueueEmpty
		}

		// cond.Wait has no deadline; a timer goroutine wakes the waiters
		// when the budget runs out.
		done := make(chan struct{})
		go func() {
			time.Sleep(remaining)
			rb.mu.Lock()
			rb.cond.Broadcast()
			rb.mu.Unlock()
			close(done)
		}()

		rb.cond.Wait()

		select {
		case <-done:
		default:
		}

		if time.Now().After(deadline) && rb.count == 0 {
			return nil, ErrQueueEmpty
		}
	}

	if rb.closed && rb.count == 0 {
		return nil, ErrQueueClosed
	}
	if rb.count == 0 {
		return nil, ErrQueueEmpty
	}
	return rb.popLocked(), nil
}

func (rb *RingBuffer) popLocked() *schema.ThreatDetectionResult {
	v := rb.verdicts[rb.head]
	rb.verdicts[rb.head] = nil
	rb.head = (rb.head + 1) % rb.size
	rb.count--
	rb.popped.Add(1)
	return v
}

// Len returns the current queue depth.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Cap returns the queue capacity.
func (rb *RingBuffer) Cap() int {
	return rb.size
}

// Close stops the queue and wakes all waiting consumers. Already-queued
// verdicts remain poppable until drained.
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
	rb.cond.Broadcast()
}

// Metrics holds queue counters for the metrics endpoint.
type Metrics struct {
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Dropped  uint64 `json:"dropped"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}

// Metrics returns a snapshot of the queue counters.
func (rb *RingBuffer) Metrics() Metrics {
	return Metrics{
		Pushed:   rb.pushed.Load(),
		Popped:   rb.popped.Load(),
		Dropped:  rb.dropped.Load(),
		Depth:    rb.Len(),
		Capacity: rb.size,
	}
}
