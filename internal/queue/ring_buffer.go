// Package queue provides the bounded hand-off between the rule engine and
// the correlation workers. Producers never block: a full buffer drops the
// anomaly and counts it, which keeps analyze latency flat under a flood.
package queue

import (
	"errors"
	"sync"
	"time"

	"threatops/internal/schema"
)

const defaultCapacity = 10000

var (
	// ErrQueueFull means the anomaly was dropped because the buffer is at
	// capacity.
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueEmpty means no anomaly arrived before the wait expired.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrQueueClosed means the buffer is closed and fully drained.
	ErrQueueClosed = errors.New("queue is closed")
)

// RingBuffer is a fixed-capacity FIFO of anomalies, safe for concurrent use.
// Close stops intake but lets consumers drain what is already buffered, so a
// shutdown never discards accepted work.
type RingBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*schema.Anomaly
	head   int
	length int
	closed bool

	pushed  uint64
	popped  uint64
	dropped uint64
}

// NewRingBuffer creates a buffer with the given capacity. Non-positive
// capacities fall back to the default.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	q := &RingBuffer{items: make([]*schema.Anomaly, capacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an anomaly. A full buffer drops it and returns ErrQueueFull;
// a closed buffer returns ErrQueueClosed.
func (q *RingBuffer) Push(anomaly *schema.Anomaly) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.length == len(q.items) {
		q.dropped++
		return ErrQueueFull
	}

	q.items[(q.head+q.length)%len(q.items)] = anomaly
	q.length++
	q.pushed++
	q.cond.Signal()
	return nil
}

// PopWait removes the oldest anomaly, waiting up to the given duration for
// one to arrive. It returns ErrQueueEmpty when the wait expires and
// ErrQueueClosed once the buffer is closed and drained.
func (q *RingBuffer) PopWait(wait time.Duration) (*schema.Anomaly, error) {
	deadline := time.Now().Add(wait)

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.length == 0 {
		if q.closed {
			return nil, ErrQueueClosed
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrQueueEmpty
		}
		wake := time.AfterFunc(remaining, q.cond.Broadcast)
		q.cond.Wait()
		wake.Stop()
	}

	anomaly := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % len(q.items)
	q.length--
	q.popped++
	return anomaly, nil
}

// Close stops intake and wakes every waiting consumer. Buffered anomalies
// stay poppable until drained.
func (q *RingBuffer) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of buffered anomalies.
func (q *RingBuffer) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}

// Cap returns the buffer capacity.
func (q *RingBuffer) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Metrics returns a point-in-time snapshot of the queue counters.
func (q *RingBuffer) Metrics() QueueMetrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueMetrics{
		Pushed:   q.pushed,
		Popped:   q.popped,
		Dropped:  q.dropped,
		Depth:    q.length,
		Capacity: len(q.items),
	}
}

// QueueMetrics is a snapshot of queue activity, exposed on the status
// endpoint.
type QueueMetrics struct {
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Dropped  uint64 `json:"dropped"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}
