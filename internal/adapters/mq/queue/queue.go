// Package queue defines the contract for enqueuing and consuming work
// units.
//
// The queue is priority-ordered with two tiers: high-priority units
// (vehicles near a severity threshold) always dequeue before normal
// cohort units.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/harbinger-io/harbinger/internal/domain/model"
	"github.com/harbinger-io/harbinger/pkg/metrics"
)

// defaultCapacity bounds each priority tier.
const defaultCapacity = 100_000

// Unit is the payload type flowing through the queue.
type Unit = model.WorkUnit

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a unit to its priority tier.
	// Returns false if the tier is full or the queue is closed.
	Enqueue(ctx context.Context, u Unit) bool

	// Dequeue returns a channel delivering units in priority order.
	// The channel closes when the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Unit

	// Len returns the current number of queued units across tiers.
	Len(ctx context.Context) int

	// Close stops further enqueues and lets consumers drain.
	Close() error

	// IsClosed reports whether the queue has been closed.
	IsClosed() bool
}

// PriorityQueue implements Queue with one buffered channel per tier.
type PriorityQueue struct {
	high     chan Unit
	normal   chan Unit
	capacity int

	mu     sync.RWMutex
	closed bool
}

// Option applies a configuration option to the PriorityQueue.
type Option func(*PriorityQueue)

// WithCapacity sets the per-tier capacity.
func WithCapacity(capacity int) Option {
	return func(q *PriorityQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// NewPriorityQueue creates a queue with configuration options.
func NewPriorityQueue(opts ...Option) *PriorityQueue {
	q := &PriorityQueue{
		capacity: defaultCapacity,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.high = make(chan Unit, q.capacity)
	q.normal = make(chan Unit, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity * 2)
	metrics.UpdateQueueDepth(0)

	return q
}

// Enqueue adds a unit to its priority tier.
func (q *PriorityQueue) Enqueue(ctx context.Context, u Unit) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}

	u.EnqueuedAt = time.Now()
	u.Status = model.UnitQueued

	tier := q.normal
	if u.Priority == model.PriorityHigh {
		tier = q.high
	}

	select {
	case tier <- u:
		metrics.RecordUnitEnqueued()
		metrics.UpdateQueueDepth(len(q.high) + len(q.normal))
		return true
	case <-ctx.Done():
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue returns a channel delivering units, high tier first.
func (q *PriorityQueue) Dequeue(ctx context.Context) <-chan Unit {
	out := make(chan Unit)
	go func() {
		defer close(out)

		deliver := func(u Unit) bool {
			select {
			case out <- u:
				metrics.RecordUnitDequeued()
				metrics.RecordUnitQueueLatency(float64(time.Since(u.EnqueuedAt).Milliseconds()))
				metrics.UpdateQueueDepth(len(q.high) + len(q.normal))
				return true
			case <-ctx.Done():
				// The unit was already pulled off its tier. Return it
				// so another consumer picks it up instead of it
				// vanishing with this one.
				if !q.putBack(u) {
					metrics.RecordErrorByComponent("queue", "unit_stranded")
				}
				return false
			}
		}

		// Closed-and-drained tiers become nil to disable their cases.
		high, normal := q.high, q.normal
		for {
			if high == nil && normal == nil {
				return
			}

			// Drain the high tier before touching the normal one.
			if high != nil {
				select {
				case u, ok := <-high:
					if !ok {
						high = nil
						continue
					}
					if !deliver(u) {
						return
					}
					continue
				default:
				}
			}

			select {
			case u, ok := <-high:
				if !ok {
					high = nil
					continue
				}
				if !deliver(u) {
					return
				}
			case u, ok := <-normal:
				if !ok {
					normal = nil
					continue
				}
				if !deliver(u) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// putBack restores a unit that was dequeued but never handed to a
// consumer. Holding the read lock keeps Close from closing the tier
// underneath the send.
func (q *PriorityQueue) putBack(u Unit) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}
	tier := q.normal
	if u.Priority == model.PriorityHigh {
		tier = q.high
	}
	select {
	case tier <- u:
		metrics.UpdateQueueDepth(len(q.high) + len(q.normal))
		return true
	default:
		return false
	}
}

// Len returns the current number of queued units.
func (q *PriorityQueue) Len(ctx context.Context) int {
	depth := len(q.high) + len(q.normal)
	metrics.UpdateQueueDepth(depth)
	return depth
}

// Close stops further enqueues and closes both tiers.
func (q *PriorityQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.high)
	close(q.normal)
	q.closed = true
	return nil
}

// IsClosed reports whether the queue has been closed.
func (q *PriorityQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
