package types

import (
	"sync"
)

// BoundedQueue is a thread-safe FIFO of capacity N (or unbounded if
// N == 0). Put blocks while the queue is full, Take blocks while it is
// empty; both honor Close for hard cancellation: a blocked waiter
// wakes up and returns ok == false without the item being
// enqueued/dequeued.
//
// BoundedQueue delivers items to a single consumer in submission order.
// Fan-out to multiple consumers is not supported; callers that need it
// compose multiple queues (one per consumer) instead, as the demuxer
// does for its per-source-type pipelines.
type BoundedQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []Event
	capacity int
	closed   bool
}

// NewBoundedQueue creates a queue with the given capacity. A capacity of
// 0 means unbounded: Put never blocks on space.
func NewBoundedQueue(capacity int) *BoundedQueue {
	q := &BoundedQueue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Put appends e to the queue, blocking while the queue is at capacity.
// It returns false if the queue was closed before or while waiting, in
// which case e was not enqueued.
func (q *BoundedQueue) Put(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.capacity > 0 && len(q.items) >= q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return false
	}
	q.items = append(q.items, e)
	q.notEmpty.Signal()
	return true
}

// Take removes and returns the oldest item, blocking while the queue is
// empty. It returns ok == false if the queue was closed and drained (no
// more items will ever arrive).
func (q *BoundedQueue) Take() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return Event{}, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return e, true
}

// Available returns a snapshot of the current item count.
func (q *BoundedQueue) Available() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed and wakes every blocked Put/Take waiter.
// Close does not drain or clear pending items; a Take issued after Close
// still returns any items that were queued before it, and only reports
// ok == false once the backlog is exhausted. Close is idempotent.
func (q *BoundedQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}
