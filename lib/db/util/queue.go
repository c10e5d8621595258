package util

import "sync"

// Queue is an unbounded multi-producer single-consumer queue. Producers never
// block on the consumer: values are buffered and handed to Recv in push order.
//
// maple uses one queue per shard to feed write and delete events into the gc
// goroutine without stalling writers while the gc sweeps.
type Queue[T any] struct {
	mu      sync.Mutex
	pending []T
	closed  bool
	wake    chan struct{}
	out     chan T
}

// NewQueue creates a queue and starts its delivery goroutine.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		wake: make(chan struct{}, 1),
		out:  make(chan T),
	}
	go q.deliver()
	return q
}

// Push appends v. It returns false once the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, v)
	q.mu.Unlock()

	q.signal()
	return true
}

// Recv returns the channel the consumer reads from. It is closed after Close
// once every buffered value has been delivered.
func (q *Queue[T]) Recv() <-chan T {
	return q.out
}

// Close stops accepting values. Buffered values are still delivered.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// IsClosed reports whether Close was called.
func (q *Queue[T]) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of buffered values. Values already taken by the
// delivery goroutine but not yet received are not counted.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// deliver moves batches from pending to out.
func (q *Queue[T]) deliver() {
	defer close(q.out)
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		closed := q.closed
		q.mu.Unlock()

		for _, v := range batch {
			q.out <- v
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}
