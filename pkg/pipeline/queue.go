package pipeline

import (
	"sync"

	"github.com/drover-io/drover/pkg/utils"
)

// Queue is a bounded FIFO handoff queue between pipeline stages.
// Push blocks while the queue is full and Pop blocks while it is
// empty. Closing the queue unblocks all producers and consumers;
// consumers drain the remaining items before observing the closed
// state.
type Queue[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once
}

func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Push adds an item, blocking while the queue is full.
// Returns ErrQueueClosed if the queue is closed.
func (q *Queue[T]) Push(item T) error {
	select {
	case <-q.done:
		return utils.ErrQueueClosed
	default:
	}

	select {
	case q.ch <- item:
		return nil
	case <-q.done:
		return utils.ErrQueueClosed
	}
}

// Pop removes the oldest item, blocking while the queue is empty.
// After the queue is closed, the remaining items are drained before
// ErrQueueClosed is returned.
func (q *Queue[T]) Pop() (T, error) {
	select {
	case item := <-q.ch:
		return item, nil
	case <-q.done:
		// Drain items pushed before the queue was closed.
		select {
		case item := <-q.ch:
			return item, nil
		default:
			var zero T
			return zero, utils.ErrQueueClosed
		}
	}
}

// Close unblocks all producers and consumers. Idempotent.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the capacity of the queue.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}
