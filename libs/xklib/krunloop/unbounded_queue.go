package krunloop

import (
	"context"
	"sync"
	"sync/atomic"
)

// UnboundedQueue buffers events between posters and the run loop. Enqueue never waits for the consumer.
type UnboundedQueue[T CriticalResource] struct {
	input     chan IEvent[T]
	buffer    []IEvent[T]
	output    chan IEvent[T]
	done      chan struct{}
	size      atomic.Int64
	closeOnce sync.Once
}

func NewUnboundedQueue[T CriticalResource](ctx context.Context) *UnboundedQueue[T] {
	q := &UnboundedQueue[T]{
		input:  make(chan IEvent[T], 16),
		output: make(chan IEvent[T]),
		done:   make(chan struct{}),
	}
	go q.process(ctx)
	return q
}

func (q *UnboundedQueue[T]) process(ctx context.Context) {
	defer close(q.output)

	for {
		// a nil channel blocks the send case while the buffer is empty
		var out chan IEvent[T]
		var firstItem IEvent[T]
		if len(q.buffer) > 0 {
			firstItem = q.buffer[0]
			out = q.output
		}

		select {
		case item := <-q.input:
			q.buffer = append(q.buffer, item)
		case out <- firstItem:
			q.buffer[0] = nil
			q.buffer = q.buffer[1:]
			q.size.Add(-1)
		case <-q.done:
			return
		case <-ctx.Done():
			q.Close()
			return
		}
	}
}

// Enqueue adds an event. It is a no-op once the queue is closed.
func (q *UnboundedQueue[T]) Enqueue(item IEvent[T]) {
	select {
	case <-q.done:
		return
	default:
	}
	q.size.Add(1)
	select {
	case q.input <- item:
	case <-q.done:
		q.size.Add(-1)
	}
}

// GetOutputChan is closed when the queue is closed.
func (q *UnboundedQueue[T]) GetOutputChan() <-chan IEvent[T] {
	return q.output
}

func (q *UnboundedQueue[T]) GetSize() int64 {
	return q.size.Load()
}

func (q *UnboundedQueue[T]) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}
