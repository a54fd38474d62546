// Package worker runs bounded, drop-on-full background queues for the
// write-behind collaborators (archive, relay, alerts).
package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/real-rm/supportchat/internal/util"
)

// Queue hands items to a single background worker. Offer never blocks, so it
// is safe to call from event bus subscribers that run under a room lock.
type Queue[T any] struct {
	name   string
	handle func(T)
	logger *slog.Logger

	mu     sync.RWMutex
	items  chan T
	closed bool
	done   chan struct{}
}

// NewQueue starts a worker that calls handle for each offered item, in order.
// A panic in handle is recovered and the worker moves on to the next item.
func NewQueue[T any](name string, size int, logger *slog.Logger, handle func(T)) *Queue[T] {
	if size <= 0 {
		size = 1
	}
	q := &Queue[T]{
		name:   name,
		handle: handle,
		logger: logger,
		items:  make(chan T, size),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue[T]) run() {
	defer close(q.done)
	for item := range q.items {
		q.process(item)
	}
}

func (q *Queue[T]) process(item T) {
	defer util.Recover(q.logger, q.name)
	q.handle(item)
}

// Offer queues item and reports whether it was accepted. It returns false
// when the queue is full or stopped.
func (q *Queue[T]) Offer(item T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.items <- item:
		return true
	default:
		return false
	}
}

// Len returns the number of items waiting for the worker
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Stop refuses new items and waits until the worker has drained the queue or
// ctx is done. It is safe to call more than once.
func (q *Queue[T]) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.items)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
