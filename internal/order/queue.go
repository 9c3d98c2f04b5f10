package order

import (
	"context"
	"sync"
)

// Queue buffers intents before execution.
type Queue struct {
	mu     sync.RWMutex
	ch     chan Intent
	closed bool
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{ch: make(chan Intent, size)}
}

// Enqueue reports false when the buffer is full or the queue is closed.
func (q *Queue) Enqueue(in Intent) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- in:
		return true
	default:
		return false
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Drain consumes intents with a handler until context is canceled.
func (q *Queue) Drain(ctx context.Context, handler func(Intent)) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-q.ch:
			if !ok {
				return
			}
			handler(in)
		}
	}
}

// MarkComplete is a no-op: an in-memory queue keeps nothing to acknowledge.
func (q *Queue) MarkComplete(string) {}
