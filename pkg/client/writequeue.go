package client

import (
	"sync"

	"github.com/eapache/queue"
)

// writeQueue is the FIFO backlog behind Session.WriteAsync. Producers never
// block; a single flusher at a time drains it, so messages leave in the
// order they were queued.
type writeQueue struct {
	mu       sync.Mutex
	q        *queue.Queue
	flushing bool
}

func newWriteQueue() *writeQueue {
	return &writeQueue{q: queue.New()}
}

// push queues data and reports whether the caller must start a flusher.
func (w *writeQueue) push(data []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.q.Add(data)
	if w.flushing {
		return false
	}
	w.flushing = true
	return true
}

// pop returns the oldest queued message. When the queue is empty it returns
// false and the flusher must exit.
func (w *writeQueue) pop() ([]byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.q.Length() == 0 {
		w.flushing = false
		return nil, false
	}
	return w.q.Remove().([]byte), true
}

// discard drops every queued message and returns how many were dropped.
// The running flusher, if any, exits on its next pop.
func (w *writeQueue) discard() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := w.q.Length()
	for w.q.Length() > 0 {
		w.q.Remove()
	}
	return n
}

// len returns the number of queued messages.
func (w *writeQueue) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.q.Length()
}
