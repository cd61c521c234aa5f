package proflame

import (
	"context"
	"sync"
	"time"
)

// Command is a pending single-attribute write.
type Command struct {
	Seq        uint64
	Attribute  Attribute
	Value      int
	EnqueuedAt time.Time
}

// CommandQueue is the client's outbound FIFO. It outlives sessions.
//
// One consumer peeks the head, transmits it, and removes it only after the
// transmit succeeded. A failed transmit leaves the head in place so the same
// command is retried first.
//
// Thread Safety:
//   - Push may be called from any goroutine.
//   - Peek and Remove are meant for a single consumer.
type CommandQueue struct {
	mu      sync.Mutex
	items   []Command
	nextSeq uint64
	closed  bool
	notify  chan struct{}
}

// NewCommandQueue creates an empty queue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{
		notify: make(chan struct{}, 1),
	}
}

// Push appends a write and wakes the consumer.
func (q *CommandQueue) Push(attr Attribute, value int) (Command, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Command{}, ErrQueueClosed
	}
	q.nextSeq++
	cmd := Command{
		Seq:        q.nextSeq,
		Attribute:  attr,
		Value:      value,
		EnqueuedAt: time.Now(),
	}
	q.items = append(q.items, cmd)
	q.mu.Unlock()

	q.signal()
	return cmd, nil
}

// Peek blocks until the queue has a head item, the queue is closed, or ctx
// is done. The item stays queued.
func (q *CommandQueue) Peek(ctx context.Context) (Command, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Command{}, ErrQueueClosed
		}
		if len(q.items) > 0 {
			head := q.items[0]
			q.mu.Unlock()
			return head, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Command{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Remove drops the head item if it is the command with the given sequence
// number. It reports whether anything was removed.
func (q *CommandQueue) Remove(seq uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].Seq != seq {
		return false
	}
	q.items[0] = Command{}
	q.items = q.items[1:]
	return true
}

// Len returns the number of pending commands.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close abandons pending commands and releases any waiting consumer.
func (q *CommandQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.signal()
}

func (q *CommandQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
