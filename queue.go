package godup

import (
	"errors"
	"sync"
	"time"

	"github.com/eapache/queue"
)

var errQueueClosed = errors.New("queue closed")

// bufferQueue is a bounded FIFO of pooled buffers between the reader and one
// worker. put blocks while the queue is full; poll waits up to a timeout.
// Built for a single producer and a single consumer.
type bufferQueue struct {
	mu       sync.Mutex
	items    *queue.Queue
	capacity int
	closed   bool

	notEmpty chan struct{}
	notFull  chan struct{}
}

func newBufferQueue(capacity int) *bufferQueue {
	return &bufferQueue{
		items:    queue.New(),
		capacity: capacity,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// put appends buf, blocking while the queue is full. It fails once the queue
// has been closed; the caller then still owns the reference.
func (q *bufferQueue) put(buf *PooledBuffer) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return errQueueClosed
		}
		if q.items.Length() < q.capacity {
			q.items.Add(buf)
			q.mu.Unlock()
			signal(q.notEmpty)
			return nil
		}
		q.mu.Unlock()
		<-q.notFull
	}
}

// poll removes the oldest buffer, waiting at most timeout. ok is false on
// timeout or when the queue is closed and empty.
func (q *bufferQueue) poll(timeout time.Duration) (buf *PooledBuffer, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.items.Length() > 0 {
			buf = q.items.Remove().(*PooledBuffer)
			q.mu.Unlock()
			signal(q.notFull)
			return buf, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-q.notEmpty:
		case <-timer.C:
			return nil, false
		}
	}
}

// close refuses further puts. Queued buffers stay available to poll.
func (q *bufferQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	signal(q.notEmpty)
	signal(q.notFull)
}

// drained reports whether the queue is closed with nothing left in it.
func (q *bufferQueue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && q.items.Length() == 0
}

// abort closes the queue and hands back everything still queued.
func (q *bufferQueue) abort() []*PooledBuffer {
	q.mu.Lock()
	q.closed = true
	pending := make([]*PooledBuffer, 0, q.items.Length())
	for q.items.Length() > 0 {
		pending = append(pending, q.items.Remove().(*PooledBuffer))
	}
	q.mu.Unlock()
	signal(q.notEmpty)
	signal(q.notFull)
	return pending
}

func (q *bufferQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}
