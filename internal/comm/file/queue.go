package file

import (
	"context"
	"sync"
)

// request is one queued write. A non-nil done marks a flush barrier that
// carries no data; the writer closes it when it reaches the barrier.
type request struct {
	buf  []byte
	done chan struct{}
}

// release closes the barrier, if any.
func (r request) release() {
	if r.done != nil {
		close(r.done)
	}
}

// writeQueue is an unbounded FIFO with many producers and one consumer.
type writeQueue struct {
	items  []request
	notify chan struct{}
	mu     sync.Mutex
	closed bool
}

func newWriteQueue() *writeQueue {
	return &writeQueue{notify: make(chan struct{}, 1)}
}

// push appends r. It never blocks and reports false once the queue is closed.
func (q *writeQueue) push(r request) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, r)
	q.mu.Unlock()

	q.wake()
	return true
}

// next blocks until a request is available. It reports false when the
// queue is closed and empty, or when ctx is done.
func (q *writeQueue) next(ctx context.Context) (request, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			r := q.items[0]
			q.items[0] = request{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return r, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return request{}, false
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return request{}, false
		}
	}
}

// close stops further pushes. Queued requests stay available to next.
func (q *writeQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// drain removes and returns everything still queued.
func (q *writeQueue) drain() []request {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *writeQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
