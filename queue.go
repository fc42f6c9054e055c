package serialbridge

import (
	"sync"

	"github.com/juju/collections/deque"
	"go.uber.org/atomic"
)

// outboundQueue is an unbounded multi-producer, single-consumer FIFO.
// Producers never block; the consumer waits on ready.
type outboundQueue struct {
	mu     sync.Mutex
	items  *deque.Deque
	closed bool

	// depth mirrors items.Len() and is only written with mu held.
	depth *atomic.Int64

	// ready holds at most one pending wake-up for the consumer.
	ready chan struct{}
}

// newOutboundQueue returns an empty queue that publishes its length to
// depth. A nil depth is allowed.
func newOutboundQueue(depth *atomic.Int64) *outboundQueue {
	if depth == nil {
		depth = atomic.NewInt64(0)
	}
	return &outboundQueue{
		items: deque.New(),
		depth: depth,
		ready: make(chan struct{}, 1),
	}
}

// push appends b. It fails with ErrSendQueueClosed after close.
func (q *outboundQueue) push(b []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrSendQueueClosed
	}
	q.items.PushBack(b)
	q.depth.Inc()
	q.mu.Unlock()

	q.signal()
	return nil
}

// pop removes the oldest item. closed is true once the queue has been closed;
// items left at that point are discarded.
func (q *outboundQueue) pop() (b []byte, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, false, true
	}
	item, ok := q.items.PopFront()
	if !ok {
		return nil, false, false
	}
	q.depth.Dec()
	return item.([]byte), true, false
}

func (q *outboundQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// close drops pending items and wakes the consumer. Safe to call repeatedly.
func (q *outboundQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.items = deque.New()
	q.depth.Store(0)
	q.mu.Unlock()

	q.signal()
}

func (q *outboundQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
