package delivery

import (
	"sync"

	"github.com/relaystack/relayworker/worker/internal/metrics"
)

// Item is one unit of outbound work. SourceRef is the intake file path, or
// empty for payloads that did not come from disk.
type Item struct {
	SourceRef string
	Payload   []byte
}

// Queue is an unbounded FIFO with a blocking Pop.
//
// File-backed items are tracked from Push until Done, so a file is held at
// most once however many times it is rescanned.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []Item
	pending map[string]struct{}
	closed  bool
	closing chan struct{}
	metrics *metrics.Metrics
}

func NewQueue(m *metrics.Metrics) *Queue {
	q := &Queue{
		pending: make(map[string]struct{}),
		closing: make(chan struct{}),
		metrics: m,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends it. It returns false when the queue is closed or when its
// SourceRef is already held.
func (q *Queue) Push(it Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if it.SourceRef != "" {
		if _, held := q.pending[it.SourceRef]; held {
			return false
		}
		q.pending[it.SourceRef] = struct{}{}
	}
	q.append(it)
	return true
}

// Requeue puts back an item previously returned by Pop. It returns false only
// when the queue is closed.
func (q *Queue) Requeue(it Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.append(it)
	return true
}

func (q *Queue) append(it Item) {
	q.items = append(q.items, it)
	q.metrics.SetQueueDepth(len(q.items))
	q.cond.Signal()
}

// Pop blocks until an item is available or the queue is closed and empty.
// ok is false only in the latter case.
func (q *Queue) Pop() (it Item, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Item{}, false
	}
	it = q.items[0]
	q.items[0] = Item{}
	q.items = q.items[1:]
	q.metrics.SetQueueDepth(len(q.items))
	return it, true
}

// Done releases the SourceRef of an item that left the system.
func (q *Queue) Done(ref string) {
	if ref == "" {
		return
	}
	q.mu.Lock()
	delete(q.pending, ref)
	q.mu.Unlock()
}

// Holds reports whether ref is queued or in flight.
func (q *Queue) Holds(ref string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[ref]
	return ok
}

// Close rejects further pushes and wakes every blocked Pop. Items already
// queued can still be popped. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.closing)
	q.cond.Broadcast()
}

// Closing is closed when Close is called.
func (q *Queue) Closing() <-chan struct{} {
	return q.closing
}

// Len returns the number of queued items, excluding items in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
