package dispatch

import "sync"

// queue is an unbounded multi-producer, multi-consumer FIFO of payloads. Once closed
// it rejects new items but still hands out the ones it holds.
type queue struct {
	mu     sync.Mutex
	items  []string
	head   int
	closed bool
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

// push appends item and wakes one waiting consumer. It reports false if the queue
// is closed.
func (q *queue) push(item string) (depth int, ok bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, false
	}
	q.items = append(q.items, item)
	depth = len(q.items) - q.head
	q.mu.Unlock()
	q.signal()
	return depth, true
}

// poll removes the oldest item. drained is true once the queue is closed and empty:
// no item will ever be returned again.
func (q *queue) poll() (item string, depth int, ok bool, drained bool) {
	q.mu.Lock()
	if q.head == len(q.items) {
		drained = q.closed
		q.mu.Unlock()
		return "", 0, false, drained
	}
	item = q.items[q.head]
	q.items[q.head] = ""
	q.head++
	depth = len(q.items) - q.head
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 1024 && q.head*2 > len(q.items) {
		q.items = append(q.items[:0:0], q.items[q.head:]...)
		q.head = 0
	}
	q.mu.Unlock()
	if depth > 0 {
		q.signal()
	}
	return item, depth, true, false
}

// close stops the queue accepting items and wakes every waiting consumer.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.notify)
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// ready is signalled when an item may be available and closed when the queue closes.
func (q *queue) ready() <-chan struct{} {
	return q.notify
}

func (q *queue) signal() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
