package transport

import (
	"sync"

	"github.com/vk/lockstepgrid/internal/node"
)

// queue is an unbounded FIFO drained by one goroutine, so publishers never
// block on slow handlers and per-address order is kept.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []node.Message
	closed bool
	done   chan struct{}
}

func newQueue() *queue {
	q := &queue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(msg node.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, msg)
	q.cond.Signal()
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// run hands every queued message to h until the queue is closed.
func (q *queue) run(h Handler) {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		msg := q.items[0]
		q.items[0] = node.Message{}
		q.items = q.items[1:]
		q.mu.Unlock()

		h(msg)
	}
}
