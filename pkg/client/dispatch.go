package client

import "sync"

// dispatchQueue runs queued functions one at a time, in push order, on its own
// goroutine. Pushing never blocks, so a slow consumer cannot stall the
// transport's read loop.
type dispatchQueue struct {
	mu     sync.Mutex
	items  []func()
	closed bool
	signal chan struct{}
	done   chan struct{}
}

func newDispatchQueue() *dispatchQueue {
	q := &dispatchQueue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// push enqueues fn. It reports false once the queue is closed.
func (q *dispatchQueue) push(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()
	q.wake()
	return true
}

func (q *dispatchQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *dispatchQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.signal
			continue
		}
		fn := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()
		fn()
	}
}

// close stops accepting work. Already queued functions still run.
func (q *dispatchQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}
