// Package mailbox provides an unbounded FIFO drained through a channel, so
// producers holding locks never block on a slow consumer.
package mailbox

import "sync"

// Mailbox delivers pushed values in order on C.
type Mailbox[T any] struct {
	ch     chan T
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

// New starts a mailbox. Close must be called to release its goroutine.
func New[T any]() *Mailbox[T] {
	m := &Mailbox[T]{ch: make(chan T, 64)}
	m.cond = sync.NewCond(&m.mu)
	go m.pump()
	return m
}

// C returns the delivery channel. It is closed after Close once every value
// pushed before Close has been received.
func (m *Mailbox[T]) C() <-chan T { return m.ch }

// Push appends v. Values pushed after Close are dropped.
func (m *Mailbox[T]) Push(v T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.items = append(m.items, v)
	m.cond.Signal()
}

// Len returns the number of values not yet handed to the channel.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close stops accepting values. Values already pushed are still delivered,
// so the consumer must keep receiving from C until it is closed; a mailbox
// whose channel is abandoned after Close leaks its goroutine.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Signal()
}

func (m *Mailbox[T]) pump() {
	defer close(m.ch)
	for {
		m.mu.Lock()
		for len(m.items) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.items) == 0 {
			m.mu.Unlock()
			return
		}
		next := m.items[0]
		var zero T
		m.items[0] = zero
		m.items = m.items[1:]
		m.mu.Unlock()
		m.ch <- next
	}
}
