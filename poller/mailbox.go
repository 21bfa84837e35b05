package poller

import "sync/atomic"

// Mailbox hands the most recent value from one producer to one consumer.
// There is no queue: a value the consumer has not read yet is replaced.
type Mailbox[T any] struct {
	slot atomic.Pointer[T]
	wake chan struct{}
}

// NewMailbox returns an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{wake: make(chan struct{}, 1)}
}

// Publish stores v and signals the consumer. It never blocks.
func (m *Mailbox[T]) Publish(v *T) {
	m.slot.Store(v)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Latest returns the last published value, or nil.
func (m *Mailbox[T]) Latest() *T { return m.slot.Load() }

// Wake receives once for one or more publishes since the last receive.
func (m *Mailbox[T]) Wake() <-chan struct{} { return m.wake }
