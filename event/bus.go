// Package event provides an in-process fan-out bus. The library publishes
// audit entries through it so hosts can watch security events live without
// polling a sink.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/misaka10987/basileus/audit"
)

// Bus fan-outs published values to all active subscribers.
type Bus[T any] struct {
	mu   sync.RWMutex
	subs map[int]chan T
	next int
}

// NewBus initialises an empty bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[int]chan T)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// published values. The channel is closed when the provided context ends.
func (b *Bus[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 16)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the value to all subscribers.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Len returns the number of active subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// AuditSink adapts a bus of audit entries into an audit.Logger, so the bus
// can sit alongside persistent sinks behind audit.Multi. Entries are
// stamped the way persistent sinks stamp them, keeping live subscribers
// and stored trails consistent.
func AuditSink(bus *Bus[audit.Entry]) audit.Logger {
	return audit.LoggerFunc(func(ctx context.Context, entry audit.Entry) error {
		if entry.At.IsZero() {
			entry.At = time.Now().UTC()
		}
		if entry.RequestID == "" {
			entry.RequestID = audit.RequestIDFrom(ctx)
		}
		bus.Publish(entry)
		return nil
	})
}
