// Package bus provides fan-out distribution of gateway system events to
// observability taps (the WebSocket bridge, tests). Publishing never blocks:
// slow subscribers drop.
package bus

import (
	"sync"
)

// Subscriber is a named tap on the system event stream. Multiple subscribers
// independently receive every published event.
type Subscriber struct {
	Name string
	ch   chan interface{}
}

// Bus fans system events out to all subscribers.
type Bus struct {
	mu        sync.RWMutex
	subs      []*Subscriber
	closed    bool
	closeOnce sync.Once
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// SubscribeSystem creates a named subscriber that receives copies of all
// system events. The returned channel is buffered; slow consumers drop.
func (b *Bus) SubscribeSystem(name string) <-chan interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan interface{}, 64)}
	b.subs = append(b.subs, sub)
	return sub.ch
}

// PublishSystem delivers event to every subscriber without blocking.
func (b *Bus) PublishSystem(event SystemEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default: // drop if slow
		}
	}
}

// Close shuts the bus; subscriber channels are closed and further publishes
// are no-ops.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		for _, sub := range b.subs {
			close(sub.ch)
		}
		b.mu.Unlock()
	})
}
