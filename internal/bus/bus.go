// Package bus is the in-process publish/subscribe channel that decouples
// the sync engine's writers (poller, push ingestor, composer) from its
// observers (chat head manager, offline cache, status machine, TUI).
// Delivery is non-blocking: a subscriber that falls behind loses events
// rather than stalling a publisher.
package bus

import (
	"strings"
	"sync"
	"time"
)

// Bus fans events out to prefix-filtered subscribers.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
// A zero Timestamp is filled in with the current time.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !strings.HasPrefix(evt.Kind, s.prefix) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			// Subscriber buffer full; drop rather than block the publisher.
		}
	}
}

// Subscribe registers interest in events whose Kind starts with prefix.
// An empty prefix matches everything. The returned cancel function removes
// the subscription; the channel is never closed.
func (b *Bus) Subscribe(prefix string, buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
