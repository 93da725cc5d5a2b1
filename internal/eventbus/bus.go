package eventbus

import "sync"

// Event is any domain mutation notification carried by the bus.
type Event interface {
	// Committed reports whether the mutation has been persisted. Handlers
	// that derive caches must ignore uncommitted (pre-commit) events.
	Committed() bool
}

// Handler consumes a single event. Handlers run synchronously on the
// publishing goroutine so that state derived from an event (for example an
// evicted cache entry) is visible to the next read after Publish returns.
type Handler func(Event)

// Bus fan-outs domain events to all registered handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// New initialises an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a handler. The handler set is closed at startup;
// there is no unsubscribe.
func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish delivers the event to every handler in subscription order.
func (b *Bus) Publish(evt Event) {
	if evt == nil {
		return
	}
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()
	for _, h := range handlers {
		h(evt)
	}
}
