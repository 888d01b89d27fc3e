package loyalty

import (
	"sync"
	"time"
)

// StatusEvent is published when a driver goes online or offline.
type StatusEvent struct {
	DriverID string    `json:"driver_id"`
	Online   bool      `json:"online"`
	At       time.Time `json:"at"`
}

// StatusBus fans driver online/offline transitions out to subscribers.
// Handlers run synchronously on the publishing goroutine and must not call
// back into the driver that published.
type StatusBus struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(StatusEvent)
}

// NewStatusBus creates an empty bus.
func NewStatusBus() *StatusBus {
	return &StatusBus{subs: make(map[int]func(StatusEvent))}
}

// Subscribe registers fn and returns the function that removes it. Calling
// the returned function more than once is harmless.
func (b *StatusBus) Subscribe(fn func(StatusEvent)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to every current subscriber.
func (b *StatusBus) Publish(ev StatusEvent) {
	b.mu.RLock()
	fns := make([]func(StatusEvent), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Subscribers returns the number of registered handlers.
func (b *StatusBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
