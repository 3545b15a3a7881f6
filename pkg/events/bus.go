// Package events provides the "session unauthorized" signal: a
// publish/subscribe registry whose listeners are isolated from each other.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/d-kuro/sessionclient/pkg/logging"
)

// Listener is invoked once per published event.
type Listener func()

// Bus dispatches the session unauthorized event to its listeners.
// There is no event history: listeners only see events published after
// they subscribed.
type Bus struct {
	mu        sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64
	logger    logging.Logger
}

// NewBus creates an empty bus. A nil logger discards output.
func NewBus(logger logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Bus{
		listeners: make(map[uint64]Listener),
		logger:    logger.With("component", "events"),
	}
}

// Subscribe registers l and returns a func that removes it.
// The returned func may be called any number of times, including from
// inside a listener.
func (b *Bus) Subscribe(l Listener) (unsubscribe func()) {
	if l == nil {
		return func() {}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Publish invokes every listener registered at the time of the call exactly
// once, on the calling goroutine. A panicking listener is logged and does
// not stop the others.
func (b *Bus) Publish() {
	b.mu.Lock()
	snapshot := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		snapshot = append(snapshot, l)
	}
	b.mu.Unlock()

	b.logger.Info(context.Background(), "session unauthorized", "listeners", len(snapshot))
	for _, l := range snapshot {
		b.dispatch(l)
	}
}

// Listeners reports the number of registered listeners.
func (b *Bus) Listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

func (b *Bus) dispatch(l Listener) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(context.Background(), "session listener panicked", "panic", fmt.Sprint(r))
		}
	}()
	l()
}
