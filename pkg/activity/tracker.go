// Package activity counts in-flight requests and pushes the count to
// subscribers, typically a busy indicator.
package activity

import (
	"context"
	"sync"

	"github.com/d-kuro/sessionclient/pkg/logging"
	"github.com/d-kuro/sessionclient/pkg/types"
)

// Tracker is a concurrency-safe counter of in-flight requests.
//
// Subscribers receive snapshots on a one-slot channel. A subscriber that
// falls behind only ever sees the latest snapshot; Increment and Decrement
// never block on a slow reader.
type Tracker struct {
	mu     sync.Mutex
	count  int
	subs   map[uint64]chan types.ActivitySnapshot
	nextID uint64
	logger logging.Logger
}

// NewTracker creates a tracker. A nil logger discards output.
func NewTracker(logger logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Tracker{
		subs:   make(map[uint64]chan types.ActivitySnapshot),
		logger: logger.With("component", "activity"),
	}
}

// Increment records a dispatched request.
func (t *Tracker) Increment() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	t.broadcast()
}

// Decrement records a settled request. The count is clamped at zero.
func (t *Tracker) Decrement() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		t.logger.Warn(context.Background(), "activity decrement below zero ignored")
		return
	}
	t.count--
	t.broadcast()
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() types.ActivitySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return types.ActivitySnapshot{ActiveRequests: t.count}
}

// Subscribe returns a channel that immediately receives the current snapshot
// and then every change. The returned func unsubscribes and closes the
// channel; calling it again is a no-op.
func (t *Tracker) Subscribe() (<-chan types.ActivitySnapshot, func()) {
	ch := make(chan types.ActivitySnapshot, 1)

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	ch <- types.ActivitySnapshot{ActiveRequests: t.count}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
			close(ch)
		})
	}
}

func (t *Tracker) subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// broadcast must be called with t.mu held.
func (t *Tracker) broadcast() {
	snap := types.ActivitySnapshot{ActiveRequests: t.count}
	for _, ch := range t.subs {
		select {
		case ch <- snap:
		default:
			// Replace the stale value nobody has read yet.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
