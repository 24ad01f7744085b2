// Package alerts fans security occurrences out to in-process subscribers.
// The feed carries no history and runs no goroutines of its own: delivery is
// synchronous in the publisher's goroutine, so handlers must be cheap.
package alerts

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Alert is one security occurrence worth an operator's attention
type Alert struct {
	// Event is the security event name, e.g. "login.locked"
	Event     string
	AccountID string
	Email     string
	IPAddress string
	At        time.Time
	Details   map[string]any
}

// Handler consumes alerts. Handlers run synchronously on the publishing
// goroutine and must not block.
type Handler func(Alert)

// Feed routes alerts to subscribers by event name
type Feed struct {
	mu   sync.RWMutex
	subs map[string]map[string]Handler
}

// NewFeed creates a new Feed instance
func NewFeed() *Feed {
	return &Feed{subs: make(map[string]map[string]Handler)}
}

// Publish delivers the alert to every subscriber of its event name.
// No subscribers is not an error.
func (f *Feed) Publish(alert Alert) {
	f.mu.RLock()
	handlers := f.subs[alert.Event]
	if len(handlers) == 0 {
		f.mu.RUnlock()
		return
	}

	// Copy before delivery so handlers may unsubscribe without deadlocking
	copied := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		copied = append(copied, h)
	}
	f.mu.RUnlock()

	for _, h := range copied {
		h(alert)
	}
}

// Subscribe registers a handler for one event name and returns an
// unsubscribe function
func (f *Feed) Subscribe(event string, handler Handler) (unsubscribe func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subs[event] == nil {
		f.subs[event] = make(map[string]Handler)
	}

	id := uuid.New().String()
	f.subs[event][id] = handler

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()

		if handlers, ok := f.subs[event]; ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(f.subs, event)
			}
		}
	}
}

// SubscriberCount returns the number of subscribers for an event name
func (f *Feed) SubscriberCount(event string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[event])
}
