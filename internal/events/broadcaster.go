// Package events provides an SSE broadcaster for tenant change feeds.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/codekarta/filedock/internal/metrics"
)

const (
	EventCreate = "create"
	EventModify = "modify"
	EventRename = "rename"
	EventDelete = "delete"
)

// Event represents a change inside a tenant's tree.
type Event struct {
	Type      string `json:"type"`
	TenantID  string `json:"tenant_id"`
	Path      string `json:"path"`
	NewPath   string `json:"new_path,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster manages SSE subscribers and publishes events. Subscribers
// see only their own tenant's events unless subscribed with tenantID "".
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]string // channel -> tenant filter
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]string),
	}
}

// Subscribe adds a subscriber filtered to one tenant; tenantID "" means
// all tenants. The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe(tenantID string) chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = tenantID
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	close(ch)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
}

// Publish sends an event to matching subscribers. Non-blocking: drops
// events for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, filter := range b.subscribers {
		if filter != "" && filter != event.TenantID {
			continue
		}
		select {
		case ch <- event:
		default:
			// Drop event for slow consumer
		}
	}
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
