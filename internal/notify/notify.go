// Package notify provides an SSE broadcaster for user-facing toast
// notifications emitted by bridge operations.
package notify

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/samaffleck/Thermatix/internal/metrics"
)

// Notification levels.
const (
	LevelSuccess = "success"
	LevelError   = "error"
	LevelInfo    = "info"
)

// Notification kinds. Toasts are user-visible messages; commands
// instruct the host surface to change state (e.g. open the storage
// browser).
const (
	KindToast   = "toast"
	KindCommand = "command"
)

// Notification is one message pushed to connected clients.
type Notification struct {
	Kind      string `json:"kind"`
	Level     string `json:"level,omitempty"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster manages SSE subscribers and publishes notifications.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Notification]struct{}
}

// NewBroadcaster creates a new notification broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Notification]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Notification {
	ch := make(chan Notification, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Notification) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	close(ch)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
}

// Publish sends a notification to all subscribers. Non-blocking: drops
// notifications for slow consumers.
func (b *Broadcaster) Publish(n Notification) {
	if n.Kind == "" {
		n.Kind = KindToast
	}
	if n.Timestamp == 0 {
		n.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- n:
		default:
			// Drop for slow consumer
		}
	}
}

// Success publishes a success-level notification.
func (b *Broadcaster) Success(message string) {
	b.Publish(Notification{Level: LevelSuccess, Message: message})
}

// Error publishes an error-level notification.
func (b *Broadcaster) Error(message string) {
	b.Publish(Notification{Level: LevelError, Message: message})
}

// Info publishes an info-level notification.
func (b *Broadcaster) Info(message string) {
	b.Publish(Notification{Level: LevelInfo, Message: message})
}

// Command publishes a host-surface command.
func (b *Broadcaster) Command(message string) {
	b.Publish(Notification{Kind: KindCommand, Message: message})
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Marshal serializes a notification to JSON.
func Marshal(n Notification) ([]byte, error) {
	return json.Marshal(n)
}
