// Package events fans sync lifecycle notifications out to in-process
// subscribers such as the UI hub and the telemetry sink.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	SyncStarted         Type = "sync-started"
	ItemSucceeded       Type = "item-succeeded"
	ItemFailed          Type = "item-failed"
	SyncCompleted       Type = "sync-completed"
	ConnectivityChanged Type = "connectivity-changed"
)

// Event is a single notification. Only the fields relevant to Type are set.
type Event struct {
	Type Type      `json:"type"`
	Time time.Time `json:"time"`

	// Item events
	QueueID    uint64 `json:"queue_id,omitempty"`
	Action     string `json:"action,omitempty"`
	TargetType string `json:"target_type,omitempty"`
	TargetID   string `json:"target_id,omitempty"`
	Error      string `json:"error,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	Retries    int    `json:"retries,omitempty"`

	// sync-completed
	Succeeded int `json:"succeeded,omitempty"`
	Failed    int `json:"failed,omitempty"`
	Remaining int `json:"remaining,omitempty"`

	// connectivity-changed
	Online *bool `json:"online,omitempty"`
}

// Notifier is a non-blocking publish/subscribe hub.
type Notifier struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer. The
// returned func unsubscribes and closes the channel; it is safe to call
// more than once.
func (n *Notifier) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		close(ch)
		return ch, func() {}
	}

	id := n.nextID
	n.nextID++
	n.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if c, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers e to every subscriber without blocking. Subscribers
// whose buffer is full miss the event.
func (n *Notifier) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return
	}
	for _, ch := range n.subs {
		select {
		case ch <- e:
		default:
			n.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped due to full buffers.
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}

// Subscribers returns the number of active subscribers.
func (n *Notifier) Subscribers() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Close closes all subscriber channels. Later publishes are ignored.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}

// Online is a helper for building connectivity-changed events.
func Online(v bool) *bool {
	return &v
}
