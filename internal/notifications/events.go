package notifications

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/market-sentinel/internal/domain"
)

// EventType names a router lifecycle event.
type EventType string

// Router events.
const (
	EventRoutingStarted    EventType = "routing_started"
	EventChannelSending    EventType = "channel_sending"
	EventChannelSent       EventType = "channel_sent"
	EventChannelFailed     EventType = "channel_failed"
	EventFallbackTriggered EventType = "fallback_triggered"
	EventRoutingCompleted  EventType = "routing_completed"
)

// Event is delivered to listeners. Channel, Attempt and Error are set for
// channel events; Decision and Result for start/completion events.
type Event struct {
	Type           EventType          `json:"type"`
	NotificationID string             `json:"notification_id"`
	Channel        domain.ChannelType `json:"channel,omitempty"`
	Attempt        int                `json:"attempt,omitempty"`
	Error          string             `json:"error,omitempty"`
	Decision       *RoutingDecision   `json:"decision,omitempty"`
	Result         *RouterResult      `json:"result,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
}

// Listener receives router events. It runs on the routing goroutine and must
// return quickly; slow consumers should hand events off to their own queue.
type Listener func(Event)

// listenerRegistry fans events out to subscribed listeners.
type listenerRegistry struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{listeners: make(map[int]Listener)}
}

// subscribe registers l and returns a function that removes it.
func (r *listenerRegistry) subscribe(l Listener) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = l
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.listeners, id)
			r.mu.Unlock()
		})
	}
}

func (r *listenerRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// emit calls every listener. A panicking listener is logged and skipped.
func (r *listenerRegistry) emit(e Event) {
	r.mu.RLock()
	snapshot := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		snapshot = append(snapshot, l)
	}
	r.mu.RUnlock()

	for _, l := range snapshot {
		r.call(l, e)
	}
}

func (r *listenerRegistry) call(l Listener, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("router event listener panicked",
				"event", e.Type,
				"notification_id", e.NotificationID,
				"panic", rec,
			)
		}
	}()
	l(e)
}
