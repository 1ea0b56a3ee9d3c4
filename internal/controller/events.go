package controller

import (
	"log/slog"
	"sync"

	"homie-controller/internal/metrics"
)

// EventType identifies what changed in the model.
type EventType string

const (
	EventDeviceAdded     EventType = "device_added"
	EventDeviceUpdated   EventType = "device_updated"
	EventDeviceRemoved   EventType = "device_removed"
	EventNodeAdded       EventType = "node_added"
	EventNodeUpdated     EventType = "node_updated"
	EventNodeRemoved     EventType = "node_removed"
	EventPropertyAdded   EventType = "property_added"
	EventPropertyUpdated EventType = "property_updated"
	EventPropertyRemoved EventType = "property_removed"
	EventPropertyValue   EventType = "property_value"
)

// Event describes a single model change. NodeID and PropertyID are set
// for node and property scoped events; Value and Fresh only for
// property_value, where Fresh means the value came from a live publish
// rather than a retained replay. Complete reports whether the affected
// entity has all required attributes after the change.
type Event struct {
	Type       EventType `json:"type"`
	DeviceID   string    `json:"device_id"`
	NodeID     string    `json:"node_id,omitempty"`
	PropertyID string    `json:"property_id,omitempty"`
	Value      string    `json:"value,omitempty"`
	Fresh      bool      `json:"fresh,omitempty"`
	Complete   bool      `json:"complete"`
}

const defaultEventBuffer = 64

// Bus fans change events out to subscribers. Publishing never blocks:
// an event that does not fit a subscriber's buffer is dropped for that
// subscriber.
type Bus struct {
	mu     sync.RWMutex
	logger *slog.Logger
	subs   map[uint64]chan Event
	nextID uint64
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[uint64]chan Event),
	}
}

// Subscribe registers a subscriber with the given buffer size (<= 0
// picks the default) and returns its channel plus an unsubscribe
// function. Unsubscribing closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

// Publish delivers an event to every subscriber that has buffer room.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			metrics.EventsDropped.Inc()
			b.logger.Warn("event subscriber full, dropping event",
				"subscriber", id, "type", event.Type, "device", event.DeviceID)
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
