package meshmap

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBuffer is the channel capacity of each subscription.
const subscriberBuffer = 16

// EventKind says what happened to a layer.
type EventKind string

const (
	// EventLethalsChanged is sent when a parameter update changed a layer's
	// lethal set.
	EventLethalsChanged EventKind = "lethals_changed"
	// EventComputed is sent when a layer was recomputed on request.
	EventComputed EventKind = "computed"
)

// LayerEvent describes a change to a layer.
type LayerEvent struct {
	Layer     string    `json:"layer"`
	Kind      EventKind `json:"kind"`
	Threshold float64   `json:"threshold"`
	Lethals   int       `json:"lethal_vertices"`
	Time      time.Time `json:"time"`
}

type eventHub struct {
	mu          sync.Mutex
	subscribers map[string]chan LayerEvent
	closed      bool
}

func newEventHub() *eventHub {
	return &eventHub{subscribers: make(map[string]chan LayerEvent)}
}

// Subscribe creates a new channel receiving layer events. The ID identifies
// the channel when unsubscribing. Slow subscribers miss events rather than
// block the MeshMap.
func (mm *MeshMap) Subscribe() (string, <-chan LayerEvent) {
	return mm.events.subscribe()
}

// Unsubscribe removes and closes a subscription.
func (mm *MeshMap) Unsubscribe(id string) {
	mm.events.unsubscribe(id)
}

func (h *eventHub) subscribe() (string, <-chan LayerEvent) {
	id := uuid.NewString()
	ch := make(chan LayerEvent, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

func (h *eventHub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

func (h *eventHub) publish(ev LayerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			// subscriber is full; drop rather than block the layer update
		}
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
	h.closed = true
}
