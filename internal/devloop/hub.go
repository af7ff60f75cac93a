package devloop

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conneroisu/assetstage/internal/metrics"
)

// MessageReload asks browsers to reload the page.
const MessageReload = "reload"

// Message is published to every reload subscriber.
type Message struct {
	Type      string    `json:"type"`
	Paths     []string  `json:"paths,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscription is one subscriber's view of the hub.
type Subscription struct {
	ID string
	C  <-chan Message
}

// Hub is the reload publish/subscribe channel. Broadcasts never block: a
// subscriber whose buffer is full misses the message, which is harmless
// because a reload is already queued for it.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]chan Message
	closed   bool
	recorder metrics.Recorder
}

const subscriberBuffer = 4

// NewHub creates an empty hub.
func NewHub(recorder metrics.Recorder) *Hub {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Hub{
		subs:     make(map[string]chan Message),
		recorder: recorder,
	}
}

// Subscribe registers a new subscriber. The channel is closed by
// Unsubscribe or Close.
func (h *Hub) Subscribe() Subscription {
	ch := make(chan Message, subscriberBuffer)
	id := uuid.NewString()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return Subscription{ID: id, C: ch}
	}
	h.subs[id] = ch
	h.recorder.SetReloadSubscribers(len(h.subs))
	return Subscription{ID: id, C: ch}
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
		h.recorder.SetReloadSubscribers(len(h.subs))
	}
}

// Broadcast publishes msg and returns how many subscribers received it.
func (h *Hub) Broadcast(msg Message) int {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, ch := range h.subs {
		select {
		case ch <- msg:
			delivered++
		default:
		}
	}
	h.recorder.IncReloadBroadcast()
	return delivered
}

// Subscribers returns the number of current subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscription; later subscriptions are closed at once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	h.recorder.SetReloadSubscribers(0)
}
