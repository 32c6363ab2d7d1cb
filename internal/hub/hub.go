// Package hub implements the in-memory subscription fan-out. Delivery is
// best-effort: durability and gap recovery come from the log and cursors,
// never from the hub.
package hub

import (
	"sync"

	"moorgate/pkg/logging"
	"moorgate/pkg/models"
)

// DeliverFunc pushes one event toward a subscriber. It must not block; a
// false return means the subscriber can no longer accept events and the hub
// drops its subscription.
type DeliverFunc func(event models.ConvEvent) bool

// Subscription is the handle returned by Subscribe. Unsubscribe is
// idempotent.
type Subscription struct {
	id       uint64
	convID   string
	deviceID string
	deliver  DeliverFunc
}

// ConvID returns the conversation this handle is attached to.
func (s *Subscription) ConvID() string { return s.convID }

// Hub tracks live subscriptions per conversation and broadcasts appended
// events to them in FIFO order of subscription.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	byConv map[string][]*Subscription
	logger logging.Logger
}

// New creates an empty hub.
func New(logger logging.Logger) *Hub {
	return &Hub{
		byConv: make(map[string][]*Subscription),
		logger: logger,
	}
}

// Subscribe registers a delivery callback for a conversation.
func (h *Hub) Subscribe(deviceID, convID string, deliver DeliverFunc) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:       h.nextID,
		convID:   convID,
		deviceID: deviceID,
		deliver:  deliver,
	}
	h.byConv[convID] = append(h.byConv[convID], sub)
	return sub
}

// Unsubscribe removes a subscription. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscription) {
	subs := h.byConv[sub.convID]
	for i, candidate := range subs {
		if candidate.id == sub.id {
			h.byConv[sub.convID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.byConv[sub.convID]) == 0 {
		delete(h.byConv, sub.convID)
	}
}

// Broadcast delivers an event to every current subscriber of its
// conversation, each exactly once, in subscription order. Subscribers whose
// delivery fails are dropped; they recover by replaying from their cursor.
func (h *Hub) Broadcast(event models.ConvEvent) {
	h.mu.Lock()
	subs := append([]*Subscription(nil), h.byConv[event.ConvID]...)
	h.mu.Unlock()

	var dead []*Subscription
	for _, sub := range subs {
		if !sub.deliver(event) {
			dead = append(dead, sub)
		}
	}
	if len(dead) == 0 {
		return
	}

	h.mu.Lock()
	for _, sub := range dead {
		h.removeLocked(sub)
	}
	h.mu.Unlock()

	for _, sub := range dead {
		h.logger.WithFields(logging.Fields{
			"conv_id":   sub.convID,
			"device_id": sub.deviceID,
		}).Warn("Dropped subscriber after failed delivery")
	}
}

// SubscriberCount reports how many subscriptions a conversation has.
func (h *Hub) SubscriberCount(convID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byConv[convID])
}
