// SPDX-License-Identifier: MIT

package stream

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ManuGH/lowroll/internal/log"
	"github.com/ManuGH/lowroll/internal/metrics"
)

// DefaultBufferSize is the per-subscriber outbound buffer. A subscriber that
// lets the buffer fill is disconnected with a backpressure close.
const DefaultBufferSize = 64

// CloseReason explains why a subscription ended.
type CloseReason string

const (
	CloseUnsubscribed CloseReason = "unsubscribed"
	CloseBackpressure CloseReason = "backpressure"
	CloseRoomClosed   CloseReason = "room_closed"
)

// Subscription is one participant's ordered event feed.
type Subscription struct {
	ID            string
	RoomID        string
	ParticipantID string

	ch     chan Event
	once   sync.Once
	reason CloseReason
}

// C is the ordered event channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Event { return s.ch }

// Reason reports why the channel closed. Valid after C is closed.
func (s *Subscription) Reason() CloseReason { return s.reason }

func (s *Subscription) close(reason CloseReason) {
	s.once.Do(func() {
		s.reason = reason
		close(s.ch)
	})
}

// Hub owns per-room subscription lists and fan-out.
type Hub struct {
	mu      sync.Mutex
	rooms   map[string]map[string]*Subscription
	bufSize int
}

// NewHub constructs a hub with the default subscriber buffer size.
func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[string]*Subscription),
		bufSize: DefaultBufferSize,
	}
}

// NewHubWithBuffer constructs a hub with a custom buffer size (tests).
func NewHubWithBuffer(n int) *Hub {
	h := NewHub()
	if n > 0 {
		h.bufSize = n
	}
	return h
}

// Subscribe attaches a participant to a room's event feed. If snapshot is
// non-nil it is delivered as the subscriber's first event, ordered before any
// broadcast that follows the subscription.
func (h *Hub) Subscribe(roomID, participantID string, snapshot *Event) *Subscription {
	sub := &Subscription{
		ID:            uuid.NewString(),
		RoomID:        roomID,
		ParticipantID: participantID,
		ch:            make(chan Event, h.bufSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.rooms[roomID]
	if subs == nil {
		subs = make(map[string]*Subscription)
		h.rooms[roomID] = subs
	}
	subs[sub.ID] = sub
	if snapshot != nil {
		sub.ch <- *snapshot
	}
	h.updateGaugeLocked()
	return sub
}

// Unsubscribe detaches a subscription. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if subs, ok := h.rooms[sub.RoomID]; ok {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(h.rooms, sub.RoomID)
		}
	}
	h.updateGaugeLocked()
	h.mu.Unlock()
	sub.close(CloseUnsubscribed)
}

// Publish appends an event to the room's ordered feed. Delivery to each
// subscriber is non-blocking: a full buffer disconnects that subscriber with
// a backpressure close instead of stalling the room.
func (h *Hub) Publish(roomID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.rooms[roomID]
	for id, sub := range subs {
		if ev.Target != "" && sub.ParticipantID != ev.Target {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			delete(subs, id)
			sub.close(CloseBackpressure)
			metrics.IncStreamBackpressure()
			logger := log.WithComponent("stream")
			logger.Warn().
				Str(log.FieldRoomID, roomID).
				Str(log.FieldPlayerID, sub.ParticipantID).
				Msg("subscriber disconnected for backpressure")
		}
	}
	if len(subs) == 0 {
		delete(h.rooms, roomID)
	}
	h.updateGaugeLocked()
}

// CloseRoom ends every subscription in the room, delivering a final event
// first when one is supplied.
func (h *Hub) CloseRoom(roomID string, final *Event) {
	h.mu.Lock()
	subs := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.updateGaugeLocked()
	h.mu.Unlock()

	for _, sub := range subs {
		if final != nil {
			select {
			case sub.ch <- *final:
			default:
			}
		}
		sub.close(CloseRoomClosed)
	}
}

// SubscriberCount reports the live subscription count for a room.
func (h *Hub) SubscriberCount(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomID])
}

func (h *Hub) updateGaugeLocked() {
	total := 0
	for _, subs := range h.rooms {
		total += len(subs)
	}
	metrics.SetStreamSubscribers(total)
}
