// Package realtime pushes order updates to connected clients over WebSockets.
//
// Sessions authenticate once during the handshake and join the room of their
// user. Delivery is at-most-once: each session has a bounded queue and a
// message that does not fit is dropped. Offline users rely on reading their
// orders instead.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/pass-ticketing/internal/events"
	"github.com/noah-isme/pass-ticketing/internal/obs"
)

const defaultQueueSize = 16

// Message is the frame written to clients.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Hub tracks sessions per user on this instance.
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]map[*session]struct{}
	queueSize int
	logger    zerolog.Logger
}

// NewHub returns an empty hub. queueSize bounds each session's outbound queue.
func NewHub(logger zerolog.Logger, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Hub{
		rooms:     make(map[string]map[*session]struct{}),
		queueSize: queueSize,
		logger:    obs.Component(logger, "realtime"),
	}
}

func (h *Hub) join(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[s.userID]
	if !ok {
		room = make(map[*session]struct{})
		h.rooms[s.userID] = room
	}
	room[s] = struct{}{}
	obs.AddRealtimeSessions(1)
}

func (h *Hub) leave(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[s.userID]
	if !ok {
		return
	}
	if _, ok := room[s]; !ok {
		return
	}
	delete(room, s)
	if len(room) == 0 {
		delete(h.rooms, s.userID)
	}
	obs.AddRealtimeSessions(-1)
}

// Sessions returns the number of live sessions for userID.
func (h *Hub) Sessions(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}

// Notify enqueues msg for every session of userID and returns how many
// sessions accepted it. It never blocks on a slow client.
func (h *Hub) Notify(_ context.Context, userID string, msg Message) int {
	frame, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("event", msg.Event).Msg("encode realtime message")
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for s := range h.rooms[userID] {
		if s.enqueue(frame) {
			delivered++
			obs.CountRealtimeDelivery("sent")
			continue
		}
		obs.CountRealtimeDelivery("dropped")
		h.logger.Warn().Str("user_id", userID).Str("event", msg.Event).Msg("realtime queue full, message dropped")
	}
	return delivered
}

// Notifier exposes local delivery as an events.Notifier.
func (h *Hub) Notifier() events.Notifier {
	return events.NotifierFunc(func(ctx context.Context, ev events.Event) error {
		h.Notify(ctx, ev.UserID, Message{Event: ev.Topic, Data: ev.Payload})
		return nil
	})
}
