// Package feed streams live board updates to browser clients over WebSocket.
package feed

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ashureev/tutbot/internal/tutorial"
	"github.com/google/uuid"
)

// Frame is the JSON message written to subscribers.
type Frame struct {
	Type string          `json:"type"`
	Kind string          `json:"kind,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type subscriber struct {
	ch      chan []byte
	dropped int
}

// Hub fans tutorial events out to the subscribers of each chat. A subscriber
// that cannot keep up loses frames rather than stalling the publisher.
type Hub struct {
	mu     sync.RWMutex
	chats  map[int64]map[string]*subscriber
	buffer int
}

// NewHub creates a hub whose subscribers buffer up to buffer frames.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		chats:  make(map[int64]map[string]*subscriber),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber for chatID. The returned function
// unregisters it and closes the channel.
func (h *Hub) Subscribe(chatID int64) (string, <-chan []byte, func()) {
	id := uuid.NewString()
	sub := &subscriber{ch: make(chan []byte, h.buffer)}

	h.mu.Lock()
	if _, ok := h.chats[chatID]; !ok {
		h.chats[chatID] = make(map[string]*subscriber)
	}
	h.chats[chatID][id] = sub
	h.mu.Unlock()
	slog.Info("Board subscriber registered", "chat_id", chatID, "subscriber_id", id)

	var once sync.Once
	return id, sub.ch, func() {
		once.Do(func() { h.unsubscribe(chatID, id) })
	}
}

func (h *Hub) unsubscribe(chatID int64, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.chats[chatID]
	if !ok {
		return
	}
	sub, ok := subs[id]
	if !ok {
		return
	}
	close(sub.ch)
	delete(subs, id)
	if len(subs) == 0 {
		delete(h.chats, chatID)
	}
	slog.Info("Board subscriber unregistered", "chat_id", chatID, "subscriber_id", id, "dropped", sub.dropped)
}

// Count returns the number of subscribers watching chatID.
func (h *Hub) Count(chatID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chats[chatID])
}

// Publish delivers ev to every subscriber of its chat. It never blocks and
// is meant to be registered with tutorial.Service.Subscribe.
func (h *Hub) Publish(ev tutorial.Event) {
	frame, err := EncodeFrame("event", string(ev.Kind), ev)
	if err != nil {
		slog.Error("Failed to encode board event", "chat_id", ev.ChatID, "error", err)
		return
	}

	// The write lock serializes with unsubscribe so no send hits a closed channel.
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.chats[ev.ChatID] {
		select {
		case sub.ch <- frame:
		default:
			sub.dropped++
			slog.Debug("Dropped frame for slow subscriber", "chat_id", ev.ChatID, "subscriber_id", id)
		}
	}
}

// CloseAll unregisters every subscriber. Their channels are closed so the
// connection handlers return.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for chatID, subs := range h.chats {
		for _, sub := range subs {
			close(sub.ch)
		}
		delete(h.chats, chatID)
	}
}

// EncodeFrame wraps v in a Frame and marshals it.
func EncodeFrame(typ, kind string, v any) ([]byte, error) {
	var data json.RawMessage
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return json.Marshal(Frame{Type: typ, Kind: kind, Data: data})
}
