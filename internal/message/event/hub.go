// Package event fans store events out to in-process subscribers (the SSE
// stream) and to optional external publishers.
package event

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type EventType string

const (
	EventTypeMessageCreated EventType = "message_created"
	EventTypeChatUpdated    EventType = "chat_updated"
)

type Event struct {
	Type   EventType       `json:"type"`
	ChatID string          `json:"chatId"`
	Data   json.RawMessage `json:"data"`
	At     time.Time       `json:"at"`
	// Origin identifies the relay instance that produced the event when it
	// travelled through a broker.
	Origin string          `json:"origin,omitempty"`
}

type Publisher interface {
	Publish(event Event)
}

type Subscriber interface {
	// Subscribe returns a stream of events for chatID, or of every chat when
	// chatID is empty. cancel must be called to release the subscription.
	Subscribe(chatID string, buffer int) (id string, stream <-chan Event, cancel func())
}

type subscription struct {
	chatID string
	ch     chan Event
}

// Hub is an in-memory broadcaster. Slow subscribers lose events instead of
// blocking publishers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]subscription
	nextID  atomic.Uint64
	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: map[string]subscription{}}
}

func (h *Hub) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	chatID := strings.TrimSpace(evt.ChatID)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.chatID != "" && sub.chatID != chatID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) Subscribe(chatID string, buffer int) (string, <-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	id := strconv.FormatUint(h.nextID.Add(1), 10)
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[id] = subscription{chatID: strings.TrimSpace(chatID), ch: ch}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return id, ch, cancel
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Fanout publishes every event to each non-nil publisher in order.
type Fanout []Publisher

func NewFanout(publishers ...Publisher) Fanout {
	out := make(Fanout, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (f Fanout) Publish(evt Event) {
	for _, p := range f {
		p.Publish(evt)
	}
}
