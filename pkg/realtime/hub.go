package realtime

import (
	"sync"

	"chathub/internal/metrics"
	"chathub/pkg/domain"
)

type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// Event is one message lifecycle notification on a scope topic.
type Event struct {
	Topic   string         `json:"topic"`
	Kind    EventKind      `json:"kind"`
	Message domain.Message `json:"message"`
}

const defaultSubscriberBuffer = 64

// Hub fans events out to in-process subscribers by topic. Delivery never
// blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer}
}

type Subscription struct {
	hub    *Hub
	topics []string
	ch     chan Event
	once   sync.Once
}

// Events yields delivered events; it is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		for _, topic := range s.topics {
			set := h.subs[topic]
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, topic)
			}
		}
		h.mu.Unlock()
		close(s.ch)
		metrics.Subscribers.Dec()
	})
}

func (h *Hub) Subscribe(topics ...string) *Subscription {
	sub := &Subscription{hub: h, topics: topics, ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	for _, topic := range topics {
		set, ok := h.subs[topic]
		if !ok {
			set = make(map[*Subscription]struct{})
			h.subs[topic] = set
		}
		set[sub] = struct{}{}
	}
	h.mu.Unlock()
	metrics.Subscribers.Inc()
	return sub
}

// Deliver hands ev to every subscriber of its topic and returns how many
// received it.
func (h *Hub) Deliver(ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for sub := range h.subs[ev.Topic] {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			metrics.EventsDropped.Inc()
		}
	}
	return delivered
}
