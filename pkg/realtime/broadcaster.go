package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"chathub/internal/metrics"
	"chathub/internal/util"
	"chathub/pkg/domain"
)

// Transport carries events between processes. Run feeds events received
// from peers (including this process) into deliver until ctx is done.
type Transport interface {
	Publish(ctx context.Context, ev Event) error
	Run(ctx context.Context, deliver func(Event)) error
	Close() error
}

// Broadcaster publishes message events for connected viewers. With a nil
// transport events are delivered straight to the local hub.
type Broadcaster struct {
	hub       *Hub
	transport Transport
}

func NewBroadcaster(hub *Hub, transport Transport) *Broadcaster {
	if hub == nil {
		hub = NewHub(0)
	}
	return &Broadcaster{hub: hub, transport: transport}
}

// Broadcast publishes an event for msg on its scope topic. Failures are
// logged and counted but never returned: the message is already persisted.
func (b *Broadcaster) Broadcast(ctx context.Context, kind EventKind, msg domain.Message) {
	ev := Event{Topic: domain.TopicFor(msg.ScopeKind, msg.ScopeID), Kind: kind, Message: msg}
	metrics.EventsPublished.WithLabelValues(string(kind)).Inc()
	if b.transport == nil {
		b.hub.Deliver(ev)
		return
	}
	if err := b.transport.Publish(ctx, ev); err != nil {
		metrics.EventPublishErrors.Inc()
		util.LoggerFromContext(ctx).Warn("realtime: publish failed",
			"topic", ev.Topic, "kind", kind, "message_id", msg.ID, "err", err)
	}
}

func (b *Broadcaster) Subscribe(topics ...string) *Subscription {
	return b.hub.Subscribe(topics...)
}

// Run pumps transport events into the hub. It returns immediately for the
// local transport.
func (b *Broadcaster) Run(ctx context.Context) error {
	if b.transport == nil {
		return nil
	}
	return b.transport.Run(ctx, func(ev Event) { b.hub.Deliver(ev) })
}

func (b *Broadcaster) Close() error {
	if b.transport == nil {
		return nil
	}
	return b.transport.Close()
}

func encodeEvent(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return payload, nil
}

func decodeEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Topic == "" {
		return Event{}, fmt.Errorf("decode event: missing topic")
	}
	return ev, nil
}
