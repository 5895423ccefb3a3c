package realtime

import (
	"context"
	"testing"
	"time"

	"chathub/pkg/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func channelMessage(id string) domain.Message {
	return domain.Message{ID: id, Content: "hi", ScopeKind: domain.ScopeChannel, ScopeID: "c1", Kind: domain.KindChat}
}

func TestHubDeliversOnlyToTopicSubscribers(t *testing.T) {
	hub := NewHub(4)
	chat := hub.Subscribe("chat:c1:messages")
	defer chat.Close()
	other := hub.Subscribe("conversation:x:messages")
	defer other.Close()

	b := NewBroadcaster(hub, nil)
	b.Broadcast(context.Background(), EventCreated, channelMessage("m1"))

	select {
	case ev := <-chat.Events():
		if ev.Kind != EventCreated || ev.Message.ID != "m1" || ev.Topic != "chat:c1:messages" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatalf("expected event on channel topic")
	}
	select {
	case ev := <-other.Events():
		t.Fatalf("unexpected event on other topic: %+v", ev)
	default:
	}
}

func TestHubDropsForFullSubscriberWithoutBlocking(t *testing.T) {
	hub := NewHub(1)
	slow := hub.Subscribe("chat:c1:messages")
	defer slow.Close()

	first := hub.Deliver(Event{Topic: "chat:c1:messages", Kind: EventCreated, Message: channelMessage("a")})
	second := hub.Deliver(Event{Topic: "chat:c1:messages", Kind: EventUpdated, Message: channelMessage("a")})
	if first != 1 || second != 0 {
		t.Fatalf("expected second delivery to be dropped, got %d/%d", first, second)
	}
}

func TestHubCloseStopsDelivery(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("chat:c1:messages")
	sub.Close()
	sub.Close()
	if n := hub.Deliver(Event{Topic: "chat:c1:messages"}); n != 0 {
		t.Fatalf("expected no delivery after close, got %d", n)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatalf("expected events channel to be closed")
	}
}

func TestBroadcasterPreservesCreatedBeforeUpdated(t *testing.T) {
	hub := NewHub(8)
	sub := hub.Subscribe("chat:c1:messages")
	defer sub.Close()
	b := NewBroadcaster(hub, nil)
	ctx := context.Background()
	b.Broadcast(ctx, EventCreated, channelMessage("p"))
	b.Broadcast(ctx, EventUpdated, channelMessage("p"))

	got := []EventKind{(<-sub.Events()).Kind, (<-sub.Events()).Kind}
	if got[0] != EventCreated || got[1] != EventUpdated {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestRedisTransportFansOutAcrossBroadcasters(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	transport, err := NewRedisTransport(client, "test-events:")
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	receiver := NewBroadcaster(NewHub(4), transport)
	sub := receiver.Subscribe("chat:c1:messages")
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = receiver.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := client.PubSubNumPat(ctx).Result()
		if err == nil && n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pattern subscription never became active")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sender, _ := NewRedisTransport(client, "test-events:")
	NewBroadcaster(NewHub(1), sender).Broadcast(ctx, EventDeleted, channelMessage("m9"))

	select {
	case ev := <-sub.Events():
		if ev.Kind != EventDeleted || ev.Message.ID != "m9" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event was not delivered through redis")
	}
	cancel()
	<-done
}

func TestRoutingKeyUsesDots(t *testing.T) {
	if got := routingKey("conversation:abc:messages"); got != "conversation.abc.messages" {
		t.Fatalf("unexpected routing key %q", got)
	}
}

func TestDecodeEventRequiresTopic(t *testing.T) {
	if _, err := decodeEvent([]byte(`{"kind":"created"}`)); err == nil {
		t.Fatalf("expected missing topic to fail")
	}
	payload, err := encodeEvent(Event{Topic: "chat:c1:messages", Kind: EventCreated, Message: channelMessage("m")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ev, err := decodeEvent(payload)
	if err != nil || ev.Message.ID != "m" {
		t.Fatalf("decode: %+v err=%v", ev, err)
	}
}
