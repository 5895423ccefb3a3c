package realtime

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisTransport fans events across processes with Redis pub/sub. Each topic
// maps to one channel under prefix.
type RedisTransport struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisTransport(client redis.UniversalClient, prefix string) (*RedisTransport, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "events:"
	}
	return &RedisTransport{client: client, prefix: prefix}, nil
}

func (t *RedisTransport) Publish(ctx context.Context, ev Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return t.client.Publish(ctx, t.prefix+ev.Topic, payload).Err()
}

func (t *RedisTransport) Run(ctx context.Context, deliver func(Event)) error {
	pubsub := t.client.PSubscribe(ctx, t.prefix+"*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := decodeEvent([]byte(msg.Payload))
			if err != nil {
				slog.Warn("realtime: dropping malformed event", "channel", msg.Channel, "err", err)
				continue
			}
			deliver(ev)
		}
	}
}

// Close is a no-op; the redis client is owned by the caller.
func (t *RedisTransport) Close() error {
	return nil
}
