package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPTransport fans events across processes through a topic exchange. Every
// process binds its own exclusive queue, so all replicas see every event.
type AMQPTransport struct {
	conn     *amqp.Connection
	exchange string

	mu  sync.Mutex
	pub *amqp.Channel
}

func NewAMQPTransport(url, exchange string) (*AMQPTransport, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("amqp url required")
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = "chat.events"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := pub.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare exchange: %w", err)
	}
	return &AMQPTransport{conn: conn, exchange: exchange, pub: pub}, nil
}

func (t *AMQPTransport) Publish(ctx context.Context, ev Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pub.PublishWithContext(ctx, t.exchange, routingKey(ev.Topic), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
}

func (t *AMQPTransport) Run(ctx context.Context, deliver func(Event)) error {
	ch, err := t.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("amqp declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "#", t.exchange, false, nil); err != nil {
		return fmt.Errorf("amqp bind queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp deliveries closed")
			}
			ev, err := decodeEvent(d.Body)
			if err != nil {
				slog.Warn("realtime: dropping malformed event", "routing_key", d.RoutingKey, "err", err)
				continue
			}
			deliver(ev)
		}
	}
}

func (t *AMQPTransport) Close() error {
	return t.conn.Close()
}

// routingKey turns "chat:<id>:messages" into the dotted form topic
// exchanges match on.
func routingKey(topic string) string {
	return strings.ReplaceAll(topic, ":", ".")
}
