package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const changesExchange = "chatly.changes"

// AMQPSource consumes change events from a RabbitMQ topic exchange, for
// deployments that fan row changes out through a broker instead of a direct
// socket. Routing keys are "<stream>.<type>", e.g. "messages.insert".
type AMQPSource struct {
	conn   *amqp091.Connection
	ch     *amqp091.Channel
	logger zerolog.Logger
}

func NewAMQPSource(url string, logger zerolog.Logger) (*AMQPSource, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if err := ch.ExchangeDeclare(changesExchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange: %w", err)
	}
	return &AMQPSource{conn: conn, ch: ch, logger: logger}, nil
}

func (s *AMQPSource) Subscribe(ctx context.Context, stream string) (<-chan Event, error) {
	q, err := s.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declaring queue: %w", err)
	}
	if err := s.ch.QueueBind(q.Name, stream+".*", changesExchange, false, nil); err != nil {
		return nil, fmt.Errorf("binding queue: %w", err)
	}
	msgs, err := s.ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consuming: %w", err)
	}

	out := make(chan Event, eventBufSize)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				changeType := msg.RoutingKey[strings.LastIndex(msg.RoutingKey, ".")+1:]
				event := Event{
					Stream: stream,
					Type:   changeType,
					Row:    msg.Body,
				}
				select {
				case out <- event:
					_ = msg.Ack(false)
				case <-ctx.Done():
					_ = msg.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *AMQPSource) Close() error {
	_ = s.ch.Close()
	return s.conn.Close()
}
