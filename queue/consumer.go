package queue

import (
	"encoding/json"
	"fmt"

	"github.com/dot-do/gateway/common"
)

// ChangesConsumer is the read side of the change feed. It binds a private
// server-named queue to the topic exchange and decodes deliveries back into
// ChangeEvents.
type ChangesConsumer struct {
	connection AMQPConnection
	channel    AMQPChannel
	queue      string
}

// NewChangesConsumer connects to RabbitMQ and binds a queue for pattern.
// The pattern uses AMQP topic syntax against "{model}.{action}" keys;
// empty subscribes to everything.
func NewChangesConsumer(url, exchange, pattern string) (*ChangesConsumer, error) {
	dialer := &RealAMQPDialer{}
	return NewChangesConsumerWithDialer(url, exchange, pattern, dialer)
}

// NewChangesConsumerWithDialer creates a consumer with dependency injection.
// This function allows injecting a custom dialer for testing purposes.
func NewChangesConsumerWithDialer(url, exchange, pattern string, dialer AMQPDialer) (*ChangesConsumer, error) {
	if pattern == "" {
		pattern = "#"
	}

	conn, err := dialer.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// Same declaration as the publisher, so either side can start first
	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		"",    // name, server-generated
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, pattern, exchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	return &ChangesConsumer{
		connection: conn,
		channel:    ch,
		queue:      q.Name,
	}, nil
}

// Events starts consuming and returns the decoded stream. The channel
// closes when the broker closes the underlying delivery channel.
func (s *ChangesConsumer) Events() (<-chan ChangeEvent, error) {
	deliveries, err := s.channel.Consume(
		s.queue, // queue
		"",      // consumer tag, server-generated
		true,    // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	out := make(chan ChangeEvent)
	go func() {
		defer close(out)
		for d := range deliveries {
			var event ChangeEvent
			if err := json.Unmarshal(d.Body, &event); err != nil {
				common.Logger.WithError(err).Warn("dropping undecodable change event")
				continue
			}
			out <- event
		}
	}()
	return out, nil
}

// Close closes the RabbitMQ connection and channel.
func (s *ChangesConsumer) Close() error {
	if s.channel != nil {
		s.channel.Close()
	}
	if s.connection != nil {
		s.connection.Close()
	}
	return nil
}
