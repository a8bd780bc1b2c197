// Package queue publishes the mutation change feed over RabbitMQ. Every
// create, update and delete that goes through the gateway becomes one JSON
// message on a topic exchange, routed by "{model}.{action}" so consumers can
// subscribe to exactly the slices they care about.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/dot-do/gateway/common"
)

// ChangeEvent is one entry of the change feed.
type ChangeEvent struct {
	Model  string         `json:"model"`
	ID     string         `json:"id"`
	Action string         `json:"action"`
	Tenant string         `json:"tenant"`
	Actor  string         `json:"actor,omitempty"`
	Ts     string         `json:"ts"`
	Data   map[string]any `json:"data,omitempty"`
}

// RoutingKey returns the topic key the event is published under.
func (e ChangeEvent) RoutingKey() string {
	return e.Model + "." + e.Action
}

// Publisher is the write side of the change feed.
type Publisher interface {
	// Publish emits one change event.
	// Returns an error if serialization or publishing fails.
	Publish(event ChangeEvent) error

	// Close closes the connection to the message broker.
	Close() error
}

// ChangesPublisher publishes change events to a durable topic exchange.
type ChangesPublisher struct {
	connection AMQPConnection
	channel    AMQPChannel
	exchange   string
}

// NewChangesPublisher connects to RabbitMQ and declares the exchange.
func NewChangesPublisher(url, exchange string) (*ChangesPublisher, error) {
	dialer := &RealAMQPDialer{}
	return NewChangesPublisherWithDialer(url, exchange, dialer)
}

// NewChangesPublisherWithDialer creates a publisher with dependency injection.
// This function allows injecting a custom dialer for testing purposes.
func NewChangesPublisherWithDialer(url, exchange string, dialer AMQPDialer) (*ChangesPublisher, error) {
	conn, err := dialer.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// Declare the exchange as a durable topic exchange
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

	return &ChangesPublisher{
		connection: conn,
		channel:    ch,
		exchange:   exchange,
	}, nil
}

// Publish serializes the event to JSON and publishes it under its routing
// key.
func (p *ChangesPublisher) Publish(event ChangeEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	err = p.channel.Publish(
		p.exchange,         // exchange
		event.RoutingKey(), // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}

	common.Logger.WithFields(logrus.Fields{
		"model":  event.Model,
		"id":     event.ID,
		"action": event.Action,
	}).Debug("published change event")
	return nil
}

// Close closes the RabbitMQ connection and channel.
func (p *ChangesPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.connection != nil {
		p.connection.Close()
	}
	return nil
}

// NopPublisher drops every event. It stands in when the change feed is
// disabled so callers never branch on configuration.
type NopPublisher struct{}

func (NopPublisher) Publish(event ChangeEvent) error { return nil }
func (NopPublisher) Close() error                    { return nil }
