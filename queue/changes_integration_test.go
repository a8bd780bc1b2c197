//go:build integration

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRabbitMQContainer starts a RabbitMQ container for testing
func setupRabbitMQContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-management-alpine",
		ExposedPorts: []string{"5672/tcp", "15672/tcp"},
		Env: map[string]string{
			"RABBITMQ_DEFAULT_USER": "guest",
			"RABBITMQ_DEFAULT_PASS": "guest",
		},
		WaitingFor: wait.ForLog("Server startup complete").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start RabbitMQ container")

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5672")
	require.NoError(t, err)

	url := fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())

	// Wait a bit for RabbitMQ to be fully ready
	time.Sleep(2 * time.Second)

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return url, cleanup
}

// bindTestQueue binds a fresh queue to the exchange for the given pattern
// and returns a consumer channel.
func bindTestQueue(t *testing.T, url, exchange, pattern string) (<-chan amqp.Delivery, func()) {
	conn, err := amqp.Dial(url)
	require.NoError(t, err)

	ch, err := conn.Channel()
	require.NoError(t, err)

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)

	require.NoError(t, ch.QueueBind(q.Name, pattern, exchange, false, nil))

	deliveries, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	require.NoError(t, err)

	cleanup := func() {
		ch.Close()
		conn.Close()
	}
	return deliveries, cleanup
}

func TestChangesPublisher_Integration_RoundTrip(t *testing.T) {
	url, cleanup := setupRabbitMQContainer(t)
	defer cleanup()

	publisher, err := NewChangesPublisher(url, "gateway.changes")
	require.NoError(t, err)
	defer publisher.Close()

	deliveries, closeConsumer := bindTestQueue(t, url, "gateway.changes", "contact.*")
	defer closeConsumer()

	event := ChangeEvent{
		Model:  "contact",
		ID:     "contact_2abc9Z",
		Action: "create",
		Tenant: "acme",
		Ts:     time.Now().UTC().Format(time.RFC3339),
		Data:   map[string]any{"name": "Ada"},
	}
	require.NoError(t, publisher.Publish(event))

	select {
	case delivery := <-deliveries:
		assert.Equal(t, "contact.create", delivery.RoutingKey)
		var decoded ChangeEvent
		require.NoError(t, json.Unmarshal(delivery.Body, &decoded))
		assert.Equal(t, event.ID, decoded.ID)
		assert.Equal(t, "acme", decoded.Tenant)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestChangesPublisher_Integration_RoutingIsolation(t *testing.T) {
	url, cleanup := setupRabbitMQContainer(t)
	defer cleanup()

	publisher, err := NewChangesPublisher(url, "gateway.changes")
	require.NoError(t, err)
	defer publisher.Close()

	dealDeliveries, closeConsumer := bindTestQueue(t, url, "gateway.changes", "deal.*")
	defer closeConsumer()

	require.NoError(t, publisher.Publish(ChangeEvent{Model: "contact", ID: "contact_1", Action: "create"}))
	require.NoError(t, publisher.Publish(ChangeEvent{Model: "deal", ID: "deal_1", Action: "update"}))

	select {
	case delivery := <-dealDeliveries:
		assert.Equal(t, "deal.update", delivery.RoutingKey)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for deal event")
	}

	// No contact event should reach the deal consumer.
	select {
	case delivery := <-dealDeliveries:
		t.Fatalf("unexpected delivery: %s", delivery.RoutingKey)
	case <-time.After(time.Second):
	}
}

func TestChangesPublisher_Integration_ConcurrentPublish(t *testing.T) {
	url, cleanup := setupRabbitMQContainer(t)
	defer cleanup()

	publisher, err := NewChangesPublisher(url, "gateway.changes")
	require.NoError(t, err)
	defer publisher.Close()

	deliveries, closeConsumer := bindTestQueue(t, url, "gateway.changes", "#")
	defer closeConsumer()

	const total = 20
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			event := ChangeEvent{
				Model:  "task",
				ID:     fmt.Sprintf("task_%d", n),
				Action: "create",
				Ts:     time.Now().UTC().Format(time.RFC3339),
			}
			assert.NoError(t, publisher.Publish(event))
		}(i)
	}
	wg.Wait()

	received := 0
	timeout := time.After(15 * time.Second)
	for received < total {
		select {
		case <-deliveries:
			received++
		case <-timeout:
			t.Fatalf("received %d of %d events", received, total)
		}
	}
}
