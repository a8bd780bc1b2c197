package queue

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChangesConsumer(t *testing.T) {
	t.Run("successful setup binds a private queue", func(t *testing.T) {
		dialer, channel, _ := SetupMockDialerForTest()

		consumer, err := NewChangesConsumerWithDialer("amqp://localhost:5672", "gateway.changes", "", dialer)
		require.NoError(t, err)
		require.NotNil(t, consumer)

		assert.True(t, channel.ExchangeDeclareCalled)
		assert.Equal(t, "gateway.changes", channel.LastExchangeName)
		assert.Equal(t, "topic", channel.LastExchangeKind)
		assert.True(t, channel.QueueDeclareCalled)
		assert.True(t, channel.QueueBindCalled)
		assert.Equal(t, "gateway.changes", channel.LastBindExchange)
		assert.Equal(t, "#", channel.LastBindKey, "empty pattern subscribes to everything")
	})

	t.Run("pattern narrows the binding", func(t *testing.T) {
		dialer, channel, _ := SetupMockDialerForTest()

		_, err := NewChangesConsumerWithDialer("amqp://localhost", "gateway.changes", "contact.*", dialer)
		require.NoError(t, err)
		assert.Equal(t, "contact.*", channel.LastBindKey)
	})

	t.Run("bind failure closes channel and connection", func(t *testing.T) {
		dialer, channel, conn := SetupMockDialerForTest()
		channel.QueueBindErr = errors.New("no such exchange")

		consumer, err := NewChangesConsumerWithDialer("amqp://localhost", "gateway.changes", "", dialer)
		assert.Nil(t, consumer)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to bind queue")
		assert.True(t, channel.CloseCalled)
		assert.True(t, conn.CloseCalled)
	})
}

func TestChangesConsumer_Events(t *testing.T) {
	dialer, channel, _ := SetupMockDialerForTest()
	channel.Deliveries = make(chan amqp.Delivery, 3)

	consumer, err := NewChangesConsumerWithDialer("amqp://localhost", "gateway.changes", "", dialer)
	require.NoError(t, err)

	body, err := json.Marshal(sampleEvent())
	require.NoError(t, err)
	channel.Deliveries <- amqp.Delivery{Body: body}
	channel.Deliveries <- amqp.Delivery{Body: []byte("not json")}
	channel.Deliveries <- amqp.Delivery{Body: body}
	close(channel.Deliveries)

	events, err := consumer.Events()
	require.NoError(t, err)
	assert.True(t, channel.ConsumeCalled)

	var got []ChangeEvent
	for event := range events {
		got = append(got, event)
	}
	require.Len(t, got, 2, "undecodable deliveries are dropped")
	assert.Equal(t, "contact", got[0].Model)
	assert.Equal(t, "contact.create", got[0].RoutingKey())
	assert.Equal(t, "acme", got[1].Tenant)
}

func TestChangesConsumer_EventsError(t *testing.T) {
	dialer, channel, _ := SetupMockDialerForTest()

	consumer, err := NewChangesConsumerWithDialer("amqp://localhost", "gateway.changes", "", dialer)
	require.NoError(t, err)

	channel.ConsumeErr = errors.New("channel gone")
	events, err := consumer.Events()
	assert.Nil(t, events)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start consuming")
}

func TestChangesConsumer_Close(t *testing.T) {
	dialer, channel, conn := SetupMockDialerForTest()

	consumer, err := NewChangesConsumerWithDialer("amqp://localhost", "gateway.changes", "", dialer)
	require.NoError(t, err)

	require.NoError(t, consumer.Close())
	assert.True(t, channel.CloseCalled)
	assert.True(t, conn.CloseCalled)

	// The event channel drains and closes after the broker side goes away
	dialer2, channel2, _ := SetupMockDialerForTest()
	channel2.Deliveries = make(chan amqp.Delivery)
	consumer2, err := NewChangesConsumerWithDialer("amqp://localhost", "gateway.changes", "", dialer2)
	require.NoError(t, err)
	events, err := consumer2.Events()
	require.NoError(t, err)
	close(channel2.Deliveries)

	select {
	case _, open := <-events:
		assert.False(t, open, "event channel should close with the delivery channel")
	case <-time.After(time.Second):
		t.Fatal("event channel did not close")
	}
}
