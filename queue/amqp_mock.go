package queue

import (
	"fmt"

	"github.com/streadway/amqp"
)

// MockAMQPConnection is a mock implementation of AMQPConnection for testing
type MockAMQPConnection struct {
	// MockChannel is the channel to return from Channel()
	MockChannel AMQPChannel
	// Error to return from operations
	ChannelErr error
	CloseErr   error
	// Track function calls
	ChannelCalled bool
	CloseCalled   bool
}

// Channel returns the mock channel
func (m *MockAMQPConnection) Channel() (AMQPChannel, error) {
	m.ChannelCalled = true
	if m.ChannelErr != nil {
		return nil, m.ChannelErr
	}
	return m.MockChannel, nil
}

// Close mocks closing the connection
func (m *MockAMQPConnection) Close() error {
	m.CloseCalled = true
	return m.CloseErr
}

// MockAMQPChannel is a mock implementation of AMQPChannel for testing
type MockAMQPChannel struct {
	// PublishedMessages stores all published messages for verification
	PublishedMessages []amqp.Publishing
	// PublishedKeys stores routing keys for published messages
	PublishedKeys []string
	// Deliveries feeds the channel returned by Consume
	Deliveries chan amqp.Delivery
	// Errors to return from operations
	ExchangeDeclareErr error
	PublishErr         error
	QueueDeclareErr    error
	QueueBindErr       error
	ConsumeErr         error
	CloseErr           error
	// Track function calls
	ExchangeDeclareCalled bool
	PublishCalled         bool
	QueueDeclareCalled    bool
	QueueBindCalled       bool
	ConsumeCalled         bool
	CloseCalled           bool
	// Store last call parameters
	LastExchangeName string
	LastExchangeKind string
	LastExchange     string
	LastKey          string
	LastQueueName    string
	LastBindKey      string
	LastBindExchange string
	LastConsumeQueue string
}

// ExchangeDeclare mocks declaring an exchange
func (m *MockAMQPChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	m.ExchangeDeclareCalled = true
	m.LastExchangeName = name
	m.LastExchangeKind = kind
	return m.ExchangeDeclareErr
}

// Publish mocks publishing a message
func (m *MockAMQPChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	m.PublishCalled = true
	m.LastExchange = exchange
	m.LastKey = key
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.PublishedMessages = append(m.PublishedMessages, msg)
	m.PublishedKeys = append(m.PublishedKeys, key)
	return nil
}

// QueueDeclare mocks declaring a queue. A server-named queue request gets a
// stable generated name so bindings can be asserted.
func (m *MockAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	m.QueueDeclareCalled = true
	if m.QueueDeclareErr != nil {
		return amqp.Queue{}, m.QueueDeclareErr
	}
	if name == "" {
		name = "amq.gen-mock"
	}
	m.LastQueueName = name
	return amqp.Queue{Name: name}, nil
}

// QueueBind mocks binding a queue to an exchange
func (m *MockAMQPChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	m.QueueBindCalled = true
	m.LastBindKey = key
	m.LastBindExchange = exchange
	return m.QueueBindErr
}

// Consume mocks starting a consumer, delivering from the Deliveries channel
func (m *MockAMQPChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	m.ConsumeCalled = true
	m.LastConsumeQueue = queue
	if m.ConsumeErr != nil {
		return nil, m.ConsumeErr
	}
	if m.Deliveries == nil {
		m.Deliveries = make(chan amqp.Delivery)
	}
	return m.Deliveries, nil
}

// Close mocks closing the channel
func (m *MockAMQPChannel) Close() error {
	m.CloseCalled = true
	return m.CloseErr
}

// MockAMQPDialer is a mock implementation of AMQPDialer for testing
type MockAMQPDialer struct {
	// MockConnection is the connection to return from Dial()
	MockConnection AMQPConnection
	// Error to return from Dial
	DialErr error
	// Track function calls
	DialCalled bool
	// Store last call parameters
	LastURL string
}

// Dial mocks dialing an AMQP connection
func (m *MockAMQPDialer) Dial(url string) (AMQPConnection, error) {
	m.DialCalled = true
	m.LastURL = url
	if m.DialErr != nil {
		return nil, m.DialErr
	}
	return m.MockConnection, nil
}

// SetupMockDialerForTest creates a fully configured mock dialer for testing
func SetupMockDialerForTest() (*MockAMQPDialer, *MockAMQPChannel, *MockAMQPConnection) {
	mockChannel := &MockAMQPChannel{
		PublishedMessages: make([]amqp.Publishing, 0),
		PublishedKeys:     make([]string, 0),
	}

	mockConn := &MockAMQPConnection{
		MockChannel: mockChannel,
	}

	mockDialer := &MockAMQPDialer{
		MockConnection: mockConn,
	}

	return mockDialer, mockChannel, mockConn
}

// SetupMockDialerWithChannelError creates a mock dialer that fails on channel creation
func SetupMockDialerWithChannelError() *MockAMQPDialer {
	mockConn := &MockAMQPConnection{
		ChannelErr: fmt.Errorf("failed to open channel"),
	}

	return &MockAMQPDialer{
		MockConnection: mockConn,
	}
}

// SetupMockDialerWithExchangeError creates a mock dialer that fails on exchange declaration
func SetupMockDialerWithExchangeError() (*MockAMQPDialer, *MockAMQPChannel) {
	mockChannel := &MockAMQPChannel{
		ExchangeDeclareErr: fmt.Errorf("failed to declare exchange"),
	}

	mockConn := &MockAMQPConnection{
		MockChannel: mockChannel,
	}

	mockDialer := &MockAMQPDialer{
		MockConnection: mockConn,
	}

	return mockDialer, mockChannel
}
