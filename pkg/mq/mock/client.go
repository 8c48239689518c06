// Package mock provides mock implementations of the mq package interfaces for testing.
package mock

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/sadrn/pkg/mq"
)

// MockClient is a mock implementation of ClientInterface for testing.
// It tracks method calls and allows configuring return values and behavior.
type MockClient struct {
	mu sync.Mutex

	// PublishFunc is called when Publish is invoked. If nil, returns PublishError.
	PublishFunc func(ctx context.Context, msg mq.Message) error
	// PublishError is returned by Publish if PublishFunc is nil.
	PublishError error
	publishCalls []mq.Message

	// UnsafePublishError is returned by UnsafePublish.
	UnsafePublishError error
	unsafeCalls        []mq.Message

	// ConsumeFunc is called with the 1-based call number when Consume is
	// invoked. If nil, Consume returns ConsumeChannel and ConsumeError.
	ConsumeFunc func(call int) (<-chan amqp.Delivery, error)
	// ConsumeChannel is returned by Consume.
	ConsumeChannel <-chan amqp.Delivery
	// ConsumeError is returned by Consume.
	ConsumeError error
	consumeCalls int

	// CloseError is returned by Close.
	CloseError error
	closeCalls int
}

// NewMockClient creates a new MockClient with default behavior (no errors).
func NewMockClient() *MockClient {
	return &MockClient{
		ConsumeChannel: make(chan amqp.Delivery),
	}
}

// Publish implements ClientInterface.
func (m *MockClient) Publish(ctx context.Context, msg mq.Message) error {
	m.mu.Lock()
	m.publishCalls = append(m.publishCalls, msg)
	fn, err := m.PublishFunc, m.PublishError
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, msg)
	}
	return err
}

// UnsafePublish implements ClientInterface.
func (m *MockClient) UnsafePublish(_ context.Context, msg mq.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsafeCalls = append(m.unsafeCalls, msg)
	return m.UnsafePublishError
}

// Consume implements ClientInterface.
func (m *MockClient) Consume() (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	m.consumeCalls++
	call, fn := m.consumeCalls, m.ConsumeFunc
	ch, err := m.ConsumeChannel, m.ConsumeError
	m.mu.Unlock()

	if fn != nil {
		return fn(call)
	}
	return ch, err
}

// Close implements ClientInterface.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return m.CloseError
}

// Published returns a copy of every message passed to Publish.
func (m *MockClient) Published() []mq.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mq.Message(nil), m.publishCalls...)
}

// ConsumeCalls returns how many times Consume was called.
func (m *MockClient) ConsumeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumeCalls
}

// CloseCalls returns how many times Close was called.
func (m *MockClient) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

// Reset clears all tracked calls.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishCalls = nil
	m.unsafeCalls = nil
	m.consumeCalls = 0
	m.closeCalls = 0
}

// Ensure MockClient implements mq.ClientInterface.
var _ mq.ClientInterface = (*MockClient)(nil)
