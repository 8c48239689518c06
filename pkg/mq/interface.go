package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher pushes stream messages.
type Publisher interface {
	// Publish pushes msg and waits for the broker confirmation.
	Publish(ctx context.Context, msg Message) error
	// Close shuts down the underlying connection.
	Close() error
}

// ClientInterface defines the full set of queue operations used by the
// services. It enables testing through mocking and dependency injection.
type ClientInterface interface {
	Publisher

	// UnsafePublish pushes msg without waiting for a confirmation.
	UnsafePublish(ctx context.Context, msg Message) error

	// Consume will continuously put queue items on the channel.
	// It is required to call delivery.Ack when it has been successfully processed,
	// or delivery.Nack when it fails.
	Consume() (<-chan amqp.Delivery, error)
}

// Ensure Client implements ClientInterface.
var _ ClientInterface = (*Client)(nil)
