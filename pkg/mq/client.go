// Package mq provides a RabbitMQ client with automatic reconnection, used to
// stream control plane events and packet descriptors between services.
package mq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/sadrn/pkg/metrics"
)

// ContentType marks stream bodies as protobuf.
const ContentType = "application/x-protobuf"

// HeaderKind carries the message kind in the AMQP headers so consumers can
// route without decoding the body.
const HeaderKind = "kind"

// Message is one publication on the stream.
type Message struct {
	// ID becomes the AMQP message id.
	ID string
	// Kind is copied into the HeaderKind header.
	Kind string
	Body []byte
}

// Client is a RabbitMQ client that handles connection management,
// automatic reconnection, and provides methods for publishing and consuming messages.
type Client struct {
	m               sync.Mutex
	logger          *slog.Logger
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan struct{}
	closeOnce       sync.Once
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	queueName       string
	durable         bool
	isReady         bool
	metrics         *metrics.StreamMetrics // Optional metrics
}

// Config configures a Client.
type Config struct {
	URL       string
	QueueName string
	// Durable declares the queue durable and publishes persistent messages.
	Durable bool
	Logger  *slog.Logger
	Metrics *metrics.StreamMetrics
}

const (
	// When reconnecting to the server after connection failure.
	reconnectDelay = 5 * time.Second

	// When setting up the channel after a channel exception.
	reInitDelay = 2 * time.Second

	// Initial backoff delay for Publish retries.
	initialBackoff = 100 * time.Millisecond

	// Maximum backoff delay for Publish retries.
	maxBackoff = 10 * time.Second

	// Backoff multiplier for exponential backoff.
	backoffMultiplier = 2

	// Maximum number of retry attempts before giving up.
	maxRetryAttempts = 5
)

var (
	errNotConnected       = errors.New("not connected to a server")
	errAlreadyClosed      = errors.New("already closed: not connected to the server")
	errShutdown           = errors.New("client is shutting down")
	errMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
	errQueueRequired      = errors.New("queue name is required")
	errURLRequired        = errors.New("rabbitmq URL is required")
	errLoggerRequired     = errors.New("logger is required")
)

// New creates a client and starts connecting in the background.
func New(cfg Config) (*Client, error) {
	switch {
	case cfg.URL == "":
		return nil, errURLRequired
	case cfg.QueueName == "":
		return nil, errQueueRequired
	case cfg.Logger == nil:
		return nil, errLoggerRequired
	}
	client := &Client{
		logger:    cfg.Logger.With(slog.String("queue", cfg.QueueName)),
		queueName: cfg.QueueName,
		durable:   cfg.Durable,
		metrics:   cfg.Metrics,
		done:      make(chan struct{}),
	}
	go client.handleReconnect(cfg.URL)
	return client, nil
}

// QueueName returns the queue this client publishes to and consumes from.
func (client *Client) QueueName() string {
	return client.queueName
}

// Ready reports whether the client currently holds an open channel.
func (client *Client) Ready() bool {
	client.m.Lock()
	defer client.m.Unlock()
	return client.isReady
}

func (client *Client) setReady(ready bool) {
	client.m.Lock()
	client.isReady = ready
	client.m.Unlock()
}

// handleReconnect will wait for a connection error on
// notifyConnClose, and then continuously attempt to reconnect.
func (client *Client) handleReconnect(addr string) {
	for {
		client.setReady(false)
		client.logger.Info("attempting to connect")

		if client.metrics != nil {
			client.metrics.Reconnects.Inc()
		}

		conn, err := client.connect(addr)
		if err != nil {
			client.logger.Error("failed to connect, retrying", "error", err)

			select {
			case <-client.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		if done := client.handleReInit(conn); done {
			return
		}
	}
}

// connect will create a new AMQP connection.
func (client *Client) connect(addr string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		if client.metrics != nil {
			client.metrics.BrokerConnected.Set(0)
		}
		return nil, err
	}

	client.changeConnection(conn)
	client.logger.Info("connected")

	if client.metrics != nil {
		client.metrics.BrokerConnected.Set(1)
	}
	return conn, nil
}

// handleReInit will wait for a channel error
// and then continuously attempt to re-initialize both channels.
func (client *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		client.setReady(false)

		if err := client.init(conn); err != nil {
			client.logger.Error("failed to initialize channel, retrying", "error", err)

			select {
			case <-client.done:
				return true
			case <-client.notifyConnClose:
				client.logger.Info("connection closed, reconnecting")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-client.done:
			return true
		case <-client.notifyConnClose:
			client.logger.Info("connection closed, reconnecting")
			return false
		case <-client.notifyChanClose:
			client.logger.Info("channel closed, re-running init")
		}
	}
}

// init will initialize channel & declare queue.
func (client *Client) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		return err
	}
	_, err = ch.QueueDeclare(
		client.queueName,
		client.durable, // Durable
		false,          // Delete when unused
		false,          // Exclusive
		false,          // No-wait
		nil,            // Arguments
	)
	if err != nil {
		return err
	}

	client.changeChannel(ch)
	client.setReady(true)
	client.logger.Info("client init done")
	return nil
}

// changeConnection takes a new connection to the queue,
// and updates the close listener to reflect this.
func (client *Client) changeConnection(connection *amqp.Connection) {
	client.connection = connection
	client.notifyConnClose = make(chan *amqp.Error, 1)
	client.connection.NotifyClose(client.notifyConnClose)
}

// changeChannel takes a new channel to the queue,
// and updates the channel listeners to reflect this.
func (client *Client) changeChannel(channel *amqp.Channel) {
	client.channel = channel
	client.notifyChanClose = make(chan *amqp.Error, 1)
	client.notifyConfirm = make(chan amqp.Confirmation, 1)
	client.channel.NotifyClose(client.notifyChanClose)
	client.channel.NotifyPublish(client.notifyConfirm)
}

// backoff waits for the current delay and returns the next one. It fails
// when ctx ends or the client shuts down.
func (client *Client) backoff(ctx context.Context, delay time.Duration) (time.Duration, error) {
	select {
	case <-ctx.Done():
		return delay, ctx.Err()
	case <-client.done:
		return delay, errShutdown
	case <-time.After(delay):
	}
	return min(delay*backoffMultiplier, maxBackoff), nil
}

// Publish pushes msg onto the queue and waits for the broker confirmation.
// While the client is disconnected it retries with exponential backoff,
// giving the reconnect loop time to succeed, and gives up after
// maxRetryAttempts.
func (client *Client) Publish(ctx context.Context, msg Message) error {
	if client.metrics != nil {
		timer := prometheus.NewTimer(client.metrics.PublishDuration.WithLabelValues(client.queueName, msg.Kind))
		defer timer.ObserveDuration()
	}

	delay := initialBackoff
	for attempt := 0; ; attempt++ {
		if attempt >= maxRetryAttempts {
			client.logger.Error("maximum retry attempts exceeded",
				"retry_count", attempt,
				"max_attempts", maxRetryAttempts)
			client.countFailure(msg.Kind, "max_retries_exceeded")
			return errMaxRetriesExceeded
		}

		var err error
		if !client.Ready() {
			client.logger.Debug("not connected, waiting for reconnection",
				"backoff", delay,
				"retry_count", attempt)
		} else if err = client.UnsafePublish(ctx, msg); err != nil {
			client.logger.Warn("publish failed, retrying with backoff",
				"error", err,
				"backoff", delay,
				"retry_count", attempt)
		} else {
			select {
			case <-ctx.Done():
				client.countFailure(msg.Kind, "context_canceled")
				return ctx.Err()
			case confirm := <-client.notifyConfirm:
				if confirm.Ack {
					if client.metrics != nil {
						client.metrics.EnvelopesPublished.WithLabelValues(client.queueName, msg.Kind).Inc()
					}
					client.logger.Debug("publish confirmed",
						"delivery_tag", confirm.DeliveryTag,
						"kind", msg.Kind,
						"retry_count", attempt)
					return nil
				}
				client.logger.Warn("publish not acknowledged, retrying",
					"delivery_tag", confirm.DeliveryTag,
					"backoff", delay)
			}
		}

		if delay, err = client.backoff(ctx, delay); err != nil {
			client.countFailure(msg.Kind, "aborted")
			return err
		}
		if client.metrics != nil {
			client.metrics.PublishRetries.WithLabelValues(client.queueName, msg.Kind).Inc()
		}
	}
}

func (client *Client) countFailure(kind, reason string) {
	if client.metrics != nil {
		client.metrics.PublishFailures.WithLabelValues(client.queueName, kind, reason).Inc()
	}
}

// UnsafePublish pushes msg without waiting for a confirmation. It returns an
// error if the client is not connected.
func (client *Client) UnsafePublish(ctx context.Context, msg Message) error {
	client.m.Lock()
	if !client.isReady {
		client.m.Unlock()
		return errNotConnected
	}
	ch := client.channel
	client.m.Unlock()

	mode := amqp.Transient
	if client.durable {
		mode = amqp.Persistent
	}
	return ch.PublishWithContext(
		ctx,
		"",               // Exchange
		client.queueName, // Routing key
		false,            // Mandatory
		false,            // Immediate
		amqp.Publishing{
			ContentType:  ContentType,
			DeliveryMode: mode,
			MessageId:    msg.ID,
			Timestamp:    time.Now().UTC(),
			Headers:      amqp.Table{HeaderKind: msg.Kind},
			Body:         msg.Body,
		},
	)
}

// Consume will continuously put queue items on the channel.
// It is required to call delivery.Ack when it has been
// successfully processed, or delivery.Nack when it fails.
// Ignoring this will cause data to build up on the server.
func (client *Client) Consume() (<-chan amqp.Delivery, error) {
	client.m.Lock()
	if !client.isReady {
		client.m.Unlock()
		return nil, errNotConnected
	}
	ch := client.channel
	client.m.Unlock()

	if err := ch.Qos(
		1,     // prefetchCount
		0,     // prefetchSize
		false, // global
	); err != nil {
		return nil, err
	}

	deliveries, err := ch.Consume(
		client.queueName,
		"",    // Consumer
		false, // Auto-Ack
		false, // Exclusive
		false, // No-local
		false, // No-Wait
		nil,   // Args
	)
	if err != nil {
		return nil, err
	}
	if client.metrics != nil {
		client.metrics.Subscriptions.WithLabelValues(client.queueName).Inc()
	}
	return deliveries, nil
}

// Close stops the reconnect loop and shuts down the channel and connection.
// It returns errAlreadyClosed when no connection was open.
func (client *Client) Close() error {
	client.closeOnce.Do(func() { close(client.done) })

	client.m.Lock()
	defer client.m.Unlock()

	if !client.isReady {
		return errAlreadyClosed
	}
	client.isReady = false

	if err := client.channel.Close(); err != nil {
		return err
	}
	if err := client.connection.Close(); err != nil {
		return err
	}

	if client.metrics != nil {
		client.metrics.BrokerConnected.Set(0)
	}
	return nil
}
