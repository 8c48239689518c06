package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/sadrn/pkg/metrics"
	"procodus.dev/sadrn/pkg/mq"
	"procodus.dev/sadrn/pkg/wire"
)

const defaultRetryInterval = 500 * time.Millisecond

var (
	errConsumerConfigRequired = errors.New("consumer config cannot be nil")
	errQueueRequired          = errors.New("queue client cannot be nil")
	errStoreRequired          = errors.New("store cannot be nil")
	errAlreadyStarted         = errors.New("consumer already started")
)

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger  *slog.Logger
	Queue   mq.ClientInterface
	Store   Store
	Metrics *metrics.ArchiverMetrics
	// RetryInterval is the wait between subscription attempts while the
	// queue client is not connected.
	RetryInterval time.Duration
}

// Consumer reads the control plane stream and stores every message.
type Consumer struct {
	logger  *slog.Logger
	queue   mq.ClientInterface
	store   Store
	metrics *metrics.ArchiverMetrics
	retry   time.Duration

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errConsumerConfigRequired
	}
	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}
	if cfg.Queue == nil {
		return nil, errQueueRequired
	}
	if cfg.Store == nil {
		return nil, errStoreRequired
	}
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = defaultRetryInterval
	}
	return &Consumer{
		logger:  cfg.Logger,
		queue:   cfg.Queue,
		store:   cfg.Store,
		metrics: cfg.Metrics,
		retry:   retry,
		done:    make(chan struct{}),
	}, nil
}

// Start subscribes in the background and returns immediately. Processing
// stops when ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errAlreadyStarted
	}
	c.started = true

	c.logger.Info("starting consumer")
	go c.loop(ctx)
	return nil
}

// Done is closed once the consumer has stopped.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// loop subscribes, drains deliveries and subscribes again whenever the
// broker connection drops.
func (c *Consumer) loop(ctx context.Context) {
	defer close(c.done)
	for {
		deliveries, err := c.subscribe(ctx)
		if err != nil {
			c.logger.Info("consumer stopped", "reason", err)
			return
		}

		c.logger.Info("consumer subscribed, waiting for messages")
		if c.metrics != nil {
			c.metrics.ActiveConsumers.Inc()
		}
		stopped := c.process(ctx, deliveries)
		if c.metrics != nil {
			c.metrics.ActiveConsumers.Dec()
		}
		if stopped {
			c.logger.Info("context canceled, stopping message processing")
			return
		}
		c.logger.Warn("deliveries channel closed, resubscribing")
	}
}

func (c *Consumer) subscribe(ctx context.Context) (<-chan amqp.Delivery, error) {
	for {
		deliveries, err := c.queue.Consume()
		if err == nil {
			return deliveries, nil
		}
		c.logger.Debug("queue not ready", "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retry):
		}
	}
}

// process reports true when ctx ended, false when the channel closed.
func (c *Consumer) process(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case delivery, ok := <-deliveries:
			if !ok {
				return false
			}
			c.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery stores one message. Undecodable messages are acknowledged
// and dropped, storage failures are requeued.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	start := time.Now()

	env, err := wire.Unmarshal(delivery.Body)
	if err != nil {
		c.logger.Error("failed to decode stream message",
			"message_id", delivery.MessageId,
			"error", err,
		)
		c.observe(kindLabel(delivery.Headers), "discarded", start)
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}
		return
	}

	if err := c.save(ctx, env); err != nil {
		c.logger.Error("failed to store stream message",
			"kind", env.Kind,
			"id", env.ID(),
			"error", err,
		)
		c.observe(string(env.Kind), "requeued", start)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack message", "error", nackErr)
		}
		return
	}

	c.observe(string(env.Kind), "stored", start)
	if err := delivery.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "error", err)
		return
	}

	c.logger.Debug("stream message stored",
		"kind", env.Kind,
		"id", env.ID(),
	)
}

func (c *Consumer) save(ctx context.Context, env wire.Envelope) error {
	switch env.Kind {
	case wire.KindEvent:
		return c.store.SaveEvent(ctx, env.Event)
	case wire.KindPacket:
		return c.store.SavePacket(ctx, env.Packet)
	}
	return fmt.Errorf("unsupported kind %q", env.Kind)
}

func (c *Consumer) observe(kind, result string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.MessagesTotal.WithLabelValues(kind, result).Inc()
	c.metrics.ProcessingDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// kindLabel reads the kind header of a message whose body could not be
// decoded.
func kindLabel(h amqp.Table) string {
	t, _ := h[mq.HeaderKind].(string)
	switch wire.Kind(t) {
	case wire.KindEvent, wire.KindPacket:
		return t
	}
	return "unknown"
}
