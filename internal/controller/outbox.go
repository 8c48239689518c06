package controller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"procodus.dev/sadrn/pkg/metrics"
	"procodus.dev/sadrn/pkg/mq"
	"procodus.dev/sadrn/pkg/wire"
)

// DefaultOutboxSize is the number of stream messages buffered between the
// transaction path and the publisher.
const DefaultOutboxSize = 256

const flushTimeout = 5 * time.Second

// outbox hands envelopes to a background publisher. Offer never blocks: a
// full outbox drops the envelope.
type outbox struct {
	queue     chan wire.Envelope
	publisher mq.Publisher
	logger    *slog.Logger
	metrics   *metrics.ControlPlaneMetrics
	wg        sync.WaitGroup
}

func newOutbox(size int, publisher mq.Publisher, logger *slog.Logger, m *metrics.ControlPlaneMetrics) *outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &outbox{
		queue:     make(chan wire.Envelope, size),
		publisher: publisher,
		logger:    logger,
		metrics:   m,
	}
}

// Offer queues env and reports whether it was accepted.
func (o *outbox) Offer(env wire.Envelope) bool {
	select {
	case o.queue <- env:
		if o.metrics != nil {
			o.metrics.OutboxDepth.Inc()
		}
		return true
	default:
		if o.metrics != nil {
			o.metrics.OutboxDropped.WithLabelValues(string(env.Kind)).Inc()
		}
		o.logger.Warn("outbox full, dropping message", "kind", env.Kind, "id", env.ID())
		return false
	}
}

// Len returns the number of queued envelopes.
func (o *outbox) Len() int {
	return len(o.queue)
}

// Start runs the publisher until ctx is done, then flushes what is left.
func (o *outbox) Start(ctx context.Context) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(ctx)
	}()
}

// Wait blocks until the publisher has stopped.
func (o *outbox) Wait() {
	o.wg.Wait()
}

func (o *outbox) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			o.flush()
			return
		case env := <-o.queue:
			o.publish(ctx, env)
		}
	}
}

func (o *outbox) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case env := <-o.queue:
			o.publish(ctx, env)
		default:
			return
		}
	}
}

func (o *outbox) publish(ctx context.Context, env wire.Envelope) {
	if o.metrics != nil {
		o.metrics.OutboxDepth.Dec()
	}
	body, err := wire.Marshal(env)
	if err != nil {
		o.logger.Error("failed to encode stream message", "kind", env.Kind, "error", err)
		return
	}
	msg := mq.Message{ID: env.ID(), Kind: string(env.Kind), Body: body}
	if err := o.publisher.Publish(ctx, msg); err != nil {
		o.logger.Error("failed to publish stream message",
			"kind", env.Kind,
			"id", env.ID(),
			"error", err,
		)
		return
	}
	o.logger.Debug("stream message published", "kind", env.Kind, "id", env.ID())
}
