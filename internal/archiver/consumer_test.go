package archiver_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/sadrn/internal/archiver"
	"procodus.dev/sadrn/pkg/logger"
	"procodus.dev/sadrn/pkg/metrics"
	"procodus.dev/sadrn/pkg/mq/mock"
	"procodus.dev/sadrn/pkg/wire"
)

var _ = Describe("Consumer", func() {
	var (
		store *memoryStore
		queue *mock.MockClient
		m     *metrics.ArchiverMetrics
	)

	BeforeEach(func() {
		store = &memoryStore{}
		queue = mock.NewMockClient()
		m = metrics.NewArchiverMetrics(metrics.Namespace, prometheus.NewRegistry())
	})

	Describe("NewConsumer", func() {
		It("should reject a nil config", func() {
			consumer, err := archiver.NewConsumer(nil)
			Expect(err).To(MatchError("consumer config cannot be nil"))
			Expect(consumer).To(BeNil())
		})

		It("should require a logger", func() {
			_, err := archiver.NewConsumer(&archiver.ConsumerConfig{Queue: queue, Store: store})
			Expect(err).To(MatchError("logger cannot be nil"))
		})

		It("should require a queue client", func() {
			_, err := archiver.NewConsumer(&archiver.ConsumerConfig{Logger: logger.Discard(), Store: store})
			Expect(err).To(MatchError("queue client cannot be nil"))
		})

		It("should require a store", func() {
			_, err := archiver.NewConsumer(&archiver.ConsumerConfig{Logger: logger.Discard(), Queue: queue})
			Expect(err).To(MatchError("store cannot be nil"))
		})
	})

	Describe("processing", func() {
		var (
			deliveries chan amqp.Delivery
			next       chan amqp.Delivery
			ctx        context.Context
			cancel     context.CancelFunc
			consumer   *archiver.Consumer
		)

		BeforeEach(func() {
			deliveries = make(chan amqp.Delivery)
			next = make(chan amqp.Delivery)
			queue.ConsumeFunc = func(call int) (<-chan amqp.Delivery, error) {
				if call == 1 {
					return deliveries, nil
				}
				return next, nil
			}

			var err error
			consumer, err = archiver.NewConsumer(&archiver.ConsumerConfig{
				Logger:        logger.Discard(),
				Queue:         queue,
				Store:         store,
				Metrics:       m,
				RetryInterval: 10 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel = context.WithCancel(context.Background())
			Expect(consumer.Start(ctx)).To(Succeed())
		})

		AfterEach(func() {
			cancel()
			Eventually(consumer.Done()).Should(BeClosed())
		})

		It("should refuse a second start", func() {
			Expect(consumer.Start(ctx)).To(MatchError("consumer already started"))
		})

		It("should store events and ack them", func() {
			ack := &acknowledger{}
			deliveries <- delivery(ack, wire.NewEventEnvelope(sampleEvent("evt_1")))

			Eventually(store.eventCount).Should(Equal(1))
			Eventually(func() int { a, _, _ := ack.counts(); return a }).Should(Equal(1))
			Eventually(func() float64 {
				return testutil.ToFloat64(m.MessagesTotal.WithLabelValues("event", "stored"))
			}).Should(Equal(1.0))
		})

		It("should store packets", func() {
			ack := &acknowledger{}
			deliveries <- delivery(ack, wire.NewPacketEnvelope(samplePacket("pkt_1", "gw_a")))

			Eventually(store.packetCount).Should(Equal(1))
			Eventually(func() int { a, _, _ := ack.counts(); return a }).Should(Equal(1))
		})

		It("should ack and discard undecodable messages", func() {
			ack := &acknowledger{}
			deliveries <- amqp.Delivery{
				Acknowledger: ack,
				Headers:      amqp.Table{"kind": "packet"},
				Body:         []byte{0xff, 0x01, 0x02},
			}

			Eventually(func() int { a, _, _ := ack.counts(); return a }).Should(Equal(1))
			Expect(store.packetCount()).To(Equal(0))
			Eventually(func() float64 {
				return testutil.ToFloat64(m.MessagesTotal.WithLabelValues("packet", "discarded"))
			}).Should(Equal(1.0))
		})

		It("should nack with requeue when the store fails", func() {
			store.failWith(errors.New("connection refused"))
			ack := &acknowledger{}
			deliveries <- delivery(ack, wire.NewEventEnvelope(sampleEvent("evt_2")))

			Eventually(func() int { _, n, _ := ack.counts(); return n }).Should(Equal(1))
			acks, _, requeue := ack.counts()
			Expect(acks).To(Equal(0))
			Expect(requeue).To(BeTrue())
			Eventually(func() float64 {
				return testutil.ToFloat64(m.MessagesTotal.WithLabelValues("event", "requeued"))
			}).Should(Equal(1.0))
		})

		It("should resubscribe when the deliveries channel closes", func() {
			close(deliveries)

			Eventually(queue.ConsumeCalls).Should(BeNumerically(">=", 2))
			ack := &acknowledger{}
			next <- delivery(ack, wire.NewEventEnvelope(sampleEvent("evt_3")))
			Eventually(store.eventCount).Should(Equal(1))
		})
	})

	Describe("Start", func() {
		It("should retry until the queue is connected", func() {
			deliveries := make(chan amqp.Delivery)
			queue.ConsumeFunc = func(call int) (<-chan amqp.Delivery, error) {
				if call < 3 {
					return nil, errors.New("not connected")
				}
				return deliveries, nil
			}
			consumer, err := archiver.NewConsumer(&archiver.ConsumerConfig{
				Logger:        logger.Discard(),
				Queue:         queue,
				Store:         store,
				Metrics:       m,
				RetryInterval: 5 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			Expect(consumer.Start(ctx)).To(Succeed())

			ack := &acknowledger{}
			Eventually(deliveries).Should(BeSent(delivery(ack, wire.NewEventEnvelope(sampleEvent("evt_4")))))
			Eventually(store.eventCount).Should(Equal(1))
			Expect(queue.ConsumeCalls()).To(Equal(3))
			Expect(testutil.ToFloat64(m.ActiveConsumers)).To(Equal(1.0))

			cancel()
			Eventually(consumer.Done()).Should(BeClosed())
			Expect(testutil.ToFloat64(m.ActiveConsumers)).To(Equal(0.0))
		})

		It("should stop while waiting for the queue", func() {
			queue.ConsumeError = errors.New("not connected")
			consumer, err := archiver.NewConsumer(&archiver.ConsumerConfig{
				Logger:        logger.Discard(),
				Queue:         queue,
				Store:         store,
				RetryInterval: 5 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			Expect(consumer.Start(ctx)).To(Succeed())
			Eventually(queue.ConsumeCalls).Should(BeNumerically(">=", 2))
			cancel()
			Eventually(consumer.Done()).Should(BeClosed())
		})
	})
})
