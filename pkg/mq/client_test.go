package mq_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/sadrn/pkg/metrics"
	"procodus.dev/sadrn/pkg/mq"
	"procodus.dev/sadrn/pkg/mq/mock"
)

const unreachable = "amqp://invalid:5672"

var _ = Describe("MQ Client", func() {
	var logger *slog.Logger

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	})

	newClient := func() *mq.Client {
		client, err := mq.New(mq.Config{URL: unreachable, QueueName: "sadrn-events-test", Logger: logger})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = client.Close() })
		return client
	}

	Describe("New", func() {
		DescribeTable("should validate the configuration",
			func(cfg mq.Config, message string) {
				_, err := mq.New(cfg)
				Expect(err).To(MatchError(ContainSubstring(message)))
			},
			Entry("missing url", mq.Config{QueueName: "q", Logger: slog.Default()}, "URL"),
			Entry("missing queue", mq.Config{URL: unreachable, Logger: slog.Default()}, "queue name"),
			Entry("missing logger", mq.Config{URL: unreachable, QueueName: "q"}, "logger"),
		)

		It("should create a client that is not yet ready", func() {
			client := newClient()
			Expect(client.QueueName()).To(Equal("sadrn-events-test"))
			Consistently(client.Ready, 200*time.Millisecond).Should(BeFalse())
		})
	})

	Describe("Publish", func() {
		Context("when not connected", func() {
			It("should retry with backoff until the context expires", func() {
				client := newClient()

				ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
				defer cancel()

				start := time.Now()
				err := client.Publish(ctx, mq.Message{Kind: "event", Body: []byte("x")})
				Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
				Expect(time.Since(start)).To(BeNumerically(">=", 100*time.Millisecond))
			})

			It("should give up after the maximum number of attempts", func() {
				client := newClient()

				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				err := client.Publish(ctx, mq.Message{Kind: "event", Body: []byte("x")})
				Expect(err).To(MatchError(ContainSubstring("maximum retry attempts")))
			})

			It("should stop retrying once closed", func() {
				client, err := mq.New(mq.Config{URL: unreachable, QueueName: "q", Logger: logger})
				Expect(err).NotTo(HaveOccurred())

				go func() {
					time.Sleep(150 * time.Millisecond)
					_ = client.Close()
				}()
				err = client.Publish(context.Background(), mq.Message{Kind: "packet"})
				Expect(err).To(MatchError(ContainSubstring("shutting down")))
			})

			It("should count failures when metrics are set", func() {
				reg := prometheus.NewRegistry()
				m := metrics.NewStreamMetrics("test", reg)
				client, err := mq.New(mq.Config{URL: unreachable, QueueName: "q", Logger: logger, Metrics: m})
				Expect(err).NotTo(HaveOccurred())
				defer func() { _ = client.Close() }()

				ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
				defer cancel()
				_ = client.Publish(ctx, mq.Message{Kind: "event"})

				Expect(testutil.ToFloat64(m.PublishFailures.WithLabelValues("q", "event", "aborted"))).To(Equal(1.0))
				Expect(testutil.ToFloat64(m.EnvelopesPublished.WithLabelValues("q", "event"))).To(BeZero())
			})

			It("should reject unconfirmed publishes", func() {
				client := newClient()
				err := client.UnsafePublish(context.Background(), mq.Message{Kind: "event"})
				Expect(err).To(MatchError(ContainSubstring("not connected")))
			})
		})
	})

	Describe("Consume", func() {
		It("should fail when not connected", func() {
			client := newClient()
			_, err := client.Consume()
			Expect(err).To(MatchError(ContainSubstring("not connected")))
		})
	})

	Describe("Close", func() {
		It("should report an already closed client and tolerate repeats", func() {
			client, err := mq.New(mq.Config{URL: unreachable, QueueName: "q", Logger: logger})
			Expect(err).NotTo(HaveOccurred())

			Expect(client.Close()).To(MatchError(ContainSubstring("already closed")))
			Expect(client.Close()).To(MatchError(ContainSubstring("already closed")))
		})

		It("should handle concurrent closes", func() {
			client, err := mq.New(mq.Config{URL: unreachable, QueueName: "q", Logger: logger})
			Expect(err).NotTo(HaveOccurred())

			done := make(chan struct{}, 3)
			for range 3 {
				go func() {
					_ = client.Close()
					done <- struct{}{}
				}()
			}
			for range 3 {
				Eventually(done).Should(Receive())
			}
		})
	})

	Describe("MockClient", func() {
		It("should record publishes", func() {
			m := mock.NewMockClient()
			Expect(m.Publish(context.Background(), mq.Message{ID: "1", Kind: "event"})).To(Succeed())

			m.PublishError = errors.New("broker down")
			Expect(m.Publish(context.Background(), mq.Message{ID: "2", Kind: "packet"})).NotTo(Succeed())

			Expect(m.Published()).To(HaveLen(2))
			Expect(m.Published()[1].Kind).To(Equal("packet"))

			m.Reset()
			Expect(m.Published()).To(BeEmpty())
		})
	})
})
