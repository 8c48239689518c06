package archiver_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"procodus.dev/sadrn/internal/archiver"
	"procodus.dev/sadrn/pkg/logger"
	"procodus.dev/sadrn/pkg/mq/mock"
)

var _ = Describe("Server", func() {
	var (
		queue *mock.MockClient
		store *memoryStore
	)

	BeforeEach(func() {
		queue = mock.NewMockClient()
		store = &memoryStore{}
	})

	Describe("NewServer", func() {
		valid := func() *archiver.ServerConfig {
			return &archiver.ServerConfig{
				Logger:   logger.Discard(),
				Queue:    queue,
				Store:    store,
				GRPCPort: 50051,
			}
		}

		It("should create a server with a valid config", func() {
			server, err := archiver.NewServer(valid())
			Expect(err).NotTo(HaveOccurred())
			Expect(server).NotTo(BeNil())
		})

		It("should accept database settings instead of a store", func() {
			cfg := valid()
			cfg.Store = nil
			cfg.DB = &archiver.DBConfig{Host: "localhost", Port: 5432, User: "sadrn", DBName: "sadrn", SSLMode: "disable"}
			_, err := archiver.NewServer(cfg)
			Expect(err).NotTo(HaveOccurred())
		})

		DescribeTable("should reject invalid configs",
			func(mutate func(*archiver.ServerConfig), msg string) {
				cfg := valid()
				mutate(cfg)
				server, err := archiver.NewServer(cfg)
				Expect(err).To(MatchError(msg))
				Expect(server).To(BeNil())
			},
			Entry("missing logger", func(c *archiver.ServerConfig) { c.Logger = nil }, "logger cannot be nil"),
			Entry("missing queue", func(c *archiver.ServerConfig) { c.Queue = nil }, "queue client cannot be nil"),
			Entry("missing storage", func(c *archiver.ServerConfig) { c.Store = nil }, "database config or store is required"),
			Entry("zero gRPC port", func(c *archiver.ServerConfig) { c.GRPCPort = 0 }, "gRPC port must be positive"),
			Entry("negative metrics port", func(c *archiver.ServerConfig) { c.MetricsPort = -1 }, "metrics port cannot be negative"),
		)

		It("should reject a nil config", func() {
			_, err := archiver.NewServer(nil)
			Expect(err).To(MatchError("server config cannot be nil"))
		})
	})

	Describe("Run", func() {
		It("should serve health and queries until the context ends", func() {
			server, err := archiver.NewServer(&archiver.ServerConfig{
				Logger:   logger.Discard(),
				Queue:    queue,
				Store:    store,
				GRPCPort: 18766,
			})
			Expect(err).NotTo(HaveOccurred())

			ev := sampleEvent("evt_9")
			Expect(store.SaveEvent(context.Background(), &ev)).To(Succeed())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- server.Run(ctx) }()

			conn, err := grpc.NewClient("localhost:18766",
				grpc.WithTransportCredentials(insecure.NewCredentials()))
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			health := healthpb.NewHealthClient(conn)
			Eventually(func() healthpb.HealthCheckResponse_ServingStatus {
				rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
				defer rcancel()
				resp, err := health.Check(rctx, &healthpb.HealthCheckRequest{Service: archiver.QueryServiceName})
				if err != nil {
					return healthpb.HealthCheckResponse_UNKNOWN
				}
				return resp.GetStatus()
			}, 5*time.Second, 50*time.Millisecond).Should(Equal(healthpb.HealthCheckResponse_SERVING))

			events, err := archiver.NewQueryClient(conn).RecentEvents(context.Background(), 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(1))

			Eventually(queue.ConsumeCalls).Should(BeNumerically(">=", 1))

			cancel()
			Eventually(done, 15*time.Second).Should(Receive(BeNil()))
			Expect(queue.CloseCalls()).To(Equal(1))
		})
	})
})

