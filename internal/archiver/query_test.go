package archiver_test

import (
	"context"
	"errors"
	"net"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"procodus.dev/sadrn/internal/archiver"
	"procodus.dev/sadrn/pkg/logger"
	"procodus.dev/sadrn/pkg/metrics"
)

var _ = Describe("QueryService", func() {
	var (
		store  *memoryStore
		m      *metrics.ArchiverMetrics
		server *grpc.Server
		conn   *grpc.ClientConn
		client *archiver.QueryClient
	)

	BeforeEach(func() {
		store = &memoryStore{}
		m = metrics.NewArchiverMetrics(metrics.Namespace, prometheus.NewRegistry())

		svc, err := archiver.NewQueryService(logger.Discard(), store, m)
		Expect(err).NotTo(HaveOccurred())

		lis := bufconn.Listen(1 << 20)
		server = grpc.NewServer()
		archiver.RegisterQueryServer(server, svc)
		go func() { _ = server.Serve(lis) }()

		conn, err = grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		Expect(err).NotTo(HaveOccurred())
		client = archiver.NewQueryClient(conn)
	})

	AfterEach(func() {
		Expect(conn.Close()).To(Succeed())
		server.Stop()
	})

	Describe("NewQueryService", func() {
		It("should require a logger", func() {
			_, err := archiver.NewQueryService(nil, store, nil)
			Expect(err).To(MatchError("logger cannot be nil"))
		})

		It("should require a store", func() {
			_, err := archiver.NewQueryService(logger.Discard(), nil, nil)
			Expect(err).To(MatchError("store cannot be nil"))
		})
	})

	It("should return the newest events first", func() {
		ctx := context.Background()
		for _, id := range []string{"evt_1", "evt_2", "evt_3"} {
			ev := sampleEvent(id)
			Expect(store.SaveEvent(ctx, &ev)).To(Succeed())
		}

		events, err := client.RecentEvents(ctx, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))
		Expect(events[0]).To(HaveKeyWithValue("id", "evt_3"))
		Expect(events[0]).To(HaveKeyWithValue("priority", "CRITICAL"))
		Expect(events[0]).To(HaveKeyWithValue("timestamp", "2026-03-14T09:30:00Z"))
		Expect(events[1]).To(HaveKeyWithValue("id", "evt_2"))
		Expect(testutil.ToFloat64(m.GRPCRequestsTotal.WithLabelValues("RecentEvents", "success"))).To(Equal(1.0))
	})

	It("should filter packets by gateway", func() {
		ctx := context.Background()
		for _, p := range []struct{ id, gw string }{{"pkt_1", "gw_a"}, {"pkt_2", "gw_b"}, {"pkt_3", "gw_a"}} {
			pkt := samplePacket(p.id, p.gw)
			Expect(store.SavePacket(ctx, &pkt)).To(Succeed())
		}

		packets, err := client.RecentPackets(ctx, "gw_a", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(packets).To(HaveLen(2))
		Expect(packets[0]).To(HaveKeyWithValue("id", "pkt_3"))
		Expect(packets[0]).To(HaveKeyWithValue("path", []any{"gw_a", "s4", "s1", "display"}))
		Expect(packets[0]).To(HaveKeyWithValue("value", 42.5))
		Expect(packets[1]).To(HaveKeyWithValue("id", "pkt_1"))
	})

	It("should return an empty list when nothing is archived", func() {
		packets, err := client.RecentPackets(context.Background(), "", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(packets).To(BeEmpty())
	})

	It("should reject a negative limit", func() {
		_, err := client.RecentEvents(context.Background(), -1)
		Expect(status.Code(err)).To(Equal(codes.InvalidArgument))
		Expect(testutil.ToFloat64(m.GRPCRequestsTotal.WithLabelValues("RecentEvents", "error"))).To(Equal(1.0))
	})

	It("should reject a fractional limit", func() {
		req, err := structpb.NewStruct(map[string]any{"limit": 2.5})
		Expect(err).NotTo(HaveOccurred())
		out := new(structpb.Struct)
		err = conn.Invoke(context.Background(), "/"+archiver.QueryServiceName+"/RecentEvents", req, out)
		Expect(status.Code(err)).To(Equal(codes.InvalidArgument))
	})

	It("should report store failures as internal errors", func() {
		store.failWith(errors.New("connection reset"))
		_, err := client.RecentPackets(context.Background(), "", 10)
		Expect(status.Code(err)).To(Equal(codes.Internal))
	})
})
