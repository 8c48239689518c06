package archiver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"procodus.dev/sadrn/pkg/metrics"
)

// QueryServiceName is the fully qualified gRPC service name.
const QueryServiceName = "sadrn.archiver.v1.Archive"

const (
	methodRecentEvents  = "RecentEvents"
	methodRecentPackets = "RecentPackets"
)

// QueryServer answers archive queries. Requests and responses are
// google.protobuf.Struct messages:
//
//	RecentEvents  {limit}          -> {events: [...]}
//	RecentPackets {limit, gateway} -> {packets: [...]}
type QueryServer interface {
	RecentEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RecentPackets(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// QueryServiceDesc describes the archive query service.
var QueryServiceDesc = grpc.ServiceDesc{
	ServiceName: QueryServiceName,
	HandlerType: (*QueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodRecentEvents, Handler: recentEventsHandler},
		{MethodName: methodRecentPackets, Handler: recentPacketsHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterQueryServer registers srv on s.
func RegisterQueryServer(s grpc.ServiceRegistrar, srv QueryServer) {
	s.RegisterService(&QueryServiceDesc, srv)
}

func recentEventsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QueryServer).RecentEvents(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + QueryServiceName + "/" + methodRecentEvents}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(QueryServer).RecentEvents(ctx, req.(*structpb.Struct))
	})
}

func recentPacketsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QueryServer).RecentPackets(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + QueryServiceName + "/" + methodRecentPackets}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(QueryServer).RecentPackets(ctx, req.(*structpb.Struct))
	})
}

// QueryService implements QueryServer over a Store.
type QueryService struct {
	logger  *slog.Logger
	store   Store
	metrics *metrics.ArchiverMetrics
}

// NewQueryService creates a new QueryService instance.
func NewQueryService(logger *slog.Logger, store Store, m *metrics.ArchiverMetrics) (*QueryService, error) {
	if logger == nil {
		return nil, errLoggerRequired
	}
	if store == nil {
		return nil, errStoreRequired
	}
	return &QueryService{logger: logger, store: store, metrics: m}, nil
}

// RecentEvents returns the newest archived events.
func (s *QueryService) RecentEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	defer s.timer(methodRecentEvents)()

	limit, err := limitFrom(req)
	if err != nil {
		s.count(methodRecentEvents, "error")
		return nil, err
	}

	events, err := s.store.RecentEvents(ctx, limit)
	if err != nil {
		s.logger.Error("failed to fetch events", "error", err)
		s.count(methodRecentEvents, "error")
		return nil, status.Errorf(codes.Internal, "failed to fetch events: %v", err)
	}

	items := make([]any, len(events))
	for i, ev := range events {
		items[i] = map[string]any{
			"id":        ev.EventID,
			"type":      ev.Type,
			"message":   ev.Message,
			"priority":  ev.Severity,
			"timestamp": ev.Timestamp.UTC().Format(time.RFC3339Nano),
		}
	}
	return s.respond(methodRecentEvents, "events", items)
}

// RecentPackets returns the newest archived packets, optionally for one
// gateway.
func (s *QueryService) RecentPackets(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	defer s.timer(methodRecentPackets)()

	limit, err := limitFrom(req)
	if err != nil {
		s.count(methodRecentPackets, "error")
		return nil, err
	}
	gateway := req.GetFields()["gateway"].GetStringValue()

	records, err := s.store.RecentPackets(ctx, gateway, limit)
	if err != nil {
		s.logger.Error("failed to fetch packets", "gateway", gateway, "error", err)
		s.count(methodRecentPackets, "error")
		return nil, status.Errorf(codes.Internal, "failed to fetch packets: %v", err)
	}

	items := make([]any, len(records))
	for i, p := range records {
		path := make([]any, len(p.Path))
		for j, n := range p.Path {
			path[j] = n
		}
		items[i] = map[string]any{
			"id":          p.PacketID,
			"gateway":     p.Gateway,
			"sensor":      p.Sensor,
			"sensor_type": p.SensorKind,
			"value":       p.Value,
			"unit":        p.Unit,
			"path":        path,
			"cost":        p.Cost,
			"priority":    p.Priority,
			"timestamp":   p.Timestamp.UTC().Format(time.RFC3339Nano),
		}
	}
	return s.respond(methodRecentPackets, "packets", items)
}

func (s *QueryService) respond(method, key string, items []any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(map[string]any{key: items})
	if err != nil {
		s.count(method, "error")
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	s.count(method, "success")
	return out, nil
}

func (s *QueryService) timer(method string) func() {
	if s.metrics == nil {
		return func() {}
	}
	timer := prometheus.NewTimer(s.metrics.GRPCRequestDuration.WithLabelValues(method))
	return func() { timer.ObserveDuration() }
}

func (s *QueryService) count(method, result string) {
	if s.metrics != nil {
		s.metrics.GRPCRequestsTotal.WithLabelValues(method, result).Inc()
	}
}

// limitFrom reads the optional limit field. Zero means the maximum.
func limitFrom(req *structpb.Struct) (int, error) {
	v, ok := req.GetFields()["limit"]
	if !ok {
		return 0, nil
	}
	n := v.GetNumberValue()
	if n < 0 || n != float64(int(n)) {
		return 0, status.Error(codes.InvalidArgument, "limit must be a non-negative integer")
	}
	return int(n), nil
}

// QueryClient calls the archive query service.
type QueryClient struct {
	cc grpc.ClientConnInterface
}

// NewQueryClient returns a client over cc.
func NewQueryClient(cc grpc.ClientConnInterface) *QueryClient {
	return &QueryClient{cc: cc}
}

// RecentEvents fetches up to limit events.
func (c *QueryClient) RecentEvents(ctx context.Context, limit int) ([]map[string]any, error) {
	req, err := structpb.NewStruct(map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	return c.list(ctx, methodRecentEvents, "events", req)
}

// RecentPackets fetches up to limit packets, for gateway when non-empty.
func (c *QueryClient) RecentPackets(ctx context.Context, gateway string, limit int) ([]map[string]any, error) {
	req, err := structpb.NewStruct(map[string]any{"limit": limit, "gateway": gateway})
	if err != nil {
		return nil, err
	}
	return c.list(ctx, methodRecentPackets, "packets", req)
}

var errMalformedResponse = errors.New("malformed archive response")

func (c *QueryClient) list(ctx context.Context, method, key string, req *structpb.Struct) ([]map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+QueryServiceName+"/"+method, req, out); err != nil {
		return nil, err
	}
	v, ok := out.GetFields()[key]
	if !ok {
		return nil, errMalformedResponse
	}
	values := v.GetListValue().GetValues()
	items := make([]map[string]any, 0, len(values))
	for _, item := range values {
		s := item.GetStructValue()
		if s == nil {
			return nil, errMalformedResponse
		}
		items = append(items, s.AsMap())
	}
	return items, nil
}
