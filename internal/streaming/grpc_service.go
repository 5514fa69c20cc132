package streaming

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "dds.v1.Events"
	watchMethod = "/dds.v1.Events/Watch"
)

// EventsServer is the server API for dds.v1.Events.
type EventsServer interface {
	Watch(*emptypb.Empty, Events_WatchServer) error
}

type Events_WatchServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type eventsWatchServer struct {
	grpc.ServerStream
}

func (x *eventsWatchServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(EventsServer).Watch(m, &eventsWatchServer{stream})
}

// The service uses only well-known message types, so the descriptor is
// written out instead of generated.
var eventsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EventsServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "dds/v1/events.proto",
}

func RegisterEventsServer(s grpc.ServiceRegistrar, srv EventsServer) {
	s.RegisterService(&eventsServiceDesc, srv)
}

// EventService streams every published event to each watcher until the
// watcher goes away.
type EventService struct {
	streamer *EventStreamer
}

func NewEventService(streamer *EventStreamer) *EventService {
	return &EventService{streamer: streamer}
}

func (s *EventService) Watch(_ *emptypb.Empty, stream Events_WatchServer) error {
	eventCh := s.streamer.Subscribe()
	defer s.streamer.Unsubscribe(eventCh)

	for {
		select {
		case event, ok := <-eventCh:
			if !ok {
				return nil
			}
			if err := stream.Send(event); err != nil {
				return err
			}

		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

// EventsClient is the client API for dds.v1.Events.
type EventsClient struct {
	cc grpc.ClientConnInterface
}

func NewEventsClient(cc grpc.ClientConnInterface) *EventsClient {
	return &EventsClient{cc: cc}
}

type EventsWatchClient struct {
	grpc.ClientStream
}

func (x *EventsWatchClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *EventsClient) Watch(ctx context.Context, opts ...grpc.CallOption) (*EventsWatchClient, error) {
	stream, err := c.cc.NewStream(ctx, &eventsServiceDesc.Streams[0], watchMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &EventsWatchClient{stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// HealthReporter maps the machine state onto the gRPC health service:
// SERVING only while the machine is ready.
type HealthReporter struct {
	server *health.Server
}

func NewHealthReporter() *HealthReporter {
	h := &HealthReporter{server: health.NewServer()}
	h.SetReady(false)
	return h
}

func (h *HealthReporter) Register(s grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(s, h.server)
}

func (h *HealthReporter) SetReady(ready bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
}

// Shutdown reports NOT_SERVING for good and ignores later updates.
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}
