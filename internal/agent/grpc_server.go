package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// AgentServiceName is the fully qualified gRPC service name.
const AgentServiceName = "netdesk.agent.v1.AgentService"

const replyMethod = "/" + AgentServiceName + "/Reply"

// replyServer is the handler type registered for AgentServiceName.
type replyServer interface {
	reply(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

type responderServer struct {
	responder Responder
}

func (s responderServer) reply(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	out, err := s.responder.Reply(ctx, in.GetValue())
	if err != nil {
		return nil, err
	}
	return wrapperspb.String(out), nil
}

func replyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(replyServer).reply(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: replyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(replyServer).reply(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

var agentServiceDesc = grpc.ServiceDesc{
	ServiceName: AgentServiceName,
	HandlerType: (*replyServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Reply", Handler: replyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "netdesk/agent/v1/agent.proto",
}

// RegisterResponder exposes r as the agent service on s, together with the
// standard health service.
func RegisterResponder(s *grpc.Server, r Responder) {
	s.RegisterService(&agentServiceDesc, responderServer{responder: r})

	hs := health.NewServer()
	hs.SetServingStatus(AgentServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
}

// Serve runs a gRPC agent service backed by r on lis until ctx is cancelled.
func Serve(ctx context.Context, lis net.Listener, r Responder, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	s := grpc.NewServer()
	RegisterResponder(s, r)

	go func() {
		<-ctx.Done()
		logger.Info("Stopping agent service")
		s.GracefulStop()
	}()

	logger.Info("Agent service listening", "address", lis.Addr().String())
	if err := s.Serve(lis); err != nil {
		return fmt.Errorf("serve agent: %w", err)
	}
	return nil
}
