package grpcapi

import (
	"context"

	"google.golang.org/grpc"
)

// ApiServerServer is implemented by the Master side of the boundary
// (spec §4.5's ApiServerService).
type ApiServerServer interface {
	RegisterNode(context.Context, *RegisterNodeRequest) (*RegisterNodeResponse, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	ReportState(context.Context, *ReportStateRequest) (*ReportStateResponse, error)
}

// NodeAgentServer is implemented by the Agent side of the boundary
// (spec §4.5's NodeAgentService).
type NodeAgentServer interface {
	HandleArtifact(context.Context, *HandleArtifactRequest) (*HandleArtifactResponse, error)
	RemoveArtifact(context.Context, *RemoveArtifactRequest) (*RemoveArtifactResponse, error)
	HealthCheck(context.Context, *HealthCheckRequest) (*HealthCheckResponse, error)
}

func apiServerRegisterNodeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RegisterNodeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ApiServerServer).RegisterNode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/piccolo.ApiServerService/RegisterNode"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ApiServerServer).RegisterNode(ctx, req.(*RegisterNodeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func apiServerHeartbeatHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HeartbeatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ApiServerServer).Heartbeat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/piccolo.ApiServerService/Heartbeat"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ApiServerServer).Heartbeat(ctx, req.(*HeartbeatRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func apiServerReportStateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReportStateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ApiServerServer).ReportState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/piccolo.ApiServerService/ReportState"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ApiServerServer).ReportState(ctx, req.(*ReportStateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ApiServerServiceDesc is the hand-declared equivalent of what protoc-
// gen-go-grpc would otherwise generate from a .proto file.
var ApiServerServiceDesc = grpc.ServiceDesc{
	ServiceName: "piccolo.ApiServerService",
	HandlerType: (*ApiServerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterNode", Handler: apiServerRegisterNodeHandler},
		{MethodName: "Heartbeat", Handler: apiServerHeartbeatHandler},
		{MethodName: "ReportState", Handler: apiServerReportStateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "piccolo/apiserver.proto",
}

func nodeAgentHandleArtifactHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HandleArtifactRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgentServer).HandleArtifact(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/piccolo.NodeAgentService/HandleArtifact"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(NodeAgentServer).HandleArtifact(ctx, req.(*HandleArtifactRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func nodeAgentRemoveArtifactHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RemoveArtifactRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgentServer).RemoveArtifact(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/piccolo.NodeAgentService/RemoveArtifact"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(NodeAgentServer).RemoveArtifact(ctx, req.(*RemoveArtifactRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func nodeAgentHealthCheckHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HealthCheckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgentServer).HealthCheck(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/piccolo.NodeAgentService/HealthCheck"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(NodeAgentServer).HealthCheck(ctx, req.(*HealthCheckRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// NodeAgentServiceDesc is the hand-declared equivalent for the
// agent-served half of the boundary.
var NodeAgentServiceDesc = grpc.ServiceDesc{
	ServiceName: "piccolo.NodeAgentService",
	HandlerType: (*NodeAgentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "HandleArtifact", Handler: nodeAgentHandleArtifactHandler},
		{MethodName: "RemoveArtifact", Handler: nodeAgentRemoveArtifactHandler},
		{MethodName: "HealthCheck", Handler: nodeAgentHealthCheckHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "piccolo/nodeagent.proto",
}
