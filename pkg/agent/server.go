package agent

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/piccolo-project/piccolo/pkg/grpcapi"
	"github.com/piccolo-project/piccolo/pkg/log"
)

// ArtifactHandler is implemented by whatever actually deploys/removes
// workloads on this node. Artifact dispatch itself is out of scope for
// the state-management-plane core (spec.md names Settings
// Server/packaging as non-goals); NodeServer only owns the RPC
// boundary, forwarding to this collaborator.
type ArtifactHandler interface {
	HandleArtifact(ctx context.Context, artifact grpcapi.ArtifactInfo) error
	RemoveArtifact(ctx context.Context, artifactID string) error
}

// NodeServer implements grpcapi.NodeAgentServer, the half of the gRPC
// boundary the Master dials into on this node.
type NodeServer struct {
	handler ArtifactHandler
	grpc    *grpc.Server
	logger  zerolog.Logger
}

// NewNodeServer constructs a NodeServer. handler may be nil, in which
// case handle_artifact/remove_artifact return Unavailable.
func NewNodeServer(handler ArtifactHandler, tlsCfg *tls.Config) *NodeServer {
	var opts []grpc.ServerOption
	if tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}

	s := &NodeServer{handler: handler, logger: log.WithComponent("agent.nodeserver")}
	s.grpc = grpc.NewServer(opts...)
	s.grpc.RegisterService(&grpcapi.NodeAgentServiceDesc, s)
	return s
}

// Serve blocks, accepting connections on addr.
func (s *NodeServer) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("agent: listen %s: %w", addr, err)
	}
	s.logger.Info().Str("addr", addr).Msg("NodeAgentService listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully drains in-flight RPCs.
func (s *NodeServer) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

func (s *NodeServer) HandleArtifact(ctx context.Context, req *grpcapi.HandleArtifactRequest) (*grpcapi.HandleArtifactResponse, error) {
	if s.handler == nil {
		return &grpcapi.HandleArtifactResponse{Ack: grpcapi.Ack{Status: grpcapi.StatusUnavailable, Message: "no artifact handler configured"}}, nil
	}
	if err := s.handler.HandleArtifact(ctx, req.Artifact); err != nil {
		return &grpcapi.HandleArtifactResponse{Ack: grpcapi.Ack{Status: grpcapi.StatusInternal, Message: err.Error()}}, nil
	}
	return &grpcapi.HandleArtifactResponse{Ack: grpcapi.Ack{Status: grpcapi.StatusOk}}, nil
}

func (s *NodeServer) RemoveArtifact(ctx context.Context, req *grpcapi.RemoveArtifactRequest) (*grpcapi.RemoveArtifactResponse, error) {
	if s.handler == nil {
		return &grpcapi.RemoveArtifactResponse{Ack: grpcapi.Ack{Status: grpcapi.StatusUnavailable, Message: "no artifact handler configured"}}, nil
	}
	if err := s.handler.RemoveArtifact(ctx, req.ArtifactID); err != nil {
		return &grpcapi.RemoveArtifactResponse{Ack: grpcapi.Ack{Status: grpcapi.StatusInternal, Message: err.Error()}}, nil
	}
	return &grpcapi.RemoveArtifactResponse{Ack: grpcapi.Ack{Status: grpcapi.StatusOk}}, nil
}

func (s *NodeServer) HealthCheck(ctx context.Context, req *grpcapi.HealthCheckRequest) (*grpcapi.HealthCheckResponse, error) {
	return &grpcapi.HealthCheckResponse{Pong: true}, nil
}
