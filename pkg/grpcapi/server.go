package grpcapi

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/piccolo-project/piccolo/pkg/log"
	"github.com/piccolo-project/piccolo/pkg/metrics"
	"github.com/piccolo-project/piccolo/pkg/perrors"
	"github.com/piccolo-project/piccolo/pkg/registry"
	"github.com/piccolo-project/piccolo/pkg/statemanager"
)

// TLSConfig loads the certificate/key pair an mTLS-enabled deployment
// would use. Issuance and rotation are out of scope here (spec.md §1
// assumes mTLS, does not design it); this is only the loader half.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Load reads the configured cert/key pair, if any. A zero-value
// TLSConfig yields a nil *tls.Config, which callers interpret as
// "serve plaintext" for local/dev use.
func (c TLSConfig) Load() (*tls.Config, error) {
	if c.CertFile == "" || c.KeyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("grpcapi: load tls cert/key: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS13}, nil
}

// Server implements ApiServerServer on top of the Node Registry and
// State Manager.
type Server struct {
	reg    *registry.Registry
	mgr    *statemanager.Manager
	grpc   *grpc.Server
	logger zerolog.Logger
}

// NewServer wires a Server to its two domain collaborators and
// constructs the underlying *grpc.Server. tlsCfg may be nil for
// plaintext local use.
func NewServer(reg *registry.Registry, mgr *statemanager.Manager, tlsCfg *tls.Config) *Server {
	var opts []grpc.ServerOption
	if tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}

	s := &Server{reg: reg, mgr: mgr, logger: log.WithComponent("grpcapi")}
	s.grpc = grpc.NewServer(opts...)
	s.grpc.RegisterService(&ApiServerServiceDesc, s)
	return s
}

// Serve blocks, accepting connections on addr.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpcapi: listen %s: %w", addr, err)
	}
	s.logger.Info().Str("addr", addr).Msg("ApiServerService listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully drains in-flight RPCs.
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

func statusFromErr(err error) Status {
	if err == nil {
		return StatusOk
	}
	switch perrors.KindOf(err) {
	case perrors.KindInvalidArgument:
		return StatusInvalidArgument
	case perrors.KindNotFound:
		return StatusNotFound
	case perrors.KindUnavailable:
		return StatusUnavailable
	case perrors.KindConflict:
		return StatusInvalidArgument
	default:
		return StatusInternal
	}
}

// RegisterNode implements ApiServerServer.
func (s *Server) RegisterNode(_ context.Context, req *RegisterNodeRequest) (*RegisterNodeResponse, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.APIRequestDuration, "RegisterNode")

	nodeID, err := s.reg.Register(req.Spec.NodeName, req.Spec.IPAddress, req.Spec.Role, req.Spec.Resources, req.Spec.Labels)
	status := statusFromErr(err)
	metrics.APIRequestsTotal.WithLabelValues("RegisterNode", string(status)).Inc()
	if err != nil {
		return &RegisterNodeResponse{Status: status, Message: err.Error()}, nil
	}

	cfg := s.reg.Config()
	return &RegisterNodeResponse{
		Status: StatusOk,
		NodeID: nodeID,
		Config: ClusterConfig{HeartbeatIntervalSeconds: int(cfg.HeartbeatInterval.Seconds())},
	}, nil
}

// Heartbeat implements ApiServerServer.
func (s *Server) Heartbeat(_ context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.APIRequestDuration, "Heartbeat")

	err := s.reg.Heartbeat(req.NodeID, req.ResourceUsage, req.Containers)
	status := statusFromErr(err)
	metrics.APIRequestsTotal.WithLabelValues("Heartbeat", string(status)).Inc()
	if err != nil {
		return &HeartbeatResponse{Ack{Status: status, Message: err.Error()}}, nil
	}
	return &HeartbeatResponse{Ack{Status: StatusOk}}, nil
}

// ReportState implements ApiServerServer, allowing an admin override
// to be pushed through the same boundary agents use.
func (s *Server) ReportState(_ context.Context, req *ReportStateRequest) (*ReportStateResponse, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.APIRequestDuration, "ReportState")

	err := s.mgr.UpdateResourceState(req.Kind, req.Name, req.State)
	status := statusFromErr(err)
	metrics.APIRequestsTotal.WithLabelValues("ReportState", string(status)).Inc()
	if err != nil {
		return &ReportStateResponse{Ack{Status: status, Message: err.Error()}}, nil
	}
	return &ReportStateResponse{Ack{Status: StatusOk}}, nil
}
