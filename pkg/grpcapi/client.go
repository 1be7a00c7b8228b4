package grpcapi

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// connectTimeout and callTimeout match spec §4.5's "5s connect, 10s RPC
// deadline by default".
const (
	connectTimeout = 5 * time.Second
	callTimeout    = 10 * time.Second
)

func dial(addr string, tlsCfg *tls.Config) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	if tlsCfg != nil {
		creds = credentials.NewTLS(tlsCfg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodec{}.Name())),
	)
	if err != nil {
		return nil, fmt.Errorf("grpcapi: dial %s: %w", addr, err)
	}
	return conn, nil
}

// ApiServerClient is the Node Agent's typed wrapper around
// ApiServerService (register_node/heartbeat/report_state).
type ApiServerClient struct {
	conn *grpc.ClientConn
}

// DialApiServer connects to the Master's gRPC endpoint.
func DialApiServer(addr string, tlsCfg *tls.Config) (*ApiServerClient, error) {
	conn, err := dial(addr, tlsCfg)
	if err != nil {
		return nil, err
	}
	return &ApiServerClient{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *ApiServerClient) Close() error { return c.conn.Close() }

func (c *ApiServerClient) RegisterNode(ctx context.Context, spec NodeSpec) (*RegisterNodeResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out := new(RegisterNodeResponse)
	if err := c.conn.Invoke(ctx, "/piccolo.ApiServerService/RegisterNode", &RegisterNodeRequest{Spec: spec}, out); err != nil {
		return nil, fmt.Errorf("grpcapi: RegisterNode: %w", err)
	}
	return out, nil
}

func (c *ApiServerClient) Heartbeat(ctx context.Context, req HeartbeatRequest) (*HeartbeatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out := new(HeartbeatResponse)
	if err := c.conn.Invoke(ctx, "/piccolo.ApiServerService/Heartbeat", &req, out); err != nil {
		return nil, fmt.Errorf("grpcapi: Heartbeat: %w", err)
	}
	return out, nil
}

func (c *ApiServerClient) ReportState(ctx context.Context, req ReportStateRequest) (*ReportStateResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out := new(ReportStateResponse)
	if err := c.conn.Invoke(ctx, "/piccolo.ApiServerService/ReportState", &req, out); err != nil {
		return nil, fmt.Errorf("grpcapi: ReportState: %w", err)
	}
	return out, nil
}

// NodeAgentClient is the Master's typed wrapper around NodeAgentService
// (handle_artifact/remove_artifact/health_check), dialed per-agent.
type NodeAgentClient struct {
	conn *grpc.ClientConn
}

// DialNodeAgent connects to a single agent's gRPC endpoint.
func DialNodeAgent(addr string, tlsCfg *tls.Config) (*NodeAgentClient, error) {
	conn, err := dial(addr, tlsCfg)
	if err != nil {
		return nil, err
	}
	return &NodeAgentClient{conn: conn}, nil
}

func (c *NodeAgentClient) Close() error { return c.conn.Close() }

func (c *NodeAgentClient) HandleArtifact(ctx context.Context, artifact ArtifactInfo) (*HandleArtifactResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out := new(HandleArtifactResponse)
	if err := c.conn.Invoke(ctx, "/piccolo.NodeAgentService/HandleArtifact", &HandleArtifactRequest{Artifact: artifact}, out); err != nil {
		return nil, fmt.Errorf("grpcapi: HandleArtifact: %w", err)
	}
	return out, nil
}

func (c *NodeAgentClient) RemoveArtifact(ctx context.Context, artifactID string) (*RemoveArtifactResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out := new(RemoveArtifactResponse)
	if err := c.conn.Invoke(ctx, "/piccolo.NodeAgentService/RemoveArtifact", &RemoveArtifactRequest{ArtifactID: artifactID}, out); err != nil {
		return nil, fmt.Errorf("grpcapi: RemoveArtifact: %w", err)
	}
	return out, nil
}

func (c *NodeAgentClient) HealthCheck(ctx context.Context) (*HealthCheckResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out := new(HealthCheckResponse)
	if err := c.conn.Invoke(ctx, "/piccolo.NodeAgentService/HealthCheck", &HealthCheckRequest{}, out); err != nil {
		return nil, fmt.Errorf("grpcapi: HealthCheck: %w", err)
	}
	return out, nil
}
