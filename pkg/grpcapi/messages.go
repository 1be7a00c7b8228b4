package grpcapi

import "github.com/piccolo-project/piccolo/pkg/types"

// Status is the coarse response enum every RPC in both services
// carries alongside its payload (spec §4.5).
type Status string

const (
	StatusOk              Status = "Ok"
	StatusInvalidArgument Status = "InvalidArgument"
	StatusNotFound        Status = "NotFound"
	StatusUnavailable     Status = "Unavailable"
	StatusInternal        Status = "Internal"
)

// Ack is the common envelope for calls that don't need a richer
// response body.
type Ack struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// NodeSpec is what a Node Agent offers at registration time.
type NodeSpec struct {
	NodeName  string               `json:"node_name"`
	IPAddress string               `json:"ip_address"`
	Role      types.NodeRole       `json:"role"`
	Resources types.NodeResources  `json:"resources"`
	Labels    map[string]string    `json:"labels,omitempty"`
}

// ClusterConfig is handed back to a newly registered agent so it knows
// how to behave without a second round trip.
type ClusterConfig struct {
	HeartbeatIntervalSeconds int `json:"heartbeat_interval_seconds"`
}

// RegisterNodeRequest / RegisterNodeResponse implement register_node.
type RegisterNodeRequest struct {
	Spec NodeSpec `json:"spec"`
}

type RegisterNodeResponse struct {
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	NodeID  string        `json:"node_id,omitempty"`
	Config  ClusterConfig `json:"cluster_config"`
}

// HeartbeatRequest / HeartbeatResponse implement heartbeat.
type HeartbeatRequest struct {
	NodeID        string              `json:"node_id"`
	ResourceUsage types.NodeResources `json:"resource_usage"`
	Containers    []types.Container   `json:"containers,omitempty"`
}

type HeartbeatResponse struct {
	Ack
}

// ReportStateRequest / ReportStateResponse implement report_state,
// used by the Action Controller (or an operator) to push an admin
// override through the same boundary the agents use.
type ReportStateRequest struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	State string `json:"state"`
}

type ReportStateResponse struct {
	Ack
}

// ArtifactInfo describes a workload artifact the Master wants an agent
// to deploy or update.
type ArtifactInfo struct {
	ArtifactID string            `json:"artifact_id"`
	PackageName string           `json:"package_name"`
	Image       string           `json:"image"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

type HandleArtifactRequest struct {
	Artifact ArtifactInfo `json:"artifact"`
}

type HandleArtifactResponse struct {
	Ack
}

type RemoveArtifactRequest struct {
	ArtifactID string `json:"artifact_id"`
}

type RemoveArtifactResponse struct {
	Ack
}

type HealthCheckRequest struct{}

type HealthCheckResponse struct {
	Pong bool `json:"pong"`
}
