// Package types holds the cluster data model: Node, Container, Model,
// Package, and Scenario, plus their enumerated states.
package types

import "time"

// NodeRole identifies a node's function in the cluster.
type NodeRole string

const (
	NodeRoleMaster NodeRole = "Master"
	NodeRoleSub    NodeRole = "Sub"
)

// NodeStatus is the Node Registry's liveness classification.
type NodeStatus string

const (
	NodeStatusInitializing NodeStatus = "Initializing"
	NodeStatusOnline       NodeStatus = "Online"
	NodeStatusOffline      NodeStatus = "Offline"
	NodeStatusError        NodeStatus = "Error"
	NodeStatusMaintenance  NodeStatus = "Maintenance"
)

// NodeResources is the resource snapshot a node reports at
// registration and on every heartbeat.
type NodeResources struct {
	CPUCores    int     `json:"cpu_cores"`
	MemoryMB    int64   `json:"memory_mb"`
	DiskGB      int64   `json:"disk_gb"`
	CPUUsage    float64 `json:"cpu_usage_percent"`
	MemoryUsage float64 `json:"memory_usage_percent"`
}

// Node is the Node Registry's record of a cluster member.
type Node struct {
	ID            string            `json:"node_id"`
	Name          string            `json:"node_name"`
	IPAddress     string            `json:"ip_address"`
	Role          NodeRole          `json:"role"`
	Status        NodeStatus        `json:"status"`
	Resources     NodeResources     `json:"resources"`
	Labels        map[string]string `json:"labels,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
}

// ContainerState is the derived label produced by the Resource State
// Machine from a container's raw lifecycle flags.
type ContainerState string

const (
	ContainerStateCreated ContainerState = "Created"
	ContainerStateRunning ContainerState = "Running"
	ContainerStateStopped ContainerState = "Stopped"
	ContainerStateExited  ContainerState = "Exited"
	ContainerStateDead    ContainerState = "Dead"
)

// ContainerRawFlags are the raw lifecycle flags a container runtime
// reports; the Resource State Machine derives ContainerState from
// these, never the other way around.
type ContainerRawFlags struct {
	Running bool
	Paused  bool
	Dead    bool
	// Exited is true when the runtime reports the container's
	// lifecycle as ended without Running, Paused, or Dead being set
	// (e.g. a clean exit with no task still attached).
	Exited bool
}

// Container is a single container instance as reported by a Node
// Agent's container reporter.
type Container struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Image       string            `json:"image,omitempty"`
	NodeName    string            `json:"node_name"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Raw         ContainerRawFlags `json:"raw"`
	State       ContainerState    `json:"status"`
}

// ModelAnnotation is the annotation key that groups containers into a
// Model.
const ModelAnnotation = "pullpiri.model"

// PackageAnnotation is the annotation key that associates a Model with
// a Package.
const PackageAnnotation = "pullpiri.package"

// ModelState is the derived state of a Model, computed from the
// states of its containers.
type ModelState string

const (
	ModelStateCreated ModelState = "Created"
	ModelStateRunning ModelState = "Running"
	ModelStatePaused  ModelState = "Paused"
	ModelStateExited  ModelState = "Exited"
	ModelStateDead    ModelState = "Dead"
)

// Model is a logical grouping of containers, identified by the
// ModelAnnotation on its member containers.
type Model struct {
	Name         string     `json:"name"`
	ContainerIDs []string   `json:"container_ids"`
	PackageName  string     `json:"package_name,omitempty"`
	State        ModelState `json:"state"`
}

// PackageState is the derived state of a Package, computed from the
// states of its models.
type PackageState string

const (
	PackageStateIdle     PackageState = "idle"
	PackageStateRunning  PackageState = "running"
	PackageStatePaused   PackageState = "paused"
	PackageStateExited   PackageState = "exited"
	PackageStateDegraded PackageState = "degraded"
	PackageStateError    PackageState = "error"
)

// Package is a logical grouping of Models.
type Package struct {
	Name       string       `json:"name"`
	ModelNames []string     `json:"model_names"`
	State      PackageState `json:"state"`
}

// ScenarioState is referenced by the data model but not cascaded by
// the core (see DESIGN.md, open-question decision 1).
type ScenarioState string

const (
	ScenarioStateIdle      ScenarioState = "idle"
	ScenarioStateWaiting   ScenarioState = "waiting"
	ScenarioStateSatisfied ScenarioState = "satisfied"
	ScenarioStateAllowed   ScenarioState = "allowed"
	ScenarioStateDenied    ScenarioState = "denied"
	ScenarioStateCompleted ScenarioState = "completed"
)

// Scenario is referenced for completeness; its transition triggers are
// explicitly out of scope for the core (spec Open Question 1).
type Scenario struct {
	Name  string        `json:"name"`
	State ScenarioState `json:"state"`
}
