// Package registry implements the Node Registry: membership
// registration, heartbeat tracking, liveness classification, and the
// topology view (spec §4.2). All reads are served from the KV store;
// there is no in-memory cache that can diverge from it.
package registry

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/piccolo-project/piccolo/pkg/kvstore"
	"github.com/piccolo-project/piccolo/pkg/log"
	"github.com/piccolo-project/piccolo/pkg/metrics"
	"github.com/piccolo-project/piccolo/pkg/perrors"
	"github.com/piccolo-project/piccolo/pkg/types"
)

// Config carries the tunables named in spec §4.2 and §9: a single
// immutable struct passed into the constructor, no package-level
// singletons.
type Config struct {
	// HeartbeatInterval is the expected interval between agent
	// heartbeats; the liveness scanner's Online->Offline threshold is
	// 3x this value.
	HeartbeatInterval time.Duration
	// LivenessScanInterval is how often the scanner runs.
	LivenessScanInterval time.Duration
	// FailureTimeout is how long a node may remain Offline before the
	// scanner escalates it to Error.
	FailureTimeout time.Duration
}

// DefaultConfig matches spec §4.2's stated defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    30 * time.Second,
		LivenessScanInterval: 10 * time.Second,
		FailureTimeout:       5 * time.Minute,
	}
}

// ContainerForwarder receives the container list carried on each
// heartbeat and is implemented by the State Manager. Forwarding
// failures are logged, not surfaced as heartbeat failures: the cascade
// is retried on the next heartbeat for the same node (spec §4.4
// failure semantics).
type ContainerForwarder interface {
	IngestContainerList(nodeName string, containers []types.Container) error
}

// Registry implements the Node Registry operations.
type Registry struct {
	store     kvstore.Store
	cfg       Config
	logger    zerolog.Logger
	forwarder ContainerForwarder
}

// New constructs a Registry. forwarder may be nil in tests that don't
// exercise the State Manager cascade.
func New(store kvstore.Store, cfg Config, forwarder ContainerForwarder) *Registry {
	return &Registry{
		store:     store,
		cfg:       cfg,
		logger:    log.WithComponent("registry"),
		forwarder: forwarder,
	}
}

// Register implements register(): a node_name that is already claimed
// returns the existing node_id when the ip and role match (idempotent
// re-registration) and a Conflict otherwise; a second online Master is
// also rejected with a Conflict.
func (r *Registry) Register(name, ip string, role types.NodeRole, resources types.NodeResources, labels map[string]string) (string, error) {
	if name == "" {
		return "", perrors.InvalidArgument("node_name must not be empty")
	}

	if role == types.NodeRoleMaster {
		if conflict, err := r.hasOnlineMaster(name); err != nil {
			return "", err
		} else if conflict {
			metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
			return "", perrors.Conflict("a Master node is already Online")
		}
	}

	candidateID := uuid.New().String()
	now := time.Now()

	ok, err := r.store.CompareAndSwap(byNameKey(name), nil, []byte(candidateID))
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("unavailable").Inc()
		return "", perrors.Unavailable(err, "register %s", name)
	}

	if !ok {
		// The name is already claimed. Only treat this as an idempotent
		// re-registration by the same node (same ip and role); anything
		// else is a genuine conflict, per spec's CAS-prevents-split-brain
		// guarantee.
		existingID, err := r.store.Get(byNameKey(name))
		if err != nil {
			metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
			return "", perrors.Conflict("node_name %s is registered by another node and its id could not be read: %v", name, err)
		}
		existing, err := r.Get(string(existingID))
		if err != nil {
			metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
			return "", perrors.Conflict("node_name %s is registered by another node and its record could not be read: %v", name, err)
		}
		if existing.IPAddress != ip || existing.Role != role {
			metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
			return "", perrors.Conflict("node_name %s is already registered with a different ip/role", name)
		}
		metrics.RegistrationsTotal.WithLabelValues("idempotent").Inc()
		r.logger.Info().Str("node_name", name).Str("node_id", existing.ID).Msg("idempotent re-registration")
		return existing.ID, nil
	}

	node := types.Node{
		ID:            candidateID,
		Name:          name,
		IPAddress:     ip,
		Role:          role,
		Status:        types.NodeStatusInitializing,
		Resources:     resources,
		Labels:        labels,
		CreatedAt:     now,
		LastHeartbeat: now,
	}

	data, err := json.Marshal(node)
	if err != nil {
		return "", perrors.Internal(err, "marshal node record")
	}
	if err := r.store.Put(nodeKey(candidateID), data); err != nil {
		metrics.RegistrationsTotal.WithLabelValues("unavailable").Inc()
		return "", perrors.Unavailable(err, "persist node record")
	}
	if err := r.store.Put(heartbeatKey(candidateID), []byte(strconv.FormatInt(now.Unix(), 10))); err != nil {
		return "", perrors.Unavailable(err, "persist initial heartbeat")
	}

	metrics.RegistrationsTotal.WithLabelValues("ok").Inc()
	r.logger.Info().Str("node_name", name).Str("node_id", candidateID).Str("role", string(role)).Msg("node registered")
	return candidateID, nil
}

func (r *Registry) hasOnlineMaster(excludeName string) (bool, error) {
	nodes, err := r.List()
	if err != nil {
		return false, err
	}
	for _, n := range nodes {
		if n.Role == types.NodeRoleMaster && n.Status == types.NodeStatusOnline && n.Name != excludeName {
			return true, nil
		}
	}
	return false, nil
}

// Heartbeat implements heartbeat(): updates last_heartbeat, transitions
// Initializing/Offline to Online, and forwards the container list to
// the State Manager.
func (r *Registry) Heartbeat(nodeID string, resources types.NodeResources, containers []types.Container) error {
	node, err := r.Get(nodeID)
	if err != nil {
		return err
	}

	now := time.Now()
	node.LastHeartbeat = now
	node.Resources = resources
	if node.Status == types.NodeStatusInitializing || node.Status == types.NodeStatusOffline {
		node.Status = types.NodeStatusOnline
	}

	if err := r.put(node); err != nil {
		return err
	}
	if err := r.store.Put(heartbeatKey(nodeID), []byte(strconv.FormatInt(now.Unix(), 10))); err != nil {
		return perrors.Unavailable(err, "persist heartbeat timestamp")
	}

	metrics.HeartbeatsTotal.Inc()

	if r.forwarder != nil {
		if err := r.forwarder.IngestContainerList(node.Name, containers); err != nil {
			r.logger.Error().Err(err).Str("node_name", node.Name).Msg("container list forward to state manager failed, will retry on next heartbeat")
		}
	}

	return nil
}

// Get implements get().
func (r *Registry) Get(nodeID string) (types.Node, error) {
	data, err := r.store.Get(nodeKey(nodeID))
	if err != nil {
		if err == kvstore.ErrNotFound {
			return types.Node{}, perrors.NotFound("node %s", nodeID)
		}
		return types.Node{}, perrors.Unavailable(err, "get node %s", nodeID)
	}
	var node types.Node
	if err := json.Unmarshal(data, &node); err != nil {
		return types.Node{}, perrors.Internal(err, "unmarshal node %s", nodeID)
	}
	return node, nil
}

// List implements list(): every registered node, read straight from
// the store.
func (r *Registry) List() ([]types.Node, error) {
	kvs, err := r.store.GetPrefix(nodesPrefix)
	if err != nil {
		return nil, perrors.Unavailable(err, "list nodes")
	}

	nodes := make([]types.Node, 0, len(kvs))
	for _, kv := range kvs {
		if isByNameKey(kv.Key) {
			continue
		}
		var node types.Node
		if err := json.Unmarshal(kv.Value, &node); err != nil {
			return nil, perrors.Internal(err, "unmarshal node at %s", kv.Key)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// Topology is {master, subs[]}.
type Topology struct {
	Master *types.Node  `json:"master,omitempty"`
	Subs   []types.Node `json:"subs"`
}

// Topology implements topology().
func (r *Registry) Topology() (Topology, error) {
	nodes, err := r.List()
	if err != nil {
		return Topology{}, err
	}

	topo := Topology{Subs: make([]types.Node, 0, len(nodes))}
	for i := range nodes {
		if nodes[i].Role == types.NodeRoleMaster {
			n := nodes[i]
			topo.Master = &n
			continue
		}
		topo.Subs = append(topo.Subs, nodes[i])
	}
	return topo, nil
}

// Deregister implements deregister(): removes the node record, its
// heartbeat, and its name-uniqueness index, leaving container/model/
// package records untouched.
func (r *Registry) Deregister(nodeID string) error {
	node, err := r.Get(nodeID)
	if err != nil {
		return err
	}

	if err := r.deleteKey(nodeKey(nodeID)); err != nil {
		return err
	}
	if err := r.deleteKey(heartbeatKey(nodeID)); err != nil {
		return err
	}
	if err := r.deleteKey(byNameKey(node.Name)); err != nil {
		return err
	}

	r.logger.Info().Str("node_id", nodeID).Str("node_name", node.Name).Msg("node deregistered")
	return nil
}

func (r *Registry) deleteKey(key string) error {
	if err := r.store.Delete(key); err != nil {
		return perrors.Unavailable(err, "delete %s", key)
	}
	return nil
}

// StatusUpdate implements status_update(): an admin override, used for
// example to place a node into Maintenance.
func (r *Registry) StatusUpdate(nodeID string, status types.NodeStatus) error {
	node, err := r.Get(nodeID)
	if err != nil {
		return err
	}
	node.Status = status
	return r.put(node)
}

func (r *Registry) put(node types.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return perrors.Internal(err, "marshal node %s", node.ID)
	}
	if err := r.store.Put(nodeKey(node.ID), data); err != nil {
		return perrors.Unavailable(err, "persist node %s", node.ID)
	}
	return nil
}

// Config returns the registry's configuration, used by the liveness
// scanner and the gRPC boundary's cluster_config response.
func (r *Registry) Config() Config { return r.cfg }
