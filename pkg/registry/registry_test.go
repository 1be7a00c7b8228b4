package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piccolo-project/piccolo/pkg/kvstore"
	"github.com/piccolo-project/piccolo/pkg/perrors"
	"github.com/piccolo-project/piccolo/pkg/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := kvstore.NewBoltStore(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, DefaultConfig(), nil)
}

func TestRegisterAssignsID(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.Register("sub-1", "10.0.0.1", types.NodeRoleSub, types.NodeResources{CPUCores: 4}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	node, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusInitializing, node.Status)
	assert.Equal(t, "sub-1", node.Name)
}

func TestRegisterIsIdempotentOnName(t *testing.T) {
	r := newTestRegistry(t)

	id1, err := r.Register("sub-1", "10.0.0.1", types.NodeRoleSub, types.NodeResources{}, nil)
	require.NoError(t, err)

	id2, err := r.Register("sub-1", "10.0.0.1", types.NodeRoleSub, types.NodeResources{}, nil)
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "re-registering the same node_name with the same ip/role must return the same node_id")
}

func TestRegisterWithDifferentIPConflicts(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Register("sub-1", "10.0.0.1", types.NodeRoleSub, types.NodeResources{}, nil)
	require.NoError(t, err)

	// A different node racing to claim the same node_name (different ip)
	// must be rejected, not silently told it is the original node.
	_, err = r.Register("sub-1", "10.0.0.2", types.NodeRoleSub, types.NodeResources{}, nil)
	require.Error(t, err)
}

func TestRegisterWithDifferentRoleConflicts(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Register("node-1", "10.0.0.1", types.NodeRoleSub, types.NodeResources{}, nil)
	require.NoError(t, err)

	_, err = r.Register("node-1", "10.0.0.1", types.NodeRoleMaster, types.NodeResources{}, nil)
	require.Error(t, err)
}

func TestRegisterSecondOnlineMasterConflicts(t *testing.T) {
	r := newTestRegistry(t)

	masterID, err := r.Register("master-1", "10.0.0.1", types.NodeRoleMaster, types.NodeResources{}, nil)
	require.NoError(t, err)
	require.NoError(t, r.StatusUpdate(masterID, types.NodeStatusOnline))

	_, err = r.Register("master-2", "10.0.0.2", types.NodeRoleMaster, types.NodeResources{}, nil)
	require.Error(t, err)
}

func TestHeartbeatTransitionsInitializingToOnline(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.Register("sub-1", "10.0.0.1", types.NodeRoleSub, types.NodeResources{}, nil)
	require.NoError(t, err)

	require.NoError(t, r.Heartbeat(id, types.NodeResources{CPUUsage: 50}, nil))

	node, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusOnline, node.Status)
	assert.InDelta(t, 50, node.Resources.CPUUsage, 0.001)
}

func TestHeartbeatOnUnknownNodeIsNotFound(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Heartbeat("does-not-exist", types.NodeResources{}, nil)
	assert.Error(t, err)
	assert.Equal(t, perrors.KindNotFound, perrors.KindOf(err))
}

func TestListAndTopology(t *testing.T) {
	r := newTestRegistry(t)

	masterID, err := r.Register("master-1", "10.0.0.1", types.NodeRoleMaster, types.NodeResources{}, nil)
	require.NoError(t, err)
	subID, err := r.Register("sub-1", "10.0.0.2", types.NodeRoleSub, types.NodeResources{}, nil)
	require.NoError(t, err)

	nodes, err := r.List()
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	topo, err := r.Topology()
	require.NoError(t, err)
	require.NotNil(t, topo.Master)
	assert.Equal(t, masterID, topo.Master.ID)
	require.Len(t, topo.Subs, 1)
	assert.Equal(t, subID, topo.Subs[0].ID)
}

func TestDeregisterRemovesNodeButAllowsReRegistration(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.Register("sub-1", "10.0.0.1", types.NodeRoleSub, types.NodeResources{}, nil)
	require.NoError(t, err)
	require.NoError(t, r.Deregister(id))

	_, err = r.Get(id)
	assert.Error(t, err)

	newID, err := r.Register("sub-1", "10.0.0.1", types.NodeRoleSub, types.NodeResources{}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, id, newID, "a deregistered name is free to be reassigned a fresh id")
}

func TestStatusUpdateIsAdminOverride(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.Register("sub-1", "10.0.0.1", types.NodeRoleSub, types.NodeResources{}, nil)
	require.NoError(t, err)

	require.NoError(t, r.StatusUpdate(id, types.NodeStatusMaintenance))

	node, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusMaintenance, node.Status)
}

func TestLivenessScannerMarksOfflineAfterThreshold(t *testing.T) {
	r := newTestRegistry(t)
	r.cfg.HeartbeatInterval = 10 * time.Millisecond

	id, err := r.Register("sub-1", "10.0.0.1", types.NodeRoleSub, types.NodeResources{}, nil)
	require.NoError(t, err)
	require.NoError(t, r.Heartbeat(id, types.NodeResources{}, nil))

	scanner := NewLivenessScanner(r)
	scanner.scanOnce(time.Now().Add(time.Second)) // well past 3x10ms

	node, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusOffline, node.Status)
}

func TestLivenessScannerEscalatesToError(t *testing.T) {
	r := newTestRegistry(t)
	r.cfg.HeartbeatInterval = 20 * time.Millisecond // offlineThreshold = 60ms
	r.cfg.FailureTimeout = 100 * time.Millisecond   // cumulative Error threshold = 160ms

	t0 := time.Now()
	id, err := r.Register("sub-1", "10.0.0.1", types.NodeRoleSub, types.NodeResources{}, nil)
	require.NoError(t, err)
	require.NoError(t, r.Heartbeat(id, types.NodeResources{}, nil))

	scanner := NewLivenessScanner(r)

	// Past offlineThreshold (60ms) but well short of the cumulative
	// offlineThreshold+failure_timeout (160ms): Offline, not yet Error.
	scanner.scanOnce(t0.Add(80 * time.Millisecond))
	node, err := r.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.NodeStatusOffline, node.Status)

	// Still short of the cumulative threshold: must remain Offline. This
	// is the case a same-instant double scan can't distinguish.
	scanner.scanOnce(t0.Add(140 * time.Millisecond))
	node, err = r.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.NodeStatusOffline, node.Status, "must not escalate to Error before offlineThreshold+failure_timeout has elapsed since last heartbeat")

	// Past the cumulative threshold: escalate to Error.
	scanner.scanOnce(t0.Add(200 * time.Millisecond))
	node, err = r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusError, node.Status)
}

func TestLivenessScannerNeverDeletes(t *testing.T) {
	r := newTestRegistry(t)
	r.cfg.HeartbeatInterval = time.Millisecond
	r.cfg.FailureTimeout = time.Millisecond

	id, err := r.Register("sub-1", "10.0.0.1", types.NodeRoleSub, types.NodeResources{}, nil)
	require.NoError(t, err)

	scanner := NewLivenessScanner(r)
	for i := 0; i < 3; i++ {
		scanner.scanOnce(time.Now().Add(time.Hour))
	}

	_, err = r.Get(id)
	assert.NoError(t, err, "scanner must never auto-delete a node record")
}
