// Package statemanager implements the State Manager: it accepts
// state-change requests, persists authoritative state in the KV store,
// and cascades upward from Container to Model to Package (spec §4.4).
package statemanager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/piccolo-project/piccolo/pkg/kvstore"
	"github.com/piccolo-project/piccolo/pkg/log"
	"github.com/piccolo-project/piccolo/pkg/metrics"
	"github.com/piccolo-project/piccolo/pkg/perrors"
	"github.com/piccolo-project/piccolo/pkg/statemachine"
	"github.com/piccolo-project/piccolo/pkg/types"
)

// Config carries the State Manager's tunables (spec §9: one immutable
// config struct per process).
type Config struct {
	// MetadataFetchTimeout is carried in the configuration (default
	// 30s, DESIGN.md open-question decision 3) but the cascade does not
	// read it: recomputeModel treats a container indexed under a model
	// whose record is missing as a metadata-fetch failure at once, with
	// no grace period.
	MetadataFetchTimeout time.Duration
	// ReconcileBackoffCap bounds the exponential backoff between
	// reconcile() dispatch retries (spec §4.4: "up to a 5-minute
	// ceiling").
	ReconcileBackoffCap time.Duration
	// KeyLockCapacity bounds the number of per-key mutexes retained
	// in memory (spec §5, default 1024).
	KeyLockCapacity int
}

// DefaultConfig matches spec defaults and the Open Question 3 decision.
func DefaultConfig() Config {
	return Config{
		MetadataFetchTimeout: 30 * time.Second,
		ReconcileBackoffCap:  5 * time.Minute,
		KeyLockCapacity:      1024,
	}
}

// ReconcileDispatcher is the Action Controller's interface toward the
// core (spec §1: external collaborator). Reconcile is expected to be
// idempotent; the State Manager may call it more than once for the
// same package.
type ReconcileDispatcher interface {
	Reconcile(ctx context.Context, packageName string) error
}

// Manager implements the State Manager.
type Manager struct {
	store      kvstore.Store
	cfg        Config
	logger     zerolog.Logger
	dispatcher ReconcileDispatcher
	locks      *keyLockSet

	mu     sync.Mutex // guards lifecycle of background reconcile goroutines
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Manager. dispatcher may be nil, in which case
// packages that enter the error state are logged but no reconcile RPC
// is attempted (useful for tests of the cascade alone).
func New(store kvstore.Store, cfg Config, dispatcher ReconcileDispatcher) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:      store,
		cfg:        cfg,
		logger:     log.WithComponent("statemanager"),
		dispatcher: dispatcher,
		locks:      newKeyLockSet(cfg.KeyLockCapacity),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Shutdown cancels any in-flight reconcile-dispatch retries and waits
// for their goroutines to exit.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

type containerRecord struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Image       string            `json:"image,omitempty"`
	NodeName    string            `json:"node_name"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Running     bool              `json:"running"`
	Paused      bool              `json:"paused"`
	Dead        bool              `json:"dead"`
	Status      string            `json:"status"`
}

// IngestContainerList implements ingest_container_list: upserts each
// container's raw state, then cascades the recompute up through
// affected models and packages (spec §4.4 steps 1-3).
func (m *Manager) IngestContainerList(nodeName string, containers []types.Container) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CascadeDuration)

	touchedModels := make(map[string]struct{})

	for _, c := range containers {
		c.NodeName = nodeName
		c.State = statemachine.ContainerState(c.Raw)

		if err := m.putContainer(c); err != nil {
			m.logger.Error().Err(err).Str("container_id", c.ID).Msg("failed to persist container state, will retry on next ingest")
			continue
		}

		model := c.Annotations[types.ModelAnnotation]
		if model == "" {
			continue
		}
		touchedModels[model] = struct{}{}

		if err := m.store.Put(modelContainerIndexKey(model, c.ID), nil); err != nil {
			m.logger.Error().Err(err).Str("model", model).Str("container_id", c.ID).Msg("failed to update model container index")
		}

		if pkg := c.Annotations[types.PackageAnnotation]; pkg != "" {
			if err := m.store.Put(modelPackageKey(model), []byte(pkg)); err != nil {
				m.logger.Error().Err(err).Str("model", model).Msg("failed to record model->package association")
			}
			if err := m.store.Put(packageModelIndexKey(pkg, model), nil); err != nil {
				m.logger.Error().Err(err).Str("package", pkg).Str("model", model).Msg("failed to update package model index")
			}
		}
	}

	touchedPackages := make(map[string]struct{})
	for model := range touchedModels {
		pkg, changed, err := m.recomputeModel(model)
		if err != nil {
			m.logger.Error().Err(err).Str("model", model).Msg("model recompute failed, will retry on next ingest")
			continue
		}
		metrics.CascadeKeysRecomputed.WithLabelValues("model").Inc()
		if changed {
			log.WithModel(model).Info().Msg("model state changed")
		}
		if pkg != "" {
			touchedPackages[pkg] = struct{}{}
		}
	}

	for pkg := range touchedPackages {
		newState, changed, err := m.recomputePackage(pkg)
		if err != nil {
			m.logger.Error().Err(err).Str("package", pkg).Msg("package recompute failed, will retry on next ingest")
			continue
		}
		metrics.CascadeKeysRecomputed.WithLabelValues("package").Inc()
		if changed {
			log.WithPackage(pkg).Info().Str("state", string(newState)).Msg("package state changed")
			if newState == types.PackageStateError {
				m.dispatchReconcile(pkg)
			}
		}
	}

	return nil
}

func (m *Manager) putContainer(c types.Container) error {
	rec := containerRecord{
		ID:          c.ID,
		Name:        c.Name,
		Image:       c.Image,
		NodeName:    c.NodeName,
		Annotations: c.Annotations,
		Running:     c.Raw.Running,
		Paused:      c.Raw.Paused,
		Dead:        c.Raw.Dead,
		Status:      string(c.State),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return perrors.Internal(err, "marshal container %s", c.ID)
	}
	if err := m.store.Put(containerKey(c.ID), data); err != nil {
		return perrors.Unavailable(err, "put container %s", c.ID)
	}
	return nil
}

// recomputeModel reads a model's full container set, applies the
// Resource State Machine, and writes the result if it changed. It
// returns the model's associated package name (if any) so the caller
// can add it to the touched-package set.
func (m *Manager) recomputeModel(model string) (packageName string, changed bool, err error) {
	unlock := m.locks.Lock("model:" + model)
	defer unlock()

	kvs, err := m.store.GetPrefix(modelContainerIndexPrefix(model))
	if err != nil {
		return "", false, perrors.Unavailable(err, "list containers for model %s", model)
	}

	states := make([]types.ContainerState, 0, len(kvs))
	metadataFetchFailed := false
	for _, kv := range kvs {
		id := lastSegment(kv.Key)
		data, err := m.store.Get(containerKey(id))
		if err == kvstore.ErrNotFound {
			// The container is indexed under this model but its own
			// record is missing (deleted without index cleanup, or
			// not yet observed). Treat it as a metadata-fetch failure
			// per spec §4.3's partial-observation rule.
			metadataFetchFailed = true
			continue
		}
		if err != nil {
			return "", false, perrors.Unavailable(err, "get container %s", id)
		}
		var rec containerRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return "", false, perrors.Internal(err, "unmarshal container %s", id)
		}
		states = append(states, types.ContainerState(rec.Status))
	}

	newState := statemachine.ModelState(states, metadataFetchFailed)

	current, err := m.store.Get(modelStateKey(model))
	currentState := types.ModelState("")
	if err == nil {
		currentState = types.ModelState(current)
	} else if err != kvstore.ErrNotFound {
		return "", false, perrors.Unavailable(err, "get model state %s", model)
	}

	if newState != currentState {
		if err := m.store.Put(modelStateKey(model), []byte(newState)); err != nil {
			return "", false, perrors.Unavailable(err, "put model state %s", model)
		}
		changed = true
	}

	pkgBytes, err := m.store.Get(modelPackageKey(model))
	if err != nil && err != kvstore.ErrNotFound {
		return "", changed, perrors.Unavailable(err, "get model package association %s", model)
	}
	return string(pkgBytes), changed, nil
}

// recomputePackage reads a package's full model set, applies the
// Resource State Machine, and writes the result if it changed.
func (m *Manager) recomputePackage(pkg string) (types.PackageState, bool, error) {
	unlock := m.locks.Lock("package:" + pkg)
	defer unlock()

	kvs, err := m.store.GetPrefix(packageModelIndexPrefix(pkg))
	if err != nil {
		return "", false, perrors.Unavailable(err, "list models for package %s", pkg)
	}

	states := make([]types.ModelState, 0, len(kvs))
	for _, kv := range kvs {
		modelName := lastSegment(kv.Key)
		data, err := m.store.Get(modelStateKey(modelName))
		if err == kvstore.ErrNotFound {
			states = append(states, types.ModelStateCreated)
			continue
		}
		if err != nil {
			return "", false, perrors.Unavailable(err, "get model state %s", modelName)
		}
		states = append(states, types.ModelState(data))
	}

	newState := statemachine.PackageState(states)

	current, err := m.store.Get(packageStateKey(pkg))
	currentState := types.PackageState("")
	if err == nil {
		currentState = types.PackageState(current)
	} else if err != kvstore.ErrNotFound {
		return "", false, perrors.Unavailable(err, "get package state %s", pkg)
	}

	changed := newState != currentState
	if changed {
		if err := m.store.Put(packageStateKey(pkg), []byte(newState)); err != nil {
			return "", false, perrors.Unavailable(err, "put package state %s", pkg)
		}
	}
	return newState, changed, nil
}

// dispatchReconcile fires a best-effort, at-least-once reconcile()
// call to the Action Controller in the background (spec §4.4 step 4:
// "fire-and-forget with at-least-once retry; duplicates are
// acceptable"). It retries with exponential backoff capped at
// cfg.ReconcileBackoffCap until it succeeds or the Manager shuts down.
func (m *Manager) dispatchReconcile(pkg string) {
	if m.dispatcher == nil {
		m.logger.Warn().Str("package", pkg).Msg("package entered error state but no reconcile dispatcher is configured")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		cfg := kvstore.RetryConfig{Initial: time.Second, Max: m.cfg.ReconcileBackoffCap}
		err := kvstore.Retry(m.ctx, cfg, func(error) bool { return true }, func() error {
			ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
			defer cancel()
			return m.dispatcher.Reconcile(ctx, pkg)
		})
		if err != nil {
			metrics.ReconcileDispatchTotal.WithLabelValues("abandoned").Inc()
			m.logger.Error().Err(err).Str("package", pkg).Msg("reconcile dispatch abandoned (manager shutting down)")
			return
		}
		metrics.ReconcileDispatchTotal.WithLabelValues("ok").Inc()
	}()
}

// UpdateResourceState implements update_resource_state: an admin or
// explicit override, validated against the legal values for kind.
func (m *Manager) UpdateResourceState(kind, name, newState string) error {
	switch kind {
	case "container":
		if !isValidState(newState, string(types.ContainerStateCreated), string(types.ContainerStateRunning), string(types.ContainerStateStopped), string(types.ContainerStateExited), string(types.ContainerStateDead)) {
			return perrors.InvalidArgument("%q is not a legal container state", newState)
		}
		return m.store.Put(containerKey(name), []byte(fmt.Sprintf(`{"status":%q}`, newState)))
	case "model":
		if !isValidState(newState, string(types.ModelStateCreated), string(types.ModelStateRunning), string(types.ModelStatePaused), string(types.ModelStateExited), string(types.ModelStateDead)) {
			return perrors.InvalidArgument("%q is not a legal model state", newState)
		}
		return m.store.Put(modelStateKey(name), []byte(newState))
	case "package":
		if !isValidState(newState, string(types.PackageStateIdle), string(types.PackageStateRunning), string(types.PackageStatePaused), string(types.PackageStateExited), string(types.PackageStateDegraded), string(types.PackageStateError)) {
			return perrors.InvalidArgument("%q is not a legal package state", newState)
		}
		return m.store.Put(packageStateKey(name), []byte(newState))
	default:
		return perrors.InvalidArgument("unknown kind %q", kind)
	}
}

func isValidState(state string, legal ...string) bool {
	for _, l := range legal {
		if state == l {
			return true
		}
	}
	return false
}

// QueryState implements query_state(kind, name).
func (m *Manager) QueryState(kind, name string) (string, error) {
	var key string
	switch kind {
	case "model":
		key = modelStateKey(name)
	case "package":
		key = packageStateKey(name)
	default:
		return "", perrors.InvalidArgument("unknown kind %q", kind)
	}

	v, err := m.store.Get(key)
	if err == kvstore.ErrNotFound {
		return "", perrors.NotFound("%s %s", kind, name)
	}
	if err != nil {
		return "", perrors.Unavailable(err, "query %s %s", kind, name)
	}
	return string(v), nil
}

// ListState implements the list_state(kind) bulk read used by the REST
// Boundary's cluster health aggregation (SPEC_FULL §4.4).
func (m *Manager) ListState(kind string) (map[string]string, error) {
	var prefix string
	switch kind {
	case "model":
		prefix = modelPrefix
	case "package":
		prefix = packagePrefix
	default:
		return nil, perrors.InvalidArgument("unknown kind %q", kind)
	}

	kvs, err := m.store.GetPrefix(prefix)
	if err != nil {
		return nil, perrors.Unavailable(err, "list %s states", kind)
	}

	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		// key shape: <prefix><name>/state
		rest := kv.Key[len(prefix):]
		name := rest
		if idx := indexOfSlash(rest); idx >= 0 {
			name = rest[:idx]
		}
		out[name] = string(kv.Value)
	}
	return out, nil
}

func indexOfSlash(s string) int {
	for i, r := range s {
		if r == '/' {
			return i
		}
	}
	return -1
}
