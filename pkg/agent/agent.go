// Package agent implements the Node Agent Core: self-registration with
// reconnect backoff, a periodic heartbeat loop carrying resource usage
// and the local container list, and the {Registering, Connected,
// Disconnected} connection state machine (spec §4.7).
package agent

import (
	"context"
	"crypto/tls"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/piccolo-project/piccolo/pkg/config"
	"github.com/piccolo-project/piccolo/pkg/grpcapi"
	"github.com/piccolo-project/piccolo/pkg/log"
	"github.com/piccolo-project/piccolo/pkg/metrics"
	"github.com/piccolo-project/piccolo/pkg/types"
)

// ConnectionState is the agent's own connectivity classification,
// distinct from (and causal to) the Master's NodeStatus.
type ConnectionState int32

const (
	StateRegistering ConnectionState = iota
	StateConnected
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Registering"
	}
}

// ResourceSampler reports the local machine's resource snapshot. The
// default implementation uses runtime.NumCPU; memory/disk sampling is
// left to a platform-specific override where available.
type ResourceSampler interface {
	Sample() types.NodeResources
}

type defaultSampler struct{}

func (defaultSampler) Sample() types.NodeResources {
	return types.NodeResources{CPUCores: runtime.NumCPU()}
}

// Agent runs the registration and heartbeat lifecycle for a single
// node.
type Agent struct {
	cfg      *config.AgentConfig
	sampler  ResourceSampler
	reporter *ContainerReporter
	tlsCfg   *tls.Config
	logger   zerolog.Logger

	mu       sync.Mutex
	client   *grpcapi.ApiServerClient
	nodeID   string
	state    atomic.Int32

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs an Agent. reporter may be nil when no containerd
// socket is available (container lists will be reported empty).
func New(cfg *config.AgentConfig, sampler ResourceSampler, reporter *ContainerReporter, tlsCfg *tls.Config) *Agent {
	if sampler == nil {
		sampler = defaultSampler{}
	}
	a := &Agent{
		cfg:      cfg,
		sampler:  sampler,
		reporter: reporter,
		tlsCfg:   tlsCfg,
		logger:   log.WithComponent("agent"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	a.state.Store(int32(StateRegistering))
	return a
}

// State returns the agent's current connection state.
func (a *Agent) State() ConnectionState { return ConnectionState(a.state.Load()) }

// Run blocks until ctx is cancelled or Stop is called, running the
// registration-then-heartbeat lifecycle.
func (a *Agent) Run(ctx context.Context) {
	defer close(a.doneCh)
	defer func() {
		a.mu.Lock()
		if a.client != nil {
			_ = a.client.Close()
		}
		a.mu.Unlock()
	}()

	for {
		if !a.registerWithBackoff(ctx) {
			return // ctx cancelled during registration
		}

		a.state.Store(int32(StateConnected))
		a.logger.Info().Str("node_id", a.nodeID).Msg("agent connected")

		if !a.heartbeatLoop(ctx) {
			return // ctx cancelled or Stop called during heartbeat loop
		}

		// heartbeatLoop returned true: a transport error broke the
		// heartbeat, fall back to the registration loop.
		a.state.Store(int32(StateDisconnected))
		a.mu.Lock()
		if a.client != nil {
			_ = a.client.Close()
			a.client = nil
		}
		a.mu.Unlock()
		metrics.AgentReconnectsTotal.Inc()
		a.logger.Warn().Msg("agent disconnected, falling back to registration loop")

		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-time.After(time.Second):
		}
	}
}

// Stop signals Run to exit and waits for it to do so.
func (a *Agent) Stop() {
	close(a.stopCh)
	<-a.doneCh
}

// registerWithBackoff implements the 1s/2/4/8-capped-at-30s, unbounded
// retry schedule named in spec §4.7. It returns false only if ctx was
// cancelled or Stop was called before registration succeeded.
func (a *Agent) registerWithBackoff(ctx context.Context) bool {
	a.state.Store(int32(StateRegistering))
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		client, err := grpcapi.DialApiServer(a.cfg.GrpcAddr(), a.tlsCfg)
		if err == nil {
			resp, regErr := client.RegisterNode(ctx, grpcapi.NodeSpec{
				NodeName:  a.cfg.NodeName,
				IPAddress: localIP(),
				Role:      types.NodeRole(a.cfg.NodeRole),
				Resources: a.sampler.Sample(),
			})
			if regErr == nil && resp.Status == grpcapi.StatusOk {
				a.mu.Lock()
				a.client = client
				a.nodeID = resp.NodeID
				a.mu.Unlock()
				return true
			}
			_ = client.Close()
			if regErr != nil {
				err = regErr
			}
		}

		a.logger.Warn().Err(err).Dur("backoff", backoff).Msg("register_node failed, retrying")

		select {
		case <-ctx.Done():
			return false
		case <-a.stopCh:
			return false
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// heartbeatLoop sends heartbeats every cfg.HeartbeatInterval until ctx
// is cancelled (returns false) or a transport error occurs (returns
// true, signalling the caller to fall back to registration).
func (a *Agent) heartbeatLoop(ctx context.Context) bool {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-a.stopCh:
			return false
		case <-ticker.C:
			if err := a.sendHeartbeat(ctx); err != nil {
				a.logger.Error().Err(err).Msg("heartbeat failed")
				return true
			}
		}
	}
}

func (a *Agent) sendHeartbeat(ctx context.Context) error {
	a.mu.Lock()
	client, nodeID := a.client, a.nodeID
	a.mu.Unlock()

	containers := []types.Container{}
	if a.reporter != nil {
		list, err := a.reporter.List(ctx)
		if err != nil {
			a.logger.Warn().Err(err).Msg("container list enumeration failed, reporting empty list")
		} else {
			containers = list
		}
	}

	resp, err := client.Heartbeat(ctx, grpcapi.HeartbeatRequest{
		NodeID:        nodeID,
		ResourceUsage: a.sampler.Sample(),
		Containers:    containers,
	})
	if err != nil {
		return err
	}
	if resp.Status != grpcapi.StatusOk {
		return &heartbeatRejected{status: resp.Status, message: resp.Message}
	}
	return nil
}

type heartbeatRejected struct {
	status  grpcapi.Status
	message string
}

func (e *heartbeatRejected) Error() string {
	return "heartbeat rejected: " + string(e.status) + ": " + e.message
}

func localIP() string {
	// Address discovery is deliberately simple: the agent always
	// reports the unspecified address 0.0.0.0 and does not inspect
	// local interfaces or configuration.
	return "0.0.0.0"
}
