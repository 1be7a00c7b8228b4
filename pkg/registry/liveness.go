package registry

import (
	"time"

	"github.com/piccolo-project/piccolo/pkg/metrics"
	"github.com/piccolo-project/piccolo/pkg/types"
)

// LivenessScanner periodically classifies nodes as Offline or Error
// based on heartbeat staleness (spec §4.2). It runs on a single
// dedicated task and holds no locks outside the registry's own
// compare-and-swap / put calls.
type LivenessScanner struct {
	registry *Registry
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewLivenessScanner constructs a scanner bound to registry.
func NewLivenessScanner(registry *Registry) *LivenessScanner {
	return &LivenessScanner{
		registry: registry,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the scan loop in a background goroutine.
func (s *LivenessScanner) Start() {
	go s.run()
}

// Stop signals the loop to exit and waits for it to do so.
func (s *LivenessScanner) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *LivenessScanner) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.registry.cfg.LivenessScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scanOnce(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

// scanOnce runs a single pass; it is separate from run so that tests
// in this package control "now" instead of waiting on a ticker.
func (s *LivenessScanner) scanOnce(now time.Time) {
	nodes, err := s.registry.List()
	if err != nil {
		s.registry.logger.Error().Err(err).Msg("liveness scan: list failed")
		return
	}

	offlineThreshold := 3 * s.registry.cfg.HeartbeatInterval

	for _, node := range nodes {
		since := now.Sub(node.LastHeartbeat)

		switch node.Status {
		case types.NodeStatusOnline:
			if since > offlineThreshold {
				s.registry.logger.Warn().
					Str("node_id", node.ID).
					Str("node_name", node.Name).
					Dur("since_last_heartbeat", since).
					Msg("node exceeded heartbeat threshold, marking Offline")
				if err := s.registry.StatusUpdate(node.ID, types.NodeStatusOffline); err != nil {
					s.registry.logger.Error().Err(err).Str("node_id", node.ID).Msg("failed to mark node Offline")
				}
			}
		case types.NodeStatusOffline:
			if since > offlineThreshold+s.registry.cfg.FailureTimeout {
				s.registry.logger.Warn().
					Str("node_id", node.ID).
					Str("node_name", node.Name).
					Dur("since_last_heartbeat", since).
					Msg("node exceeded failure timeout, marking Error")
				if err := s.registry.StatusUpdate(node.ID, types.NodeStatusError); err != nil {
					s.registry.logger.Error().Err(err).Str("node_id", node.ID).Msg("failed to mark node Error")
				}
			}
		}
		// Initializing, Error, and Maintenance nodes are never
		// auto-transitioned by the scanner; an operator must act
		// (status_update) or the node must heartbeat again.
	}

	metrics.LivenessScansTotal.Inc()
}
