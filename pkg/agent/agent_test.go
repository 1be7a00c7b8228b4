package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/piccolo-project/piccolo/pkg/config"
	"github.com/piccolo-project/piccolo/pkg/grpcapi"
)

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "Registering", StateRegistering.String())
	assert.Equal(t, "Connected", StateConnected.String())
	assert.Equal(t, "Disconnected", StateDisconnected.String())
}

func TestDefaultSamplerReportsCPUCores(t *testing.T) {
	s := defaultSampler{}
	res := s.Sample()
	assert.Greater(t, res.CPUCores, 0)
}

func TestHeartbeatRejectedError(t *testing.T) {
	err := &heartbeatRejected{status: grpcapi.StatusNotFound, message: "node not found"}
	assert.Contains(t, err.Error(), "NotFound")
	assert.Contains(t, err.Error(), "node not found")
}

func TestNewAgentDefaultsToRegisteringState(t *testing.T) {
	cfg := &config.AgentConfig{MasterIP: "10.0.0.1", NodeRole: "Sub", HeartbeatInterval: 30 * time.Second}
	a := New(cfg, nil, nil, nil)
	assert.Equal(t, StateRegistering, a.State())
}
