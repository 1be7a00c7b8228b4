package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/piccolo-project/piccolo/pkg/types"
)

func TestContainerStateTotality(t *testing.T) {
	tests := []struct {
		name     string
		raw      types.ContainerRawFlags
		expected types.ContainerState
	}{
		{"dead wins over everything", types.ContainerRawFlags{Dead: true, Running: true, Paused: true}, types.ContainerStateDead},
		{"paused maps to stopped", types.ContainerRawFlags{Paused: true}, types.ContainerStateStopped},
		{"running", types.ContainerRawFlags{Running: true}, types.ContainerStateRunning},
		{"exited", types.ContainerRawFlags{Exited: true}, types.ContainerStateExited},
		{"none set is created", types.ContainerRawFlags{}, types.ContainerStateCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ContainerState(tt.raw)
			assert.Equal(t, tt.expected, got)

			// Totality: the result must always be one of the five
			// enumerated container states.
			switch got {
			case types.ContainerStateCreated, types.ContainerStateRunning,
				types.ContainerStateStopped, types.ContainerStateExited, types.ContainerStateDead:
			default:
				t.Fatalf("ContainerState returned a value outside the enumerated set: %q", got)
			}
		})
	}
}

func TestModelStateEvaluationOrder(t *testing.T) {
	tests := []struct {
		name                 string
		containers           []types.ContainerState
		metadataFetchFailed  bool
		expected             types.ModelState
	}{
		{"empty set is created", nil, false, types.ModelStateCreated},
		{"metadata fetch failed forces dead", []types.ContainerState{types.ContainerStateRunning}, true, types.ModelStateDead},
		{
			name:       "S1 all running",
			containers: []types.ContainerState{types.ContainerStateRunning, types.ContainerStateRunning},
			expected:   types.ModelStateRunning,
		},
		{
			name:       "S2 one dead wins over running sibling",
			containers: []types.ContainerState{types.ContainerStateDead, types.ContainerStateRunning},
			expected:   types.ModelStateDead,
		},
		{
			name:       "S3 all paused",
			containers: []types.ContainerState{types.ContainerStateStopped, types.ContainerStateStopped},
			expected:   types.ModelStatePaused,
		},
		{
			name:       "all exited",
			containers: []types.ContainerState{types.ContainerStateExited, types.ContainerStateExited},
			expected:   types.ModelStateExited,
		},
		{
			name:       "mixed running and paused falls through to running",
			containers: []types.ContainerState{types.ContainerStateStopped, types.ContainerStateRunning},
			expected:   types.ModelStateRunning,
		},
		{
			name:       "dead wins over paused and exited siblings",
			containers: []types.ContainerState{types.ContainerStateDead, types.ContainerStateStopped, types.ContainerStateExited},
			expected:   types.ModelStateDead,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ModelState(tt.containers, tt.metadataFetchFailed)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestPackageStateEvaluationOrder(t *testing.T) {
	tests := []struct {
		name     string
		models   []types.ModelState
		expected types.PackageState
	}{
		{"empty set is idle", nil, types.PackageStateIdle},
		{
			name:     "S1 single running model",
			models:   []types.ModelState{types.ModelStateRunning},
			expected: types.PackageStateRunning,
		},
		{
			name:     "S2 single dead model is error, not just degraded",
			models:   []types.ModelState{types.ModelStateDead},
			expected: types.PackageStateError,
		},
		{
			name:     "S3 single paused model",
			models:   []types.ModelState{types.ModelStatePaused},
			expected: types.PackageStatePaused,
		},
		{
			name:     "S4 mixed dead/running/exited is degraded",
			models:   []types.ModelState{types.ModelStateDead, types.ModelStateRunning, types.ModelStateExited},
			expected: types.PackageStateDegraded,
		},
		{
			name:     "all exited",
			models:   []types.ModelState{types.ModelStateExited, types.ModelStateExited},
			expected: types.PackageStateExited,
		},
		{
			name:     "all dead is error not degraded",
			models:   []types.ModelState{types.ModelStateDead, types.ModelStateDead},
			expected: types.PackageStateError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PackageState(tt.models)
			assert.Equal(t, tt.expected, got)
		})
	}
}

// TestCascadeDeterminism verifies property 4: the derived states
// depend only on the container multiset and grouping, not on the
// order containers are evaluated in.
func TestCascadeDeterminism(t *testing.T) {
	containers := []types.ContainerState{
		types.ContainerStateRunning,
		types.ContainerStateStopped,
		types.ContainerStateExited,
	}

	first := ModelState(containers, false)

	reversed := make([]types.ContainerState, len(containers))
	for i, c := range containers {
		reversed[len(containers)-1-i] = c
	}
	second := ModelState(reversed, false)

	assert.Equal(t, first, second)
}
