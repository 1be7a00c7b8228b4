package statemachine

import "github.com/piccolo-project/piccolo/pkg/types"

// ModelState derives a Model's state from the set of its containers'
// derived states. metadataFetchFailed models a container whose state
// could not be observed at all (spec §4.3: "partial observations ⇒
// Dead branch via the metadata-fetch-failed path"); pkg/statemanager
// passes true as soon as any indexed container's record is missing
// from the store, without waiting for a timeout.
//
// Evaluation order is contractual: Dead, then Paused, then Exited,
// then Running. The first matching branch wins.
func ModelState(containers []types.ContainerState, metadataFetchFailed bool) types.ModelState {
	if len(containers) == 0 {
		return types.ModelStateCreated
	}

	if metadataFetchFailed {
		return types.ModelStateDead
	}

	allPaused, allExited := true, true
	for _, c := range containers {
		if c == types.ContainerStateDead {
			return types.ModelStateDead
		}
		if !IsPaused(c) {
			allPaused = false
		}
		if c != types.ContainerStateExited {
			allExited = false
		}
	}

	switch {
	case allPaused:
		return types.ModelStatePaused
	case allExited:
		return types.ModelStateExited
	default:
		return types.ModelStateRunning
	}
}

// IsModelDead reports whether a Model's state counts as "Dead" for
// Package-level aggregation.
func IsModelDead(s types.ModelState) bool { return s == types.ModelStateDead }

// IsModelPaused reports whether a Model's state counts as "paused" for
// Package-level aggregation.
func IsModelPaused(s types.ModelState) bool { return s == types.ModelStatePaused }

// IsModelExited reports whether a Model's state counts as "exited" for
// Package-level aggregation.
func IsModelExited(s types.ModelState) bool { return s == types.ModelStateExited }
