// Package statemachine implements the pure, deterministic, side-effect
// -free transition rules that derive Container, Model, and Package
// states from their children (spec §4.3). Nothing here touches the KV
// store, a clock, or a network call — every function is a total map
// from an input alphabet to an output alphabet.
package statemachine

import "github.com/piccolo-project/piccolo/pkg/types"

// ContainerState derives the Container's label from its raw lifecycle
// flags. The container-level enum (spec §3) has no separate "Paused"
// value, so a paused container is reported as Stopped; Model-level
// rules (§4.3) treat Stopped containers as the "paused" category.
func ContainerState(raw types.ContainerRawFlags) types.ContainerState {
	switch {
	case raw.Dead:
		return types.ContainerStateDead
	case raw.Paused:
		return types.ContainerStateStopped
	case raw.Running:
		return types.ContainerStateRunning
	case raw.Exited:
		return types.ContainerStateExited
	default:
		return types.ContainerStateCreated
	}
}

// IsPaused reports whether a container's derived state counts as
// "paused" for Model-level aggregation.
func IsPaused(s types.ContainerState) bool { return s == types.ContainerStateStopped }
