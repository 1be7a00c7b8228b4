package statemachine

import "github.com/piccolo-project/piccolo/pkg/types"

// PackageState derives a Package's state from the set of its models'
// derived states. This function is pure: the "idle is initial-only,
// never re-entered" invariant (DESIGN.md open-question decision 2) is a
// property of the caller's call sequence, not of this function — the
// State Manager never calls PackageState with an empty model set for
// a package that has ever had models; see pkg/statemanager.
//
// Evaluation order is contractual: error, then degraded, then paused,
// then exited, then running.
func PackageState(models []types.ModelState) types.PackageState {
	if len(models) == 0 {
		return types.PackageStateIdle
	}

	allDead, anyDead := true, false
	allPaused, allExited := true, true
	for _, m := range models {
		if IsModelDead(m) {
			anyDead = true
		} else {
			allDead = false
		}
		if !IsModelPaused(m) {
			allPaused = false
		}
		if !IsModelExited(m) {
			allExited = false
		}
	}

	switch {
	case allDead:
		return types.PackageStateError
	case anyDead:
		return types.PackageStateDegraded
	case allPaused:
		return types.PackageStatePaused
	case allExited:
		return types.PackageStateExited
	default:
		return types.PackageStateRunning
	}
}
