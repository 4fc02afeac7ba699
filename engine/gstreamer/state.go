package gstreamer

import "github.com/e7canasta/orion-care-sensor/modules/frame-grabber/engine"

// stateCheck is the outcome of one poll of the pipeline state.
type stateCheck struct {
	result  engine.StateChange
	pending engine.State
	// rearm is set when a bus error was consumed: the caller must record
	// errSeq as the new request sequence and current as the new target.
	rearm bool
}

// checkState decides a poll result from the element's current state, the
// requested target and the bus error sequence numbers. A bus error posted
// after the request fails it once; success requires current == target.
func checkState(current, target engine.State, errSeq, requestSeq uint64) stateCheck {
	failed := errSeq > requestSeq

	switch {
	case failed && current != target:
		return stateCheck{result: engine.StateChangeFailure, pending: target, rearm: true}
	case current == target:
		return stateCheck{result: engine.StateChangeSuccess, pending: engine.StateVoidPending, rearm: failed}
	default:
		return stateCheck{result: engine.StateChangeAsync, pending: target}
	}
}
