package engine

// State is a pipeline lifecycle state.
type State int

const (
	// StateVoidPending means no pending state.
	StateVoidPending State = iota
	// StateNull is the initial state; resources released.
	StateNull
	// StateReady means resources allocated, not streaming.
	StateReady
	// StatePaused means prerolled, clock stopped.
	StatePaused
	// StatePlaying means streaming.
	StatePlaying
)

// String returns the engine-style state name.
func (s State) String() string {
	switch s {
	case StateVoidPending:
		return "VOID_PENDING"
	case StateNull:
		return "NULL"
	case StateReady:
		return "READY"
	case StatePaused:
		return "PAUSED"
	case StatePlaying:
		return "PLAYING"
	default:
		return "UNKNOWN"
	}
}

// StateChange is the outcome of a transition request or status query.
type StateChange int

const (
	// StateChangeFailure means the transition failed.
	StateChangeFailure StateChange = iota
	// StateChangeSuccess means the target state was reached.
	StateChangeSuccess
	// StateChangeAsync means the transition is still in progress.
	StateChangeAsync
	// StateChangeNoPreroll means success for a live source that cannot preroll.
	StateChangeNoPreroll
)

// String returns the engine-style result name.
func (c StateChange) String() string {
	switch c {
	case StateChangeFailure:
		return "FAILURE"
	case StateChangeSuccess:
		return "SUCCESS"
	case StateChangeAsync:
		return "ASYNC"
	case StateChangeNoPreroll:
		return "NO_PREROLL"
	default:
		return "UNKNOWN"
	}
}

// Settled reports whether c is a terminal success.
func (c StateChange) Settled() bool {
	return c == StateChangeSuccess || c == StateChangeNoPreroll
}
