package execution

// State is a sandbox lifecycle state.
//
//	Created → Initialized → Running → {Completed | TimedOut | Failed} → Disposed
//
// Disposed is terminal and reachable from every state.
type State int

const (
	StateCreated State = iota
	StateInitialized
	StateRunning
	StateCompleted
	StateTimedOut
	StateFailed
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// IsFinished reports whether the run has produced its outcome.
func (s State) IsFinished() bool {
	return s == StateCompleted || s == StateTimedOut || s == StateFailed
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s State) CanTransitionTo(next State) bool {
	if next == StateDisposed {
		return s != StateDisposed
	}
	switch s {
	case StateCreated:
		return next == StateInitialized || next == StateFailed
	case StateInitialized:
		return next == StateRunning || next == StateFailed
	case StateRunning:
		return next.IsFinished()
	default:
		return false
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
