package dispatcher

// State is the dispatcher lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateDraining
	StateExecuting
	StateCommitting
	StateAdvancing
	StateError
	StateRollingBack
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateExecuting:
		return "executing"
	case StateCommitting:
		return "committing"
	case StateAdvancing:
		return "advancing"
	case StateError:
		return "error"
	case StateRollingBack:
		return "rolling_back"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
