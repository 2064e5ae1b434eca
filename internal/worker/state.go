package worker

// State is the worker lifecycle position. It only moves forward.
type State int

// Worker states.
const (
	StateStarting State = iota
	StateInfoSent
	StateReady
	StateExited
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateInfoSent:
		return "info_sent"
	case StateReady:
		return "ready"
	case StateExited:
		return "exited"
	}
	return "unknown"
}
