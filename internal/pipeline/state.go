package pipeline

// State is the lifecycle of a Pipeline. It only moves forward.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText reports the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Exit reasons recorded for a run.
const (
	ExitStopped      = "stopped"
	ExitEndOfStream  = "end_of_stream"
	ExitStopOnDanger = "stop_on_danger"
	ExitOpenFailed   = "open_failed"
	ExitCaptureError = "capture_failed"
)
