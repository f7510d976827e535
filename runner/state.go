package runner

// State is the lifecycle state of a Runner
type State string

const (
	StateIdle              State = "IDLE"
	StateRunningOnce       State = "RUNNING_ONCE"
	StateRunningContinuous State = "RUNNING_CONTINUOUS"
	StateStopping          State = "STOPPING"
)

var allStates = []string{
	string(StateIdle),
	string(StateRunningOnce),
	string(StateRunningContinuous),
	string(StateStopping),
}

func (s State) String() string {
	return string(s)
}

// Running reports whether a pass is scheduled or executing in this state
func (s State) Running() bool {
	return s == StateRunningOnce || s == StateRunningContinuous
}

// Mode is the metrics label of the run kind a state belongs to
func (s State) Mode() string {
	switch s {
	case StateRunningOnce:
		return "once"
	case StateRunningContinuous:
		return "continuous"
	default:
		return "none"
	}
}
