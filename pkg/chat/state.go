package chat

// State is the lifecycle of a session's current request
type State int

const (
	StateIdle State = iota
	StateAwaitingStream
	StateStreaming
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingStream:
		return "awaiting_stream"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// IsBusy reports whether a request is in flight
func (s State) IsBusy() bool {
	return s == StateAwaitingStream || s == StateStreaming
}
