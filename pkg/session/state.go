// Package session owns the per-conversation state: a guarded turn state
// machine with a monotonic turn counter, and the append-only transcript.
// The server holds the authoritative machine; a client keeps a mirror and
// reconciles it from state notices.
package session

// State is a phase of the voice session lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateProcessing   State = "processing"
	StateSpeaking     State = "speaking"
	StateCompleted    State = "completed"
	StateErrored      State = "errored"
)

func (s State) String() string { return string(s) }

// validTransitions is the single source of truth for which phase changes
// are legal. Every state may additionally drop to disconnected.
var validTransitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateIdle},
	StateIdle:         {StateListening, StateProcessing, StateCompleted},
	StateListening:    {StateProcessing, StateIdle, StateErrored},
	StateProcessing:   {StateSpeaking, StateIdle, StateCompleted, StateErrored},
	StateSpeaking:     {StateIdle, StateCompleted, StateErrored},
	StateCompleted:    {},
	StateErrored:      {StateIdle},
}

func transitionValid(from, to State) bool {
	if to == StateDisconnected {
		return from != StateDisconnected
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a rejected phase change. The machine state
// is unchanged when this is returned.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
