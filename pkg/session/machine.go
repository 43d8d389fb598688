package session

import (
	"errors"
	"sync"
	"time"

	"github.com/voxwire/voxwire/pkg/errorsx"
)

// ErrTurnLimit is returned by StartTurn once the conversation has used all
// of its turns. Repeated attempts return it again without side effects.
var ErrTurnLimit = errorsx.Wrap(errors.New("turn limit reached"), errorsx.ReasonTurnLimit)

// StateChange is a phase transition event delivered to listeners.
type StateChange struct {
	From      State
	To        State
	Turn      int
	Timestamp time.Time
	Reason    string
}

// StateListener observes machine phase changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// Machine is the owned session state object. All mutation goes through the
// guarded transition function; the turn counter moves only in CompleteTurn
// and never decrements. Safe for concurrent use.
type Machine struct {
	mu       sync.RWMutex
	current  State
	turns    int
	maxTurns int

	listeners []StateListener
}

// NewMachine creates a machine in the disconnected phase with the given
// turn budget. A non-positive budget falls back to 1.
func NewMachine(maxTurns int) *Machine {
	if maxTurns <= 0 {
		maxTurns = 1
	}
	return &Machine{current: StateDisconnected, maxTurns: maxTurns}
}

// State returns the current phase.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Turns returns the number of completed turns.
func (m *Machine) Turns() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.turns
}

// MaxTurns returns the turn budget.
func (m *Machine) MaxTurns() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxTurns
}

// AddListener registers a listener for phase change events.
func (m *Machine) AddListener(l StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Transition moves to a new phase after validation.
func (m *Machine) Transition(to State, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to, reason)
}

// transitionLocked performs the guarded change and notifies listeners with
// the lock released, then reacquires it for the caller's defer.
func (m *Machine) transitionLocked(to State, reason string) error {
	if !transitionValid(m.current, to) {
		return &InvalidTransitionError{From: m.current, To: to}
	}

	event := StateChange{
		From:      m.current,
		To:        to,
		Turn:      m.turns,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	m.current = to

	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()
	for _, l := range listeners {
		l.OnStateChange(event)
	}
	m.mu.Lock()
	return nil
}

// Connect moves disconnected → connecting → idle.
func (m *Machine) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transitionLocked(StateConnecting, "channel opened"); err != nil {
		return err
	}
	return m.transitionLocked(StateIdle, "session ready")
}

// Disconnect drops the machine to disconnected from any phase.
func (m *Machine) Disconnect(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == StateDisconnected {
		return
	}
	_ = m.transitionLocked(StateDisconnected, reason)
}

// StartTurn begins a turn from idle, moving to the given active phase
// (listening for the capture path, processing for the text path). Once the
// turn budget is spent it returns ErrTurnLimit, and keeps returning it on
// repeated calls without changing any state.
func (m *Machine) StartTurn(to State, reason string) error {
	if to != StateListening && to != StateProcessing {
		return &InvalidTransitionError{From: m.State(), To: to}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.turns >= m.maxTurns || m.current == StateCompleted {
		return ErrTurnLimit
	}
	return m.transitionLocked(to, reason)
}

// CompleteTurn records a finished turn. It increments the counter first,
// then settles the phase: completed when the budget is spent, idle
// otherwise. Legal from processing (a turn with no audio to speak) or
// speaking. It returns the new turn count and whether the session is done.
func (m *Machine) CompleteTurn() (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != StateProcessing && m.current != StateSpeaking {
		return m.turns, false, &InvalidTransitionError{From: m.current, To: StateIdle}
	}
	m.turns++
	done := m.turns >= m.maxTurns
	next, reason := StateIdle, "turn completed"
	if done {
		next, reason = StateCompleted, "turn budget spent"
	}
	if err := m.transitionLocked(next, reason); err != nil {
		return m.turns, done, err
	}
	return m.turns, done, nil
}

// AbortTurn abandons an in-flight turn and returns to idle. The turn
// counter is left untouched.
func (m *Machine) AbortTurn(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.current {
	case StateListening, StateProcessing, StateSpeaking:
		return m.transitionLocked(StateIdle, reason)
	case StateErrored:
		return m.transitionLocked(StateIdle, reason)
	default:
		return &InvalidTransitionError{From: m.current, To: StateIdle}
	}
}

// Observe forces the machine to the given phase without turn accounting.
// It is the reconciliation hook for a client-side mirror that must follow
// the server even when a notice arrives out of order.
func (m *Machine) Observe(to State, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == to {
		return
	}
	if transitionValid(m.current, to) {
		_ = m.transitionLocked(to, reason)
		return
	}
	event := StateChange{
		From:      m.current,
		To:        to,
		Turn:      m.turns,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	m.current = to
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()
	for _, l := range listeners {
		l.OnStateChange(event)
	}
	m.mu.Lock()
}

// RecordTurn advances the mirror's counter to match an authoritative count.
// Counts lower than the current value are ignored so the counter never
// moves backwards.
func (m *Machine) RecordTurn(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if count > m.turns {
		m.turns = count
	}
}

// SetMaxTurns updates the budget from an authoritative notice.
func (m *Machine) SetMaxTurns(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxTurns = n
}
