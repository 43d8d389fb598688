package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Utterance roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Utterance is one transcript record.
type Utterance struct {
	Role      string
	Text      string
	Timestamp time.Time
}

// Session bundles the state machine with an append-only transcript under a
// stable identifier.
type Session struct {
	ID      string
	Machine *Machine

	mu         sync.Mutex
	transcript []Utterance
}

// New creates a session with a generated identifier.
func New(maxTurns int) *Session {
	return &Session{
		ID:      uuid.New().String(),
		Machine: NewMachine(maxTurns),
	}
}

// Rekey replaces the session identifier with a caller-supplied one.
func (s *Session) Rekey(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ID = id
}

// Append adds one utterance to the transcript.
func (s *Session) Append(role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, Utterance{
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	})
}

// Transcript returns a copy of the transcript so far.
func (s *Session) Transcript() []Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Utterance, len(s.transcript))
	copy(out, s.transcript)
	return out
}
