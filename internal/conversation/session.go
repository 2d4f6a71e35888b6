// ABOUTME: StreamSession state for one in-flight reply and the shared session table
// ABOUTME: The table supports atomic insert-if-absent and delete-if-present

package conversation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/2389/chatrelay/internal/metrics"
)

// ErrSessionExists is returned when a session with the same key is in flight.
var ErrSessionExists = errors.New("session already in progress")

// State is a session's position in its lifecycle.
type State int

// Session states. A session moves Created -> Streaming -> Committing -> Done,
// or Created/Streaming/Committing -> Failed.
const (
	StateCreated State = iota
	StateStreaming
	StateCommitting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStreaming:
		return "streaming"
	case StateCommitting:
		return "committing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

var allowedTransitions = map[State][]State{
	StateCreated:    {StateStreaming, StateFailed},
	StateStreaming:  {StateCommitting, StateFailed},
	StateCommitting: {StateDone, StateFailed},
}

// SessionKey identifies a session.
type SessionKey struct {
	ConversationID string
	MessageID      string
}

func (k SessionKey) String() string {
	return k.ConversationID + "/" + k.MessageID
}

// Session accumulates one streamed reply. It is written by the task that
// owns it; the mutex lets other goroutines take consistent snapshots.
type Session struct {
	Key     SessionKey
	Started time.Time

	mu    sync.Mutex
	buf   strings.Builder
	seq   int
	state State
	err   error
}

// NewSession returns a session in StateCreated.
func NewSession(key SessionKey) *Session {
	return &Session{Key: key, Started: time.Now()}
}

// Append adds delta to the accumulator and returns its sequence number,
// starting at 1 and increasing by one per call.
func (s *Session) Append(delta string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.WriteString(delta)
	s.seq++
	return s.seq
}

// Text returns everything appended so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Sequence returns the last sequence number handed out.
func (s *Session) Sequence() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure cause once the session has failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// transition moves to next if the lifecycle allows it.
func (s *Session) transition(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, allowed := range allowedTransitions[s.state] {
		if allowed == next {
			s.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid session transition %s -> %s", s.state, next)
}

// fail moves to StateFailed and records cause.
func (s *Session) fail(cause error) error {
	if err := s.transition(StateFailed); err != nil {
		return err
	}
	s.mu.Lock()
	s.err = cause
	s.mu.Unlock()
	return nil
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	State          string    `json:"state"`
	Chunks         int       `json:"chunks"`
	Started        time.Time `json:"started"`
}

// SessionTable tracks in-flight sessions by key. It is safe for concurrent use.
type SessionTable struct {
	mu       sync.Mutex
	sessions map[SessionKey]*Session
}

// NewSessionTable returns an empty table.
func NewSessionTable() *SessionTable {
	return &SessionTable{sessions: make(map[SessionKey]*Session)}
}

// Insert adds s unless a session with the same key is present. It reports
// whether s was inserted.
func (t *SessionTable) Insert(s *Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[s.Key]; ok {
		return false
	}
	t.sessions[s.Key] = s
	metrics.SessionOpened()
	return true
}

// Remove deletes the session for key if present and reports whether it did.
func (t *SessionTable) Remove(key SessionKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[key]; !ok {
		return false
	}
	delete(t.sessions, key)
	metrics.SessionClosed()
	return true
}

// Get returns the session for key.
func (t *SessionTable) Get(key SessionKey) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[key]
	return s, ok
}

// Len returns the number of in-flight sessions.
func (t *SessionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Snapshot describes every in-flight session.
func (t *SessionTable) Snapshot() []SessionInfo {
	t.mu.Lock()
	sessions := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			ConversationID: s.Key.ConversationID,
			MessageID:      s.Key.MessageID,
			State:          s.State().String(),
			Chunks:         s.Sequence(),
			Started:        s.Started,
		})
	}
	return out
}
