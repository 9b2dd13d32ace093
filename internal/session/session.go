// Package session holds the durable per-conversation state and the store
// contract used to persist it between turns.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Message is one turn record in the conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RetryRecord captures one reflection decision within a turn.
type RetryRecord struct {
	Attempt      int       `json:"attempt"`
	ErrorKind    string    `json:"error_kind"`
	ErrorMessage string    `json:"error_message"`
	Timestamp    time.Time `json:"timestamp"`
}

// ErrorSnapshot is the most recent terminal failure of a session.
type ErrorSnapshot struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the durable record for one session. It is owned exclusively by
// the turn controller while a turn is in flight.
type State struct {
	ID           string         `json:"id"`
	Messages     []Message      `json:"messages"`
	RetryCount   int            `json:"retry_count"`
	RetryHistory []RetryRecord  `json:"retry_history"`
	LastError    *ErrorSnapshot `json:"last_error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastUpdated  time.Time      `json:"last_updated"`

	window int
}

// New creates a fresh session state. When id is empty a UUID is assigned.
// window bounds the message history kept on append.
func New(id string, window int) *State {
	if id == "" {
		id = uuid.NewString()
	}
	if window <= 0 {
		window = 10
	}
	now := time.Now()
	return &State{
		ID:          id,
		CreatedAt:   now,
		LastUpdated: now,
		window:      window,
	}
}

// SetWindow installs the history bound on a state loaded from the store.
func (s *State) SetWindow(window int) {
	if window > 0 {
		s.window = window
	}
}

// Append adds a message and enforces the sliding-window bound: only the
// most recent window messages are retained.
func (s *State) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
	if s.window > 0 && len(s.Messages) > s.window {
		s.Messages = append(s.Messages[:0], s.Messages[len(s.Messages)-s.window:]...)
	}
}

// BeginTurn resets the per-turn retry budget and records the user message.
// Every new user turn starts with a fresh budget regardless of how the
// previous turn ended.
func (s *State) BeginTurn(userRequest string) {
	s.RetryCount = 0
	s.RetryHistory = nil
	s.Append(Message{Role: "user", Content: userRequest})
}

// RecordRetry appends a retry-history entry and bumps the counter.
func (s *State) RecordRetry(kind, message string) {
	s.RetryCount++
	s.RetryHistory = append(s.RetryHistory, RetryRecord{
		Attempt:      s.RetryCount,
		ErrorKind:    kind,
		ErrorMessage: message,
		Timestamp:    time.Now(),
	})
}

// RecordFailure sets the terminal failure snapshot for the session.
func (s *State) RecordFailure(kind, message string) {
	s.LastError = &ErrorSnapshot{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// ClearFailure wipes the terminal failure snapshot after a clean turn.
func (s *State) ClearFailure() {
	s.LastError = nil
}

// Touch refreshes the last-updated stamp; called before every save.
func (s *State) Touch() {
	s.LastUpdated = time.Now()
}

// History returns a copy of the message window for planner input.
func (s *State) History() []Message {
	out := make([]Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}
