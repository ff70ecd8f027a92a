// Package session defines the Session and Message types used by the
// Orchestrator (spec §3). Sessions are exclusively owned by the
// Orchestrator's session table; this package only defines the data shapes,
// the ordering check on Append, and the window trim over a session's
// message log.
package session

import (
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who or what produced a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Kind identifies the shape of a Message's payload.
type Kind string

const (
	KindText        Kind = "text"
	KindCode        Kind = "code"
	KindDiff        Kind = "diff"
	KindToolCall    Kind = "tool_call"
	KindToolResult  Kind = "tool_result"
	KindSystemEvent Kind = "system_event"
)

// Message is a single entry in a session's append-only log (spec §3).
type Message struct {
	MessageID       string
	SessionID       string
	AgentID         string // originating agent id, or "user"
	Role            Role
	Kind            Kind
	Payload         string
	Timestamp       int64 // epoch millis
	ParentMessageID string // optional, empty if none

	// Cancelled marks a message produced by a dispatch that was cut short
	// by deadline expiry or explicit cancellation (spec §5 "Cancellation").
	Cancelled bool
}

// NewMessage constructs a Message with a generated id and timestamp.
func NewMessage(sessionID, agentID string, role Role, kind Kind, payload string, nowMillis int64) *Message {
	return &Message{
		MessageID: uuid.NewString(),
		SessionID: sessionID,
		AgentID:   agentID,
		Role:      role,
		Kind:      kind,
		Payload:   payload,
		Timestamp: nowMillis,
	}
}

// Session holds the short-term conversational state for one owner (spec §3).
//
// Message insertion order equals temporal order; Append enforces it by
// serializing writers behind a per-session lock (spec §5 "per-session lock")
// and only ever adds to the log. Messages leave the log only through Trim,
// which drops the oldest ones; the Orchestrator applies it through its
// WorkingMemoryStrategy after every Process call as well as at close, so a
// live session can lose messages.
type Session struct {
	id        string
	owner     string
	createdAt int64

	mu          sync.Mutex
	agentID     string
	messages    []*Message
	scratchpad  map[string]any
	updatedAt   int64
}

// New creates an empty session for owner, attached to no agent yet.
func New(owner string, nowMillis int64) *Session {
	return &Session{
		id:         uuid.NewString(),
		owner:      owner,
		createdAt:  nowMillis,
		updatedAt:  nowMillis,
		scratchpad: make(map[string]any),
	}
}

func (s *Session) ID() string        { return s.id }
func (s *Session) Owner() string     { return s.owner }
func (s *Session) CreatedAt() int64  { return s.createdAt }

func (s *Session) AgentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentID
}

func (s *Session) SetAgentID(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentID = agentID
}

func (s *Session) UpdatedAt() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Append adds msg to the log, rejecting a message whose timestamp is
// earlier than the last message's. An equal timestamp is accepted, so
// timestamps are non-decreasing rather than strictly increasing.
func (s *Session) Append(msg *Message, nowMillis int64) error {
	if msg == nil {
		return fmt.Errorf("session: nil message")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.messages); n > 0 && msg.Timestamp < s.messages[n-1].Timestamp {
		return fmt.Errorf("session %s: message timestamp %d precedes last message timestamp %d",
			s.id, msg.Timestamp, s.messages[n-1].Timestamp)
	}

	msg.SessionID = s.id
	s.messages = append(s.messages, msg)
	s.updatedAt = nowMillis
	return nil
}

// Messages returns a snapshot copy of the message log in temporal order.
func (s *Session) Messages() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// All iterates the message log in temporal order over a snapshot copy
// taken by Messages when iteration starts.
func (s *Session) All() iter.Seq[*Message] {
	return func(yield func(*Message) bool) {
		for _, m := range s.Messages() {
			if !yield(m) {
				return
			}
		}
	}
}

// Len reports the number of messages currently in the log.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// ScratchpadGet reads a value from the mutable scratchpad.
func (s *Session) ScratchpadGet(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.scratchpad[key]
	return v, ok
}

// ScratchpadSet writes a value to the mutable scratchpad.
func (s *Session) ScratchpadSet(key string, value any, nowMillis int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scratchpad[key] = value
	s.updatedAt = nowMillis
}

// Trim drops the oldest messages beyond maxMessages. WindowStrategy applies
// it, which the Orchestrator runs after each Process call and at session
// close. Returns the number of messages dropped.
func (s *Session) Trim(maxMessages int) int {
	if maxMessages <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) <= maxMessages {
		return 0
	}
	dropped := len(s.messages) - maxMessages
	s.messages = s.messages[dropped:]
	return dropped
}

// WorkingMemoryStrategy is a pluggable short-term memory policy applied to a
// live session, grounded on the teacher's WorkingMemoryStrategy
// (pkg/memory/working_strategy.go), generalized from the teacher's
// add-time-summarization hook to an apply-on-demand trim so the Orchestrator
// can invoke it both mid-session and at close (spec §4.2 "trimmed by
// age/size policy").
type WorkingMemoryStrategy interface {
	// Name identifies the strategy, surfaced in telemetry.
	Name() string
	// Apply trims s in place per the strategy's policy and returns how many
	// messages were dropped.
	Apply(s *Session) int
}

// WindowStrategy is a WorkingMemoryStrategy that retains only the most
// recent WindowSize messages, grounded on the teacher's BufferWindowStrategy
// (pkg/memory/buffer_window.go).
type WindowStrategy struct {
	WindowSize int
}

// NewWindowStrategy builds a WindowStrategy; windowSize <= 0 defaults to 20,
// matching the teacher's BufferWindowConfig default.
func NewWindowStrategy(windowSize int) *WindowStrategy {
	if windowSize <= 0 {
		windowSize = 20
	}
	return &WindowStrategy{WindowSize: windowSize}
}

func (w *WindowStrategy) Name() string { return "buffer_window" }

func (w *WindowStrategy) Apply(s *Session) int { return s.Trim(w.WindowSize) }
