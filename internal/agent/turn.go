package agent

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TurnKind tags one entry in a session's conversation history.
type TurnKind string

const (
	TurnUser       TurnKind = "user"
	TurnAssistant  TurnKind = "assistant"
	TurnToolCall   TurnKind = "tool_call"
	TurnToolResult TurnKind = "tool_result"
)

// Turn is one atomic unit of conversation history. Which fields are set
// depends on Kind: Text for user/assistant turns, the tool fields for
// tool_call/tool_result turns. CallID pairs a tool_call with its result.
type Turn struct {
	Kind      TurnKind       `json:"kind"`
	Text      string         `json:"text,omitempty"`
	CallID    string         `json:"call_id,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Payload   string         `json:"payload,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// TranscriptSink receives every appended turn, e.g. for archival or a
// presentation layer. Sink failures are logged and never fail the append.
type TranscriptSink interface {
	AppendTurn(sessionID string, seq int, turn Turn) error
}

// Session owns the ordered, append-only turn history of one conversation.
// History is strictly additive: turns are never mutated or removed
// individually. One session must not process two queries concurrently;
// the loop serializes on it.
type Session struct {
	ID string

	mu     sync.RWMutex
	turns  []Turn
	sink   TranscriptSink
	logger *slog.Logger
}

// NewSession creates an empty session with a fresh ID.
func NewSession(logger *slog.Logger) *Session {
	return &Session{
		ID:     uuid.NewString(),
		logger: logger.With("component", "session"),
	}
}

// SetSink attaches a transcript sink. Call before the first query.
func (s *Session) SetSink(sink TranscriptSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Append adds one turn to the history, stamping it if unstamped.
func (s *Session) Append(turn Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	s.turns = append(s.turns, turn)
	seq := len(s.turns) - 1
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		if err := sink.AppendTurn(s.ID, seq, turn); err != nil {
			s.logger.Warn("transcript sink append failed", "session", s.ID, "error", err)
		}
	}
}

// Snapshot returns a copy of the full history in append order.
func (s *Session) Snapshot() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := make([]Turn, len(s.turns))
	copy(turns, s.turns)
	return turns
}

// Len returns the number of turns recorded so far.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Clear resets the history. Used when a conversation explicitly ends.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}
