package agent

import (
	"context"
	"fmt"

	"github.com/canvasmate/canvasmate/internal/tools"
)

// TokenUsage is the metered token consumption of one backend call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int { return u.InputTokens + u.OutputTokens }

// ToolCall is one tool invocation requested by the reasoning backend.
// Consumed once; never persisted beyond the turn that created it.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Completion is the schema-validated outcome of one backend call: either a
// final answer (no tool calls) or a batch of tool requests. Usage is
// reported on both branches.
type Completion struct {
	Answer    string
	ToolCalls []ToolCall
	Usage     TokenUsage
}

// GenConfig carries per-call generation settings.
type GenConfig struct {
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Provider is the reasoning backend the loop consumes. Implementations must
// validate the backend's output and return *BackendError for anything
// malformed rather than passing it through.
type Provider interface {
	Name() string
	Complete(ctx context.Context, history []Turn, specs []tools.Spec, cfg GenConfig) (*Completion, error)
}

// BackendError marks a malformed or unschematic reasoning-backend response.
// The loop treats it as a single retry opportunity, then fails the query.
type BackendError struct {
	Reason string
	Err    error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reasoning backend: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("reasoning backend: %s", e.Reason)
}

func (e *BackendError) Unwrap() error { return e.Err }
