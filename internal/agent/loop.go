// Package agent runs the tool-orchestration loop: it alternates between the
// reasoning backend and the capability registry until the backend produces a
// final answer, the iteration budget runs out, or the query fails.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/canvasmate/canvasmate/internal/tools"
	"github.com/canvasmate/canvasmate/internal/usage"
)

// State is the externally observable phase of the loop.
type State string

const (
	StateIdle              State = "idle"
	StateAwaitingReasoning State = "awaiting_reasoning"
	StateExecutingTools    State = "executing_tools"
	StateTerminated        State = "terminated"
	StateFailed            State = "failed"
)

// ErrBudgetExceeded means the backend kept requesting tools past the
// iteration budget and the query was cut off without a final answer.
var ErrBudgetExceeded = errors.New("reasoning budget exceeded")

// LoopConfig bounds one loop instance. Zero values fall back to defaults.
type LoopConfig struct {
	Model          string
	SystemPrompt   string
	Temperature    float64
	MaxTokens      int
	MaxIterations  int
	MaxParallel    int
	RetryLimit     int
	ToolTimeout    time.Duration
	RequestTimeout time.Duration
}

func (c *LoopConfig) applyDefaults() {
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 5
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 120 * time.Second
	}
}

// Reply is the outcome of one completed query.
type Reply struct {
	Text       string
	Usage      TokenUsage
	CostUSD    float64
	Iterations int
	ToolCalls  int
	Elapsed    time.Duration
}

// Loop drives one session. It owns the session's query lifecycle: at most
// one Ask runs at a time per loop.
type Loop struct {
	provider Provider
	registry *tools.Registry
	ledger   *usage.Ledger // optional
	session  *Session
	cfg      LoopConfig
	logger   *slog.Logger

	askMu sync.Mutex // held for the whole of Ask; one query at a time per session

	mu    sync.Mutex
	state State
}

// NewLoop wires a loop over an existing session. The ledger may be nil, in
// which case usage is not metered.
func NewLoop(provider Provider, registry *tools.Registry, ledger *usage.Ledger, session *Session, cfg LoopConfig, logger *slog.Logger) *Loop {
	cfg.applyDefaults()
	return &Loop{
		provider: provider,
		registry: registry,
		ledger:   ledger,
		session:  session,
		cfg:      cfg,
		logger:   logger.With("component", "agent", "session", session.ID),
		state:    StateIdle,
	}
}

// Session returns the session this loop drives.
func (l *Loop) Session() *Session { return l.session }

// State returns the loop's current phase.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Ask processes one user query to completion. The user turn is recorded
// first; every backend exchange and tool batch lands in the session before
// the next iteration starts, so a failed query still leaves a complete
// history. Concurrent Asks on the same loop serialize.
func (l *Loop) Ask(ctx context.Context, query string) (*Reply, error) {
	l.askMu.Lock()
	defer l.askMu.Unlock()

	l.session.Append(Turn{Kind: TurnUser, Text: query})

	started := time.Now()
	reply := &Reply{}

	for iteration := 1; iteration <= l.cfg.MaxIterations; iteration++ {
		l.setState(StateAwaitingReasoning)
		reply.Iterations = iteration

		completion, err := l.complete(ctx, query)
		if err != nil {
			l.setState(StateFailed)
			l.logger.Error("reasoning failed", "iteration", iteration, "error", err)
			return nil, err
		}

		reply.Usage.InputTokens += completion.Usage.InputTokens
		reply.Usage.OutputTokens += completion.Usage.OutputTokens

		// Final answer: no tools requested.
		if len(completion.ToolCalls) == 0 {
			l.session.Append(Turn{Kind: TurnAssistant, Text: completion.Answer})
			l.setState(StateTerminated)
			reply.Text = completion.Answer
			reply.Elapsed = time.Since(started)
			reply.CostUSD = l.cost(reply.Usage)
			l.logger.Info("query answered",
				"iterations", iteration,
				"tool_calls", reply.ToolCalls,
				"tokens", reply.Usage.Total())
			return reply, nil
		}

		l.setState(StateExecutingTools)
		reply.ToolCalls += len(completion.ToolCalls)

		outcomes := l.executeBatch(ctx, completion.ToolCalls)
		for _, oc := range outcomes {
			l.session.Append(Turn{Kind: TurnToolCall, CallID: oc.call.ID, Tool: oc.call.Name, Args: oc.call.Args})
			l.session.Append(Turn{Kind: TurnToolResult, CallID: oc.call.ID, Tool: oc.call.Name, Payload: oc.payload, IsError: oc.isError})
		}

		if err := ctx.Err(); err != nil {
			l.setState(StateFailed)
			l.logger.Warn("query cancelled mid-batch", "iteration", iteration)
			return nil, err
		}
	}

	l.setState(StateFailed)
	l.logger.Warn("iteration budget exhausted", "budget", l.cfg.MaxIterations)
	return nil, fmt.Errorf("%w: stopped after %d reasoning steps without a final answer; try a narrower question", ErrBudgetExceeded, l.cfg.MaxIterations)
}

// complete calls the reasoning backend with the full history, retrying
// timeouts up to the retry limit and a malformed response exactly once.
// Every successful call is metered before control returns to the loop.
func (l *Loop) complete(ctx context.Context, query string) (*Completion, error) {
	gen := GenConfig{
		Model:        l.cfg.Model,
		SystemPrompt: l.cfg.SystemPrompt,
		Temperature:  l.cfg.Temperature,
		MaxTokens:    l.cfg.MaxTokens,
	}

	// The malformed-response retry has its own allowance: it must not be
	// spent from the transport budget, which is zero by default.
	transportFailures := 0
	backendRetried := false

	for {
		cctx, cancel := context.WithTimeout(ctx, l.cfg.RequestTimeout)
		completion, err := l.provider.Complete(cctx, l.session.Snapshot(), l.registry.Specs(), gen)
		cancel()

		if err == nil {
			l.meter(completion.Usage, query)
			return completion, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var backendErr *BackendError
		if errors.As(err, &backendErr) {
			if backendRetried {
				return nil, err
			}
			backendRetried = true
			l.logger.Warn("retrying after malformed response", "error", err)
			continue
		}

		transportFailures++
		if transportFailures > l.cfg.RetryLimit {
			return nil, fmt.Errorf("reasoning backend unavailable after %d attempts: %w", transportFailures, err)
		}
		l.logger.Warn("retrying reasoning call", "attempt", transportFailures, "error", err)
	}
}

// meter writes one ledger record. Ledger failures never fail the query.
func (l *Loop) meter(u TokenUsage, query string) {
	if l.ledger == nil {
		return
	}
	if _, err := l.ledger.Record(l.cfg.Model, u.InputTokens, u.OutputTokens, query, l.session.ID); err != nil {
		l.logger.Warn("usage ledger write failed", "error", err)
	}
}

func (l *Loop) cost(u TokenUsage) float64 {
	if l.ledger == nil {
		return 0
	}
	return l.ledger.Prices().Cost(l.cfg.Model, u.InputTokens, u.OutputTokens)
}

type toolOutcome struct {
	call    ToolCall
	payload string
	isError bool
}

// executeBatch runs one batch of tool calls, bounded by MaxParallel, and
// returns outcomes in request order. Every call gets exactly one outcome:
// calls skipped because the query was cancelled come back as cancellation
// results so the history stays pairwise complete.
func (l *Loop) executeBatch(ctx context.Context, calls []ToolCall) []toolOutcome {
	outcomes := make([]toolOutcome, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.MaxParallel)

	for i, call := range calls {
		if call.ID == "" {
			call.ID = uuid.NewString()
		}
		g.Go(func() error {
			select {
			case <-gctx.Done():
				outcomes[i] = toolOutcome{call: call, payload: "Error: cancelled before execution", isError: true}
			default:
				outcomes[i] = l.executeOne(gctx, call)
			}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// executeOne invokes a single tool under the per-call timeout. Failures are
// rendered as error payloads for the backend to read, not propagated.
func (l *Loop) executeOne(ctx context.Context, call ToolCall) toolOutcome {
	tctx, cancel := context.WithTimeout(ctx, l.cfg.ToolTimeout)
	defer cancel()

	started := time.Now()
	result, err := l.registry.Invoke(tctx, call.Name, call.Args)
	elapsed := time.Since(started)

	if err != nil {
		reason := err.Error()
		switch {
		case ctx.Err() == context.Canceled:
			reason = "cancelled before completion"
		case errors.Is(err, context.DeadlineExceeded):
			reason = fmt.Sprintf("timed out after %s", l.cfg.ToolTimeout)
		}
		l.logger.Warn("tool failed", "tool", call.Name, "elapsed", elapsed, "error", err)
		return toolOutcome{call: call, payload: "Error: " + reason, isError: true}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		l.logger.Error("tool result not serializable", "tool", call.Name, "error", err)
		return toolOutcome{call: call, payload: "Error: result not serializable", isError: true}
	}

	l.logger.Debug("tool completed", "tool", call.Name, "elapsed", elapsed)
	return toolOutcome{call: call, payload: string(payload)}
}
