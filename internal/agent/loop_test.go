package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/canvasmate/canvasmate/internal/tools"
	"github.com/canvasmate/canvasmate/internal/usage"
)

// ---
// Scripted provider: each Complete call consumes the next step.

type step struct {
	completion *Completion
	err        error
}

type scriptedProvider struct {
	mu      sync.Mutex
	steps   []step
	calls   int
	history []Turn // history seen on the last call
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, history []Turn, specs []tools.Spec, cfg GenConfig) (*Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = history
	if p.calls >= len(p.steps) {
		return nil, fmt.Errorf("unscripted backend call %d", p.calls+1)
	}
	s := p.steps[p.calls]
	p.calls++
	return s.completion, s.err
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func answer(text string, in, out int) step {
	return step{completion: &Completion{Answer: text, Usage: TokenUsage{InputTokens: in, OutputTokens: out}}}
}

func callTools(calls ...ToolCall) step {
	return step{completion: &Completion{ToolCalls: calls, Usage: TokenUsage{InputTokens: 10, OutputTokens: 5}}}
}

func newTestRegistry(t *testing.T, specs ...*tools.Spec) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(testLogger())
	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			t.Fatalf("register %s: %v", spec.Name, err)
		}
	}
	return reg
}

func newTestLoop(t *testing.T, provider Provider, reg *tools.Registry, cfg LoopConfig) *Loop {
	t.Helper()
	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	return NewLoop(provider, reg, nil, NewSession(testLogger()), cfg, testLogger())
}

// ---
// Direct answers and the full tool round trip.

func TestAskDirectAnswer(t *testing.T) {
	provider := &scriptedProvider{steps: []step{answer("Hello!", 20, 5)}}
	loop := newTestLoop(t, provider, newTestRegistry(t), LoopConfig{})

	reply, err := loop.Ask(context.Background(), "hi")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if reply.Text != "Hello!" {
		t.Errorf("unexpected answer %q", reply.Text)
	}
	if reply.Iterations != 1 || reply.ToolCalls != 0 {
		t.Errorf("expected single iteration without tools: %+v", reply)
	}
	if loop.State() != StateTerminated {
		t.Errorf("expected terminated state, got %s", loop.State())
	}

	turns := loop.Session().Snapshot()
	if len(turns) != 2 || turns[0].Kind != TurnUser || turns[1].Kind != TurnAssistant {
		t.Errorf("expected user+assistant turns, got %+v", turns)
	}
}

func TestAskToolRoundTrip(t *testing.T) {
	courses := &tools.Spec{
		Name:        "get_courses",
		Description: "List enrolled courses",
		Exec: func(ctx context.Context, args map[string]any) (any, error) {
			return []map[string]any{{"name": "CS 555"}, {"name": "CS 559"}}, nil
		},
	}
	provider := &scriptedProvider{steps: []step{
		callTools(ToolCall{ID: "call-1", Name: "get_courses", Args: map[string]any{}}),
		answer("You're enrolled in CS 555 and CS 559.", 120, 14),
	}}

	path := filepath.Join(t.TempDir(), "usage.jsonl")
	ledger, err := usage.Open(path, nil, testLogger())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer ledger.Close()

	session := NewSession(testLogger())
	loop := NewLoop(provider, newTestRegistry(t, courses), ledger, session, LoopConfig{Model: "test-model"}, testLogger())

	reply, err := loop.Ask(context.Background(), "What courses am I taking?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if reply.Text != "You're enrolled in CS 555 and CS 559." {
		t.Errorf("unexpected answer %q", reply.Text)
	}
	if reply.Iterations != 2 || reply.ToolCalls != 1 {
		t.Errorf("expected 2 iterations and 1 tool call: %+v", reply)
	}

	// user, tool_call, tool_result, assistant
	turns := session.Snapshot()
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns, got %d: %+v", len(turns), turns)
	}
	wantKinds := []TurnKind{TurnUser, TurnToolCall, TurnToolResult, TurnAssistant}
	for i, kind := range wantKinds {
		if turns[i].Kind != kind {
			t.Errorf("turn %d: expected %s, got %s", i, kind, turns[i].Kind)
		}
	}
	if turns[1].CallID != "call-1" || turns[2].CallID != "call-1" {
		t.Errorf("tool call and result must share a call ID: %+v", turns[1:3])
	}
	if !strings.Contains(turns[2].Payload, "CS 555") {
		t.Errorf("result payload missing course data: %q", turns[2].Payload)
	}

	// Two backend calls, two ledger records.
	records, err := usage.Read(path)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 usage records, got %d", len(records))
	}
	for _, rec := range records {
		if rec.SessionID != session.ID {
			t.Errorf("record not tagged with session: %+v", rec)
		}
	}
	if total := records[0].TotalTokens + records[1].TotalTokens; total != reply.Usage.Total() {
		t.Errorf("reply usage %d disagrees with ledger %d", reply.Usage.Total(), total)
	}

	// Second backend call must have seen the tool result.
	sawResult := false
	for _, turn := range provider.history {
		if turn.Kind == TurnToolResult && strings.Contains(turn.Payload, "CS 559") {
			sawResult = true
		}
	}
	if !sawResult {
		t.Error("backend never saw the tool result")
	}
}

// ---
// Failure handling: the budget, tool errors, backend errors.

func TestAskBudgetExceeded(t *testing.T) {
	noop := &tools.Spec{
		Name: "probe",
		Exec: func(ctx context.Context, args map[string]any) (any, error) { return "ok", nil },
	}
	var steps []step
	for i := 0; i < 10; i++ {
		steps = append(steps, callTools(ToolCall{Name: "probe", Args: map[string]any{}}))
	}
	provider := &scriptedProvider{steps: steps}
	loop := newTestLoop(t, provider, newTestRegistry(t, noop), LoopConfig{MaxIterations: 3})

	_, err := loop.Ask(context.Background(), "loop forever")
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected budget error, got %v", err)
	}
	if !strings.Contains(err.Error(), "try a narrower question") {
		t.Errorf("budget error should carry a user-facing message, got %q", err)
	}
	if provider.callCount() != 3 {
		t.Errorf("expected exactly 3 backend calls, got %d", provider.callCount())
	}
	if loop.State() != StateFailed {
		t.Errorf("expected failed state, got %s", loop.State())
	}

	// History still complete: user turn plus 3 call/result pairs.
	if got := loop.Session().Len(); got != 7 {
		t.Errorf("expected 7 turns, got %d", got)
	}
}

func TestToolFailureBecomesResult(t *testing.T) {
	broken := &tools.Spec{
		Name: "get_grades",
		Exec: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("canvas request failed: 503")
		},
	}
	provider := &scriptedProvider{steps: []step{
		callTools(ToolCall{ID: "c1", Name: "get_grades", Args: map[string]any{}}),
		answer("I couldn't fetch your grades right now.", 50, 10),
	}}
	loop := newTestLoop(t, provider, newTestRegistry(t, broken), LoopConfig{})

	reply, err := loop.Ask(context.Background(), "grades?")
	if err != nil {
		t.Fatalf("a tool failure must not fail the query: %v", err)
	}
	if reply.Text == "" {
		t.Error("expected an answer despite the tool failure")
	}

	turns := loop.Session().Snapshot()
	result := turns[2]
	if result.Kind != TurnToolResult || !result.IsError {
		t.Fatalf("expected error-flagged tool result, got %+v", result)
	}
	if !strings.Contains(result.Payload, "Error:") || !strings.Contains(result.Payload, "503") {
		t.Errorf("payload should carry the failure for the backend: %q", result.Payload)
	}
}

func TestUnknownToolBecomesResult(t *testing.T) {
	provider := &scriptedProvider{steps: []step{
		callTools(ToolCall{ID: "c1", Name: "no_such_tool", Args: map[string]any{}}),
		answer("done", 5, 5),
	}}
	loop := newTestLoop(t, provider, newTestRegistry(t), LoopConfig{})

	if _, err := loop.Ask(context.Background(), "q"); err != nil {
		t.Fatalf("unknown tool must be reported, not fatal: %v", err)
	}
	result := loop.Session().Snapshot()[2]
	if !result.IsError || !strings.Contains(result.Payload, "unknown tool") {
		t.Errorf("expected unknown-tool error payload, got %+v", result)
	}
}

func TestBackendErrorRetriedOnce(t *testing.T) {
	// The malformed-response retry is independent of the transport retry
	// budget: it must work even at the zero-value config (RetryLimit 0).
	for _, cfg := range []LoopConfig{{}, {RetryLimit: 5}} {
		provider := &scriptedProvider{steps: []step{
			{err: &BackendError{Reason: "empty completion"}},
			answer("recovered", 5, 5),
		}}
		loop := newTestLoop(t, provider, newTestRegistry(t), cfg)

		reply, err := loop.Ask(context.Background(), "q")
		if err != nil {
			t.Fatalf("retryLimit=%d: one malformed response should be retried: %v", cfg.RetryLimit, err)
		}
		if reply.Text != "recovered" {
			t.Errorf("retryLimit=%d: unexpected answer %q", cfg.RetryLimit, reply.Text)
		}
		if provider.callCount() != 2 {
			t.Errorf("retryLimit=%d: expected 2 backend calls, got %d", cfg.RetryLimit, provider.callCount())
		}
	}
}

func TestBackendErrorNotRetriedTwice(t *testing.T) {
	provider := &scriptedProvider{steps: []step{
		{err: &BackendError{Reason: "no choices"}},
		{err: &BackendError{Reason: "no choices"}},
		answer("never reached", 5, 5),
	}}
	loop := newTestLoop(t, provider, newTestRegistry(t), LoopConfig{RetryLimit: 5})

	_, err := loop.Ask(context.Background(), "q")
	var backendErr *BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if provider.callCount() != 2 {
		t.Errorf("malformed responses retry exactly once, got %d calls", provider.callCount())
	}
	if loop.State() != StateFailed {
		t.Errorf("expected failed state, got %s", loop.State())
	}
}

func TestTransportErrorRetriedToLimit(t *testing.T) {
	provider := &scriptedProvider{steps: []step{
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
		answer("third time lucky", 5, 5),
	}}
	loop := newTestLoop(t, provider, newTestRegistry(t), LoopConfig{RetryLimit: 2})

	reply, err := loop.Ask(context.Background(), "q")
	if err != nil {
		t.Fatalf("retries within the limit should recover: %v", err)
	}
	if reply.Text != "third time lucky" {
		t.Errorf("unexpected answer %q", reply.Text)
	}
	if provider.callCount() != 3 {
		t.Errorf("expected 3 backend calls, got %d", provider.callCount())
	}
}

// ---
// Parallel batches: ordering, timeouts, cancellation.

func TestBatchResultsInRequestOrder(t *testing.T) {
	slow := func(name string, delay time.Duration) *tools.Spec {
		return &tools.Spec{
			Name: name,
			Exec: func(ctx context.Context, args map[string]any) (any, error) {
				time.Sleep(delay)
				return name, nil
			},
		}
	}
	provider := &scriptedProvider{steps: []step{
		callTools(
			ToolCall{ID: "a", Name: "alpha", Args: map[string]any{}},
			ToolCall{ID: "b", Name: "beta", Args: map[string]any{}},
			ToolCall{ID: "c", Name: "gamma", Args: map[string]any{}},
		),
		answer("done", 5, 5),
	}}
	reg := newTestRegistry(t,
		slow("alpha", 30*time.Millisecond),
		slow("beta", 1*time.Millisecond),
		slow("gamma", 10*time.Millisecond),
	)
	loop := newTestLoop(t, provider, reg, LoopConfig{MaxParallel: 3})

	if _, err := loop.Ask(context.Background(), "q"); err != nil {
		t.Fatalf("ask: %v", err)
	}

	turns := loop.Session().Snapshot()
	// user, then 3 call/result pairs, then assistant.
	if len(turns) != 8 {
		t.Fatalf("expected 8 turns, got %d", len(turns))
	}
	wantOrder := []string{"a", "b", "c"}
	for i, id := range wantOrder {
		call := turns[1+2*i]
		result := turns[2+2*i]
		if call.Kind != TurnToolCall || call.CallID != id {
			t.Errorf("pair %d: expected call %s, got %+v", i, id, call)
		}
		if result.Kind != TurnToolResult || result.CallID != id {
			t.Errorf("pair %d: expected result %s, got %+v", i, id, result)
		}
	}
}

func TestToolTimeoutReported(t *testing.T) {
	stuck := &tools.Spec{
		Name: "stuck",
		Exec: func(ctx context.Context, args map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	provider := &scriptedProvider{steps: []step{
		callTools(ToolCall{ID: "c1", Name: "stuck", Args: map[string]any{}}),
		answer("gave up on that one", 5, 5),
	}}
	loop := newTestLoop(t, provider, newTestRegistry(t, stuck), LoopConfig{ToolTimeout: 20 * time.Millisecond})

	if _, err := loop.Ask(context.Background(), "q"); err != nil {
		t.Fatalf("a tool timeout must not fail the query: %v", err)
	}
	result := loop.Session().Snapshot()[2]
	if !result.IsError || !strings.Contains(result.Payload, "timed out") {
		t.Errorf("expected timeout payload, got %+v", result)
	}
}

func TestCancellationSynthesizesResults(t *testing.T) {
	block := &tools.Spec{
		Name: "block",
		Exec: func(ctx context.Context, args map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	provider := &scriptedProvider{steps: []step{
		callTools(
			ToolCall{ID: "c1", Name: "block", Args: map[string]any{}},
			ToolCall{ID: "c2", Name: "block", Args: map[string]any{}},
		),
	}}
	loop := newTestLoop(t, provider, newTestRegistry(t, block), LoopConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := loop.Ask(ctx, "q")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	// Every requested call still gets a result turn.
	turns := loop.Session().Snapshot()
	if len(turns) != 5 {
		t.Fatalf("expected user + 2 pairs, got %d turns", len(turns))
	}
	for _, i := range []int{2, 4} {
		if turns[i].Kind != TurnToolResult || !turns[i].IsError {
			t.Errorf("turn %d: expected error result, got %+v", i, turns[i])
		}
		if !strings.Contains(turns[i].Payload, "cancelled") {
			t.Errorf("turn %d: expected cancellation payload, got %q", i, turns[i].Payload)
		}
	}
	if loop.State() != StateFailed {
		t.Errorf("expected failed state, got %s", loop.State())
	}
}

// slowProvider answers after a delay and records how many Complete calls
// ever overlapped.
type slowProvider struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (p *slowProvider) Name() string { return "slow" }

func (p *slowProvider) Complete(ctx context.Context, history []Turn, specs []tools.Spec, cfg GenConfig) (*Completion, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		cur := p.maxSeen.Load()
		if n <= cur || p.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}

	time.Sleep(50 * time.Millisecond)

	var last string
	for _, turn := range history {
		if turn.Kind == TurnUser {
			last = turn.Text
		}
	}
	return &Completion{Answer: "answered: " + last, Usage: TokenUsage{InputTokens: 5, OutputTokens: 5}}, nil
}

func TestConcurrentAsksSerialize(t *testing.T) {
	provider := &slowProvider{}
	loop := newTestLoop(t, provider, newTestRegistry(t), LoopConfig{})

	var wg sync.WaitGroup
	for _, query := range []string{"first", "second"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := loop.Ask(context.Background(), query); err != nil {
				t.Errorf("ask %q: %v", query, err)
			}
		}()
	}
	wg.Wait()

	if got := provider.maxSeen.Load(); got != 1 {
		t.Errorf("one session must never run overlapping queries, saw %d concurrent backend calls", got)
	}

	// Each query's turns stay contiguous: user, its answer, user, its answer.
	turns := loop.Session().Snapshot()
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(turns))
	}
	for i := 0; i < len(turns); i += 2 {
		user, assistant := turns[i], turns[i+1]
		if user.Kind != TurnUser || assistant.Kind != TurnAssistant {
			t.Fatalf("interleaved history: %+v", turns)
		}
		if assistant.Text != "answered: "+user.Text {
			t.Errorf("answer %q does not follow its own query %q", assistant.Text, user.Text)
		}
	}
}

func TestMissingCallIDSynthesized(t *testing.T) {
	echo := &tools.Spec{
		Name: "echo",
		Exec: func(ctx context.Context, args map[string]any) (any, error) { return "ok", nil },
	}
	provider := &scriptedProvider{steps: []step{
		callTools(ToolCall{Name: "echo", Args: map[string]any{}}),
		answer("done", 5, 5),
	}}
	loop := newTestLoop(t, provider, newTestRegistry(t, echo), LoopConfig{})

	if _, err := loop.Ask(context.Background(), "q"); err != nil {
		t.Fatalf("ask: %v", err)
	}
	turns := loop.Session().Snapshot()
	if turns[1].CallID == "" {
		t.Error("loop should synthesize a call ID when the backend omits one")
	}
	if turns[1].CallID != turns[2].CallID {
		t.Error("synthesized ID must pair call and result")
	}
}
