package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/convoflow/agentloop/pkg/event"
	"github.com/convoflow/agentloop/pkg/model"
	"github.com/convoflow/agentloop/pkg/tool"
)

// scriptedModel replays a fixed sequence of responses, recording each request
// so tests can inspect the conversation the loop sent.
type scriptedModel struct {
	mu       sync.Mutex
	script   []scriptStep
	requests []model.Request
}

type scriptStep struct {
	resp model.Response
	err  error
}

func (m *scriptedModel) Generate(ctx context.Context, req model.Request) (model.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.script) == 0 {
		return model.Response{}, errors.New("script exhausted")
	}
	step := m.script[0]
	m.script = m.script[1:]
	return step.resp, step.err
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func toolUseResponse(calls ...model.ToolCall) model.Response {
	return model.Response{
		Message:    model.Message{Role: model.RoleAssistant, ToolCalls: calls},
		StopReason: model.StopToolUse,
	}
}

func endTurnResponse(content string) model.Response {
	return model.Response{
		Message:    model.Message{Role: model.RoleAssistant, Content: content},
		StopReason: model.StopEndTurn,
	}
}

// echoTool returns its "text" argument, or fails when failWith is set.
type echoTool struct {
	name     string
	failWith error
	delay    time.Duration
}

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "echoes the text argument" }

func (t *echoTool) Schema() *tool.JSONSchema {
	return &tool.JSONSchema{
		Type: "object",
		Properties: map[string]any{
			"text": map[string]any{"type": "string"},
		},
		Required: []string{"text"},
	}
}

func (t *echoTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	if t.delay > 0 {
		time.Sleep(t.delay)
	}
	if t.failWith != nil {
		return nil, t.failWith
	}
	text, _ := args["text"].(string)
	return &tool.Result{Output: "echo: " + text}, nil
}

func newRunner(t *testing.T, m model.Model, cfg Config) *Runner {
	t.Helper()
	cfg.Model = m
	if cfg.Tools == nil {
		reg, err := tool.NewRegistry(&echoTool{name: "echo"})
		if err != nil {
			t.Fatalf("build registry: %v", err)
		}
		cfg.Tools = reg
	}
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return r
}

func userTurn() []model.Message {
	return []model.Message{model.UserMessage("hello")}
}

func TestRunNaturalCompletion(t *testing.T) {
	m := &scriptedModel{script: []scriptStep{
		{resp: toolUseResponse(model.ToolCall{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "one"}})},
		{resp: endTurnResponse("final answer")},
	}}
	r := newRunner(t, m, Config{Condition: UntilDone()})

	res, err := r.Run(context.Background(), userTurn())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Status != StatusAnswer {
		t.Fatalf("expected status %s, got %s", StatusAnswer, res.Status)
	}
	if res.Output != "final answer" {
		t.Fatalf("unexpected output %q", res.Output)
	}
	if res.Steps != 2 {
		t.Fatalf("expected 2 steps, got %d", res.Steps)
	}
	if m.calls() != 2 {
		t.Fatalf("expected 2 completion calls, got %d", m.calls())
	}
	// Transcript: user, assistant(tool_use), tool result, assistant(answer).
	if len(res.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(res.Messages))
	}
	if res.Messages[2].Role != model.RoleTool || res.Messages[2].ToolCallID != "c1" {
		t.Fatalf("tool result turn not paired: %+v", res.Messages[2])
	}
	if res.Messages[2].Content != "echo: one" {
		t.Fatalf("unexpected tool output %q", res.Messages[2].Content)
	}
}

func TestRunFinalToolTerminates(t *testing.T) {
	reportArgs := map[string]any{"text": "done"}
	m := &scriptedModel{script: []scriptStep{
		{resp: toolUseResponse(model.ToolCall{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "lookup"}})},
		{resp: toolUseResponse(model.ToolCall{ID: "c2", Name: "finalize", Arguments: reportArgs})},
	}}
	reg, err := tool.NewRegistry(&echoTool{name: "echo"}, &echoTool{name: "finalize"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	r := newRunner(t, m, Config{Tools: reg, Condition: UntilTool("finalize")})

	res, err := r.Run(context.Background(), userTurn())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Status != StatusAnswer {
		t.Fatalf("expected status %s, got %s", StatusAnswer, res.Status)
	}
	if res.Steps != 2 {
		t.Fatalf("expected termination on step 2, got %d", res.Steps)
	}
	if res.Payload["text"] != "done" {
		t.Fatalf("payload should carry the final tool arguments, got %+v", res.Payload)
	}
	// The final tool still executes like any other.
	last := res.ToolCalls[len(res.ToolCalls)-1]
	if last.Name != "finalize" || last.Output != "echo: done" {
		t.Fatalf("final tool was not executed: %+v", last)
	}
	if res.Messages[len(res.Messages)-1].ToolCallID != "c2" {
		t.Fatalf("final tool result not appended")
	}
}

func TestRunFinalToolExecutesPrecedingSiblings(t *testing.T) {
	m := &scriptedModel{script: []scriptStep{
		{resp: toolUseResponse(
			model.ToolCall{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "sf"}},
			model.ToolCall{ID: "c2", Name: "echo", Arguments: map[string]any{"text": "tokyo"}},
			model.ToolCall{ID: "c3", Name: "finalize", Arguments: map[string]any{"text": "report"}},
			model.ToolCall{ID: "c4", Name: "echo", Arguments: map[string]any{"text": "skipped"}},
		)},
	}}
	reg, err := tool.NewRegistry(&echoTool{name: "echo"}, &echoTool{name: "finalize"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	r := newRunner(t, m, Config{Tools: reg, Condition: UntilTool("finalize")})

	res, err := r.Run(context.Background(), userTurn())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Status != StatusAnswer || res.Payload["text"] != "report" {
		t.Fatalf("unexpected result: status=%s payload=%+v", res.Status, res.Payload)
	}

	// Calls before the final tool ran in request order; the one after did not.
	want := []string{"echo", "echo", "finalize"}
	if len(res.ToolCalls) != len(want) {
		t.Fatalf("expected %d records, got %+v", len(want), res.ToolCalls)
	}
	for i, name := range want {
		if res.ToolCalls[i].Name != name {
			t.Fatalf("record %d: want %s got %s", i, name, res.ToolCalls[i].Name)
		}
	}
	var ids []string
	for _, msg := range res.Messages {
		if msg.Role == model.RoleTool {
			ids = append(ids, msg.ToolCallID)
		}
	}
	if len(ids) != 3 || ids[0] != "c1" || ids[1] != "c2" || ids[2] != "c3" {
		t.Fatalf("result turns mismatched: %v", ids)
	}
}

func TestRunFinalToolSiblingFailureAborts(t *testing.T) {
	boom := errors.New("lookup failed")
	reg, err := tool.NewRegistry(&echoTool{name: "echo", failWith: boom}, &echoTool{name: "finalize"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	m := &scriptedModel{script: []scriptStep{
		{resp: toolUseResponse(
			model.ToolCall{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "x"}},
			model.ToolCall{ID: "c2", Name: "finalize", Arguments: map[string]any{"text": "report"}},
		)},
	}}
	r := newRunner(t, m, Config{Tools: reg, Condition: UntilTool("finalize")})

	res, err := r.Run(context.Background(), userTurn())
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Kind != KindToolExecution {
		t.Fatalf("expected %s error, got %v", KindToolExecution, err)
	}
	if res.Status != StatusAborted || res.Payload != nil {
		t.Fatalf("failing sibling must abort before the final tool: %+v", res)
	}
}

func TestRunCeilingReached(t *testing.T) {
	const ceiling = 4
	script := make([]scriptStep, 0, ceiling+1)
	for i := 0; i <= ceiling; i++ {
		script = append(script, scriptStep{resp: toolUseResponse(
			model.ToolCall{ID: fmt.Sprintf("c%d", i), Name: "echo", Arguments: map[string]any{"text": "again"}},
		)})
	}
	m := &scriptedModel{script: script}
	r := newRunner(t, m, Config{Condition: UntilDone(), MaxSteps: ceiling})

	res, err := r.Run(context.Background(), userTurn())
	if err != nil {
		t.Fatalf("ceiling must not be an error, got %v", err)
	}
	if res.Status != StatusCeiling {
		t.Fatalf("expected status %s, got %s", StatusCeiling, res.Status)
	}
	if m.calls() != ceiling {
		t.Fatalf("expected exactly %d completion calls, got %d", ceiling, m.calls())
	}
	if res.Steps != ceiling {
		t.Fatalf("expected %d steps, got %d", ceiling, res.Steps)
	}
}

func TestRunDefaultCeiling(t *testing.T) {
	script := make([]scriptStep, 0, DefaultMaxSteps+2)
	for i := 0; i < DefaultMaxSteps+2; i++ {
		script = append(script, scriptStep{resp: toolUseResponse(
			model.ToolCall{ID: fmt.Sprintf("c%d", i), Name: "echo", Arguments: map[string]any{"text": "again"}},
		)})
	}
	m := &scriptedModel{script: script}
	r := newRunner(t, m, Config{Condition: UntilDone()})

	res, err := r.Run(context.Background(), userTurn())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Status != StatusCeiling || m.calls() != DefaultMaxSteps {
		t.Fatalf("expected %d calls then ceiling, got %d calls status %s", DefaultMaxSteps, m.calls(), res.Status)
	}
}

func TestRunUnknownToolAborts(t *testing.T) {
	m := &scriptedModel{script: []scriptStep{
		{resp: toolUseResponse(model.ToolCall{ID: "c1", Name: "no_such_tool", Arguments: map[string]any{}})},
	}}
	r := newRunner(t, m, Config{Condition: UntilDone()})

	res, err := r.Run(context.Background(), userTurn())
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Kind != KindUnknownTool {
		t.Fatalf("expected %s error, got %v", KindUnknownTool, err)
	}
	if res.Status != StatusAborted {
		t.Fatalf("expected status %s, got %s", StatusAborted, res.Status)
	}
	// No tool result may be appended for the unresolved call.
	for _, msg := range res.Messages {
		if msg.Role == model.RoleTool {
			t.Fatalf("unexpected tool result turn: %+v", msg)
		}
	}
}

func TestRunToolExecutionFailureAborts(t *testing.T) {
	boom := errors.New("backend unavailable")
	reg, err := tool.NewRegistry(&echoTool{name: "echo", failWith: boom})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	m := &scriptedModel{script: []scriptStep{
		{resp: toolUseResponse(model.ToolCall{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "x"}})},
	}}
	r := newRunner(t, m, Config{Tools: reg, Condition: UntilDone()})

	res, err := r.Run(context.Background(), userTurn())
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Kind != KindToolExecution {
		t.Fatalf("expected %s error, got %v", KindToolExecution, err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if res.Status != StatusAborted || res.Steps != 1 {
		t.Fatalf("unexpected result: status=%s steps=%d", res.Status, res.Steps)
	}
	if len(res.ToolCalls) != 1 || !res.ToolCalls[0].Failed() {
		t.Fatalf("failing call should be recorded: %+v", res.ToolCalls)
	}
}

func TestRunSchemaValidationFailureAborts(t *testing.T) {
	m := &scriptedModel{script: []scriptStep{
		{resp: toolUseResponse(model.ToolCall{ID: "c1", Name: "echo", Arguments: map[string]any{"text": 42}})},
	}}
	r := newRunner(t, m, Config{Condition: UntilDone()})

	_, err := r.Run(context.Background(), userTurn())
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Kind != KindSchemaParse {
		t.Fatalf("expected %s error, got %v", KindSchemaParse, err)
	}
	if runErr.Tool != "echo" {
		t.Fatalf("expected tool name on error, got %q", runErr.Tool)
	}
}

func TestRunRemoteFailureAborts(t *testing.T) {
	cause := errors.New("connection refused")
	m := &scriptedModel{script: []scriptStep{{err: cause}}}
	r := newRunner(t, m, Config{Condition: UntilDone()})

	res, err := r.Run(context.Background(), userTurn())
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Kind != KindRemoteCall {
		t.Fatalf("expected %s error, got %v", KindRemoteCall, err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if res.Status != StatusAborted {
		t.Fatalf("expected status %s, got %s", StatusAborted, res.Status)
	}
}

func TestRunNoProgressAborts(t *testing.T) {
	// Final-tool mode with a plain text answer: no tool calls and no
	// satisfying stop signal.
	m := &scriptedModel{script: []scriptStep{{resp: endTurnResponse("plain text")}}}
	r := newRunner(t, m, Config{Condition: UntilTool("finalize")})

	res, err := r.Run(context.Background(), userTurn())
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Kind != KindNoProgress {
		t.Fatalf("expected %s error, got %v", KindNoProgress, err)
	}
	if res.Status != StatusAborted {
		t.Fatalf("expected status %s, got %s", StatusAborted, res.Status)
	}
	if m.calls() != 1 {
		t.Fatalf("loop must break immediately, got %d calls", m.calls())
	}
}

func TestRunPairingInvariant(t *testing.T) {
	m := &scriptedModel{script: []scriptStep{
		{resp: toolUseResponse(
			model.ToolCall{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "a"}},
			model.ToolCall{ID: "c2", Name: "echo", Arguments: map[string]any{"text": "b"}},
			model.ToolCall{ID: "c3", Name: "echo", Arguments: map[string]any{"text": "c"}},
		)},
		{resp: endTurnResponse("done")},
	}}
	r := newRunner(t, m, Config{Condition: UntilDone()})

	res, err := r.Run(context.Background(), userTurn())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	assertPairing(t, res.Messages)
	// Results follow request order.
	want := []string{"echo: a", "echo: b", "echo: c"}
	var got []string
	for _, msg := range res.Messages {
		if msg.Role == model.RoleTool {
			got = append(got, msg.Content)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d tool results, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("result order mismatch at %d: want %q got %q", i, want[i], got[i])
		}
	}
}

func TestRunConcurrentDispatchKeepsRequestOrder(t *testing.T) {
	reg, err := tool.NewRegistry(
		&echoTool{name: "slow", delay: 30 * time.Millisecond},
		&echoTool{name: "fast"},
	)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	m := &scriptedModel{script: []scriptStep{
		{resp: toolUseResponse(
			model.ToolCall{ID: "c1", Name: "slow", Arguments: map[string]any{"text": "first"}},
			model.ToolCall{ID: "c2", Name: "fast", Arguments: map[string]any{"text": "second"}},
		)},
		{resp: endTurnResponse("done")},
	}}
	r := newRunner(t, m, Config{Tools: reg, Condition: UntilDone(), Concurrency: 2})

	res, err := r.Run(context.Background(), userTurn())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	assertPairing(t, res.Messages)
	if res.ToolCalls[0].Name != "slow" || res.ToolCalls[1].Name != "fast" {
		t.Fatalf("records must follow request order: %+v", res.ToolCalls)
	}
	// The second request's conversation carries results in request order.
	second := m.requests[1].Messages
	var ids []string
	for _, msg := range second {
		if msg.Role == model.RoleTool {
			ids = append(ids, msg.ToolCallID)
		}
	}
	if len(ids) != 2 || ids[0] != "c1" || ids[1] != "c2" {
		t.Fatalf("result order mismatch: %v", ids)
	}
}

func TestRunConcurrentUnknownToolSkipsHandlers(t *testing.T) {
	m := &scriptedModel{script: []scriptStep{
		{resp: toolUseResponse(
			model.ToolCall{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "a"}},
			model.ToolCall{ID: "c2", Name: "missing", Arguments: map[string]any{}},
		)},
	}}
	r := newRunner(t, m, Config{Condition: UntilDone(), Concurrency: 4})

	res, err := r.Run(context.Background(), userTurn())
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Kind != KindUnknownTool {
		t.Fatalf("expected %s error, got %v", KindUnknownTool, err)
	}
	for _, msg := range res.Messages {
		if msg.Role == model.RoleTool {
			t.Fatalf("no handler may run when lookup fails: %+v", msg)
		}
	}
}

func TestRunDoesNotMutateInput(t *testing.T) {
	m := &scriptedModel{script: []scriptStep{{resp: endTurnResponse("ok")}}}
	r := newRunner(t, m, Config{Condition: UntilDone()})

	input := userTurn()
	res, err := r.Run(context.Background(), input)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(input) != 1 {
		t.Fatalf("caller slice was mutated: %d entries", len(input))
	}
	if len(res.Messages) != 2 {
		t.Fatalf("expected transcript of 2, got %d", len(res.Messages))
	}
}

func TestRunEmitsEvents(t *testing.T) {
	m := &scriptedModel{script: []scriptStep{
		{resp: toolUseResponse(model.ToolCall{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "x"}})},
		{resp: endTurnResponse("done")},
	}}
	r := newRunner(t, m, Config{Condition: UntilDone()})

	res, err := r.Run(context.Background(), userTurn())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	counts := map[event.Type]int{}
	for _, ev := range res.Events {
		if ev.RunID != res.RunID {
			t.Fatalf("event run id mismatch: %s vs %s", ev.RunID, res.RunID)
		}
		counts[ev.Type]++
	}
	if counts[event.TypeProgress] != 2 {
		t.Fatalf("expected 2 progress events, got %d", counts[event.TypeProgress])
	}
	if counts[event.TypeToolCall] != 1 || counts[event.TypeToolResult] != 1 {
		t.Fatalf("expected paired tool events, got %+v", counts)
	}
	if counts[event.TypeCompletion] != 1 {
		t.Fatalf("expected one completion event, got %d", counts[event.TypeCompletion])
	}
}

func TestConfigValidate(t *testing.T) {
	reg, err := tool.NewRegistry()
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{Model: &scriptedModel{}, Tools: reg}},
		{name: "missing model", cfg: Config{Tools: reg}, wantErr: true},
		{name: "missing registry", cfg: Config{Model: &scriptedModel{}}, wantErr: true},
		{name: "negative ceiling", cfg: Config{Model: &scriptedModel{}, Tools: reg, MaxSteps: -1}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg)
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

// assertPairing checks that every tool turn answers a call id emitted by the
// closest preceding assistant turn.
func assertPairing(t *testing.T, msgs []model.Message) {
	t.Helper()
	pending := map[string]bool{}
	for _, msg := range msgs {
		switch msg.Role {
		case model.RoleAssistant:
			pending = map[string]bool{}
			for _, call := range msg.ToolCalls {
				pending[call.ID] = true
			}
		case model.RoleTool:
			if !pending[msg.ToolCallID] {
				t.Fatalf("tool result %q has no matching call", msg.ToolCallID)
			}
			delete(pending, msg.ToolCallID)
		}
	}
}
