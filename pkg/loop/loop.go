// Package loop drives a conversation with a remote completion service,
// executing requested tool calls locally until a termination condition is
// met or the iteration ceiling is reached.
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convoflow/agentloop/pkg/event"
	"github.com/convoflow/agentloop/pkg/model"
	"github.com/convoflow/agentloop/pkg/telemetry"
	"github.com/convoflow/agentloop/pkg/tool"
)

// DefaultMaxSteps bounds a run when the config does not set its own ceiling.
const DefaultMaxSteps = 10

// Config stores everything one Runner needs. No global state is consulted:
// model, tools, logger, and telemetry all arrive here.
type Config struct {
	// Model is the completion endpoint driving the conversation.
	Model model.Model

	// Tools maps tool names onto local handlers. Read-only during a run.
	Tools *tool.Registry

	// Condition decides when the run has produced its answer.
	Condition Condition

	// MaxSteps is the iteration ceiling; DefaultMaxSteps when <= 0.
	MaxSteps int

	// ToolChoice is the tool-selection policy sent with every request.
	ToolChoice model.ToolChoice

	// Concurrency above 1 executes a turn's tool calls in parallel. Results
	// are still appended in request order, so transcripts stay replayable.
	Concurrency int

	// Logger receives structured progress records; nil discards them.
	Logger *slog.Logger

	// Telemetry records spans and counters; nil records nothing. Telemetry
	// failures never abort a run.
	Telemetry *telemetry.Manager
}

// Validate enforces the minimal structural requirements.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("loop: config is nil")
	}
	if c.Model == nil {
		return errors.New("loop: model is required")
	}
	if c.Tools == nil {
		return errors.New("loop: tool registry is required")
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("loop: max steps cannot be negative: %d", c.MaxSteps)
	}
	return nil
}

// Runner executes tool-orchestration runs against a fixed configuration.
type Runner struct {
	cfg Config
	log *slog.Logger
}

// New constructs a Runner after validating cfg.
func New(cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{cfg: cfg, log: log}, nil
}

// Run drives the conversation until the condition is satisfied, a failure
// occurs, or the ceiling is reached. The initial conversation is copied, so
// the run owns its transcript exclusively; the final transcript is returned
// on the Result. The ceiling path returns a nil error.
func (r *Runner) Run(ctx context.Context, conversation []model.Message) (*Result, error) {
	if ctx == nil {
		return nil, errors.New("loop: context is nil")
	}

	runID := uuid.NewString()
	log := r.log.With("run_id", runID)
	msgs := append([]model.Message(nil), conversation...)
	defs := r.cfg.Tools.Definitions()
	finalTool, hasFinal := r.cfg.Condition.FinalTool()

	res := &Result{RunID: runID, Status: StatusAborted}
	defer func() { res.Messages = msgs }()

	for step := 1; step <= r.cfg.MaxSteps; step++ {
		res.Steps = step
		res.Events = append(res.Events, event.New(event.TypeProgress, runID, event.ProgressData{
			Stage: "iteration_start",
			Step:  step,
		}))

		genCtx, end := r.cfg.Telemetry.StartCompletion(ctx, runID, step)
		resp, err := r.cfg.Model.Generate(genCtx, model.Request{
			Messages:   msgs,
			Tools:      defs,
			ToolChoice: r.cfg.ToolChoice,
		})
		end(string(resp.StopReason), err)
		if err != nil {
			runErr := &RunError{Kind: KindRemoteCall, Step: step, Err: err}
			log.Error("completion request failed", "step", step, "error", err)
			res.Events = append(res.Events, errorEvent(runID, runErr))
			return res, runErr
		}

		calls := resp.Message.ToolCalls
		log.Debug("completion received", "step", step, "stop_reason", resp.StopReason, "tool_calls", len(calls))

		// Termination by named final tool: its arguments are the answer.
		// Sibling calls before it still execute in request order; calls
		// after it are not dispatched.
		if hasFinal {
			if idx := indexOfCall(calls, finalTool); idx >= 0 {
				msgs = append(msgs, resp.Message)
				for _, call := range calls[:idx] {
					out := r.executeCall(ctx, runID, step, call, res)
					res.ToolCalls = append(res.ToolCalls, out.ToolCallRecord)
					if out.runErr != nil {
						log.Error("tool dispatch failed", "step", step, "tool", call.Name, "kind", out.runErr.Kind, "error", out.runErr.Err)
						return res, out.runErr
					}
					msgs = append(msgs, model.ToolResultMessage(call, out.Output))
				}

				call := calls[idx]
				rec := r.executeCall(ctx, runID, step, call, res)
				res.ToolCalls = append(res.ToolCalls, rec.ToolCallRecord)
				if rec.runErr != nil {
					log.Error("final tool failed", "step", step, "tool", call.Name, "error", rec.runErr)
					return res, rec.runErr
				}
				msgs = append(msgs, model.ToolResultMessage(call, rec.Output))
				res.Payload = call.Arguments
				res.Output = rec.Output
				res.Status = StatusAnswer
				res.Events = append(res.Events, completionEvent(runID, res))
				log.Info("run complete", "steps", step, "status", res.Status, "final_tool", finalTool)
				return res, nil
			}
		}

		if len(calls) > 0 {
			msgs = append(msgs, resp.Message)
			appended, runErr := r.dispatchTools(ctx, runID, step, calls, res)
			msgs = append(msgs, appended...)
			if runErr != nil {
				log.Error("tool dispatch failed", "step", step, "tool", runErr.Tool, "kind", runErr.Kind, "error", runErr.Err)
				return res, runErr
			}
			continue
		}

		// Natural completion.
		if !hasFinal && resp.StopReason == model.StopEndTurn {
			msgs = append(msgs, resp.Message)
			res.Output = resp.Message.Content
			res.Status = StatusAnswer
			res.Events = append(res.Events, completionEvent(runID, res))
			log.Info("run complete", "steps", step, "status", res.Status)
			return res, nil
		}

		// Neither condition holds: no tool calls and no satisfying stop
		// signal. Break instead of spinning.
		msgs = append(msgs, resp.Message)
		runErr := &RunError{
			Kind: KindNoProgress,
			Step: step,
			Err:  fmt.Errorf("no tool calls and stop reason %q does not terminate the run", resp.StopReason),
		}
		log.Warn("anomalous response, breaking", "step", step, "stop_reason", resp.StopReason)
		res.Events = append(res.Events, errorEvent(runID, runErr))
		return res, runErr
	}

	res.Status = StatusCeiling
	res.Events = append(res.Events, completionEvent(runID, res))
	log.Info("iteration ceiling reached", "steps", r.cfg.MaxSteps)
	return res, nil
}

// callOutcome pairs a tool call record with the failure that produced it.
type callOutcome struct {
	ToolCallRecord
	runErr *RunError
}

// executeCall dispatches a single tool call: lookup, schema validation,
// execution, and the matching events and telemetry.
func (r *Runner) executeCall(ctx context.Context, runID string, step int, call model.ToolCall, res *Result) callOutcome {
	out := callOutcome{ToolCallRecord: ToolCallRecord{ID: call.ID, Name: call.Name, Args: call.Arguments}}
	res.Events = append(res.Events, event.New(event.TypeToolCall, runID, event.ToolCallData{
		CallID: call.ID,
		Name:   call.Name,
		Params: call.Arguments,
	}))

	impl, ok := r.cfg.Tools.Lookup(call.Name)
	if !ok {
		out.runErr = &RunError{Kind: KindUnknownTool, Step: step, Tool: call.Name, Err: fmt.Errorf("tool %s not registered", call.Name)}
		out.Error = out.runErr.Err.Error()
		res.Events = append(res.Events, errorEvent(runID, out.runErr))
		return out
	}
	if err := r.cfg.Tools.ValidateArgs(call.Name, call.Arguments); err != nil {
		out.runErr = &RunError{Kind: KindSchemaParse, Step: step, Tool: call.Name, Err: err}
		out.Error = err.Error()
		res.Events = append(res.Events, errorEvent(runID, out.runErr))
		return out
	}

	started := time.Now()
	result, err := impl.Execute(ctx, call.Arguments)
	out.Duration = time.Since(started)
	r.cfg.Telemetry.RecordToolExecution(ctx, call.Name, out.Duration, err)
	if err != nil {
		out.runErr = &RunError{Kind: KindToolExecution, Step: step, Tool: call.Name, Err: err}
		out.Error = err.Error()
		res.Events = append(res.Events, errorEvent(runID, out.runErr))
		return out
	}

	out.Output = result.Output
	res.Events = append(res.Events, event.New(event.TypeToolResult, runID, event.ToolResultData{
		CallID:   call.ID,
		Name:     call.Name,
		Output:   out.Output,
		Duration: out.Duration,
	}))
	return out
}

// dispatchTools processes one assistant turn's tool calls in request order
// and returns the tool-result messages to append. On failure, the messages
// for the calls completed before the failure are still returned, so every
// appended result keeps its pairing with a preceding call.
func (r *Runner) dispatchTools(ctx context.Context, runID string, step int, calls []model.ToolCall, res *Result) ([]model.Message, *RunError) {
	if r.cfg.Concurrency > 1 && len(calls) > 1 {
		return r.dispatchConcurrent(ctx, runID, step, calls, res)
	}

	appended := make([]model.Message, 0, len(calls))
	for _, call := range calls {
		out := r.executeCall(ctx, runID, step, call, res)
		res.ToolCalls = append(res.ToolCalls, out.ToolCallRecord)
		if out.runErr != nil {
			return appended, out.runErr
		}
		appended = append(appended, model.ToolResultMessage(call, out.Output))
	}
	return appended, nil
}

// dispatchConcurrent executes the turn's calls in parallel. Lookup and
// schema validation stay sequential so unknown-tool and schema failures
// abort before any handler runs; results are appended in request order
// regardless of completion order, keeping replay deterministic.
func (r *Runner) dispatchConcurrent(ctx context.Context, runID string, step int, calls []model.ToolCall, res *Result) ([]model.Message, *RunError) {
	type execResult struct {
		output   string
		duration time.Duration
		err      error
	}

	impls := make([]tool.Tool, len(calls))
	for i, call := range calls {
		res.Events = append(res.Events, event.New(event.TypeToolCall, runID, event.ToolCallData{
			CallID: call.ID,
			Name:   call.Name,
			Params: call.Arguments,
		}))
		impl, ok := r.cfg.Tools.Lookup(call.Name)
		if !ok {
			runErr := &RunError{Kind: KindUnknownTool, Step: step, Tool: call.Name, Err: fmt.Errorf("tool %s not registered", call.Name)}
			res.Events = append(res.Events, errorEvent(runID, runErr))
			return nil, runErr
		}
		if err := r.cfg.Tools.ValidateArgs(call.Name, call.Arguments); err != nil {
			runErr := &RunError{Kind: KindSchemaParse, Step: step, Tool: call.Name, Err: err}
			res.Events = append(res.Events, errorEvent(runID, runErr))
			return nil, runErr
		}
		impls[i] = impl
	}

	results := make([]execResult, len(calls))
	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup
	for i := range calls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			started := time.Now()
			result, err := impls[i].Execute(ctx, calls[i].Arguments)
			results[i] = execResult{duration: time.Since(started), err: err}
			if err == nil {
				results[i].output = result.Output
			}
		}(i)
	}
	wg.Wait()

	appended := make([]model.Message, 0, len(calls))
	for i, call := range calls {
		exec := results[i]
		r.cfg.Telemetry.RecordToolExecution(ctx, call.Name, exec.duration, exec.err)
		rec := ToolCallRecord{ID: call.ID, Name: call.Name, Args: call.Arguments, Output: exec.output, Duration: exec.duration}
		if exec.err != nil {
			rec.Error = exec.err.Error()
		}
		res.ToolCalls = append(res.ToolCalls, rec)
		if exec.err != nil {
			runErr := &RunError{Kind: KindToolExecution, Step: step, Tool: call.Name, Err: exec.err}
			res.Events = append(res.Events, errorEvent(runID, runErr))
			return appended, runErr
		}
		appended = append(appended, model.ToolResultMessage(call, exec.output))
		res.Events = append(res.Events, event.New(event.TypeToolResult, runID, event.ToolResultData{
			CallID:   call.ID,
			Name:     call.Name,
			Output:   exec.output,
			Duration: exec.duration,
		}))
	}
	return appended, nil
}

func indexOfCall(calls []model.ToolCall, name string) int {
	for i, call := range calls {
		if call.Name == name {
			return i
		}
	}
	return -1
}

func errorEvent(runID string, runErr *RunError) event.Event {
	return event.New(event.TypeError, runID, event.ErrorData{
		Kind:    string(runErr.Kind),
		Step:    runErr.Step,
		Tool:    runErr.Tool,
		Message: runErr.Err.Error(),
	})
}

func completionEvent(runID string, res *Result) event.Event {
	return event.New(event.TypeCompletion, runID, event.CompletionData{
		Status: string(res.Status),
		Steps:  res.Steps,
		Output: res.Output,
	})
}
