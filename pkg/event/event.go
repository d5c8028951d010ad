// Package event defines the typed trail a loop run leaves behind. Events are
// collected on the run result so callers can replay what happened without
// parsing log output.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminates event payloads.
type Type string

const (
	TypeProgress   Type = "progress"
	TypeToolCall   Type = "tool_call"
	TypeToolResult Type = "tool_result"
	TypeError      Type = "error"
	TypeCompletion Type = "completion"
)

// Event is one timestamped record in a run's trail. Data holds one of the
// typed payload structs below, matching Type.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// New stamps a fresh event with an ID and the current time.
func New(t Type, runID string, data any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Data:      data,
	}
}

// ProgressData reports a stage transition within a run.
type ProgressData struct {
	Stage   string `json:"stage"`
	Step    int    `json:"step,omitempty"`
	Message string `json:"message,omitempty"`
}

// ToolCallData records a tool invocation request from the assistant.
type ToolCallData struct {
	CallID string         `json:"call_id"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// ToolResultData records the outcome of one tool invocation.
type ToolResultData struct {
	CallID   string        `json:"call_id"`
	Name     string        `json:"name"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// ErrorData describes a failure observed during a run.
type ErrorData struct {
	Kind    string `json:"kind"`
	Step    int    `json:"step,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Message string `json:"message"`
}

// CompletionData summarizes how a run ended.
type CompletionData struct {
	Status string `json:"status"`
	Steps  int    `json:"steps"`
	Output string `json:"output,omitempty"`
}
