package loop

import (
	"time"

	"github.com/convoflow/agentloop/pkg/event"
	"github.com/convoflow/agentloop/pkg/model"
)

// Status distinguishes the three ways a run can end.
type Status string

const (
	// StatusAnswer means the termination condition was satisfied.
	StatusAnswer Status = "answer_produced"
	// StatusCeiling means the iteration ceiling was reached. This is a
	// normal, non-fatal termination path.
	StatusCeiling Status = "ceiling_reached"
	// StatusAborted means a failure stopped the run.
	StatusAborted Status = "aborted_on_error"
)

// Result captures the outcome of one run. Messages holds the conversation as
// it stood when the loop returned; ownership transfers to the caller.
type Result struct {
	RunID     string
	Status    Status
	Output    string
	Payload   map[string]any
	Steps     int
	ToolCalls []ToolCallRecord
	Messages  []model.Message
	Events    []event.Event
}

// ToolCallRecord documents one dispatched tool invocation.
type ToolCallRecord struct {
	ID       string
	Name     string
	Args     map[string]any
	Output   string
	Error    string
	Duration time.Duration
}

// Failed reports whether the invocation returned an error.
func (r ToolCallRecord) Failed() bool {
	return r.Error != ""
}
