package loop

import "fmt"

// Kind classifies the failures a run can abort on.
type Kind string

const (
	// KindRemoteCall marks a failed completion request.
	KindRemoteCall Kind = "remote_call"
	// KindToolExecution marks a tool handler that returned an error.
	KindToolExecution Kind = "tool_execution"
	// KindUnknownTool marks a tool call referencing an unregistered name.
	KindUnknownTool Kind = "unknown_tool"
	// KindSchemaParse marks an argument payload rejected by the tool schema.
	KindSchemaParse Kind = "schema_parse"
	// KindNoProgress marks a response with neither tool calls nor a
	// satisfying stop signal; the loop breaks instead of spinning.
	KindNoProgress Kind = "no_progress"
)

// RunError wraps a failure with the loop context needed to report it: the
// iteration it happened on and, when applicable, the tool involved.
type RunError struct {
	Kind Kind
	Step int
	Tool string
	Err  error
}

func (e *RunError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("step %d: %s (tool %s): %v", e.Step, e.Kind, e.Tool, e.Err)
	}
	return fmt.Sprintf("step %d: %s: %v", e.Step, e.Kind, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
