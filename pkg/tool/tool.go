// Package tool defines the local callables a conversation loop can dispatch
// to, and the registry that maps tool names onto them.
package tool

import "context"

// Tool is a local callable the completion service can request by name.
// Execute must be side-effect-safe to call multiple times across runs; it
// receives the argument payload from the tool call and returns a serialized
// result suitable for appending to the conversation.
type Tool interface {
	Name() string
	Description() string
	Schema() *JSONSchema
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Result captures the outcome of a tool invocation. Output is the serialized
// payload sent back to the completion service; Data optionally keeps the
// structured form for local inspection.
type Result struct {
	Output string
	Data   any
}
