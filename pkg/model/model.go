package model

import "context"

// StopReason is the unified completion-status signal. Provider adapters map
// their native stop markers (finish_reason, stop_reason) onto these cases so
// callers never inspect provider-specific fields.
type StopReason string

const (
	// StopEndTurn means the service reported natural completion.
	StopEndTurn StopReason = "end_turn"
	// StopToolUse means the assistant turn requests tool invocations.
	StopToolUse StopReason = "tool_use"
	// StopMaxTokens means generation was truncated by the token limit.
	StopMaxTokens StopReason = "max_tokens"
	// StopOther covers provider-specific reasons with no unified meaning.
	StopOther StopReason = "other"
)

// ToolChoiceMode selects the tool-selection policy sent with a request.
type ToolChoiceMode string

const (
	// ToolChoiceAuto lets the model decide whether to call tools.
	ToolChoiceAuto ToolChoiceMode = "auto"
	// ToolChoiceRequired forces the model to call some tool.
	ToolChoiceRequired ToolChoiceMode = "required"
	// ToolChoiceTool forces the model to call one specific tool.
	ToolChoiceTool ToolChoiceMode = "tool"
)

// ToolChoice carries the tool-selection policy. Tool is only consulted when
// Mode is ToolChoiceTool.
type ToolChoice struct {
	Mode ToolChoiceMode
	Tool string
}

// ToolDefinition describes one callable tool in the static schema list sent
// with each request. Parameters holds a JSON Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request bundles everything one completion call needs: the conversation so
// far, the tool schema list, and the tool-selection policy.
type Request struct {
	Messages   []Message
	Tools      []ToolDefinition
	ToolChoice ToolChoice
}

// Response is the unified result of one completion call.
type Response struct {
	Message    Message
	StopReason StopReason
}

// Model is a blocking completion endpoint. Implementations translate the
// provider-neutral Request into their wire format and back.
type Model interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// StreamResult carries one incremental chunk from a streaming generation.
// Final marks the closing chunk, whose Message holds the accumulated text.
type StreamResult struct {
	Message Message
	Final   bool
}

// StreamCallback receives streaming chunks. Returning an error stops the
// stream and propagates out of GenerateStream.
type StreamCallback func(StreamResult) error

// StreamingModel is implemented by models that support incremental text
// generation in addition to the blocking call.
type StreamingModel interface {
	Model
	GenerateStream(ctx context.Context, req Request, cb StreamCallback) error
}
