package model

// Role identifies who authored a conversational turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a single conversational turn exchanged with a model.
// Assistant turns may carry tool calls; tool turns answer exactly one call
// identified by ToolCallID.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

// ToolCall captures a tool invocation emitted by assistant messages. The ID
// is an opaque token unique within one assistant turn.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResultMessage builds the tool turn answering the given call.
func ToolResultMessage(call ToolCall, output string) Message {
	return Message{
		Role:       RoleTool,
		Content:    output,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
}

// SystemMessage is a convenience constructor for system turns.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage is a convenience constructor for user turns.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}
