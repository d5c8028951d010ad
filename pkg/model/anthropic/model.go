package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	modelpkg "github.com/convoflow/agentloop/pkg/model"
)

// Ensure AnthropicModel implements the streaming model interface.
var _ modelpkg.StreamingModel = (*AnthropicModel)(nil)

// AnthropicModel is a concrete model backed by Anthropic's Messages API.
type AnthropicModel struct {
	client  *http.Client
	baseURL string
	model   string
	headers http.Header
	opts    modelOptions
}

// Generate performs a blocking Anthropic Messages API call.
func (m *AnthropicModel) Generate(ctx context.Context, req modelpkg.Request) (modelpkg.Response, error) {
	payload := m.buildPayload(req, false)
	resp, err := m.doRequest(ctx, payload)
	if err != nil {
		return modelpkg.Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return modelpkg.Response{}, readAPIError(resp)
	}

	var msgResp MessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&msgResp); err != nil {
		return modelpkg.Response{}, fmt.Errorf("decode anthropic response: %w", err)
	}

	return convertResponse(msgResp), nil
}

// GenerateStream invokes the Anthropic streaming endpoint (SSE) and relays
// incremental text chunks into cb. Tool-use turns are not streamed; the loop
// uses the blocking call for those.
func (m *AnthropicModel) GenerateStream(ctx context.Context, req modelpkg.Request, cb modelpkg.StreamCallback) error {
	if cb == nil {
		return errors.New("anthropic stream callback is required")
	}

	payload := m.buildPayload(req, true)
	resp, err := m.doRequest(ctx, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return readAPIError(resp)
	}

	var full strings.Builder
	finalSent := false
	streamErr := consumeSSE(ctx, resp.Body, func(_ string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" {
			return nil
		}

		var envelope StreamEventEnvelope
		if err := json.Unmarshal([]byte(data), &envelope); err != nil {
			return fmt.Errorf("decode anthropic stream envelope: %w", err)
		}

		switch envelope.Type {
		case "content_block_delta":
			var delta ContentBlockDeltaEvent
			if err := json.Unmarshal([]byte(data), &delta); err != nil {
				return fmt.Errorf("decode anthropic delta: %w", err)
			}
			chunk := delta.Delta.Text
			if chunk == "" {
				return nil
			}
			full.WriteString(chunk)
			return cb(modelpkg.StreamResult{Message: modelpkg.Message{Role: modelpkg.RoleAssistant, Content: chunk}})
		case "message_stop":
			if finalSent {
				return nil
			}
			finalSent = true
			return cb(modelpkg.StreamResult{
				Message: modelpkg.Message{Role: modelpkg.RoleAssistant, Content: full.String()},
				Final:   true,
			})
		default:
			return nil
		}
	})

	if streamErr != nil {
		return streamErr
	}

	if !finalSent {
		return cb(modelpkg.StreamResult{
			Message: modelpkg.Message{Role: modelpkg.RoleAssistant, Content: full.String()},
			Final:   true,
		})
	}

	return nil
}

func (m *AnthropicModel) buildPayload(req modelpkg.Request, stream bool) MessageRequest {
	systemText, chatMessages := toAnthropicMessages(req.Messages)
	if m.opts.System != "" {
		if systemText != "" {
			systemText = systemText + "\n\n" + m.opts.System
		} else {
			systemText = m.opts.System
		}
	}

	payload := MessageRequest{
		Model:     m.model,
		Messages:  chatMessages,
		MaxTokens: m.opts.MaxTokens,
		Stream:    stream,
	}
	if payload.MaxTokens <= 0 {
		payload.MaxTokens = defaultMaxTokens
	}

	if systemText != "" {
		payload.System = systemText
	}
	if len(req.Tools) > 0 {
		payload.Tools = toToolSchemas(req.Tools)
		payload.ToolChoice = toToolChoice(req.ToolChoice)
	}
	if m.opts.Metadata != nil {
		payload.Metadata = cloneMetadata(m.opts.Metadata)
	}
	if m.opts.Temperature != nil {
		payload.Temperature = m.opts.Temperature
	}
	if m.opts.TopP != nil {
		payload.TopP = m.opts.TopP
	}
	if m.opts.TopK != nil {
		payload.TopK = m.opts.TopK
	}

	return payload
}

func (m *AnthropicModel) doRequest(ctx context.Context, payload MessageRequest) (*http.Response, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("encode anthropic request: %w", err)
	}

	endpoint := m.baseURL + messagesPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}

	for k, vals := range m.headers {
		req.Header[k] = append([]string(nil), vals...)
	}

	return m.client.Do(req)
}

func readAPIError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("anthropic api status %d: %w", resp.StatusCode, err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	var apiErr ErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return APIError{StatusCode: resp.StatusCode, Type: apiErr.Error.Type, Message: apiErr.Error.Message}
	}

	return APIError{StatusCode: resp.StatusCode, Message: string(body)}
}

func toToolSchemas(tools []modelpkg.ToolDefinition) []ToolSchema {
	out := make([]ToolSchema, 0, len(tools))
	for _, t := range tools {
		out = append(out, ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return out
}

func toToolChoice(choice modelpkg.ToolChoice) *ToolChoiceParam {
	switch choice.Mode {
	case modelpkg.ToolChoiceRequired:
		return &ToolChoiceParam{Type: "any"}
	case modelpkg.ToolChoiceTool:
		return &ToolChoiceParam{Type: "tool", Name: choice.Tool}
	default:
		return &ToolChoiceParam{Type: "auto"}
	}
}

func convertResponse(resp MessageResponse) modelpkg.Response {
	msg := modelpkg.Message{Role: modelpkg.Role(resp.Role)}
	var text strings.Builder
	var toolCalls []modelpkg.ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			toolCalls = append(toolCalls, modelpkg.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	msg.Content = text.String()
	msg.ToolCalls = toolCalls
	if msg.Role == "" {
		msg.Role = modelpkg.RoleAssistant
	}
	return modelpkg.Response{
		Message:    msg,
		StopReason: convertStopReason(resp.StopReason, len(toolCalls) > 0),
	}
}

func convertStopReason(reason string, hasToolCalls bool) modelpkg.StopReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return modelpkg.StopEndTurn
	case "tool_use":
		return modelpkg.StopToolUse
	case "max_tokens":
		return modelpkg.StopMaxTokens
	}
	if hasToolCalls {
		return modelpkg.StopToolUse
	}
	return modelpkg.StopOther
}

// toAnthropicMessages translates the neutral conversation into Anthropic
// turns. System messages are hoisted into the system parameter; tool-result
// turns become tool_result blocks inside a user message, with consecutive
// results grouped into one turn as the API expects.
func toAnthropicMessages(messages []modelpkg.Message) (string, []MessageParam) {
	var systemParts []string
	out := make([]MessageParam, 0, len(messages))

	appendToolResult := func(msg modelpkg.Message) {
		block := ContentBlock{
			Type:      "tool_result",
			ToolUseID: msg.ToolCallID,
			Content:   msg.Content,
		}
		if n := len(out); n > 0 && out[n-1].Role == "user" && len(out[n-1].Content) > 0 && out[n-1].Content[0].Type == "tool_result" {
			out[n-1].Content = append(out[n-1].Content, block)
			return
		}
		out = append(out, MessageParam{Role: "user", Content: []ContentBlock{block}})
	}

	for _, msg := range messages {
		switch msg.Role {
		case modelpkg.RoleSystem:
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
			continue
		case modelpkg.RoleTool:
			appendToolResult(msg)
			continue
		}

		blocks := make([]ContentBlock, 0, 1+len(msg.ToolCalls))
		if msg.Content != "" {
			blocks = append(blocks, ContentBlock{Type: "text", Text: msg.Content})
		}
		for _, call := range msg.ToolCalls {
			blocks = append(blocks, ContentBlock{
				Type:  "tool_use",
				ID:    call.ID,
				Name:  call.Name,
				Input: call.Arguments,
			})
		}
		if len(blocks) == 0 {
			blocks = append(blocks, ContentBlock{Type: "text", Text: ""})
		}

		out = append(out, MessageParam{Role: normalizeRole(msg.Role), Content: blocks})
	}

	if len(out) == 0 {
		out = append(out, MessageParam{
			Role:    "user",
			Content: []ContentBlock{{Type: "text", Text: ""}},
		})
	}
	return strings.Join(systemParts, "\n\n"), out
}

func normalizeRole(role modelpkg.Role) string {
	switch role {
	case modelpkg.RoleAssistant:
		return "assistant"
	default:
		return "user"
	}
}
