package openai

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"

	modelpkg "github.com/convoflow/agentloop/pkg/model"
)

type modelOptions struct {
	MaxTokens      int
	Temperature    *float64
	System         string
	ResponseFormat *responseFormat
}

// responseFormat constrains the final assistant content to a JSON schema.
// The service still emits tool calls on intermediate turns; only natural
// completions carry the schema-shaped content.
type responseFormat struct {
	Name   string
	Schema map[string]any
	Strict bool
}

func parseModelOptions(extra map[string]any) modelOptions {
	var opts modelOptions
	for key, val := range extra {
		switch strings.ToLower(key) {
		case "max_tokens":
			if v, ok := toInt(val); ok {
				opts.MaxTokens = v
			}
		case "temperature":
			if v, ok := toFloat(val); ok {
				opts.Temperature = &v
			}
		case "system":
			opts.System = fmt.Sprint(val)
		case "response_format":
			opts.ResponseFormat = parseResponseFormat(val)
		}
	}
	return opts
}

func parseResponseFormat(val any) *responseFormat {
	m, ok := val.(map[string]any)
	if !ok {
		return nil
	}
	rf := &responseFormat{}
	if name, ok := m["name"].(string); ok {
		rf.Name = name
	}
	if schema, ok := m["schema"].(map[string]any); ok {
		rf.Schema = schema
	}
	if strict, ok := m["strict"].(bool); ok {
		rf.Strict = strict
	}
	if rf.Name == "" || rf.Schema == nil {
		return nil
	}
	return rf
}

func toResponseFormat(rf *responseFormat) openai.ChatCompletionNewParamsResponseFormatUnion {
	schema := shared.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:   rf.Name,
		Schema: rf.Schema,
	}
	if rf.Strict {
		schema.Strict = openai.Bool(true)
	}
	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{JSONSchema: schema},
	}
}

func toInt(val any) (int, bool) {
	switch v := val.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		return i, err == nil
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

func toFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// toChatMessages translates the neutral conversation into Chat Completions
// message params. A configured system prompt is prepended when the
// conversation does not open with its own system turn.
func toChatMessages(msgs []modelpkg.Message, system string) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" && (len(msgs) == 0 || msgs[0].Role != modelpkg.RoleSystem) {
		out = append(out, openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(system),
				},
			},
		})
	}
	for _, m := range msgs {
		switch m.Role {
		case modelpkg.RoleSystem:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(m.Content),
					},
				},
			})
		case modelpkg.RoleUser:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(m.Content),
					},
				},
			})
		case modelpkg.RoleAssistant:
			asst := &openai.ChatCompletionAssistantMessageParam{
				Content: openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(m.Content),
				},
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: encodeArguments(tc.Arguments),
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: asst,
			})
		case modelpkg.RoleTool:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					ToolCallID: m.ToolCallID,
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(m.Content),
					},
				},
			})
		}
	}
	return out
}

func toChatTools(defs []modelpkg.ToolDefinition) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, len(defs))
	for i, d := range defs {
		out[i] = openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        d.Name,
					Description: openai.String(d.Description),
					Parameters:  shared.FunctionParameters(d.Parameters),
				},
			},
		}
	}
	return out
}

func toToolChoice(choice modelpkg.ToolChoice) (openai.ChatCompletionToolChoiceOptionUnionParam, bool) {
	switch choice.Mode {
	case modelpkg.ToolChoiceRequired:
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String("required"),
		}, true
	case modelpkg.ToolChoiceTool:
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfFunctionToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{
					Name: choice.Tool,
				},
			},
		}, true
	default:
		// The API defaults to auto; sending nothing keeps requests minimal.
		return openai.ChatCompletionToolChoiceOptionUnionParam{}, false
	}
}

func fromChatCompletion(resp *openai.ChatCompletion) (modelpkg.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return modelpkg.Response{}, fmt.Errorf("openai response has no choices")
	}
	choice := resp.Choices[0]
	msg := modelpkg.Message{
		Role:    modelpkg.RoleAssistant,
		Content: choice.Message.Content,
	}
	for _, tc := range choice.Message.ToolCalls {
		if tc.Type != "function" {
			continue
		}
		fn := tc.AsFunction()
		args, err := decodeArguments(fn.Function.Arguments)
		if err != nil {
			return modelpkg.Response{}, fmt.Errorf("decode tool call %s arguments: %w", fn.Function.Name, err)
		}
		msg.ToolCalls = append(msg.ToolCalls, modelpkg.ToolCall{
			ID:        fn.ID,
			Name:      fn.Function.Name,
			Arguments: args,
		})
	}
	return modelpkg.Response{
		Message:    msg,
		StopReason: convertFinishReason(choice.FinishReason, len(msg.ToolCalls) > 0),
	}, nil
}

func convertFinishReason(reason string, hasToolCalls bool) modelpkg.StopReason {
	switch reason {
	case "stop":
		return modelpkg.StopEndTurn
	case "tool_calls", "function_call":
		return modelpkg.StopToolUse
	case "length":
		return modelpkg.StopMaxTokens
	}
	if hasToolCalls {
		return modelpkg.StopToolUse
	}
	return modelpkg.StopOther
}

func encodeArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}
