package anthropic

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// modelOptions holds the per-model tuning knobs read from ModelConfig.Extra.
// Pointer fields distinguish "unset" from zero so defaults stay server-side.
type modelOptions struct {
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	TopK        *int
	System      string
	Metadata    map[string]any
}

func parseModelOptions(extra map[string]any) modelOptions {
	opts := modelOptions{MaxTokens: defaultMaxTokens}
	kv := extraValues(extra)

	if v, ok := kv.intVal("max_tokens"); ok {
		opts.MaxTokens = v
	}
	if v, ok := kv.floatVal("temperature"); ok {
		opts.Temperature = &v
	}
	if v, ok := kv.floatVal("top_p"); ok {
		opts.TopP = &v
	}
	if v, ok := kv.intVal("top_k"); ok {
		opts.TopK = &v
	}
	if v, ok := kv.stringVal("system"); ok {
		opts.System = v
	}
	if raw, ok := kv.lookup("metadata"); ok {
		if m, ok := raw.(map[string]any); ok {
			opts.Metadata = cloneMetadata(m)
		}
	}
	return opts
}

// extraValues reads config extras with case-insensitive keys.
type extraValues map[string]any

func (e extraValues) lookup(key string) (any, bool) {
	for k, v := range e {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func (e extraValues) intVal(key string) (int, bool) {
	raw, ok := e.lookup(key)
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float32:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		return i, err == nil
	}
	return 0, false
}

func (e extraValues) floatVal(key string) (float64, bool) {
	raw, ok := e.lookup(key)
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func (e extraValues) stringVal(key string) (string, bool) {
	raw, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	return fmt.Sprint(raw), true
}

func cloneMetadata(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
