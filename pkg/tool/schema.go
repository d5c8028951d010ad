package tool

// JSONSchema captures the subset of JSON Schema we require for tool
// argument validation and schema advertisement.
type JSONSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
}

// AsMap renders the schema as the generic mapping provider adapters expect.
func (s *JSONSchema) AsMap() map[string]any {
	if s == nil {
		return nil
	}
	out := map[string]any{"type": s.Type}
	if s.Properties != nil {
		out["properties"] = s.Properties
	} else {
		out["properties"] = map[string]any{}
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}
