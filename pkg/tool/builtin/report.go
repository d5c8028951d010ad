package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/convoflow/agentloop/pkg/tool"
)

// WeatherReport is the structured final answer the report tool accepts.
type WeatherReport struct {
	CurrentWeather []CurrentWeather `json:"current_weather"`
}

// ReportTool is the named final tool of the weather demo: the model calls it
// with the assembled report once it has gathered enough data, and the loop
// treats that call as the run's answer.
type ReportTool struct{}

// NewReportTool constructs the report finalizer.
func NewReportTool() *ReportTool {
	return &ReportTool{}
}

func (t *ReportTool) Name() string { return "weather_report" }

func (t *ReportTool) Description() string {
	return "Generate a structured weather report from gathered weather data"
}

func (t *ReportTool) Schema() *tool.JSONSchema {
	return &tool.JSONSchema{
		Type: "object",
		Properties: map[string]any{
			"current_weather": map[string]any{
				"type":        "array",
				"description": "One entry per location covered by the report",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"location":    map[string]any{"type": "string"},
						"temperature": map[string]any{"type": "string"},
						"unit":        map[string]any{"type": "string"},
					},
				},
			},
		},
		Required: []string{"current_weather"},
	}
}

// Execute re-encodes the argument payload through the typed report shape so
// malformed reports fail here instead of propagating downstream.
func (t *ReportTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode report arguments: %w", err)
	}
	var report WeatherReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("decode weather report: %w", err)
	}
	if len(report.CurrentWeather) == 0 {
		return nil, fmt.Errorf("weather report has no entries")
	}

	out, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode weather report: %w", err)
	}
	return &tool.Result{Output: string(out), Data: report}, nil
}
