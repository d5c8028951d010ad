// Package builtin ships the demo tools used by the example programs: a
// canned current-weather lookup and a structured weather-report finalizer.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/convoflow/agentloop/pkg/tool"
)

// CurrentWeather is the structured payload returned by the weather lookup.
type CurrentWeather struct {
	Location    string `json:"location"`
	Temperature string `json:"temperature"`
	Unit        string `json:"unit,omitempty"`
}

// WeatherTool answers current-weather lookups from a fixed table. It stands
// in for a real backend so demo runs are deterministic and repeatable.
type WeatherTool struct{}

// NewWeatherTool constructs the canned weather lookup.
func NewWeatherTool() *WeatherTool {
	return &WeatherTool{}
}

func (t *WeatherTool) Name() string { return "get_current_weather" }

func (t *WeatherTool) Description() string {
	return "Get the current weather in a given location"
}

func (t *WeatherTool) Schema() *tool.JSONSchema {
	return &tool.JSONSchema{
		Type: "object",
		Properties: map[string]any{
			"location": map[string]any{
				"type":        "string",
				"description": "The city and state, e.g. San Francisco, CA",
			},
			"unit": map[string]any{
				"type": "string",
				"enum": []any{"celsius", "fahrenheit"},
			},
		},
		Required: []string{"location"},
	}
}

// Execute resolves the location against the canned table. Unknown locations
// yield a payload with temperature "unknown" rather than an error, matching
// how a lenient weather backend would degrade.
func (t *WeatherTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	location, _ := args["location"].(string)
	if strings.TrimSpace(location) == "" {
		return nil, fmt.Errorf("missing required argument: location")
	}

	report := lookupWeather(location)
	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode weather payload: %w", err)
	}
	return &tool.Result{Output: string(data), Data: report}, nil
}

func lookupWeather(location string) CurrentWeather {
	switch {
	case strings.Contains(strings.ToLower(location), "tokyo"):
		return CurrentWeather{Location: "Tokyo", Temperature: "10", Unit: "celsius"}
	case strings.Contains(strings.ToLower(location), "san francisco"):
		return CurrentWeather{Location: "San Francisco", Temperature: "72", Unit: "fahrenheit"}
	case strings.Contains(strings.ToLower(location), "paris"):
		return CurrentWeather{Location: "Paris", Temperature: "22", Unit: "celsius"}
	default:
		return CurrentWeather{Location: location, Temperature: "unknown"}
	}
}
