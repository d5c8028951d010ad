// Package config loads runner settings from JSON files. Secrets stay out of
// the file: the config names the environment variable holding the API key
// and resolution happens at load time.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/convoflow/agentloop/pkg/model"
)

const defaultMaxSteps = 10

// Config stores the coarse grained runtime settings for one run profile.
type Config struct {
	Name      string         `json:"name"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	BaseURL   string         `json:"base_url,omitempty"`
	APIKeyEnv string         `json:"api_key_env,omitempty"`
	MaxSteps  int            `json:"max_steps,omitempty"`
	FinalTool string         `json:"final_tool,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// LoadConfig loads and validates configuration from disk.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return DecodeConfig(data)
}

// DecodeConfig parses a raw JSON payload into a Config instance.
func DecodeConfig(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, errors.New("config payload is empty")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces minimal structural guarantees.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("config name is required")
	}
	if strings.TrimSpace(c.Provider) == "" {
		return errors.New("config provider is required")
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("config model is required")
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("max_steps cannot be negative: %d", c.MaxSteps)
	}
	return nil
}

// StepCeiling returns the configured iteration ceiling, defaulted when unset.
func (c Config) StepCeiling() int {
	if c.MaxSteps <= 0 {
		return defaultMaxSteps
	}
	return c.MaxSteps
}

// ToModelConfig converts the profile into a provider registration, resolving
// the API key from the named environment variable.
func (c Config) ToModelConfig() (model.ModelConfig, error) {
	mc := model.ModelConfig{
		Name:     c.Name,
		Provider: c.Provider,
		Model:    c.Model,
		BaseURL:  c.BaseURL,
		Extra:    c.Options,
	}
	if c.APIKeyEnv != "" {
		key := os.Getenv(c.APIKeyEnv)
		if key == "" {
			return model.ModelConfig{}, fmt.Errorf("environment variable %s is not set", c.APIKeyEnv)
		}
		mc.APIKey = key
	}
	return mc, nil
}
