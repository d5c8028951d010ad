package model

import "context"

// Provider constructs concrete Model implementations for one backend, such
// as OpenAI's Chat Completions or Anthropic's Messages API.
type Provider interface {
	// Name is the identifier configs use to select this provider.
	Name() string
	// NewModel materializes a model instance from the given settings.
	NewModel(ctx context.Context, cfg ModelConfig) (Model, error)
}

// ModelConfig captures the settings required to build a Model instance.
// Extra carries provider-specific tuning (temperature, max tokens, system
// prompt) without bloating the common surface.
type ModelConfig struct {
	// Name labels this profile; it doubles as the model name when Model is
	// empty.
	Name string
	// Provider selects the registered Provider to route through.
	Provider string
	// Model is the backend model identifier.
	Model string
	// BaseURL overrides the provider's default endpoint, for proxies and
	// tests.
	BaseURL string
	// APIKey authenticates against the backend.
	APIKey string
	// Headers are extra HTTP headers attached to every request.
	Headers map[string]string
	// Extra holds provider-specific options.
	Extra map[string]any
}
