// Package anthropic implements the model surface on top of Anthropic's
// Messages API using a plain HTTP client, including tool use and SSE
// streaming for text generation.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	modelpkg "github.com/convoflow/agentloop/pkg/model"
)

// Ensure AnthropicProvider satisfies the Provider interface at compile time.
var _ modelpkg.Provider = (*AnthropicProvider)(nil)

// AnthropicProvider wires Anthropic-backed model implementations into the
// factory.
type AnthropicProvider struct {
	HTTPClient *http.Client
}

// NewProvider builds an AnthropicProvider with the supplied HTTP client. When
// client is nil, a default client with sane timeouts will be used.
func NewProvider(client *http.Client) *AnthropicProvider {
	return &AnthropicProvider{HTTPClient: client}
}

// Name advertises the provider identifier used by the factory.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// NewModel materializes an AnthropicModel configured according to cfg.
func (p *AnthropicProvider) NewModel(ctx context.Context, cfg modelpkg.ModelConfig) (modelpkg.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}

	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		modelName = strings.TrimSpace(cfg.Name)
	}
	if modelName == "" {
		return nil, errors.New("anthropic model name is required")
	}

	client := p.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout * time.Second}
	}

	return &AnthropicModel{
		client:  client,
		baseURL: sanitizeBaseURL(cfg.BaseURL),
		model:   modelName,
		headers: requestHeaders(apiKey, cfg.Headers),
		opts:    parseModelOptions(cfg.Extra),
	}, nil
}

func sanitizeBaseURL(base string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(base), "/")
	if trimmed == "" {
		return defaultBaseURL
	}
	return trimmed
}

// requestHeaders assembles the static header set sent with every request.
// Caller-supplied headers can override the defaults except the API key.
func requestHeaders(apiKey string, overrides map[string]string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Anthropic-Version", anthropicVersion)
	h.Set("User-Agent", userAgent)
	for k, v := range overrides {
		if strings.TrimSpace(k) == "" || v == "" {
			continue
		}
		h.Set(k, v)
	}
	h.Set("X-API-Key", apiKey)
	return h
}
