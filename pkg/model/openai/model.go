// Package openai adapts the official OpenAI Go SDK's Chat Completions API to
// the provider-neutral model surface.
package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	modelpkg "github.com/convoflow/agentloop/pkg/model"
)

// Ensure OpenAIProvider satisfies the Provider interface at compile time.
var _ modelpkg.Provider = (*OpenAIProvider)(nil)

// OpenAIProvider wires OpenAI-backed model implementations into the factory.
type OpenAIProvider struct {
	// Options are extra request options applied to every client, for example
	// option.WithHTTPClient for tests.
	Options []option.RequestOption
}

// NewProvider builds an OpenAIProvider with the supplied request options.
func NewProvider(opts ...option.RequestOption) *OpenAIProvider {
	return &OpenAIProvider{Options: opts}
}

// Name advertises the provider identifier used by the factory.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// NewModel materializes an OpenAIModel configured according to cfg.
func (p *OpenAIProvider) NewModel(ctx context.Context, cfg modelpkg.ModelConfig) (modelpkg.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		modelName = strings.TrimSpace(cfg.Name)
	}
	if modelName == "" {
		return nil, errors.New("openai model name is required")
	}

	opts := append([]option.RequestOption(nil), p.Options...)
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	for k, v := range cfg.Headers {
		if strings.TrimSpace(k) == "" || v == "" {
			continue
		}
		opts = append(opts, option.WithHeader(k, v))
	}

	return &OpenAIModel{
		client: openai.NewClient(opts...),
		model:  modelName,
		opts:   parseModelOptions(cfg.Extra),
	}, nil
}

// OpenAIModel is a concrete model backed by the Chat Completions API.
type OpenAIModel struct {
	client openai.Client
	model  string
	opts   modelOptions
}

// Generate performs a blocking Chat Completions call.
func (m *OpenAIModel) Generate(ctx context.Context, req modelpkg.Request) (modelpkg.Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.model),
		Messages: toChatMessages(req.Messages, m.opts.System),
	}
	if m.opts.Temperature != nil {
		params.Temperature = openai.Float(*m.opts.Temperature)
	}
	if m.opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(m.opts.MaxTokens))
	}
	if m.opts.ResponseFormat != nil {
		params.ResponseFormat = toResponseFormat(m.opts.ResponseFormat)
	}
	if len(req.Tools) > 0 {
		params.Tools = toChatTools(req.Tools)
		if tc, ok := toToolChoice(req.ToolChoice); ok {
			params.ToolChoice = tc
		}
	}

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return modelpkg.Response{}, err
	}
	return fromChatCompletion(resp)
}
