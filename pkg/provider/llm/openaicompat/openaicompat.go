// Package openaicompat provides an LLM provider for any endpoint speaking the
// OpenAI chat-completions API (OpenAI itself, vLLM, LocalAI, Ollama's compat
// layer, ...). It is the only backend with a live model listing.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/vocata-ai/vocata/pkg/provider/llm"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*config)

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// WithBaseURL points the client at an OpenAI-compatible server instead of the
// default OpenAI API.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Provider implements llm.Provider using the official OpenAI Go SDK. Safe for
// concurrent use.
type Provider struct {
	client oai.Client
	model  string
}

// New creates a Provider with model as the default model. apiKey may be empty
// for local servers that skip authentication.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("openaicompat: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Name returns "openai".
func (p *Provider) Name() string { return "openai" }

// Complete sends one chat-completion request and returns the reply text.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (string, error) {
	if strings.TrimSpace(req.Query) == "" {
		return "", errors.New("openaicompat: query must not be empty")
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	var messages []oai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, t := range req.History {
		switch t.Role {
		case llm.RoleAssistant:
			messages = append(messages, oai.AssistantMessage(t.Content))
		default:
			messages = append(messages, oai.UserMessage(t.Content))
		}
	}
	messages = append(messages, oai.UserMessage(req.Query))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openaicompat: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openaicompat: response contained no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Models lists the models the endpoint serves. Falls back to the configured
// model when the endpoint does not implement the listing API.
func (p *Provider) Models(ctx context.Context) ([]string, error) {
	var names []string
	iter := p.client.Models.ListAutoPaging(ctx)
	for iter.Next() {
		names = append(names, iter.Current().ID)
	}
	if err := iter.Err(); err != nil {
		return []string{p.model}, nil
	}
	if len(names) == 0 {
		names = []string{p.model}
	}
	return names, nil
}
