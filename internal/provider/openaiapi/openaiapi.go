// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

// Package openaiapi drives OpenAI's Chat Completions API through the
// uniform provider capability.
package openaiapi

import (
	"context"
	"errors"
	"net/http"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/chatrelay/chatrelay/internal/provider"
	"github.com/chatrelay/chatrelay/internal/store"
	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

// Config holds OpenAI provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
	Models  []string
}

var defaultModels = []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini"}

// Provider implements provider.Provider using the OpenAI Chat Completions API.
type Provider struct {
	client openaisdk.Client
	models []string
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new OpenAI provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, relayerr.New(relayerr.CodeConfigValidateInvalidValue,
			"openai: missing api_key in config")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	models := cfg.Models
	if len(models) == 0 {
		models = defaultModels
	}

	return &Provider{client: openaisdk.NewClient(opts...), models: models}, nil
}

func (p *Provider) Name() string             { return "openai" }
func (p *Provider) Kind() store.ProviderKind { return store.ProviderKindAPI }
func (p *Provider) Models() []string         { return append([]string(nil), p.models...) }
func (p *Provider) CarriesProxy() bool       { return true }

func (p *Provider) Invoke(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: convertMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(float64(req.Temperature))
	}

	var callOpts []option.RequestOption
	if req.ProxyURL != "" {
		httpClient, cerr := provider.ProxyHTTPClient(req.ProxyURL)
		if cerr != nil {
			return nil, provider.Transient(p.Name(), cerr)
		}
		callOpts = append(callOpts, option.WithHTTPClient(httpClient))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params, callOpts...)
	if err != nil {
		return nil, classify(p.Name(), err)
	}
	if len(completion.Choices) == 0 {
		return nil, provider.Transient(p.Name(),
			relayerr.New(relayerr.CodeProviderInvokeTransient, "openai returned no choices"))
	}

	return &provider.Response{
		Content: completion.Choices[0].Message.Content,
		Model:   completion.Model,
		Usage: provider.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

// OpenSession is a no-op: API access needs no persisted session.
func (p *Provider) OpenSession(context.Context) ([]byte, error) { return nil, nil }

func (p *Provider) CloseSession(context.Context, []byte) error { return nil }

func (p *Provider) Close() error { return nil }

func convertMessages(msgs []provider.Message) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleSystem:
			out = append(out, openaisdk.SystemMessage(msg.Content))
		case provider.MessageRoleAssistant:
			out = append(out, openaisdk.AssistantMessage(msg.Content))
		default:
			out = append(out, openaisdk.UserMessage(msg.Content))
		}
	}
	return out
}

// classify maps SDK errors onto the failure taxonomy: auth rejection is
// permanent, rate limits and server errors are transient, deadline
// overruns are timeouts.
func classify(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return relayerr.Wrap(err, relayerr.CodeProviderInvokeTimeout,
			"openai call timed out", relayerr.FieldProvider(name))
	}

	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return provider.Permanent(name, err)
		case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
			return provider.Transient(name, err)
		default:
			return provider.Permanent(name, err)
		}
	}

	// Connection-level failures are retryable.
	return provider.Transient(name, err)
}
