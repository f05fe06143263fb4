// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

// Package anthropicapi drives Anthropic's Messages API through the
// uniform provider capability.
package anthropicapi

import (
	"context"
	"errors"
	"net/http"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/chatrelay/chatrelay/internal/provider"
	"github.com/chatrelay/chatrelay/internal/store"
	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

// Config holds Anthropic provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
	Models  []string
}

var defaultModels = []string{"claude-sonnet-4-5", "claude-haiku-4-5"}

// Provider implements provider.Provider using the Anthropic Messages API.
type Provider struct {
	client anthropicsdk.Client
	models []string
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new Anthropic provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, relayerr.New(relayerr.CodeConfigValidateInvalidValue,
			"anthropic: missing api_key in config")
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

	return &Provider{client: anthropicsdk.NewClient(opts...), models: models}, nil
}

func (p *Provider) Name() string             { return "anthropic" }
func (p *Provider) Kind() store.ProviderKind { return store.ProviderKindAPI }
func (p *Provider) Models() []string         { return append([]string(nil), p.models...) }
func (p *Provider) CarriesProxy() bool       { return true }

func (p *Provider) Invoke(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		MaxTokens: maxTokens,
	}
	var system string
	for _, msg := range req.Messages {
		switch msg.Role {
		case provider.MessageRoleSystem:
			// System turns go to the top-level system param, not the
			// message list.
			system = msg.Content
		case provider.MessageRoleAssistant:
			params.Messages = append(params.Messages,
				anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages,
				anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content)))
		}
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropicsdk.Float(float64(req.Temperature))
	}

	var callOpts []option.RequestOption
	if req.ProxyURL != "" {
		httpClient, cerr := provider.ProxyHTTPClient(req.ProxyURL)
		if cerr != nil {
			return nil, provider.Transient(p.Name(), cerr)
		}
		callOpts = append(callOpts, option.WithHTTPClient(httpClient))
	}

	msg, err := p.client.Messages.New(ctx, params, callOpts...)
	if err != nil {
		return nil, classify(p.Name(), err)
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &provider.Response{
		Content: content,
		Model:   string(msg.Model),
		Usage: provider.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// OpenSession is a no-op: API access needs no persisted session.
func (p *Provider) OpenSession(context.Context) ([]byte, error) { return nil, nil }

func (p *Provider) CloseSession(context.Context, []byte) error { return nil }

func (p *Provider) Close() error { return nil }

func classify(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return relayerr.Wrap(err, relayerr.CodeProviderInvokeTimeout,
			"anthropic call timed out", relayerr.FieldProvider(name))
	}

	var apiErr *anthropicsdk.Error
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

	return provider.Transient(name, err)
}
