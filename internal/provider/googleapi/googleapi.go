// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

// Package googleapi drives the Google Gemini API through the uniform
// provider capability.
package googleapi

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/genai"

	"github.com/chatrelay/chatrelay/internal/provider"
	"github.com/chatrelay/chatrelay/internal/store"
	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

// Config holds Google provider configuration.
type Config struct {
	APIKey string
	Models []string
}

var defaultModels = []string{"gemini-2.5-flash", "gemini-2.5-pro"}

// Provider implements provider.Provider using the Google Gemini API.
// The genai client binds its transport at construction, so
// Request.ProxyURL cannot be honored per call; attempts go direct and
// never mirror onto a proxy.
type Provider struct {
	client *genai.Client
	models []string
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new Google provider. Returns an error if the API key is missing.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, relayerr.New(relayerr.CodeConfigValidateInvalidValue,
			"google: missing api_key in config")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, relayerr.Wrapf(err, relayerr.CodeProviderSessionOpenFailure, "google: creating client")
	}

	models := cfg.Models
	if len(models) == 0 {
		models = defaultModels
	}

	return &Provider{client: client, models: models}, nil
}

func (p *Provider) Name() string             { return "google" }
func (p *Provider) Kind() store.ProviderKind { return store.ProviderKindAPI }
func (p *Provider) Models() []string         { return append([]string(nil), p.models...) }

func (p *Provider) Invoke(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	contents, config := convertRequest(req)

	result, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, classify(p.Name(), err)
	}

	var content string
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			content += part.Text
		}
	}
	if content == "" {
		return nil, provider.Transient(p.Name(),
			relayerr.New(relayerr.CodeProviderInvokeTransient, "google returned empty response"))
	}

	resp := &provider.Response{Content: content, Model: req.Model}
	if result.UsageMetadata != nil {
		resp.Usage = provider.Usage{
			InputTokens:  int(result.UsageMetadata.PromptTokenCount),
			OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}
	return resp, nil
}

// OpenSession is a no-op: API access needs no persisted session.
func (p *Provider) OpenSession(context.Context) ([]byte, error) { return nil, nil }

func (p *Provider) CloseSession(context.Context, []byte) error { return nil }

func (p *Provider) Close() error { return nil }

func convertRequest(req *provider.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Temperature)
	}

	var contents []*genai.Content
	for _, msg := range req.Messages {
		switch msg.Role {
		case provider.MessageRoleSystem:
			// System turns map to SystemInstruction, not the content list.
			cfg.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: msg.Content}},
			}
		case provider.MessageRoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}
	return contents, cfg
}

func classify(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return relayerr.Wrap(err, relayerr.CodeProviderInvokeTimeout,
			"google call timed out", relayerr.FieldProvider(name))
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return provider.Permanent(name, err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return provider.Transient(name, err)
		default:
			return provider.Permanent(name, err)
		}
	}

	return provider.Transient(name, err)
}
