// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package provider

import (
	"context"
	"io"
	"net/http"

	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

// APIProviderName identifies an API-kind provider for key validation.
type APIProviderName string

const (
	APIProviderOpenAI    APIProviderName = "openai"
	APIProviderAnthropic APIProviderName = "anthropic"
	APIProviderGoogle    APIProviderName = "google"
)

// ValidateKey makes a lightweight HTTP call to the provider's models
// endpoint to confirm the API key is valid before the provider is wired
// into the registry.
func ValidateKey(ctx context.Context, client *http.Client, provider APIProviderName, key string) error {
	var (
		url     string
		headers map[string]string
	)

	switch provider {
	case APIProviderAnthropic:
		url = "https://api.anthropic.com/v1/models"
		headers = map[string]string{
			"x-api-key":         key,
			"anthropic-version": "2023-06-01",
		}
	case APIProviderOpenAI:
		url = "https://api.openai.com/v1/models"
		headers = map[string]string{
			"Authorization": "Bearer " + key,
		}
	case APIProviderGoogle:
		// Google's Generative Language API authenticates via query parameter.
		// Note: the key will appear in HTTP proxy/CDN access logs.
		url = "https://generativelanguage.googleapis.com/v1/models?key=" + key
	default:
		return relayerr.Errorf(relayerr.CodeProviderKeyInvalid, "unknown provider: %s", provider)
	}

	return validateAgainst(ctx, client, provider, url, headers)
}

// ValidateKeyWithURL is a testable version of ValidateKey that accepts an
// explicit URL. When url is non-empty it overrides the provider default.
func ValidateKeyWithURL(ctx context.Context, client *http.Client, provider APIProviderName, key, url string) error {
	if url == "" {
		return ValidateKey(ctx, client, provider, key)
	}

	headers := map[string]string{}
	switch provider {
	case APIProviderAnthropic:
		headers["x-api-key"] = key
		headers["anthropic-version"] = "2023-06-01"
	case APIProviderOpenAI:
		headers["Authorization"] = "Bearer " + key
	}

	return validateAgainst(ctx, client, provider, url, headers)
}

func validateAgainst(ctx context.Context, client *http.Client, provider APIProviderName, url string, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return relayerr.Wrapf(err, relayerr.CodeProviderKeyCheckFailure, "building validation request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return relayerr.Wrapf(err, relayerr.CodeProviderKeyCheckFailure, "validating %s key", provider)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return relayerr.Errorf(relayerr.CodeProviderKeyInvalid, "invalid %s API key (HTTP %d)", provider, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return relayerr.Errorf(relayerr.CodeProviderKeyCheckFailure, "%s validation failed (HTTP %d)", provider, resp.StatusCode)
	}
	return nil
}
