// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/config"
)

func testRelayConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Listen: "127.0.0.1:0"},
		Storage: config.StorageConfig{Backend: "memory"},
		Routing: config.RoutingConfig{
			WeightStreak:     10,
			WeightSuccess:    100,
			WeightLatency:    0.001,
			BreakerThreshold: 5,
			BreakerCooldown:  time.Minute,
			AttemptTimeout:   2 * time.Minute,
		},
		Sessions:   config.SessionsConfig{UsageCap: 50},
		Disposable: config.DisposableConfig{MaxMessages: 20},
		Providers: map[string]config.ProviderConfig{
			"openai": {Mode: "api", APIKey: "test-key"},
			"polly":  {Mode: "api", Region: "us-east-1"},
			"anthropic": {
				Mode:       "disposable",
				APIKey:     "test-key",
				LandingURL: "https://example.com/chat",
			},
		},
		Models: []config.ModelEntry{
			{Name: "chat-best", Provider: "openai", Model: "gpt-4o"},
			{Name: "chat-best", Provider: "anthropic", Model: "claude-sonnet-4-5"},
		},
	}
}

func TestWireRelay(t *testing.T) {
	relay, err := WireRelay(context.Background(), testRelayConfig(), t.TempDir())
	require.NoError(t, err)
	defer func() { _ = relay.Close() }()

	assert.NotNil(t, relay.Server)
	assert.NotNil(t, relay.Store)
	assert.NotNil(t, relay.Registry)
	assert.NotNil(t, relay.Engine)
	assert.Nil(t, relay.Prober, "prober should only exist when proxying is enabled")

	assert.ElementsMatch(t, []string{"openai", "polly", "anthropic"}, relay.Registry.Names())

	statuses := relay.Disposables.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "anthropic", statuses[0].Provider)
	assert.False(t, statuses[0].Running, "no browser session before the first send")
}

func TestWireRelay_ProberWiredWhenProxyingEnabled(t *testing.T) {
	cfg := testRelayConfig()
	cfg.Proxies = config.ProxiesConfig{
		Enabled:          true,
		FailureThreshold: 3,
		ProbeInterval:    time.Minute,
		ProbeTimeout:     5 * time.Second,
	}

	relay, err := WireRelay(context.Background(), cfg, t.TempDir())
	require.NoError(t, err)
	defer func() { _ = relay.Close() }()

	assert.NotNil(t, relay.Prober)
}

func TestRelay_GracefulShutdown(t *testing.T) {
	relay, err := WireRelay(context.Background(), testRelayConfig(), t.TempDir())
	require.NoError(t, err)
	defer func() { _ = relay.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Start and immediately cancel — should shut down cleanly.
	err = relay.Start(ctx)
	assert.NoError(t, err)
}

func TestWireRelay_ChatEndpointRegistered(t *testing.T) {
	relay, err := WireRelay(context.Background(), testRelayConfig(), t.TempDir())
	require.NoError(t, err)
	defer func() { _ = relay.Close() }()

	// An empty message list is rejected before any provider is touched,
	// proving the dispatch endpoint is mounted and wired to the engine.
	body := `{"model":"chat-best","messages":[]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	relay.Server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request_error")
}

func TestWireRelay_AdminModelsFromCatalog(t *testing.T) {
	relay, err := WireRelay(context.Background(), testRelayConfig(), t.TempDir())
	require.NoError(t, err)
	defer func() { _ = relay.Close() }()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	w := httptest.NewRecorder()
	relay.Server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chat-best")
}

func TestWireRelay_SkipsUnknownProvider(t *testing.T) {
	cfg := testRelayConfig()
	cfg.Providers["carrier-pigeon"] = config.ProviderConfig{Mode: "api"}

	relay, err := WireRelay(context.Background(), cfg, t.TempDir())
	require.NoError(t, err)
	defer func() { _ = relay.Close() }()

	assert.NotContains(t, relay.Registry.Names(), "carrier-pigeon")
}

func TestWireRelay_SqliteBackend(t *testing.T) {
	cfg := testRelayConfig()
	cfg.Storage.Backend = "sqlite"

	relay, err := WireRelay(context.Background(), cfg, t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, relay.Close())
}
