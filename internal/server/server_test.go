// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/engine"
	"github.com/chatrelay/chatrelay/internal/provider"
	"github.com/chatrelay/chatrelay/internal/server"
	"github.com/chatrelay/chatrelay/internal/store/memory"
	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
	"github.com/chatrelay/chatrelay/pkg/health"
)

type fakeDispatcher struct {
	resp       *provider.Response
	err        error
	lastModel  string
	statsReset bool
	health     []health.Snapshot
}

func (f *fakeDispatcher) Dispatch(_ context.Context, model string, _ *provider.Request) (*provider.Response, error) {
	f.lastModel = model
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeDispatcher) TestAllModels(context.Context) []engine.ModelProbe {
	return []engine.ModelProbe{{Model: "chat-best", Provider: "alpha", OK: true}}
}

func (f *fakeDispatcher) ResetStats(context.Context) error {
	f.statsReset = true
	return nil
}

func (f *fakeDispatcher) HealthSnapshots(context.Context) ([]health.Snapshot, error) {
	return f.health, nil
}

type testHarness struct {
	srv        *server.Server
	store      *memory.RelayStore
	dispatcher *fakeDispatcher
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	rs := memory.NewRelayStore()
	dispatcher := &fakeDispatcher{
		resp: &provider.Response{
			Content: "hello there", Model: "a1", Provider: "alpha",
			Usage: provider.Usage{InputTokens: 3, OutputTokens: 5},
		},
	}
	catalog := provider.NewCatalog([]provider.ModelRef{
		{Friendly: "chat-best", Provider: "alpha", Model: "a1"},
	})

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	svc, err := server.NewServices(dispatcher, rs.Toggles(), rs.Proxies(), nil, nil, catalog)
	require.NoError(t, err)
	srv.RegisterServices(svc)

	return &testHarness{srv: srv, store: rs, dispatcher: dispatcher}
}

func (h *testHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestServer_NewRequiresListenAddr(t *testing.T) {
	_, err := server.New(server.Config{})
	require.Error(t, err)
}

func TestChatCompletion_Success(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/v1/chat/completions", map[string]any{
		"model":    "chat-best",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "chat.completion", out.Object)
	assert.Equal(t, "alpha/a1", out.Model)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "assistant", out.Choices[0].Message.Role)
	assert.Equal(t, "hello there", out.Choices[0].Message.Content)
	assert.Equal(t, "stop", out.Choices[0].FinishReason)
	assert.Equal(t, 8, out.Usage.TotalTokens)
	assert.Equal(t, "chat-best", h.dispatcher.lastModel)
}

func TestChatCompletion_EmptyMessages(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/v1/chat/completions", map[string]any{
		"model": "chat-best", "messages": []any{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request_error")
}

func TestChatCompletion_ExhaustedMapsToBadGateway(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.err = relayerr.New(relayerr.CodeRouterExhausted, "all providers exhausted")

	rec := h.do(t, http.MethodPost, "/v1/chat/completions", map[string]any{
		"model":    "chat-best",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var out struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "server_error", out.Error.Type)
	assert.Equal(t, "router.candidates.exhausted", out.Error.Code)
	assert.Contains(t, out.Error.Message, "exhausted")
}

func TestChatCompletion_UnknownModelMapsToNotFound(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.err = relayerr.New(relayerr.CodeRouterNoCandidates, "no candidates for model")

	rec := h.do(t, http.MethodPost, "/v1/chat/completions", map[string]any{
		"model":    "no-such-model",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin_ListModels(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/api/v1/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chat-best")
	assert.Contains(t, rec.Body.String(), "alpha")
}

func TestAdmin_TestModels(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/api/v1/models/test", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
}

func TestAdmin_ToggleProvider(t *testing.T) {
	h := newHarness(t)

	// Toggling a provider with no row yet creates one.
	rec := h.do(t, http.MethodPut, "/api/v1/providers/alpha/enabled", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"enabled":false`)

	tg, err := h.store.Toggles().Get(context.Background(), "alpha")
	require.NoError(t, err)
	assert.False(t, tg.Enabled)

	rec = h.do(t, http.MethodPut, "/api/v1/providers/alpha/enabled", map[string]any{"enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)
	tg, err = h.store.Toggles().Get(context.Background(), "alpha")
	require.NoError(t, err)
	assert.True(t, tg.Enabled)
}

func TestAdmin_ProviderHealth(t *testing.T) {
	h := newHarness(t)
	until := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	h.dispatcher.health = []health.Snapshot{
		{Key: "alpha/a1", SuccessCount: 9, ConsecutiveFailures: 6, Available: false, CooldownUntil: &until},
		{Key: "beta/b1", SuccessCount: 1, Available: true},
	}

	rec := h.do(t, http.MethodGet, "/api/v1/providers/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Providers []struct {
			Key           string     `json:"key"`
			Available     bool       `json:"available"`
			CooldownUntil *time.Time `json:"cooldown_until"`
		} `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Providers, 2)
	assert.Equal(t, "alpha/a1", out.Providers[0].Key)
	assert.False(t, out.Providers[0].Available, "breaker state survives the wire")
	require.NotNil(t, out.Providers[0].CooldownUntil)
	assert.True(t, until.Equal(*out.Providers[0].CooldownUntil))
	assert.True(t, out.Providers[1].Available)
	assert.Nil(t, out.Providers[1].CooldownUntil)
}

func TestAdmin_ResetStats(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/api/v1/providers/health/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, h.dispatcher.statsReset)
}

func TestAdmin_ProxyLifecycle(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/proxies", map[string]any{
		"address": "10.0.0.1", "port": 8080, "protocol": "http",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	// Duplicate endpoint conflicts.
	rec = h.do(t, http.MethodPost, "/api/v1/proxies", map[string]any{
		"address": "10.0.0.1", "port": 8080, "protocol": "http",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/proxies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.ID)
}

func TestAdmin_DisposableUnconfigured(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/api/v1/disposable", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/disposable/ghost/reset", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
