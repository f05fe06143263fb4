// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/chatrelay/chatrelay/internal/engine"
	"github.com/chatrelay/chatrelay/internal/store"
	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
	"github.com/chatrelay/chatrelay/pkg/health"
)

// RegisterServices sets the handler dependencies and registers routes.
func (s *Server) RegisterServices(svc *Services) {
	s.services = svc
	s.registerRoutes()
	s.registerChatRoute()
}

func (s *Server) registerRoutes() {
	// Model catalog
	huma.Register(s.api, huma.Operation{
		OperationID: "list-models",
		Method:      http.MethodGet,
		Path:        "/api/v1/models",
		Summary:     "List routable models",
		Tags:        []string{"models"},
	}, s.handleListModels)

	huma.Register(s.api, huma.Operation{
		OperationID: "test-models",
		Method:      http.MethodPost,
		Path:        "/api/v1/models/test",
		Summary:     "Dispatch a probe through every model",
		Tags:        []string{"models"},
	}, s.handleTestModels)

	// Provider toggles and health
	huma.Register(s.api, huma.Operation{
		OperationID: "list-providers",
		Method:      http.MethodGet,
		Path:        "/api/v1/providers",
		Summary:     "List provider toggles",
		Tags:        []string{"providers"},
	}, s.handleListProviders)

	huma.Register(s.api, huma.Operation{
		OperationID: "set-provider-enabled",
		Method:      http.MethodPut,
		Path:        "/api/v1/providers/{name}/enabled",
		Summary:     "Enable or disable a provider",
		Tags:        []string{"providers"},
	}, s.handleSetProviderEnabled)

	huma.Register(s.api, huma.Operation{
		OperationID: "provider-health",
		Method:      http.MethodGet,
		Path:        "/api/v1/providers/health",
		Summary:     "Health counters per provider/model",
		Tags:        []string{"providers"},
	}, s.handleProviderHealth)

	huma.Register(s.api, huma.Operation{
		OperationID: "reset-stats",
		Method:      http.MethodPost,
		Path:        "/api/v1/providers/health/reset",
		Summary:     "Zero all health counters",
		Tags:        []string{"providers"},
	}, s.handleResetStats)

	// Proxy pool
	huma.Register(s.api, huma.Operation{
		OperationID: "list-proxies",
		Method:      http.MethodGet,
		Path:        "/api/v1/proxies",
		Summary:     "List proxy endpoints",
		Tags:        []string{"proxies"},
	}, s.handleListProxies)

	huma.Register(s.api, huma.Operation{
		OperationID: "create-proxy",
		Method:      http.MethodPost,
		Path:        "/api/v1/proxies",
		Summary:     "Add a proxy endpoint",
		Tags:        []string{"proxies"},
	}, s.handleCreateProxy)

	huma.Register(s.api, huma.Operation{
		OperationID: "set-default-proxy",
		Method:      http.MethodPut,
		Path:        "/api/v1/proxies/{id}/default",
		Summary:     "Make a proxy the default",
		Tags:        []string{"proxies"},
	}, s.handleSetDefaultProxy)

	// Disposable sessions
	huma.Register(s.api, huma.Operation{
		OperationID: "disposable-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/disposable",
		Summary:     "Disposable session status per provider",
		Tags:        []string{"disposable"},
	}, s.handleDisposableStatus)

	huma.Register(s.api, huma.Operation{
		OperationID: "disposable-reset",
		Method:      http.MethodPost,
		Path:        "/api/v1/disposable/{provider}/reset",
		Summary:     "Force an identity rotation",
		Tags:        []string{"disposable"},
	}, s.handleDisposableReset)
}

// --- Request/Response types for huma ---

type modelEntry struct {
	Name     string `json:"name" doc:"Friendly model name"`
	Provider string `json:"provider"`
	Model    string `json:"model" doc:"Provider-native model id"`
}

type listModelsOutput struct {
	Body struct {
		Models []modelEntry `json:"models"`
	}
}

type testModelsOutput struct {
	Body struct {
		Results []engine.ModelProbe `json:"results"`
	}
}

type providerToggle struct {
	Provider string `json:"provider"`
	Kind     string `json:"kind"`
	Enabled  bool   `json:"enabled"`
}

type listProvidersOutput struct {
	Body struct {
		Providers []providerToggle `json:"providers"`
	}
}

type setProviderEnabledInput struct {
	Name string `path:"name"`
	Body struct {
		Enabled bool `json:"enabled"`
	}
}

type setProviderEnabledOutput struct {
	Body providerToggle
}

type healthSnapshotOutput struct {
	Body struct {
		Providers []health.Snapshot `json:"providers"`
	}
}

type resetStatsOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

type proxySummary struct {
	ID                  string `json:"id"`
	Address             string `json:"address"`
	Port                int    `json:"port"`
	Protocol            string `json:"protocol"`
	IsActive            bool   `json:"is_active"`
	IsDefault           bool   `json:"is_default"`
	IsWorking           bool   `json:"is_working"`
	ConsecutiveFailures int64  `json:"consecutive_failures"`
	LastLatencyMs       int64  `json:"last_latency_ms"`
}

type listProxiesOutput struct {
	Body struct {
		Proxies []proxySummary `json:"proxies"`
	}
}

type createProxyInput struct {
	Body struct {
		Address  string `json:"address" minLength:"1"`
		Port     int    `json:"port" minimum:"1" maximum:"65535"`
		Protocol string `json:"protocol" enum:"http,https,socks5"`
		Username string `json:"username,omitempty"`
		Password string `json:"password,omitempty"`
	}
}

type createProxyOutput struct {
	Body proxySummary
}

type proxyIDInput struct {
	ID string `path:"id"`
}

type setDefaultProxyOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

type disposableStatusOutput struct {
	Body struct {
		Providers []health.DisposableStatus `json:"providers"`
	}
}

type disposableProviderInput struct {
	Provider string `path:"provider"`
}

type disposableResetOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// --- Handlers ---

func (s *Server) handleListModels(_ context.Context, _ *struct{}) (*listModelsOutput, error) {
	out := &listModelsOutput{}
	for _, e := range s.services.catalog.Entries() {
		out.Body.Models = append(out.Body.Models, modelEntry{
			Name: e.Friendly, Provider: e.Provider, Model: e.Model,
		})
	}
	return out, nil
}

func (s *Server) handleTestModels(ctx context.Context, _ *struct{}) (*testModelsOutput, error) {
	out := &testModelsOutput{}
	out.Body.Results = s.services.dispatcher.TestAllModels(ctx)
	return out, nil
}

func (s *Server) handleListProviders(ctx context.Context, _ *struct{}) (*listProvidersOutput, error) {
	toggles, err := s.services.toggles.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing provider toggles", err)
	}
	out := &listProvidersOutput{}
	for _, t := range toggles {
		out.Body.Providers = append(out.Body.Providers, providerToggle{
			Provider: t.Provider, Kind: string(t.Kind), Enabled: t.Enabled,
		})
	}
	return out, nil
}

func (s *Server) handleSetProviderEnabled(ctx context.Context, input *setProviderEnabledInput) (*setProviderEnabledOutput, error) {
	err := s.services.toggles.SetEnabled(ctx, input.Name, input.Body.Enabled)
	if errors.Is(err, store.ErrNotFound) {
		// First toggle for this provider: create the row.
		err = s.services.toggles.Upsert(ctx, &store.ProviderToggle{
			Provider: input.Name,
			Kind:     store.ProviderKindAPI,
			Enabled:  input.Body.Enabled,
		})
	}
	if err != nil {
		return nil, huma.Error500InternalServerError(fmt.Sprintf("toggling provider %q", input.Name), err)
	}

	t, err := s.services.toggles.Get(ctx, input.Name)
	if err != nil {
		return nil, huma.Error500InternalServerError(fmt.Sprintf("reading provider %q", input.Name), err)
	}
	return &setProviderEnabledOutput{Body: providerToggle{
		Provider: t.Provider, Kind: string(t.Kind), Enabled: t.Enabled,
	}}, nil
}

func (s *Server) handleProviderHealth(ctx context.Context, _ *struct{}) (*healthSnapshotOutput, error) {
	snaps, err := s.services.dispatcher.HealthSnapshots(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("reading health counters", err)
	}

	out := &healthSnapshotOutput{}
	out.Body.Providers = snaps
	return out, nil
}

func (s *Server) handleResetStats(ctx context.Context, _ *struct{}) (*resetStatsOutput, error) {
	if err := s.services.dispatcher.ResetStats(ctx); err != nil {
		return nil, huma.Error500InternalServerError("resetting health counters", err)
	}
	out := &resetStatsOutput{}
	out.Body.Status = "reset"
	return out, nil
}

func (s *Server) handleListProxies(ctx context.Context, _ *struct{}) (*listProxiesOutput, error) {
	if s.services.proxies == nil {
		return nil, huma.Error404NotFound("proxy pool not configured")
	}
	proxies, err := s.services.proxies.List(ctx, false)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing proxies", err)
	}
	out := &listProxiesOutput{}
	for _, p := range proxies {
		out.Body.Proxies = append(out.Body.Proxies, proxySummaryFrom(p))
	}
	return out, nil
}

func (s *Server) handleCreateProxy(ctx context.Context, input *createProxyInput) (*createProxyOutput, error) {
	if s.services.proxies == nil {
		return nil, huma.Error404NotFound("proxy pool not configured")
	}
	ep := &store.ProxyEndpoint{
		Address:  input.Body.Address,
		Port:     input.Body.Port,
		Protocol: input.Body.Protocol,
		Username: input.Body.Username,
		Password: input.Body.Password,
		IsActive: true,
	}
	err := s.services.proxies.Create(ctx, ep)
	switch {
	case errors.Is(err, store.ErrConflict):
		return nil, huma.Error409Conflict(fmt.Sprintf("proxy %s:%d already exists", ep.Address, ep.Port))
	case relayerr.IsInvalidInput(err):
		return nil, huma.Error422UnprocessableEntity(err.Error())
	case err != nil:
		return nil, huma.Error500InternalServerError("creating proxy", err)
	}
	return &createProxyOutput{Body: proxySummaryFrom(ep)}, nil
}

func (s *Server) handleSetDefaultProxy(ctx context.Context, input *proxyIDInput) (*setDefaultProxyOutput, error) {
	if s.services.proxyAdmin == nil {
		return nil, huma.Error404NotFound("proxy pool not configured")
	}
	err := s.services.proxyAdmin.SetDefault(ctx, input.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, huma.Error404NotFound(fmt.Sprintf("proxy %q not found", input.ID))
	case err != nil:
		return nil, huma.Error500InternalServerError("setting default proxy", err)
	}
	out := &setDefaultProxyOutput{}
	out.Body.Status = "default set"
	return out, nil
}

func (s *Server) handleDisposableStatus(_ context.Context, _ *struct{}) (*disposableStatusOutput, error) {
	if s.services.disposables == nil {
		return nil, huma.Error404NotFound("no disposable providers configured")
	}
	out := &disposableStatusOutput{}
	out.Body.Providers = s.services.disposables.Statuses()
	return out, nil
}

func (s *Server) handleDisposableReset(ctx context.Context, input *disposableProviderInput) (*disposableResetOutput, error) {
	if s.services.disposables == nil {
		return nil, huma.Error404NotFound("no disposable providers configured")
	}
	err := s.services.disposables.Reset(ctx, input.Provider)
	switch {
	case relayerr.HasCode(err, relayerr.CodeDisposableNotRunning):
		return nil, huma.Error404NotFound(fmt.Sprintf("provider %q is not running in disposable mode", input.Provider))
	case err != nil:
		return nil, huma.Error500InternalServerError(fmt.Sprintf("resetting provider %q", input.Provider), err)
	}
	out := &disposableResetOutput{}
	out.Body.Status = "reset"
	return out, nil
}

func proxySummaryFrom(p *store.ProxyEndpoint) proxySummary {
	return proxySummary{
		ID:                  p.ID,
		Address:             p.Address,
		Port:                p.Port,
		Protocol:            p.Protocol,
		IsActive:            p.IsActive,
		IsDefault:           p.IsDefault,
		IsWorking:           p.IsWorking,
		ConsecutiveFailures: p.ConsecutiveFailures,
		LastLatencyMs:       p.LastLatencyMs,
	}
}
