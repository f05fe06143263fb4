// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package server

import (
	"context"

	"github.com/chatrelay/chatrelay/internal/engine"
	"github.com/chatrelay/chatrelay/internal/provider"
	"github.com/chatrelay/chatrelay/internal/store"
	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
	"github.com/chatrelay/chatrelay/pkg/health"
)

// Dispatcher is the slice of the orchestration engine the server needs.
// Interface so handlers can be tested against a fake.
type Dispatcher interface {
	Dispatch(ctx context.Context, model string, req *provider.Request) (*provider.Response, error)
	TestAllModels(ctx context.Context) []engine.ModelProbe
	ResetStats(ctx context.Context) error
	HealthSnapshots(ctx context.Context) ([]health.Snapshot, error)
}

// DisposableAdmin is the admin slice of the disposable manager.
type DisposableAdmin interface {
	Reset(ctx context.Context, provider string) error
	Statuses() []health.DisposableStatus
}

// ProxyAdmin is the admin slice of the proxy pool.
type ProxyAdmin interface {
	SetDefault(ctx context.Context, id string) error
}

// Services holds the dependencies injected into route handlers.
type Services struct {
	dispatcher  Dispatcher
	toggles     store.ToggleStore
	proxies     store.ProxyStore
	proxyAdmin  ProxyAdmin
	disposables DisposableAdmin
	catalog     *provider.Catalog
}

// NewServices validates and bundles the handler dependencies.
// proxyAdmin and disposables may be nil when those subsystems are not
// configured; their endpoints then answer 404.
func NewServices(dispatcher Dispatcher, toggles store.ToggleStore, proxies store.ProxyStore,
	proxyAdmin ProxyAdmin, disposables DisposableAdmin, catalog *provider.Catalog) (*Services, error) {
	if dispatcher == nil {
		return nil, relayerr.New(relayerr.CodeConfigValidateInvalidValue, "dispatcher is required")
	}
	if toggles == nil {
		return nil, relayerr.New(relayerr.CodeConfigValidateInvalidValue, "toggle store is required")
	}
	if catalog == nil {
		return nil, relayerr.New(relayerr.CodeConfigValidateInvalidValue, "model catalog is required")
	}
	return &Services{
		dispatcher:  dispatcher,
		toggles:     toggles,
		proxies:     proxies,
		proxyAdmin:  proxyAdmin,
		disposables: disposables,
		catalog:     catalog,
	}, nil
}
