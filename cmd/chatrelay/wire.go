// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chatrelay/chatrelay/internal/browser"
	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/disposable"
	"github.com/chatrelay/chatrelay/internal/engine"
	"github.com/chatrelay/chatrelay/internal/provider"
	"github.com/chatrelay/chatrelay/internal/provider/anthropicapi"
	"github.com/chatrelay/chatrelay/internal/provider/googleapi"
	"github.com/chatrelay/chatrelay/internal/provider/openaiapi"
	"github.com/chatrelay/chatrelay/internal/provider/pollytts"
	"github.com/chatrelay/chatrelay/internal/proxypool"
	"github.com/chatrelay/chatrelay/internal/router"
	"github.com/chatrelay/chatrelay/internal/server"
	"github.com/chatrelay/chatrelay/internal/store"
	_ "github.com/chatrelay/chatrelay/internal/store/memory" // register memory backend
	_ "github.com/chatrelay/chatrelay/internal/store/sqlite" // register sqlite backend
	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

// Relay holds all wired subsystems and manages their lifecycle.
type Relay struct {
	Server      *server.Server
	Store       store.RelayStore
	Registry    *provider.Registry
	Engine      *engine.Engine
	Prober      *proxypool.Prober
	Disposables *disposable.Manager
}

// WireRelay creates all subsystems and wires them together.
// The dataDir is the root directory for all persistent state.
func WireRelay(ctx context.Context, cfg *config.Config, dataDir string) (*Relay, error) {
	// Ensure the data directory exists.
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, relayerr.Errorf(relayerr.CodeCLISetupFailure, "creating data directory: %w", err)
	}

	// 1. Relay store (health, sessions, toggles, proxies).
	st, err := store.New(&store.StorageConfig{Backend: cfg.Storage.Backend}, dataDir)
	if err != nil {
		return nil, relayerr.Errorf(relayerr.CodeCLISetupFailure, "creating relay store: %w", err)
	}

	// 2. Provider registry — built-in providers per configured mode.
	reg := provider.NewRegistry()
	disposables := disposable.NewManager()

	opener := browser.NewOpener(browser.Config{
		Headless:  true,
		NoSandbox: os.Geteuid() == 0,
	})

	if err := registerConfiguredProviders(ctx, cfg, reg, opener, disposables, st, dataDir); err != nil {
		_ = st.Close()
		return nil, err
	}

	// 3. Model catalog. Configured entries win; with none, every
	// provider-native model id doubles as its own friendly name.
	catalog := provider.NewCatalog(catalogEntries(cfg, reg))

	// 4. Proxy pool and prober.
	var (
		pool   *proxypool.Pool
		prober *proxypool.Prober
	)
	if cfg.Proxies.Enabled {
		pool = proxypool.New(st.Proxies(), cfg.Proxies.FailureThreshold)
		prober = proxypool.NewProber(st.Proxies(), proxypool.ProberConfig{
			EchoURL:          cfg.Proxies.EchoURL,
			Interval:         cfg.Proxies.ProbeInterval,
			Timeout:          cfg.Proxies.ProbeTimeout,
			FailureThreshold: cfg.Proxies.FailureThreshold,
		})
	}

	// 5. Orchestration engine.
	eng := engine.New(router.Config{
		WeightStreak:     cfg.Routing.WeightStreak,
		WeightSuccess:    cfg.Routing.WeightSuccess,
		WeightLatency:    cfg.Routing.WeightLatency,
		BreakerThreshold: cfg.Routing.BreakerThreshold,
		BreakerCooldown:  cfg.Routing.BreakerCooldown,
		AttemptTimeout:   cfg.Routing.AttemptTimeout,
	}, reg, catalog, st, pool, disposables)
	eng.SetSessionUsageCap(cfg.Sessions.UsageCap)

	// 6. HTTP server.
	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Server.Listen,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimitRPS,
			Burst:             cfg.Server.RateLimitBurst,
		},
		TrustedProxies: cfg.Server.TrustedProxies,
	})
	if err != nil {
		_ = st.Close()
		return nil, relayerr.Errorf(relayerr.CodeCLISetupFailure, "creating server: %w", err)
	}

	var proxyAdmin server.ProxyAdmin
	if pool != nil {
		proxyAdmin = pool
	}
	services, err := server.NewServices(eng, st.Toggles(), st.Proxies(), proxyAdmin, disposables, catalog)
	if err != nil {
		_ = st.Close()
		return nil, relayerr.Errorf(relayerr.CodeCLISetupFailure, "creating services: %w", err)
	}
	srv.RegisterServices(services)

	return &Relay{
		Server:      srv,
		Store:       st,
		Registry:    reg,
		Engine:      eng,
		Prober:      prober,
		Disposables: disposables,
	}, nil
}

// Start runs the prober (when proxying is enabled) and the HTTP server,
// blocking until the context is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	if r.Prober != nil {
		if err := r.Prober.Start(ctx); err != nil {
			return relayerr.Errorf(relayerr.CodeCLISetupFailure, "starting proxy prober: %w", err)
		}
	}
	return r.Server.Start(ctx)
}

// Close releases all resources held by the relay.
func (r *Relay) Close() error {
	var errs []error
	if r.Prober != nil {
		r.Prober.Stop()
	}
	if r.Disposables != nil {
		if err := r.Disposables.Close(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	if r.Registry != nil {
		if err := r.Registry.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.Store != nil {
		if err := r.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// providerFactory builds a provider.Provider from a ProviderConfig.
type providerFactory func(ctx context.Context, pc config.ProviderConfig) (provider.Provider, error)

// builtinProviderFactories maps provider names to their constructors.
// Declared as a variable so tests can inject failing factories.
var builtinProviderFactories = map[string]providerFactory{
	"anthropic": func(_ context.Context, pc config.ProviderConfig) (provider.Provider, error) {
		return anthropicapi.New(anthropicapi.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint, Models: pc.Models})
	},
	"google": func(ctx context.Context, pc config.ProviderConfig) (provider.Provider, error) {
		return googleapi.New(ctx, googleapi.Config{APIKey: pc.APIKey, Models: pc.Models})
	},
	"openai": func(_ context.Context, pc config.ProviderConfig) (provider.Provider, error) {
		return openaiapi.New(openaiapi.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint, Models: pc.Models})
	},
	"polly": func(_ context.Context, pc config.ProviderConfig) (provider.Provider, error) {
		return pollytts.New(pollytts.Config{Region: pc.Region, DefaultVoice: pc.Voice}), nil
	},
}

// registerConfiguredProviders iterates configured providers, builds the
// matching built-in implementation, and applies the configured mode:
// "api" registers as-is, "browser" swaps in browser-driven session
// opening, "disposable" additionally routes every invocation through an
// identity-rotating controller. Unknown names or constructor errors are
// logged and skipped so one bad provider never blocks startup.
func registerConfiguredProviders(ctx context.Context, cfg *config.Config, reg *provider.Registry,
	opener *browser.Opener, disposables *disposable.Manager, st store.RelayStore, dataDir string) error {
	for name, pc := range cfg.Providers {
		factory, ok := builtinProviderFactories[name]
		if !ok {
			slog.Warn("unknown provider in config, skipping", "provider", name)
			continue
		}
		p, err := factory(ctx, pc)
		if err != nil {
			slog.Warn("failed to create provider", "provider", name, "error", err)
			continue
		}

		switch pc.Mode {
		case "", "api":
			reg.Register(p)

		case "browser":
			reg.Register(&browserSessionProvider{
				Provider:   p,
				opener:     opener,
				landingURL: pc.LandingURL,
			})

		case "disposable":
			inner := &browserSessionProvider{
				Provider:   p,
				opener:     opener,
				landingURL: pc.LandingURL,
			}
			workRoot := cfg.Disposable.WorkRoot
			if workRoot == "" {
				workRoot = filepath.Join(dataDir, "disposable")
			}
			ctrl, err := disposable.NewController(disposable.Config{
				Provider:    name,
				MaxMessages: cfg.Disposable.MaxMessages,
				WorkRoot:    workRoot,
			}, disposable.ProviderConnector(inner), st.Sessions())
			if err != nil {
				return relayerr.Errorf(relayerr.CodeCLISetupFailure,
					"creating disposable controller for %s: %w", name, err)
			}
			disposables.Register(ctrl)
			reg.Register(disposable.WrapProvider(inner, ctrl))
		}

		slog.Info("registered provider", "provider", name, "mode", pc.Mode)
	}
	return nil
}

// catalogEntries derives the model catalog from config, falling back to
// every registered provider's native model list.
func catalogEntries(cfg *config.Config, reg *provider.Registry) []provider.ModelRef {
	if len(cfg.Models) > 0 {
		refs := make([]provider.ModelRef, 0, len(cfg.Models))
		for _, m := range cfg.Models {
			refs = append(refs, provider.ModelRef{Friendly: m.Name, Provider: m.Provider, Model: m.Model})
		}
		return refs
	}

	var refs []provider.ModelRef
	for _, name := range reg.Names() {
		p, err := reg.Get(name)
		if err != nil {
			continue
		}
		for _, model := range p.Models() {
			refs = append(refs, provider.ModelRef{Friendly: model, Provider: name, Model: model})
		}
	}
	return refs
}

// browserSessionProvider drives session lifecycle through a stealth
// browser: OpenSession navigates the provider's landing page and exports
// the cookie blob as the credential. Invocation still goes through the
// wrapped provider.
type browserSessionProvider struct {
	provider.Provider
	opener     *browser.Opener
	landingURL string
}

func (p *browserSessionProvider) Kind() store.ProviderKind { return store.ProviderKindBrowser }

func (p *browserSessionProvider) CarriesProxy() bool { return provider.CarriesProxy(p.Provider) }

func (p *browserSessionProvider) OpenSession(ctx context.Context) ([]byte, error) {
	return p.opener.Open(ctx, p.landingURL, "")
}

// OpenSessionVia opens the session with the browser launched behind the
// given proxy, so credential acquisition exits through the same address
// as the traffic it authorizes.
func (p *browserSessionProvider) OpenSessionVia(ctx context.Context, proxyURL string) ([]byte, error) {
	return p.opener.Open(ctx, p.landingURL, proxyURL)
}
