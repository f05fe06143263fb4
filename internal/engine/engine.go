// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

// Package engine is the orchestration facade: the one entry point that
// turns a logical request into a response by combining proxy selection,
// session lifecycle, and the failover router.
package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/chatrelay/chatrelay/internal/disposable"
	"github.com/chatrelay/chatrelay/internal/provider"
	"github.com/chatrelay/chatrelay/internal/proxypool"
	"github.com/chatrelay/chatrelay/internal/router"
	"github.com/chatrelay/chatrelay/internal/store"
	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
	"github.com/chatrelay/chatrelay/pkg/health"
)

// Engine drives one failover pass per logical request. Each request is
// independent: no retry loop spans requests, and every pass starts from
// the current health snapshot.
type Engine struct {
	router      *router.Router
	registry    *provider.Registry
	catalog     *provider.Catalog
	sessions    store.SessionStore
	health      store.HealthStore
	pool        *proxypool.Pool
	disposables *disposable.Manager

	sessionUsageCap int64
}

// New assembles the engine and its router. pool and disposables may be
// nil when proxying or disposable mode is not configured.
func New(cfg router.Config, registry *provider.Registry, catalog *provider.Catalog,
	st store.RelayStore, pool *proxypool.Pool, disposables *disposable.Manager) *Engine {
	e := &Engine{
		registry:    registry,
		catalog:     catalog,
		sessions:    st.Sessions(),
		health:      st.Health(),
		pool:        pool,
		disposables: disposables,
	}
	var reporter router.ProxyReporter
	if pool != nil {
		reporter = pool
	}
	e.router = router.New(cfg, registry, catalog, st.Health(), st.Toggles(), e, reporter)
	return e
}

// SetSessionUsageCap overrides the usage cap stamped on refreshed
// session records. Zero keeps the store default.
func (e *Engine) SetSessionUsageCap(cap int64) { e.sessionUsageCap = cap }

// Router exposes the underlying router for status endpoints.
func (e *Engine) Router() *router.Router { return e.router }

// Disposables exposes the disposable manager for the admin surface.
func (e *Engine) Disposables() *disposable.Manager { return e.disposables }

// Dispatch serves one logical request: pick a proxy, seed the session
// credential when one is persisted, run the failover pass, and account
// session usage on success.
func (e *Engine) Dispatch(ctx context.Context, model string, req *provider.Request) (*provider.Response, error) {
	proxyID, proxyURL := e.selectProxy(ctx)
	req.ProxyURL = proxyURL

	resp, err := e.router.Dispatch(ctx, model, req, proxyID)
	if err != nil {
		return nil, err
	}

	if uerr := e.sessions.IncrementUsage(ctx, resp.Provider); uerr != nil && !errors.Is(uerr, store.ErrNotFound) {
		// Only sessioned providers have a record; missing is normal.
		slog.Warn("incrementing session usage failed", "provider", resp.Provider, "error", uerr)
	}
	return resp, nil
}

// selectProxy returns the proxy id and URL attempts should route
// through, or empty to go direct. Proxying is best-effort: an empty
// pool downgrades to a direct connection rather than failing the
// request.
func (e *Engine) selectProxy(ctx context.Context) (id, url string) {
	if e.pool == nil {
		return "", ""
	}
	ep, err := e.pool.Select(ctx)
	if err != nil {
		if relayerr.CodeOf(err) != relayerr.CodeProxyNoneAvailable {
			slog.Warn("proxy selection failed, going direct", "error", err)
		}
		return "", ""
	}
	return ep.ID, ep.URL()
}

// SeedSession loads the persisted session credential, when one is
// still usable, into the request before the provider's first attempt.
// Satisfies the router's seed hook; a provider without a session record
// is left alone.
func (e *Engine) SeedSession(ctx context.Context, providerName string, req *provider.Request) {
	if s, err := e.sessions.GetValid(ctx, providerName); err == nil {
		req.Credential = s.Credential
	}
}

// RefreshSession re-establishes a provider's session after an expiry.
// A persisted session that differs from the one that just failed is
// reused; otherwise the stale record is dropped and a fresh session is
// opened and persisted. Satisfies the router's refresh hook.
func (e *Engine) RefreshSession(ctx context.Context, providerName string, req *provider.Request) error {
	if s, err := e.sessions.GetValid(ctx, providerName); err == nil && !bytes.Equal(s.Credential, req.Credential) {
		req.Credential = s.Credential
		return nil
	}

	if err := e.sessions.Delete(ctx, providerName); err != nil {
		slog.Warn("deleting stale session failed", "provider", providerName, "error", err)
	}

	p, err := e.registry.Get(providerName)
	if err != nil {
		return err
	}
	var credential []byte
	if po, ok := p.(provider.SessionProxyOpener); ok && req.ProxyURL != "" {
		credential, err = po.OpenSessionVia(ctx, req.ProxyURL)
	} else {
		credential, err = p.OpenSession(ctx)
	}
	if err != nil {
		return relayerr.Wrap(err, relayerr.CodeProviderSessionOpenFailure,
			"re-creating provider session failed", relayerr.FieldProvider(providerName))
	}
	if len(credential) > 0 {
		if _, err := e.sessions.Upsert(ctx, &store.ProviderSession{
			Provider:   providerName,
			Credential: credential,
			UsageCap:   e.sessionUsageCap,
		}); err != nil {
			slog.Warn("persisting refreshed session failed", "provider", providerName, "error", err)
		}
	}
	req.Credential = credential
	slog.Info("provider session re-created", "provider", providerName)
	return nil
}

// ModelProbe is one result row of the liveness sweep.
type ModelProbe struct {
	Model     string `json:"model"`
	Provider  string `json:"provider,omitempty"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// TestAllModels dispatches a minimal probe message through every
// friendly model name and reports which ones currently serve. Outcomes
// feed the health store exactly like live traffic.
func (e *Engine) TestAllModels(ctx context.Context) []ModelProbe {
	names := e.catalog.FriendlyNames()
	probes := make([]ModelProbe, 0, len(names))
	for _, name := range names {
		req := &provider.Request{
			Messages:  []provider.Message{{Role: provider.MessageRoleUser, Content: "ping"}},
			MaxTokens: 16,
		}
		start := time.Now()
		resp, err := e.Dispatch(ctx, name, req)
		probe := ModelProbe{Model: name, LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			probe.Error = err.Error()
		} else {
			probe.OK = true
			probe.Provider = resp.Provider
		}
		probes = append(probes, probe)
	}
	return probes
}

// ResetStats zeroes every health counter. Admin action.
func (e *Engine) ResetStats(ctx context.Context) error {
	return e.health.Reset(ctx)
}

// HealthSnapshots returns the current counters for every tracked key,
// sorted by key, with breaker availability computed against the
// router's configuration.
func (e *Engine) HealthSnapshots(ctx context.Context) ([]health.Snapshot, error) {
	records, err := e.health.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	snaps := make([]health.Snapshot, 0, len(records))
	for key, h := range records {
		snap := health.Snapshot{
			Key:                 key,
			SuccessCount:        h.SuccessCount,
			FailureCount:        h.FailureCount,
			ConsecutiveFailures: h.ConsecutiveFailures,
			AvgLatencyMs:        h.AvgLatencyMs,
			SampleCount:         h.SampleCount,
		}
		if !h.LastFailureAt.IsZero() {
			at := h.LastFailureAt
			snap.LastFailureAt = &at
		}
		available, cooldownUntil := e.router.Availability(h, now)
		snap.Available = available
		if !cooldownUntil.IsZero() {
			snap.CooldownUntil = &cooldownUntil
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Key < snaps[j].Key })
	return snaps, nil
}
