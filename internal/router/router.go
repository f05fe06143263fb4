// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

// Package router chooses which provider/model serves a request and walks
// the ranked candidates until one succeeds. Every attempt's outcome is
// folded back into the health store, so each pass starts from the current
// picture of who is trustworthy.
package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/chatrelay/chatrelay/internal/provider"
	"github.com/chatrelay/chatrelay/internal/store"
	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

// Config holds the ranking and breaker tunables.
type Config struct {
	WeightStreak     float64       // W1: penalty per consecutive failure
	WeightSuccess    float64       // W2: reward for success ratio
	WeightLatency    float64       // W3: penalty per average latency ms
	BreakerThreshold int64         // consecutive failures that trip the breaker
	BreakerCooldown  time.Duration // how long a tripped candidate sits out
	AttemptTimeout   time.Duration // per-provider attempt budget
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		WeightStreak:     10,
		WeightSuccess:    100,
		WeightLatency:    0.001,
		BreakerThreshold: 5,
		BreakerCooldown:  60 * time.Second,
		AttemptTimeout:   120 * time.Second,
	}
}

// SessionRefresher re-establishes a provider's session after a
// SessionExpired failure, updating req.Credential in place so the retry
// carries the fresh blob. The orchestration engine supplies this; the
// router only decides when to call it.
type SessionRefresher interface {
	RefreshSession(ctx context.Context, providerName string, req *provider.Request) error
}

// SessionSeeder is optionally implemented by the refresher. When it is,
// the router calls it before a provider's first attempt in a pass so a
// persisted credential rides the attempt instead of forcing a
// SessionExpired round trip first.
type SessionSeeder interface {
	SeedSession(ctx context.Context, providerName string, req *provider.Request)
}

// ProxyReporter mirrors attempt outcomes onto the proxy that carried
// them, so proxy health tracks the same signal as provider health.
type ProxyReporter interface {
	RecordOutcome(ctx context.Context, proxyID string, success bool, latencyMs int64) error
}

// Attempt is one entry of the failure trail carried by an exhausted error.
type Attempt struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Reason   string `json:"reason"`
}

// Router ranks candidates and executes the failover pass.
type Router struct {
	cfg       Config
	registry  *provider.Registry
	catalog   *provider.Catalog
	health    store.HealthStore
	toggles   store.ToggleStore
	refresher SessionRefresher
	proxies   ProxyReporter
	nowFunc   func() time.Time
}

// New creates a Router. refresher and proxies may be nil when session
// re-creation or proxy mirroring is not wired.
func New(cfg Config, registry *provider.Registry, catalog *provider.Catalog,
	health store.HealthStore, toggles store.ToggleStore,
	refresher SessionRefresher, proxies ProxyReporter) *Router {
	return &Router{
		cfg:       cfg,
		registry:  registry,
		catalog:   catalog,
		health:    health,
		toggles:   toggles,
		refresher: refresher,
		proxies:   proxies,
		nowFunc:   time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (r *Router) SetNowFunc(fn func() time.Time) { r.nowFunc = fn }

// Candidates returns the ranked candidate list the next Dispatch for this
// model would walk. Exposed for status reporting and the liveness sweep.
func (r *Router) Candidates(ctx context.Context, model string) ([]provider.ModelRef, error) {
	refs, err := r.catalog.Candidates(model)
	if err != nil {
		return nil, err
	}
	return r.rank(ctx, refs), nil
}

// Dispatch resolves the model to candidates, ranks them, and tries each
// in order until one succeeds. proxyID, when non-empty, names the proxy
// carrying the attempts; its counters mirror the outcomes of providers
// whose transport actually routed through it.
func (r *Router) Dispatch(ctx context.Context, model string, req *provider.Request, proxyID string) (*provider.Response, error) {
	refs, err := r.catalog.Candidates(model)
	if err != nil {
		return nil, err
	}

	ranked := r.rank(ctx, refs)
	if len(ranked) == 0 {
		return nil, relayerr.New(relayerr.CodeRouterNoCandidates,
			"no eligible candidates for model: "+model, relayerr.FieldModel(model))
	}

	seeder, _ := r.refresher.(SessionSeeder)

	var attempts []Attempt
	skipped := map[string]bool{}   // permanent failure this pass
	refreshed := map[string]bool{} // session already re-created this pass
	seeded := map[string]bool{}    // credential already seeded this pass

	for i := 0; i < len(ranked); i++ {
		ref := ranked[i]
		if skipped[ref.Provider] {
			continue
		}

		p, err := r.registry.Get(ref.Provider)
		if err != nil {
			attempts = append(attempts, Attempt{Provider: ref.Provider, Model: ref.Model, Reason: "provider not registered"})
			skipped[ref.Provider] = true
			continue
		}

		if seeder != nil && !seeded[ref.Provider] {
			seeded[ref.Provider] = true
			seeder.SeedSession(ctx, ref.Provider, req)
		}

		resp, err := r.attempt(ctx, p, ref, req, proxyID)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			// The caller is gone; stop walking candidates. The aborted
			// attempt's outcome was already recorded above.
			return nil, relayerr.Wrapf(ctx.Err(), relayerr.CodeProviderInvokeTimeout,
				"request cancelled during failover pass")
		}

		attempts = append(attempts, Attempt{Provider: ref.Provider, Model: ref.Model, Reason: err.Error()})

		switch {
		case relayerr.IsSessionExpired(err):
			if refreshed[ref.Provider] || r.refresher == nil {
				// A second expiry in the same pass means re-creation did
				// not help; treat as permanent for this pass.
				skipped[ref.Provider] = true
				continue
			}
			refreshed[ref.Provider] = true
			if rerr := r.refresher.RefreshSession(ctx, ref.Provider, req); rerr != nil {
				slog.Warn("session re-creation failed",
					"provider", ref.Provider, "error", rerr)
				skipped[ref.Provider] = true
				continue
			}
			// Retry this candidate once with the fresh session.
			i--
		case relayerr.IsPermanent(err):
			skipped[ref.Provider] = true
		}
	}

	return nil, relayerr.New(relayerr.CodeRouterExhausted,
		"all providers exhausted",
		relayerr.FieldModel(model),
		relayerr.Field("attempts", attempts))
}

// attempt runs one provider call under the per-attempt timeout and
// records the outcome. Store write failures are logged, never surfaced:
// losing one sample must not block the response path.
func (r *Router) attempt(ctx context.Context, p provider.Provider, ref provider.ModelRef, req *provider.Request, proxyID string) (*provider.Response, error) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if r.cfg.AttemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		defer cancel()
	}

	attemptReq := *req
	attemptReq.Model = ref.Model

	start := r.nowFunc()
	resp, err := p.Invoke(attemptCtx, &attemptReq)
	latency := time.Since(start).Milliseconds()

	// The caller may have abandoned the request mid-attempt; the sample
	// still has to land, so the store writes run detached from the
	// caller's cancellation.
	recordCtx := context.WithoutCancel(ctx)
	success := err == nil
	if rerr := r.health.RecordOutcome(recordCtx, ref.Key(), success, latency); rerr != nil {
		slog.Warn("recording attempt outcome", "key", ref.Key(), "error", rerr)
	}
	if proxyID != "" && r.proxies != nil && provider.CarriesProxy(p) {
		if perr := r.proxies.RecordOutcome(recordCtx, proxyID, success, latency); perr != nil {
			slog.Warn("recording proxy outcome", "proxy", proxyID, "error", perr)
		}
	}

	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = relayerr.Wrap(err, relayerr.CodeProviderInvokeTimeout,
				"provider attempt timed out",
				relayerr.FieldProvider(ref.Provider), relayerr.FieldModel(ref.Model))
		}
		slog.Debug("provider attempt failed",
			"key", ref.Key(), "latency_ms", latency, "error", err)
		return nil, err
	}

	if resp.Provider == "" {
		resp.Provider = ref.Provider
	}
	slog.Debug("provider attempt succeeded", "key", ref.Key(), "latency_ms", latency)
	return resp, nil
}
