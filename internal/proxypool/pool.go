// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

// Package proxypool selects outbound proxies for provider traffic and
// keeps their health current through periodic probing.
package proxypool

import (
	"context"

	"github.com/chatrelay/chatrelay/internal/store"
	"github.com/chatrelay/chatrelay/pkg/errors"
)

// DefaultFailureThreshold is how many consecutive probe failures demote
// an endpoint to not-working. A single success recovers it immediately.
const DefaultFailureThreshold = 3

// Pool wraps the proxy store with the selection policy: prefer the
// designated default while it is healthy, fall back to the most
// recently successful endpoint otherwise.
type Pool struct {
	proxies          store.ProxyStore
	failureThreshold int64
}

func New(proxies store.ProxyStore, failureThreshold int64) *Pool {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	return &Pool{proxies: proxies, failureThreshold: failureThreshold}
}

// Select returns the endpoint outbound traffic should use right now.
// The default wins while it is active and working; otherwise the most
// recently successful active endpoint is chosen. With no candidate at
// all the caller gets a not-available error and should go direct.
func (p *Pool) Select(ctx context.Context) (*store.ProxyEndpoint, error) {
	active, err := p.proxies.List(ctx, true)
	if err != nil {
		return nil, err
	}
	var fallback *store.ProxyEndpoint
	for _, ep := range active {
		if ep.IsDefault && ep.IsWorking {
			return ep, nil
		}
		if ep.LastSuccessAt.IsZero() {
			continue
		}
		if fallback == nil || ep.LastSuccessAt.After(fallback.LastSuccessAt) {
			fallback = ep
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, errors.New(errors.CodeProxyNoneAvailable, "no working proxy endpoint available")
}

// SetDefault promotes one endpoint to default, demoting every other in
// the same write.
func (p *Pool) SetDefault(ctx context.Context, id string) error {
	return p.proxies.SetDefault(ctx, id)
}

// RecordOutcome folds a live dispatch result into the endpoint's
// health, using the same demotion policy as the prober. Satisfies the
// router's proxy reporting hook.
func (p *Pool) RecordOutcome(ctx context.Context, id string, success bool, latencyMs int64) error {
	return p.proxies.RecordProbe(ctx, id, success, latencyMs, p.failureThreshold)
}
