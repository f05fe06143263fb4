// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package router

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/chatrelay/chatrelay/internal/provider"
	"github.com/chatrelay/chatrelay/internal/store"
)

// score computes the composite ranking score for one candidate's health
// snapshot. Recent failure streaks dominate, long-run success ratio comes
// next, latency breaks ties.
func (r *Router) score(h *store.ProviderHealth) float64 {
	return -float64(h.ConsecutiveFailures)*r.cfg.WeightStreak +
		h.SuccessRatio()*r.cfg.WeightSuccess -
		h.AvgLatencyMs*r.cfg.WeightLatency
}

// tripped reports whether the candidate's breaker is open and, when it
// has cooled down, whether it is eligible for one half-open probe.
func (r *Router) tripped(h *store.ProviderHealth, now time.Time) (open, halfOpen bool) {
	if h.ConsecutiveFailures < r.cfg.BreakerThreshold {
		return false, false
	}
	if h.LastFailureAt.IsZero() {
		return false, false
	}
	if now.Sub(h.LastFailureAt) < r.cfg.BreakerCooldown {
		return true, false
	}
	return true, true
}

// Availability reports whether the key may take traffic right now and,
// when the breaker holds it out, the instant its cooldown ends. A
// half-open candidate counts as available: it is eligible for a probe.
func (r *Router) Availability(h *store.ProviderHealth, now time.Time) (available bool, cooldownUntil time.Time) {
	open, halfOpen := r.tripped(h, now)
	if open && !halfOpen {
		return false, h.LastFailureAt.Add(r.cfg.BreakerCooldown)
	}
	return true, time.Time{}
}

// rank filters candidates through their toggles and the circuit breaker,
// then orders them by score. Candidates past their breaker cooldown are
// re-admitted at the bottom as half-open probes.
func (r *Router) rank(ctx context.Context, refs []provider.ModelRef) []provider.ModelRef {
	snapshots, err := r.health.ReadAll(ctx)
	if err != nil {
		// Ranking degrades to catalog order; losing the reorder must not
		// block the request path.
		slog.Warn("reading health snapshots for ranking", "error", err)
		snapshots = map[string]*store.ProviderHealth{}
	}

	now := r.nowFunc()

	type scored struct {
		ref   provider.ModelRef
		score float64
	}
	var eligible, probes []scored

	for _, ref := range refs {
		if !r.providerEnabled(ctx, ref.Provider) {
			continue
		}

		h, ok := snapshots[ref.Key()]
		if !ok {
			h = &store.ProviderHealth{Key: ref.Key()}
		}

		open, halfOpen := r.tripped(h, now)
		switch {
		case open && !halfOpen:
			slog.Debug("breaker open, candidate excluded",
				"key", ref.Key(),
				"consecutive_failures", h.ConsecutiveFailures)
			continue
		case open && halfOpen:
			probes = append(probes, scored{ref: ref, score: r.score(h)})
		default:
			eligible = append(eligible, scored{ref: ref, score: r.score(h)})
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].score > eligible[j].score })
	sort.SliceStable(probes, func(i, j int) bool { return probes[i].score > probes[j].score })

	out := make([]provider.ModelRef, 0, len(eligible)+len(probes))
	for _, s := range eligible {
		out = append(out, s.ref)
	}
	for _, s := range probes {
		out = append(out, s.ref)
	}
	return out
}

// providerEnabled consults the administrative toggle. Providers without a
// toggle row are treated as enabled; the gate exists to switch providers
// off, not to require opt-in.
func (r *Router) providerEnabled(ctx context.Context, name string) bool {
	toggle, err := r.toggles.Get(ctx, name)
	if err != nil {
		return true
	}
	return toggle.Enabled
}
