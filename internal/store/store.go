// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package store

import "context"

// RelayStore groups the four independent record sets the orchestration
// engine persists. No reads join across them.
type RelayStore interface {
	Health() HealthStore
	Sessions() SessionStore
	Toggles() ToggleStore
	Proxies() ProxyStore
	Close() error
}

// HealthStore manages durable outcome counters per provider/model key.
// All mutations are atomic at the record level: two goroutines recording
// outcomes for the same key must not lose increments.
type HealthStore interface {
	// RecordOutcome atomically folds one attempt into the counters for key.
	// Latency is only folded into the moving average on success samples
	// with latencyMs > 0.
	RecordOutcome(ctx context.Context, key string, success bool, latencyMs int64) error

	// Read returns the current counters for key, or a zero-valued record
	// when the key has never been seen.
	Read(ctx context.Context, key string) (*ProviderHealth, error)

	// ReadAll returns a snapshot of every tracked key for ranking.
	ReadAll(ctx context.Context) (map[string]*ProviderHealth, error)

	// Reset zeroes all counters. Admin action only.
	Reset(ctx context.Context) error
}

// SessionStore manages the single durable credential record per provider.
type SessionStore interface {
	// Upsert replaces any existing session for session.Provider and
	// returns the stored record's id. CreatedAt/LastUsedAt are set to now
	// when zero.
	Upsert(ctx context.Context, session *ProviderSession) (string, error)

	// IncrementUsage atomically bumps UsageCount and refreshes LastUsedAt.
	IncrementUsage(ctx context.Context, provider string) error

	// GetValid returns the session only while it is still usable
	// (below cap and unexpired). A spent or missing session yields a
	// not-found error; spent records are deleted eagerly.
	GetValid(ctx context.Context, provider string) (*ProviderSession, error)

	// Delete removes the session for provider, if any.
	Delete(ctx context.Context, provider string) error

	// List returns all persisted sessions, valid or not.
	List(ctx context.Context) ([]*ProviderSession, error)
}

// ToggleStore manages administrative provider gates.
type ToggleStore interface {
	Upsert(ctx context.Context, toggle *ProviderToggle) error
	Get(ctx context.Context, provider string) (*ProviderToggle, error)
	List(ctx context.Context) ([]*ProviderToggle, error)
	SetEnabled(ctx context.Context, provider string, enabled bool) error
}

// ProxyStore manages the outbound proxy endpoint set.
type ProxyStore interface {
	Create(ctx context.Context, proxy *ProxyEndpoint) error
	Get(ctx context.Context, id string) (*ProxyEndpoint, error)

	// List returns endpoints, restricted to IsActive rows when activeOnly.
	List(ctx context.Context, activeOnly bool) ([]*ProxyEndpoint, error)

	// SetDefault flags id as the default and clears the flag on every
	// other row in the same write.
	SetDefault(ctx context.Context, id string) error

	// RecordProbe folds one health probe into the row: success clears
	// IsWorking back to true immediately; failureThreshold consecutive
	// failures force it false. Executed atomically per row.
	RecordProbe(ctx context.Context, id string, success bool, latencyMs int64, failureThreshold int64) error

	// SetActive demotes or re-admits an endpoint without deleting it.
	SetActive(ctx context.Context, id string, active bool) error

	Delete(ctx context.Context, id string) error
}
