// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package store

import (
	"fmt"
	"time"
)

// --- Provider toggle types ---

// ProviderKind distinguishes how a provider is driven. The router never
// branches on kind; it exists for administrative display and for choosing
// the session-opening strategy.
type ProviderKind string

const (
	ProviderKindAPI     ProviderKind = "api"
	ProviderKindBrowser ProviderKind = "browser"
)

// ProviderToggle is the administrative enable/disable gate for a provider.
// It is consulted by the router before a provider becomes a candidate and
// is mutated only through the admin surface.
type ProviderToggle struct {
	Provider    string
	DisplayName string
	Kind        ProviderKind
	Enabled     bool
	UpdatedAt   time.Time
}

// --- Provider health types ---

// ProviderHealth holds durable outcome counters for one provider/model
// pair, keyed by "provider/model". SuccessCount and FailureCount only
// grow; ConsecutiveFailures resets to zero on any success.
//
// Invariant: SuccessCount + FailureCount == SampleCount.
type ProviderHealth struct {
	Key                 string
	SuccessCount        int64
	FailureCount        int64
	ConsecutiveFailures int64
	AvgLatencyMs        float64
	TotalLatencyMs      int64
	SampleCount         int64
	LastFailureAt       time.Time // zero when the key has never failed
	UpdatedAt           time.Time
}

// SuccessRatio returns the smoothed success rate used by the ranking
// score. The +1 keeps unseen keys from ranking as perfect.
func (h *ProviderHealth) SuccessRatio() float64 {
	return float64(h.SuccessCount) / float64(h.SuccessCount+h.FailureCount+1)
}

// --- Provider session types ---

// DefaultSessionUsageCap bounds how many calls a persisted browser
// session serves before it must be re-established.
const DefaultSessionUsageCap = 50

// ProviderSession is the durable credential record for one provider.
// At most one live session exists per provider; an upsert replaces any
// previous record.
type ProviderSession struct {
	ID         string
	Provider   string
	Credential []byte // opaque blob: cookies, tokens, user agent
	UsageCount int64
	UsageCap   int64
	ExpiresAt  time.Time // zero means no expiry
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Usable reports whether the session may still serve calls at the given
// instant. A session at its usage cap is spent even if unexpired, and an
// expired session is spent even if unused.
func (s *ProviderSession) Usable(now time.Time) bool {
	if s.UsageCap > 0 && s.UsageCount >= s.UsageCap {
		return false
	}
	if !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt) {
		return false
	}
	return true
}

// --- Proxy types ---

// ProxyEndpoint is one outbound proxy row. At most one row carries
// IsDefault across the whole set; SetDefault enforces that in a single
// write. Repeatedly failing proxies are demoted (IsActive=false), never
// physically deleted by policy.
type ProxyEndpoint struct {
	ID                   string
	Address              string
	Port                 int
	Protocol             string // "http", "https", or "socks5"
	Username             string
	Password             string
	IsActive             bool
	IsDefault            bool
	IsWorking            bool
	ConsecutiveFailures  int64
	ConsecutiveSuccesses int64
	LastLatencyMs        int64
	LastTestedAt         time.Time
	LastSuccessAt        time.Time
	CreatedAt            time.Time
}

// URL renders the endpoint in scheme://[user:pass@]host:port form, the
// shape both net/http transports and rod's launcher accept.
func (p *ProxyEndpoint) URL() string {
	if p.Username != "" {
		return fmt.Sprintf("%s://%s:%s@%s:%d", p.Protocol, p.Username, p.Password, p.Address, p.Port)
	}
	return fmt.Sprintf("%s://%s:%d", p.Protocol, p.Address, p.Port)
}
