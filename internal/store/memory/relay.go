// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

// Package memory provides an in-memory store.RelayStore for tests and
// ephemeral deployments. Semantics mirror the sqlite backend, including
// eager deletion of spent sessions and the single-default proxy rule.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/chatrelay/internal/store"
)

// Compile-time interface checks.
var (
	_ store.RelayStore   = (*RelayStore)(nil)
	_ store.HealthStore  = (*healthStore)(nil)
	_ store.SessionStore = (*sessionStore)(nil)
	_ store.ToggleStore  = (*toggleStore)(nil)
	_ store.ProxyStore   = (*proxyStore)(nil)
)

func init() {
	store.RegisterBackend("memory", func(string) (store.RelayStore, error) {
		return NewRelayStore(), nil
	})
}

// RelayStore implements store.RelayStore with in-process maps.
type RelayStore struct {
	health   *healthStore
	sessions *sessionStore
	toggles  *toggleStore
	proxies  *proxyStore
}

// NewRelayStore creates an empty in-memory RelayStore.
func NewRelayStore() *RelayStore {
	return &RelayStore{
		health:   &healthStore{records: make(map[string]*store.ProviderHealth), latSamples: make(map[string]int64)},
		sessions: &sessionStore{records: make(map[string]*store.ProviderSession)},
		toggles:  &toggleStore{records: make(map[string]*store.ProviderToggle)},
		proxies:  &proxyStore{records: make(map[string]*store.ProxyEndpoint)},
	}
}

func (s *RelayStore) Health() store.HealthStore    { return s.health }
func (s *RelayStore) Sessions() store.SessionStore { return s.sessions }
func (s *RelayStore) Toggles() store.ToggleStore   { return s.toggles }
func (s *RelayStore) Proxies() store.ProxyStore    { return s.proxies }
func (s *RelayStore) Close() error                 { return nil }

// --- health ---

type healthStore struct {
	mu         sync.Mutex
	records    map[string]*store.ProviderHealth
	latSamples map[string]int64
}

func (s *healthStore) RecordOutcome(_ context.Context, key string, success bool, latencyMs int64) error {
	if key == "" {
		return fmt.Errorf("recording outcome: empty key: %w", store.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.records[key]
	if !ok {
		h = &store.ProviderHealth{Key: key}
		s.records[key] = h
	}

	now := time.Now()
	if success {
		h.SuccessCount++
		h.ConsecutiveFailures = 0
		if latencyMs > 0 {
			h.TotalLatencyMs += latencyMs
			s.latSamples[key]++
			h.AvgLatencyMs = float64(h.TotalLatencyMs) / float64(s.latSamples[key])
		}
	} else {
		h.FailureCount++
		h.ConsecutiveFailures++
		h.LastFailureAt = now
	}
	h.SampleCount++
	h.UpdatedAt = now
	return nil
}

func (s *healthStore) Read(_ context.Context, key string) (*store.ProviderHealth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.records[key]
	if !ok {
		return &store.ProviderHealth{Key: key}, nil
	}
	cp := *h
	return &cp, nil
}

func (s *healthStore) ReadAll(_ context.Context) (map[string]*store.ProviderHealth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*store.ProviderHealth, len(s.records))
	for k, h := range s.records {
		cp := *h
		out[k] = &cp
	}
	return out, nil
}

func (s *healthStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*store.ProviderHealth)
	s.latSamples = make(map[string]int64)
	return nil
}

// --- sessions ---

type sessionStore struct {
	mu      sync.Mutex
	records map[string]*store.ProviderSession
}

func (s *sessionStore) Upsert(_ context.Context, session *store.ProviderSession) (string, error) {
	if err := session.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *session
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.UsageCap == 0 {
		cp.UsageCap = store.DefaultSessionUsageCap
	}
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.LastUsedAt = now
	s.records[cp.Provider] = &cp
	return cp.ID, nil
}

func (s *sessionStore) IncrementUsage(_ context.Context, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.records[provider]
	if !ok {
		return fmt.Errorf("session for %s: %w", provider, store.ErrNotFound)
	}
	sess.UsageCount++
	sess.LastUsedAt = time.Now()
	return nil
}

func (s *sessionStore) GetValid(_ context.Context, provider string) (*store.ProviderSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.records[provider]
	if !ok {
		return nil, fmt.Errorf("session for %s: %w", provider, store.ErrNotFound)
	}
	if !sess.Usable(time.Now()) {
		delete(s.records, provider)
		return nil, fmt.Errorf("session for %s is spent: %w", provider, store.ErrNotFound)
	}
	cp := *sess
	return &cp, nil
}

func (s *sessionStore) Delete(_ context.Context, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, provider)
	return nil
}

func (s *sessionStore) List(_ context.Context) ([]*store.ProviderSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*store.ProviderSession, 0, len(s.records))
	for _, sess := range s.records {
		cp := *sess
		out = append(out, &cp)
	}
	return out, nil
}

// --- toggles ---

type toggleStore struct {
	mu      sync.Mutex
	records map[string]*store.ProviderToggle
}

func (s *toggleStore) Upsert(_ context.Context, toggle *store.ProviderToggle) error {
	if err := toggle.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *toggle
	cp.UpdatedAt = time.Now()
	s.records[cp.Provider] = &cp
	return nil
}

func (s *toggleStore) Get(_ context.Context, provider string) (*store.ProviderToggle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.records[provider]
	if !ok {
		return nil, fmt.Errorf("toggle for %s: %w", provider, store.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *toggleStore) List(_ context.Context) ([]*store.ProviderToggle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*store.ProviderToggle, 0, len(s.records))
	for _, t := range s.records {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *toggleStore) SetEnabled(_ context.Context, provider string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.records[provider]
	if !ok {
		return fmt.Errorf("toggle for %s: %w", provider, store.ErrNotFound)
	}
	t.Enabled = enabled
	t.UpdatedAt = time.Now()
	return nil
}

// --- proxies ---

type proxyStore struct {
	mu      sync.Mutex
	records map[string]*store.ProxyEndpoint
}

func (s *proxyStore) Create(_ context.Context, proxy *store.ProxyEndpoint) error {
	if err := proxy.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.records {
		if p.Address == proxy.Address && p.Port == proxy.Port {
			return fmt.Errorf("proxy %s:%d already exists: %w", proxy.Address, proxy.Port, store.ErrConflict)
		}
	}

	cp := *proxy
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	proxy.ID = cp.ID
	s.records[cp.ID] = &cp
	return nil
}

func (s *proxyStore) Get(_ context.Context, id string) (*store.ProxyEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("proxy %s: %w", id, store.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *proxyStore) List(_ context.Context, activeOnly bool) ([]*store.ProxyEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*store.ProxyEndpoint, 0, len(s.records))
	for _, p := range s.records {
		if activeOnly && !p.IsActive {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *proxyStore) SetDefault(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("proxy %s: %w", id, store.ErrNotFound)
	}
	for pid, p := range s.records {
		p.IsDefault = pid == id
	}
	return nil
}

func (s *proxyStore) RecordProbe(_ context.Context, id string, success bool, latencyMs int64, failureThreshold int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.records[id]
	if !ok {
		return fmt.Errorf("proxy %s: %w", id, store.ErrNotFound)
	}

	now := time.Now()
	p.LastTestedAt = now
	if success {
		p.ConsecutiveFailures = 0
		p.ConsecutiveSuccesses++
		p.LastLatencyMs = latencyMs
		p.LastSuccessAt = now
		p.IsWorking = true
		return nil
	}

	p.ConsecutiveSuccesses = 0
	p.ConsecutiveFailures++
	if p.ConsecutiveFailures >= failureThreshold {
		p.IsWorking = false
	}
	return nil
}

func (s *proxyStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.records[id]
	if !ok {
		return fmt.Errorf("proxy %s: %w", id, store.ErrNotFound)
	}
	p.IsActive = active
	return nil
}

func (s *proxyStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}
