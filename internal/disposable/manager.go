// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package disposable

import (
	"context"
	"sort"
	"sync"

	"github.com/chatrelay/chatrelay/pkg/errors"
	"github.com/chatrelay/chatrelay/pkg/health"
)

// Manager holds the controllers for all disposable-mode providers and
// backs the admin surface (status projection, manual reset).
type Manager struct {
	mu          sync.RWMutex
	controllers map[string]*Controller
}

func NewManager() *Manager {
	return &Manager{controllers: make(map[string]*Controller)}
}

func (m *Manager) Register(c *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controllers[c.provider] = c
}

// Get returns the controller for a provider, or an error when the
// provider does not run in disposable mode.
func (m *Manager) Get(provider string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.controllers[provider]
	if !ok {
		return nil, errors.New(errors.CodeDisposableNotRunning, "provider is not running in disposable mode",
			errors.FieldProvider(provider))
	}
	return c, nil
}

// Reset forces a manual identity rotation for a provider.
func (m *Manager) Reset(ctx context.Context, provider string) error {
	c, err := m.Get(provider)
	if err != nil {
		return err
	}
	return c.Reset(ctx)
}

// Statuses returns the projection for every registered controller,
// sorted by provider name.
func (m *Manager) Statuses() []health.DisposableStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]health.DisposableStatus, 0, len(m.controllers))
	for _, c := range m.controllers {
		out = append(out, c.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// Close shuts every controller down, collecting errors.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, c := range m.controllers {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
