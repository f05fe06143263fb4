// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package provider

import (
	"sort"
	"sync"

	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

// Registry manages provider registration and lookup. It holds the live
// capability instances; which one serves a request is the router's call.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its own Name. A second registration for
// the same name replaces the first.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, relayerr.New(
			relayerr.CodeProviderNotFound,
			"provider not found: "+name,
			relayerr.FieldProvider(name),
		)
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close shuts down all registered providers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return relayerr.Join(errs...)
	}
	return nil
}
