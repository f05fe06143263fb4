// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package provider

import (
	"strings"
	"sync"

	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

// ModelRef is one (provider, provider-native model) pair that can serve a
// friendly model name.
type ModelRef struct {
	Friendly string // user-facing model name
	Provider string
	Model    string // provider-native model id
}

// Key returns the "provider/model" health-store key for this ref.
func (r ModelRef) Key() string {
	return r.Provider + "/" + r.Model
}

// Catalog is the ordered mapping from friendly model names to the
// provider/model pairs that serve them. Routing is model-first: a logical
// request names a friendly model (or none, meaning "any"), and the static
// catalog order is the baseline the health ranking then reorders.
type Catalog struct {
	mu      sync.RWMutex
	entries []ModelRef
}

// NewCatalog creates a catalog from the configured ranking, preserving
// entry order.
func NewCatalog(entries []ModelRef) *Catalog {
	return &Catalog{entries: append([]ModelRef(nil), entries...)}
}

// Candidates returns the refs able to serve the requested model, in
// catalog order.
//
// The request may be empty or "auto" (every entry qualifies), a friendly
// name, or an explicit "provider/model" pair. An explicit pair does not
// need a catalog entry; it resolves to itself.
func (c *Catalog) Candidates(model string) ([]ModelRef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if model == "" || model == "auto" {
		if len(c.entries) == 0 {
			return nil, relayerr.New(relayerr.CodeRouterNoCandidates, "model catalog is empty")
		}
		return append([]ModelRef(nil), c.entries...), nil
	}

	if idx := strings.Index(model, "/"); idx > 0 {
		ref := ModelRef{Provider: model[:idx], Model: model[idx+1:]}
		if ref.Model == "" {
			return nil, relayerr.Errorf(relayerr.CodeRouterInvalidModelRef,
				"model ref %q is missing the model portion", model)
		}
		if friendly, ok := c.friendlyLocked(ref.Provider, ref.Model); ok {
			ref.Friendly = friendly
		}
		return []ModelRef{ref}, nil
	}

	var out []ModelRef
	for _, e := range c.entries {
		if e.Friendly == model {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, relayerr.New(relayerr.CodeRouterNoCandidates,
			"no provider serves model: "+model, relayerr.FieldModel(model))
	}
	return out, nil
}

// FriendlyName returns the catalog's friendly name for a provider/model
// pair, or "provider/model" when the pair is not cataloged.
func (c *Catalog) FriendlyName(providerName, model string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if friendly, ok := c.friendlyLocked(providerName, model); ok {
		return friendly
	}
	return providerName + "/" + model
}

// FriendlyNames lists all distinct friendly names in catalog order.
func (c *Catalog) FriendlyNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{}, len(c.entries))
	var out []string
	for _, e := range c.entries {
		if _, ok := seen[e.Friendly]; ok {
			continue
		}
		seen[e.Friendly] = struct{}{}
		out = append(out, e.Friendly)
	}
	return out
}

// Entries returns a copy of the full catalog in order.
func (c *Catalog) Entries() []ModelRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ModelRef(nil), c.entries...)
}

func (c *Catalog) friendlyLocked(providerName, model string) (string, bool) {
	for _, e := range c.entries {
		if e.Provider == providerName && e.Model == model {
			return e.Friendly, true
		}
	}
	return "", false
}
