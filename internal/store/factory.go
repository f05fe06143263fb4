// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package store

import (
	"sync"

	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

// Factory creates a RelayStore rooted at dataPath. File-backed backends
// derive their database paths from it; in-memory backends ignore it.
type Factory func(dataPath string) (RelayStore, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a factory for a named storage backend.
// Backend packages call this from init(). Goroutine-safe.
func RegisterBackend(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// resolveBackend returns the effective backend name, defaulting to "sqlite".
func resolveBackend(cfg *StorageConfig) string {
	if cfg == nil || cfg.Backend == "" {
		return "sqlite"
	}
	return cfg.Backend
}

// New creates the RelayStore for the configured backend.
func New(cfg *StorageConfig, dataPath string) (RelayStore, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, relayerr.Errorf(relayerr.CodeStoreBackendUnsupported,
			"unsupported storage backend: %q", backend)
	}

	return factory(dataPath)
}
