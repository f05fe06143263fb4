// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

// Package secrets keeps provider API keys and proxy credentials out of
// config files. Values may be stored in the OS keyring and referenced
// from configuration through keyring:// URIs.
package secrets

// DefaultService is the keyring service name chatrelay stores its
// secrets under.
const DefaultService = "chatrelay"

// Store is the secret storage capability. The default implementation
// uses the OS keyring; tests use keyring.MockInit.
type Store interface {
	// Store saves a secret value under the given service and key.
	Store(service, key, value string) error

	// Retrieve fetches the secret value for the given service and key.
	Retrieve(service, key string) (string, error)

	// Delete removes the secret for the given service and key.
	Delete(service, key string) error

	// List returns all key names stored under the given service.
	List(service string) ([]string, error)
}
