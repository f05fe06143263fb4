// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package secrets

import (
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

const keyringScheme = "keyring://"

// IsKeyringURI reports whether value uses the keyring:// URI scheme.
func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// ParseKeyringURI extracts service and key from a keyring://service/key URI.
func ParseKeyringURI(uri string) (service, key string, err error) {
	if !IsKeyringURI(uri) {
		return "", "", relayerr.Errorf(relayerr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}

	path := strings.TrimPrefix(uri, keyringScheme)
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", relayerr.Errorf(relayerr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}
	return parts[0], parts[1], nil
}

// ResolveKeyringURI resolves a single keyring:// URI to its secret
// value. Non-URI values pass through unchanged, so provider API keys
// can be given inline or via the keyring interchangeably.
func ResolveKeyringURI(store Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}

	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}

	secret, err := store.Retrieve(service, key)
	if err != nil {
		return "", relayerr.Wrapf(err, relayerr.CodeSecretResolveFailure,
			"resolving keyring URI %q", value)
	}
	return secret, nil
}

// ResolveViperSecrets walks all keys in a Viper instance and resolves
// any string values using the keyring:// scheme. Runs after config
// load, before provider construction, so a missing secret is caught at
// startup rather than on the first provider call.
func ResolveViperSecrets(v *viper.Viper, store Store) error {
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if !IsKeyringURI(val) {
			continue
		}

		resolved, err := ResolveKeyringURI(store, val)
		if err != nil {
			return relayerr.Wrapf(err, relayerr.CodeSecretResolveFailure,
				"config key %s: unresolvable secret %q", key, val)
		}
		v.Set(key, resolved)
		slog.Debug("resolved keyring secret", "config_key", key)
	}
	return nil
}
