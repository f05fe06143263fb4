// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package secrets

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/zalando/go-keyring"

	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

// keysIndexSuffix forms the key under which the JSON index of stored
// key names lives. go-keyring cannot enumerate keys, so List works off
// this index instead.
const keysIndexSuffix = "::keys-index"

// KeyringStore implements Store on the OS keyring: Keychain on macOS,
// secret-service on Linux, Credential Manager on Windows.
type KeyringStore struct{}

func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (s *KeyringStore) Store(service, key, value string) error {
	if service == "" {
		return relayerr.New(relayerr.CodeSecretInvalidInput, "secret store: service must not be empty")
	}
	if key == "" {
		return relayerr.New(relayerr.CodeSecretInvalidInput, "secret store: key must not be empty")
	}

	if err := keyring.Set(service, key, value); err != nil {
		return relayerr.Wrapf(err, relayerr.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}
	return s.addToIndex(service, key)
}

func (s *KeyringStore) Retrieve(service, key string) (string, error) {
	if service == "" {
		return "", relayerr.New(relayerr.CodeSecretInvalidInput, "secret retrieve: service must not be empty")
	}
	if key == "" {
		return "", relayerr.New(relayerr.CodeSecretInvalidInput, "secret retrieve: key must not be empty")
	}

	val, err := keyring.Get(service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", relayerr.Errorf(relayerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
		}
		return "", relayerr.Wrapf(err, relayerr.CodeSecretStoreFailure, "retrieving secret %s/%s", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if service == "" {
		return relayerr.New(relayerr.CodeSecretInvalidInput, "secret delete: service must not be empty")
	}
	if key == "" {
		return relayerr.New(relayerr.CodeSecretInvalidInput, "secret delete: key must not be empty")
	}

	if err := keyring.Delete(service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return relayerr.Errorf(relayerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
		}
		return relayerr.Wrapf(err, relayerr.CodeSecretStoreFailure, "deleting secret %s/%s", service, key)
	}
	return s.removeFromIndex(service, key)
}

func (s *KeyringStore) List(service string) ([]string, error) {
	return s.loadIndex(service)
}

func (s *KeyringStore) loadIndex(service string) ([]string, error) {
	raw, err := keyring.Get(service, service+keysIndexSuffix)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, relayerr.Wrapf(err, relayerr.CodeSecretStoreFailure, "loading key index for service %s", service)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, relayerr.Wrapf(err, relayerr.CodeSecretStoreFailure, "decoding key index for service %s", service)
	}
	return keys, nil
}

func (s *KeyringStore) saveIndex(service string, keys []string) error {
	indexKey := service + keysIndexSuffix

	if len(keys) == 0 {
		if delErr := keyring.Delete(service, indexKey); delErr != nil {
			slog.Debug("failed to clean up empty key index", "service", service, "error", delErr)
		}
		return nil
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return relayerr.Wrapf(err, relayerr.CodeSecretStoreFailure, "encoding key index for service %s", service)
	}
	if err := keyring.Set(service, indexKey, string(data)); err != nil {
		return relayerr.Wrapf(err, relayerr.CodeSecretStoreFailure, "saving key index for service %s", service)
	}
	return nil
}

// addToIndex records a key in the service's index, idempotently.
func (s *KeyringStore) addToIndex(service, key string) error {
	keys, err := s.loadIndex(service)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k == key {
			return nil
		}
	}
	return s.saveIndex(service, append(keys, key))
}

func (s *KeyringStore) removeFromIndex(service, key string) error {
	keys, err := s.loadIndex(service)
	if err != nil {
		return err
	}
	filtered := keys[:0]
	for _, k := range keys {
		if k != key {
			filtered = append(filtered, k)
		}
	}
	return s.saveIndex(service, filtered)
}
