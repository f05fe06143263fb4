// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package main

import (
	"bytes"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/secrets"
	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

// mockSecretStore is an in-memory secrets.Store for testing.
type mockSecretStore struct {
	data map[string]string
}

func newMockSecretStore(keys ...string) *mockSecretStore {
	m := &mockSecretStore{data: make(map[string]string)}
	for _, k := range keys {
		m.data[k] = "redacted"
	}
	return m
}

func (m *mockSecretStore) Store(_, key, value string) error {
	m.data[key] = value
	return nil
}

func (m *mockSecretStore) Retrieve(_, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", relayerr.Errorf(relayerr.CodeSecretNotFound, "not found")
	}
	return v, nil
}

func (m *mockSecretStore) Delete(_, key string) error {
	if _, ok := m.data[key]; !ok {
		return relayerr.Errorf(relayerr.CodeSecretNotFound, "not found")
	}
	delete(m.data, key)
	return nil
}

func (m *mockSecretStore) List(_ string) ([]string, error) {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func withMockSecretStore(t *testing.T, mock *mockSecretStore) {
	t.Helper()
	origFactory := secretStoreFactory
	secretStoreFactory = func() secrets.Store { return mock }
	t.Cleanup(func() { secretStoreFactory = origFactory })
}

func TestSecretList(t *testing.T) {
	resetViper(t)
	tests := []struct {
		name     string
		keys     []string
		wantKeys []string
		wantMsg  string // exact output for empty case
	}{
		{
			name:    "empty store",
			keys:    nil,
			wantMsg: "No secrets stored.\n",
		},
		{
			name:     "single key",
			keys:     []string{"openai-api-key"},
			wantKeys: []string{"openai-api-key"},
		},
		{
			name:     "multiple keys",
			keys:     []string{"api-key-1", "api-key-2"},
			wantKeys: []string{"api-key-1", "api-key-2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withMockSecretStore(t, newMockSecretStore(tt.keys...))

			cmd := NewRootCmd()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs([]string{"secret", "list"})

			err := cmd.Execute()
			require.NoError(t, err)

			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, buf.String())
			} else {
				// Sort output lines for deterministic comparison (map iteration order).
				got := strings.Split(strings.TrimSpace(buf.String()), "\n")
				sort.Strings(got)
				want := append([]string(nil), tt.wantKeys...)
				sort.Strings(want)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestSecretDelete(t *testing.T) {
	resetViper(t)
	tests := []struct {
		name       string
		keys       []string
		deleteKey  string
		wantOutput string
		wantErr    bool
		wantCode   relayerr.Code
	}{
		{
			name:       "delete existing key",
			keys:       []string{"openai-api-key"},
			deleteKey:  "openai-api-key",
			wantOutput: "Deleted secret: openai-api-key\n",
		},
		{
			name:      "delete non-existent key",
			keys:      nil,
			deleteKey: "missing-key",
			wantErr:   true,
			wantCode:  relayerr.CodeSecretNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockSecretStore(tt.keys...)
			withMockSecretStore(t, mock)

			cmd := NewRootCmd()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs([]string{"secret", "delete", tt.deleteKey})

			err := cmd.Execute()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, relayerr.HasCode(err, tt.wantCode))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutput, buf.String())
			_, ok := mock.data[tt.deleteKey]
			assert.False(t, ok, "key should be removed from the store")
		})
	}
}
