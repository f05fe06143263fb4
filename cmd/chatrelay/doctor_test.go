// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package main

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func stubKeyCheckClient(status int) *http.Client {
	return &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader("{}")),
			Header:     make(http.Header),
		}, nil
	})}
}

func TestDoctorCommand_RelayDown(t *testing.T) {
	resetViper(t)
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"doctor", "--address", "127.0.0.1:1"})

	err := root.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "chatrelay")
	assert.Contains(t, buf.String(), "not running")
}

func TestDoctorCommand_KeyChecks(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "chatrelay.yaml")
	cfgYAML := `
providers:
  openai:
    mode: api
    api_key: sk-test
  anthropic:
    mode: api
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o600))

	old := doctorHTTPClient
	doctorHTTPClient = stubKeyCheckClient(http.StatusOK)
	t.Cleanup(func() { doctorHTTPClient = old })

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"doctor", "--config", cfgPath, "--address", "127.0.0.1:1"})

	err := root.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Key openai:")
	assert.Contains(t, buf.String(), "valid")
	assert.Contains(t, buf.String(), "Key anthropic:")
	assert.Contains(t, buf.String(), "no api_key configured")
}

func TestDoctorCommand_RejectedKey(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "chatrelay.yaml")
	cfgYAML := `
providers:
  openai:
    mode: api
    api_key: sk-bad
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o600))

	old := doctorHTTPClient
	doctorHTTPClient = stubKeyCheckClient(http.StatusUnauthorized)
	t.Cleanup(func() { doctorHTTPClient = old })

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"doctor", "--config", cfgPath, "--address", "127.0.0.1:1"})

	err := root.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "rejected by provider")
}
