// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// errRelayNotRunning indicates the relay refused the connection.
var errRelayNotRunning = errors.New("relay is not running (connection refused)")

// defaultHTTPClient is the package-level HTTP client used by relay commands.
// Overridden in tests via httptest.
var defaultHTTPClient = &http.Client{
	Timeout: 5 * time.Second,
}

// relayClient provides HTTP access to a running ChatRelay instance.
type relayClient struct {
	baseURL string
	http    *http.Client
}

// newRelayClient creates a client targeting the given host:port address.
func newRelayClient(addr string) *relayClient {
	return &relayClient{
		baseURL: "http://" + addr,
		http:    defaultHTTPClient,
	}
}

// getJSON performs a GET request and decodes the JSON response into dest.
// Returns errRelayNotRunning on connection refused.
func (c *relayClient) getJSON(path string, dest interface{}) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		if isDialError(err) {
			return errRelayNotRunning
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("relay returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}

// isDialError returns true if err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
