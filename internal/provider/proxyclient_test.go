// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package provider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/provider"
)

func TestProxyHTTPClient_ReusesClientPerURL(t *testing.T) {
	a, err := provider.ProxyHTTPClient("http://10.0.0.1:8080")
	require.NoError(t, err)
	b, err := provider.ProxyHTTPClient("http://10.0.0.1:8080")
	require.NoError(t, err)
	assert.Same(t, a, b, "the same proxy shares one connection pool")

	c, err := provider.ProxyHTTPClient("socks5://10.0.0.2:1080")
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestProxyHTTPClient_RejectsUnparsableURL(t *testing.T) {
	_, err := provider.ProxyHTTPClient("http://bad url\x7f")
	require.Error(t, err)
}
