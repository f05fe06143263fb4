// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package browser

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomUserAgent(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		ua := RandomUserAgent()
		require.NotEmpty(t, ua)
		assert.Contains(t, ua, "Mozilla/5.0")
		seen[ua] = true
	}
	assert.Greater(t, len(seen), 1, "rotation must not return a single fixed agent")
}

func TestDecodeCredential_RoundTrip(t *testing.T) {
	cred := Credential{
		Cookies: []*proto.NetworkCookie{
			{Name: "session", Value: "abc123", Domain: ".example.com"},
		},
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) test",
		OpenedAt:  time.Now().UTC().Truncate(time.Second),
	}
	blob, err := json.Marshal(cred)
	require.NoError(t, err)

	got, err := DecodeCredential(blob)
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.Cookies[0].Value)
	assert.Equal(t, cred.UserAgent, got.UserAgent)
	assert.True(t, cred.OpenedAt.Equal(got.OpenedAt))
}

func TestDecodeCredential_Garbage(t *testing.T) {
	_, err := DecodeCredential([]byte("not json"))
	assert.Error(t, err)
}

func TestNewOpener_DefaultTimeout(t *testing.T) {
	o := NewOpener(Config{})
	assert.Equal(t, 60*time.Second, o.cfg.NavTimeout)
}
