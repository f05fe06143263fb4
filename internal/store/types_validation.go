// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package store

import (
	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

// Valid reports whether the kind is a known provider kind.
func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderKindAPI, ProviderKindBrowser:
		return true
	default:
		return false
	}
}

// Validate checks that the ProviderToggle has all required fields set correctly.
func (t ProviderToggle) Validate() error {
	if t.Provider == "" {
		return relayerr.New(relayerr.CodeStoreInvalidInput, "toggle: Provider is required")
	}
	if !t.Kind.Valid() {
		return relayerr.Errorf(relayerr.CodeStoreInvalidInput, "toggle: invalid kind %q", t.Kind)
	}
	return nil
}

// Validate checks that the ProviderSession has all required fields set correctly.
func (s ProviderSession) Validate() error {
	if s.Provider == "" {
		return relayerr.New(relayerr.CodeStoreInvalidInput, "session: Provider is required")
	}
	if s.UsageCount < 0 {
		return relayerr.Errorf(relayerr.CodeStoreInvalidInput, "session: UsageCount must be >= 0, got %d", s.UsageCount)
	}
	if s.UsageCap < 0 {
		return relayerr.Errorf(relayerr.CodeStoreInvalidInput, "session: UsageCap must be >= 0, got %d", s.UsageCap)
	}
	return nil
}

// Validate checks that the ProxyEndpoint has all required fields set correctly.
func (p ProxyEndpoint) Validate() error {
	if p.Address == "" {
		return relayerr.New(relayerr.CodeStoreInvalidInput, "proxy: Address is required")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return relayerr.Errorf(relayerr.CodeStoreInvalidInput, "proxy: invalid port %d", p.Port)
	}
	switch p.Protocol {
	case "http", "https", "socks5":
	default:
		return relayerr.Errorf(relayerr.CodeStoreInvalidInput, "proxy: invalid protocol %q", p.Protocol)
	}
	// Password without a username is an authoring mistake; the reverse is allowed.
	if p.Password != "" && p.Username == "" {
		return relayerr.New(relayerr.CodeStoreInvalidInput, "proxy: Password set without Username")
	}
	return nil
}
