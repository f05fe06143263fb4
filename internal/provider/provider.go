// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

// Package provider defines the uniform capability every chat/TTS backend
// implements, whether it is driven through a public API or through a
// browser. The router never branches on how a provider is implemented.
package provider

import (
	"context"

	"github.com/chatrelay/chatrelay/internal/store"
	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

// Provider is the capability interface for one backend. Implementations
// classify their own failures: Invoke must return errors carrying one of
// the provider.invoke.* or provider.session.* codes so the router can
// decide whether to retry, skip, or re-authenticate.
type Provider interface {
	// Name returns the stable provider identifier ("openai", "lmarena", ...).
	Name() string

	// Kind reports whether the provider is API-driven or browser-driven.
	// Administrative display only; routing never consults it.
	Kind() store.ProviderKind

	// Models lists the provider-native model ids this instance can serve.
	Models() []string

	// Invoke performs one request against the given model and returns the
	// response. The context carries the per-attempt timeout.
	Invoke(ctx context.Context, req *Request) (*Response, error)

	// OpenSession establishes a fresh authenticated session and returns
	// the opaque credential blob to persist. API-kind providers that need
	// no session return (nil, nil).
	OpenSession(ctx context.Context) ([]byte, error)

	// CloseSession tears down a previously opened session.
	CloseSession(ctx context.Context, credential []byte) error

	// Close releases all resources held by the provider instance.
	Close() error
}

// ProxyCarrier is implemented by providers whose transport honors
// Request.ProxyURL. Proxy health only mirrors the outcomes of attempts
// these providers carry; everything else went direct and must not
// pollute the proxy's counters.
type ProxyCarrier interface {
	CarriesProxy() bool
}

// CarriesProxy reports whether p's transport routes through
// Request.ProxyURL. Wrapping providers forward this to what they wrap.
func CarriesProxy(p Provider) bool {
	pc, ok := p.(ProxyCarrier)
	return ok && pc.CarriesProxy()
}

// SessionProxyOpener is implemented by providers that can establish
// their session through an outbound proxy, typically browser-driven
// ones whose launcher accepts a proxy flag.
type SessionProxyOpener interface {
	OpenSessionVia(ctx context.Context, proxyURL string) ([]byte, error)
}

// Request is one logical invocation. Chat providers consume Messages;
// TTS providers consume Text and Voice and ignore Messages.
type Request struct {
	Model    string
	Messages []Message

	// TTS fields.
	Text  string
	Voice string

	// Credential is the session blob for providers that need one,
	// resolved by the engine from the session store before the call.
	Credential []byte

	// ProxyURL, when non-empty, is the outbound proxy the attempt
	// should route through. Adapters that cannot honor it go direct;
	// see ProxyCarrier.
	ProxyURL string

	MaxTokens   int
	Temperature float32
}

// Response is the uniform result of an invocation.
type Response struct {
	Content  string // assistant text for chat providers
	Audio    []byte // synthesized audio for TTS providers
	Model    string // provider-native model that actually served
	Provider string // provider name, filled in by the router
	Usage    Usage
}

// Usage tracks token consumption for chat providers.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Message is one conversation turn.
type Message struct {
	Role    MessageRole
	Content string
}

// MessageRole defines the role of a message sender.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// Transient wraps err as a retryable failure: the candidate stays
// eligible for future passes after its cooldown.
func Transient(provider string, err error) error {
	return relayerr.Wrap(err, relayerr.CodeProviderInvokeTransient,
		"transient provider failure", relayerr.FieldProvider(provider))
}

// Permanent wraps err as a non-retryable failure: the provider is skipped
// for the remainder of the current failover pass.
func Permanent(provider string, err error) error {
	return relayerr.Wrap(err, relayerr.CodeProviderInvokePermanent,
		"permanent provider failure", relayerr.FieldProvider(provider))
}

// SessionExpired wraps err as a stale-credential failure: the caller
// re-establishes the session and retries the provider once in-pass.
func SessionExpired(provider string, err error) error {
	return relayerr.Wrap(err, relayerr.CodeProviderSessionExpired,
		"provider session expired", relayerr.FieldProvider(provider))
}
