// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package disposable

import (
	"context"

	"github.com/chatrelay/chatrelay/internal/provider"
	"github.com/chatrelay/chatrelay/internal/store"
	"github.com/chatrelay/chatrelay/pkg/errors"
)

// ConversationResetter is implemented by providers that can clear their
// server-side conversational context between messages.
type ConversationResetter interface {
	ResetConversation(ctx context.Context) error
}

// providerSession adapts an open provider session to the controller's
// Session interface. Conversation reset is a no-op for providers without
// server-side context.
type providerSession struct {
	inner      provider.Provider
	credential []byte
}

func (s *providerSession) ResetConversation(ctx context.Context) error {
	if r, ok := s.inner.(ConversationResetter); ok {
		return r.ResetConversation(ctx)
	}
	return nil
}

func (s *providerSession) Close(ctx context.Context) error {
	return s.inner.CloseSession(ctx, s.credential)
}

// ProviderConnector builds a Connector that opens sessions through the
// provider's own session capability.
func ProviderConnector(inner provider.Provider) Connector {
	return ConnectorFunc(func(ctx context.Context, _ string) (Session, error) {
		credential, err := inner.OpenSession(ctx)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeProviderSessionOpenFailure,
				"opening disposable provider session failed",
				errors.FieldProvider(inner.Name()))
		}
		return &providerSession{inner: inner, credential: credential}, nil
	})
}

// WrapProvider returns a provider whose invocations run under the
// controller's lifecycle: identity rotation, conversation reset before
// each message, and the per-instance serialization point. The wrapped
// provider is what gets registered for routing; callers never see the
// controller.
func WrapProvider(inner provider.Provider, ctrl *Controller) provider.Provider {
	return &wrappedProvider{inner: inner, ctrl: ctrl}
}

type wrappedProvider struct {
	inner provider.Provider
	ctrl  *Controller
}

func (w *wrappedProvider) Name() string             { return w.inner.Name() }
func (w *wrappedProvider) Kind() store.ProviderKind { return w.inner.Kind() }
func (w *wrappedProvider) Models() []string         { return w.inner.Models() }
func (w *wrappedProvider) CarriesProxy() bool       { return provider.CarriesProxy(w.inner) }

func (w *wrappedProvider) Invoke(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	var resp *provider.Response
	err := w.ctrl.Send(ctx, func(ctx context.Context, _ Session) error {
		r, err := w.inner.Invoke(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (w *wrappedProvider) OpenSession(ctx context.Context) ([]byte, error) {
	return w.inner.OpenSession(ctx)
}

// OpenSessionVia forwards proxied session opening to the wrapped
// provider; one that cannot route through a proxy opens direct.
func (w *wrappedProvider) OpenSessionVia(ctx context.Context, proxyURL string) ([]byte, error) {
	if po, ok := w.inner.(provider.SessionProxyOpener); ok {
		return po.OpenSessionVia(ctx, proxyURL)
	}
	return w.inner.OpenSession(ctx)
}

func (w *wrappedProvider) CloseSession(ctx context.Context, credential []byte) error {
	return w.inner.CloseSession(ctx, credential)
}

func (w *wrappedProvider) Close() error {
	if err := w.ctrl.Close(context.Background()); err != nil {
		return err
	}
	return w.inner.Close()
}
