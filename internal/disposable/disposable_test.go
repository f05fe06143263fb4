// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package disposable_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/disposable"
	"github.com/chatrelay/chatrelay/internal/store"
	"github.com/chatrelay/chatrelay/internal/store/memory"
	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

type fakeSession struct {
	identity       string
	convResets     int
	closed         bool
	closeErr       error
	convResetErr   error
	mu             sync.Mutex
	onConversation func()
}

func (s *fakeSession) ResetConversation(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convResets++
	if s.onConversation != nil {
		s.onConversation()
	}
	return s.convResetErr
}

func (s *fakeSession) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeErr
}

// fakeConnector records every identity it was asked to connect under.
type fakeConnector struct {
	mu         sync.Mutex
	identities []string
	sessions   []*fakeSession
	failNext   int
}

func (c *fakeConnector) Connect(_ context.Context, identity string) (disposable.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext > 0 {
		c.failNext--
		return nil, relayerr.New(relayerr.CodeProviderSessionOpenFailure, "connect refused")
	}
	s := &fakeSession{identity: identity}
	c.identities = append(c.identities, identity)
	c.sessions = append(c.sessions, s)
	return s, nil
}

func newController(t *testing.T, maxMessages int, connector *fakeConnector) *disposable.Controller {
	t.Helper()
	c, err := disposable.NewController(disposable.Config{
		Provider:    "ghostchat",
		MaxMessages: maxMessages,
	}, connector, nil)
	require.NoError(t, err)
	return c
}

func send(t *testing.T, c *disposable.Controller) {
	t.Helper()
	require.NoError(t, c.Send(context.Background(), func(context.Context, disposable.Session) error {
		return nil
	}))
}

func TestController_FirstSendEstablishesIdentity(t *testing.T) {
	connector := &fakeConnector{}
	c := newController(t, 5, connector)

	assert.Empty(t, c.Identity())
	send(t, c)

	require.Len(t, connector.identities, 1)
	assert.Equal(t, connector.identities[0], c.Identity())
	assert.Equal(t, 1, connector.sessions[0].convResets,
		"conversation is cleared before the message is forwarded")

	st := c.Status()
	assert.True(t, st.Running)
	assert.Equal(t, 1, st.MessageCount)
	assert.Equal(t, 4, st.MessagesRemaining)
}

func TestController_ResetAfterMessageCap(t *testing.T) {
	connector := &fakeConnector{}
	c := newController(t, 2, connector)

	send(t, c)
	send(t, c)
	first := c.Identity()

	// The cap is reached; the next send must rotate before forwarding.
	send(t, c)
	second := c.Identity()

	assert.NotEqual(t, first, second, "device identity rotates on reset")
	assert.True(t, connector.sessions[0].closed, "previous session is closed during reset")
	assert.Equal(t, 1, c.Status().MessageCount, "counter restarts at the post-reset message")
}

func TestController_FailedSendDoesNotCount(t *testing.T) {
	connector := &fakeConnector{}
	c := newController(t, 5, connector)

	err := c.Send(context.Background(), func(context.Context, disposable.Session) error {
		return relayerr.New(relayerr.CodeProviderInvokeTransient, "upstream hiccup")
	})
	require.Error(t, err)
	assert.Equal(t, 0, c.Status().MessageCount)
}

func TestController_ManualResetRotatesIdentity(t *testing.T) {
	connector := &fakeConnector{}
	c := newController(t, 10, connector)

	send(t, c)
	first := c.Identity()

	require.NoError(t, c.Reset(context.Background()))
	assert.NotEqual(t, first, c.Identity())
	assert.Equal(t, 0, c.Status().MessageCount)
	send(t, c)
	assert.Len(t, connector.identities, 2, "post-reset send reuses the fresh identity")
}

func TestController_ResetWaitsForInFlightSend(t *testing.T) {
	connector := &fakeConnector{}
	c := newController(t, 10, connector)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan string, 1)
	go func() {
		_ = c.Send(context.Background(), func(_ context.Context, _ disposable.Session) error {
			close(entered)
			<-release
			return nil
		})
		done <- "send"
	}()

	<-entered
	go func() {
		require.NoError(t, c.Reset(context.Background()))
		done <- "reset"
	}()

	// The reset must not complete while the send holds the instance.
	select {
	case who := <-done:
		t.Fatalf("%s finished while the dispatch was still in flight", who)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	assert.Equal(t, "send", <-done, "the in-flight dispatch completes on the pre-reset identity")
	assert.Equal(t, "reset", <-done)
	assert.Len(t, connector.identities, 2)
}

func TestController_ConnectFailureStaysResetting(t *testing.T) {
	connector := &fakeConnector{failNext: 1}
	c := newController(t, 5, connector)

	err := c.Send(context.Background(), func(context.Context, disposable.Session) error { return nil })
	require.Error(t, err)
	assert.Equal(t, relayerr.CodeDisposableResetFailure, relayerr.CodeOf(err))
	assert.False(t, c.Status().Running)

	// The next send retries the full sequence and succeeds.
	send(t, c)
	assert.True(t, c.Status().Running)
}

func TestController_CleanupIsBestEffort(t *testing.T) {
	connector := &fakeConnector{}
	c := newController(t, 1, connector)

	send(t, c)
	connector.sessions[0].closeErr = relayerr.New(relayerr.CodeProviderSessionOpenFailure, "already gone")

	// Cap reached; the close failure must not block the rotation.
	send(t, c)
	assert.Len(t, connector.identities, 2)
	assert.True(t, c.Status().Running)
}

func TestController_ResetDeletesPersistedSession(t *testing.T) {
	rs := memory.NewRelayStore()
	ctx := context.Background()
	_, err := rs.Sessions().Upsert(ctx, &store.ProviderSession{Provider: "ghostchat", Credential: []byte("blob")})
	require.NoError(t, err)

	connector := &fakeConnector{}
	c, err := disposable.NewController(disposable.Config{Provider: "ghostchat", MaxMessages: 5},
		connector, rs.Sessions())
	require.NoError(t, err)

	require.NoError(t, c.Reset(ctx))
	_, err = rs.Sessions().GetValid(ctx, "ghostchat")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_StatusAndReset(t *testing.T) {
	m := disposable.NewManager()
	connector := &fakeConnector{}
	c := newController(t, 3, connector)
	m.Register(c)

	_, err := m.Get("unknown")
	require.Error(t, err)
	assert.Equal(t, relayerr.CodeDisposableNotRunning, relayerr.CodeOf(err))

	send(t, c)
	statuses := m.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "ghostchat", statuses[0].Provider)
	assert.Equal(t, 1, statuses[0].MessageCount)
	assert.Equal(t, 2, statuses[0].MessagesRemaining)

	require.NoError(t, m.Reset(context.Background(), "ghostchat"))
	assert.Equal(t, 0, m.Statuses()[0].MessageCount)
}
