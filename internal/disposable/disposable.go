// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

// Package disposable manages providers whose sessions must be wiped and
// rebuilt under a fresh device identity after a bounded number of
// messages. Each controller owns one provider instance and serializes
// sends and resets behind a single mutex.
package disposable

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/chatrelay/internal/store"
	"github.com/chatrelay/chatrelay/pkg/errors"
	"github.com/chatrelay/chatrelay/pkg/health"
)

// State tracks where a controller is in its lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateResetting
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateResetting:
		return "resetting"
	default:
		return "uninitialized"
	}
}

// DefaultMaxMessages is the number of messages served on one device
// identity before the controller forces a full reset.
const DefaultMaxMessages = 20

// Session is an established connection under one device identity.
type Session interface {
	// ResetConversation clears the provider-side conversational context
	// so no prior turn leaks into the next message.
	ResetConversation(ctx context.Context) error
	Close(ctx context.Context) error
}

// Connector establishes a provider session bound to a device identity.
type Connector interface {
	Connect(ctx context.Context, deviceIdentity string) (Session, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, deviceIdentity string) (Session, error)

func (f ConnectorFunc) Connect(ctx context.Context, deviceIdentity string) (Session, error) {
	return f(ctx, deviceIdentity)
}

// Config carries the per-instance knobs for a controller.
type Config struct {
	Provider    string
	MaxMessages int
	// WorkRoot, when set, holds one scratch directory per device
	// identity; the directory is removed during reset.
	WorkRoot string
}

// Controller is the per-provider-instance state machine. All exported
// methods are safe for concurrent use; sends and resets for the same
// instance never overlap.
type Controller struct {
	provider    string
	maxMessages int
	workRoot    string
	connector   Connector
	sessions    store.SessionStore

	mu           sync.Mutex
	state        State
	session      Session
	identity     string
	messageCount int
	startedAt    time.Time

	nowFunc func() time.Time
}

// NewController builds a controller in the UNINITIALIZED state. The
// first Send establishes the initial identity. sessions may be nil when
// the provider keeps no persisted session record.
func NewController(cfg Config, connector Connector, sessions store.SessionStore) (*Controller, error) {
	if cfg.Provider == "" {
		return nil, errors.New(errors.CodeConfigValidateInvalidValue, "disposable provider name is required")
	}
	if connector == nil {
		return nil, errors.New(errors.CodeConfigValidateInvalidValue, "disposable connector is required",
			errors.FieldProvider(cfg.Provider))
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	return &Controller{
		provider:    cfg.Provider,
		maxMessages: cfg.MaxMessages,
		workRoot:    cfg.WorkRoot,
		connector:   connector,
		sessions:    sessions,
		nowFunc:     time.Now,
	}, nil
}

// SetNowFunc overrides the clock. Intended for tests.
func (c *Controller) SetNowFunc(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowFunc = now
}

// Send runs one message against the current identity. It transitions
// the controller to ACTIVE if needed, forces a reset when the message
// cap has been reached, clears the provider-side conversation, then
// invokes fn with the live session. The message counter advances only
// on success.
func (c *Controller) Send(ctx context.Context, fn func(ctx context.Context, s Session) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateUninitialized || c.state == StateResetting || c.messageCount >= c.maxMessages {
		if err := c.resetLocked(ctx); err != nil {
			return err
		}
	}

	if err := c.session.ResetConversation(ctx); err != nil {
		return errors.Wrap(err, errors.CodeProviderInvokeTransient, "conversation reset failed",
			errors.FieldProvider(c.provider))
	}
	if err := fn(ctx, c.session); err != nil {
		return err
	}
	c.messageCount++
	return nil
}

// Reset discards the current identity and establishes a new one. It
// blocks until any in-flight Send completes.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resetLocked(ctx)
}

// resetLocked performs the full reset sequence under c.mu. Cleanup
// steps are best-effort: a failed step is logged and the remaining
// steps still run, since partial cleanup is worse than slow cleanup.
// The controller returns to ACTIVE only once the new identity has a
// live connection; otherwise it stays in RESETTING.
func (c *Controller) resetLocked(ctx context.Context) error {
	previous := c.identity
	c.state = StateResetting

	if c.session != nil {
		if err := c.session.Close(ctx); err != nil {
			slog.Warn("disposable: closing previous session failed",
				"provider", c.provider, "identity", previous, "error", err)
		}
		c.session = nil
	}
	if c.sessions != nil {
		if err := c.sessions.Delete(ctx, c.provider); err != nil {
			slog.Warn("disposable: deleting persisted session failed",
				"provider", c.provider, "error", err)
		}
	}
	if c.workRoot != "" && previous != "" {
		if err := os.RemoveAll(filepath.Join(c.workRoot, previous)); err != nil {
			slog.Warn("disposable: removing identity artifacts failed",
				"provider", c.provider, "identity", previous, "error", err)
		}
	}

	identity := uuid.NewString()
	session, err := c.connector.Connect(ctx, identity)
	if err != nil {
		// Half-reset: no identity to serve on. Stay in RESETTING so the
		// next Send retries the full sequence.
		return errors.Wrap(err, errors.CodeDisposableResetFailure, "establishing new identity failed",
			errors.FieldProvider(c.provider))
	}

	c.session = session
	c.identity = identity
	c.messageCount = 0
	c.startedAt = c.nowFunc()
	c.state = StateActive
	slog.Info("disposable: identity rotated",
		"provider", c.provider, "identity", identity, "max_messages", c.maxMessages)
	return nil
}

// Close shuts the underlying session down. The controller is left in
// UNINITIALIZED and may be reused.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		c.state = StateUninitialized
		return nil
	}
	err := c.session.Close(ctx)
	c.session = nil
	c.identity = ""
	c.messageCount = 0
	c.state = StateUninitialized
	if err != nil {
		return errors.Wrap(err, errors.CodeProviderSessionOpenFailure, "closing disposable session failed",
			errors.FieldProvider(c.provider))
	}
	return nil
}

// Identity returns the current device identity, empty before first use.
func (c *Controller) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Status returns the read-only projection used by the admin surface.
func (c *Controller) Status() health.DisposableStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := c.maxMessages - c.messageCount
	if remaining < 0 {
		remaining = 0
	}
	return health.DisposableStatus{
		Provider:          c.provider,
		Running:           c.state == StateActive,
		MessageCount:      c.messageCount,
		MaxMessages:       c.maxMessages,
		MessagesRemaining: remaining,
		StartedAt:         c.startedAt,
	}
}
