// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

// Package browser establishes authenticated browser sessions for
// browser-kind providers. It owns the generic part of open_session:
// launching a stealth Chromium, navigating the provider's landing page,
// and exporting cookies plus the chosen user agent as the opaque
// credential blob the session store persists. Provider-specific scraping
// stays behind the provider capability.
package browser

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

// Config controls how sessions are launched.
type Config struct {
	Headless   bool
	NoSandbox  bool // needed for Docker/root
	BinPath    string
	NavTimeout time.Duration
}

// Credential is the decoded form of the opaque session blob.
type Credential struct {
	Cookies   []*proto.NetworkCookie `json:"cookies"`
	UserAgent string                 `json:"user_agent"`
	OpenedAt  time.Time              `json:"opened_at"`
}

// DecodeCredential parses a persisted session blob.
func DecodeCredential(blob []byte) (*Credential, error) {
	var cred Credential
	if err := json.Unmarshal(blob, &cred); err != nil {
		return nil, relayerr.Wrapf(err, relayerr.CodeProviderSessionOpenFailure,
			"decoding session credential")
	}
	return &cred, nil
}

// Opener launches short-lived stealth browsers to mint session blobs.
type Opener struct {
	cfg Config
}

// NewOpener creates an Opener with the given launch config.
func NewOpener(cfg Config) *Opener {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 60 * time.Second
	}
	return &Opener{cfg: cfg}
}

// Open launches a stealth page against landingURL, optionally through
// proxyURL, waits for the page to settle, and returns the serialized
// credential blob. The browser is torn down before returning; only the
// exported cookies and user agent survive.
func (o *Opener) Open(ctx context.Context, landingURL, proxyURL string) ([]byte, error) {
	ua := RandomUserAgent()

	l := launcher.New().
		Headless(o.cfg.Headless).
		Set("disable-dev-shm-usage").
		Set("disable-blink-features", "AutomationControlled")
	if o.cfg.BinPath != "" {
		l = l.Bin(o.cfg.BinPath)
	}
	if o.cfg.NoSandbox {
		l = l.Set("no-sandbox")
	}
	if proxyURL != "" {
		l = l.Proxy(proxyURL)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, relayerr.Wrapf(err, relayerr.CodeProviderSessionOpenFailure,
			"launching browser")
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, relayerr.Wrapf(err, relayerr.CodeProviderSessionOpenFailure,
			"connecting to browser")
	}
	defer func() {
		if err := b.Close(); err != nil {
			slog.Warn("closing session browser", "error", err)
		}
		l.Cleanup()
	}()

	page, err := stealth.Page(b)
	if err != nil {
		return nil, relayerr.Wrapf(err, relayerr.CodeProviderSessionOpenFailure,
			"creating stealth page")
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
		return nil, relayerr.Wrapf(err, relayerr.CodeProviderSessionOpenFailure,
			"overriding user agent")
	}

	navCtx, cancel := context.WithTimeout(ctx, o.cfg.NavTimeout)
	defer cancel()
	page = page.Context(navCtx)

	if err := page.Navigate(landingURL); err != nil {
		return nil, relayerr.Wrapf(err, relayerr.CodeProviderSessionOpenFailure,
			"navigating to %s", landingURL)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, relayerr.Wrapf(err, relayerr.CodeProviderSessionOpenFailure,
			"waiting for %s to load", landingURL)
	}

	cookies, err := b.GetCookies()
	if err != nil {
		return nil, relayerr.Wrapf(err, relayerr.CodeProviderSessionOpenFailure,
			"exporting cookies")
	}

	cred := Credential{
		Cookies:   cookies,
		UserAgent: ua,
		OpenedAt:  time.Now(),
	}
	blob, err := json.Marshal(cred)
	if err != nil {
		return nil, relayerr.Wrapf(err, relayerr.CodeProviderSessionOpenFailure,
			"encoding session credential")
	}

	slog.Info("browser session opened",
		"url", landingURL,
		"cookies", len(cookies),
		"proxied", proxyURL != "")
	return blob, nil
}
