// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package proxypool

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chatrelay/chatrelay/internal/store"
	"github.com/chatrelay/chatrelay/pkg/errors"
)

const (
	// DefaultEchoURL is a lightweight endpoint that answers over both
	// plain HTTP and SOCKS tunnels, used to verify a proxy end to end.
	DefaultEchoURL = "https://api.ipify.org"

	DefaultProbeInterval = 5 * time.Minute
	DefaultProbeTimeout  = 15 * time.Second
)

// ProberConfig tunes the background health prober.
type ProberConfig struct {
	EchoURL          string
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int64
}

// Prober probes every active proxy endpoint on a fixed schedule and
// records the outcomes, driving the working/not-working demotion the
// pool's Select relies on.
type Prober struct {
	proxies store.ProxyStore
	cfg     ProberConfig
	cron    *cron.Cron

	// newClient is swapped in tests to avoid real network traffic.
	newClient func(proxyURL *url.URL, timeout time.Duration) *http.Client
}

func NewProber(proxies store.ProxyStore, cfg ProberConfig) *Prober {
	if cfg.EchoURL == "" {
		cfg.EchoURL = DefaultEchoURL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultProbeInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProbeTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	return &Prober{
		proxies: proxies,
		cfg:     cfg,
		cron:    cron.New(),
		newClient: func(proxyURL *url.URL, timeout time.Duration) *http.Client {
			return &http.Client{
				Timeout:   timeout,
				Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
			}
		},
	}
}

// Start schedules the probe loop. A first sweep runs immediately so a
// fresh deployment does not wait a full interval for health data.
func (p *Prober) Start(ctx context.Context) error {
	spec := "@every " + p.cfg.Interval.String()
	if _, err := p.cron.AddFunc(spec, func() { p.ProbeAll(ctx) }); err != nil {
		return errors.Wrap(err, errors.CodeConfigValidateInvalidValue, "invalid probe schedule")
	}
	p.cron.Start()
	go p.ProbeAll(ctx)
	slog.Info("proxy prober started", "interval", p.cfg.Interval, "echo_url", p.cfg.EchoURL)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (p *Prober) Stop() {
	<-p.cron.Stop().Done()
}

// ProbeAll sweeps every active endpoint once. Store read failures abort
// the sweep; individual probe failures are recorded, not returned.
func (p *Prober) ProbeAll(ctx context.Context) {
	active, err := p.proxies.List(ctx, true)
	if err != nil {
		slog.Warn("proxy probe sweep: listing endpoints failed", "error", err)
		return
	}
	for _, ep := range active {
		ok, latency := p.probe(ctx, ep)
		if err := p.proxies.RecordProbe(ctx, ep.ID, ok, latency, p.cfg.FailureThreshold); err != nil {
			slog.Warn("proxy probe: recording outcome failed", "proxy", ep.ID, "error", err)
		}
		if !ok {
			slog.Debug("proxy probe failed", "proxy", ep.ID, "address", ep.Address, "port", ep.Port)
		}
	}
}

func (p *Prober) probe(ctx context.Context, ep *store.ProxyEndpoint) (bool, int64) {
	proxyURL, err := url.Parse(ep.URL())
	if err != nil {
		return false, 0
	}
	client := p.newClient(proxyURL, p.cfg.Timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.EchoURL, nil)
	if err != nil {
		return false, 0
	}
	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return false, latency
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < http.StatusBadRequest, latency
}
