// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/provider"
	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

// doctorHTTPClient performs the provider key checks. Package-level so
// tests can substitute a stub transport.
var doctorHTTPClient = &http.Client{Timeout: 10 * time.Second}

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check binary health, configuration, relay reachability, and configured provider API keys.",
		RunE:  runDoctor,
	}

	cmd.Flags().String("address", "127.0.0.1:18700", "relay address to check")

	return cmd
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	addr, _ := cmd.Flags().GetString("address")

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Config", checkConfig},
		{"Relay", func() string { return checkRelay(addr) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}

	return checkProviderKeys(cmd.Context(), w)
}

func checkBinary() string {
	return fmt.Sprintf("chatrelay %s (%s/%s, Go %s)", version, runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkConfig() string {
	cfgFile := viper.ConfigFileUsed()
	if cfgFile != "" {
		return fmt.Sprintf("loaded from %s", cfgFile)
	}
	return "using defaults (no config file found)"
}

func checkRelay(addr string) string {
	rc := newRelayClient(addr)
	var body struct {
		Status string `json:"status"`
	}
	if err := rc.getJSON("/health", &body); err != nil {
		if errors.Is(err, errRelayNotRunning) {
			return fmt.Sprintf("not running at %s (run 'chatrelay start')", addr)
		}
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%s at %s", body.Status, addr)
}

// checkProviderKeys validates every configured API key against the
// provider's models endpoint, one line per provider.
func checkProviderKeys(ctx context.Context, w io.Writer) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		_, werr := fmt.Fprintf(w, "%-20s invalid: %s\n", "Providers:", err)
		return werr
	}

	for name, pc := range cfg.Providers {
		label := "Key " + name + ":"
		if pc.APIKey == "" {
			_, _ = fmt.Fprintf(w, "%-20s no api_key configured\n", label)
			continue
		}
		err := provider.ValidateKeyWithURL(ctx, doctorHTTPClient,
			provider.APIProviderName(name), pc.APIKey, pc.Endpoint)
		switch {
		case err == nil:
			_, _ = fmt.Fprintf(w, "%-20s valid\n", label)
		case relayerr.HasCode(err, relayerr.CodeProviderKeyInvalid):
			_, _ = fmt.Fprintf(w, "%-20s rejected by provider\n", label)
		default:
			_, _ = fmt.Fprintf(w, "%-20s check failed: %s\n", label, err)
		}
	}
	return nil
}
