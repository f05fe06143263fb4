// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chatrelay/chatrelay/pkg/health"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show relay status",
		Long:  "Check the running relay's health endpoint and display per-provider health.",
		RunE:  runStatus,
	}

	cmd.Flags().String("address", "127.0.0.1:18700", "relay address to check")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	out := cmd.OutOrStdout()

	rc := newRelayClient(addr)
	var body struct {
		Status string `json:"status"`
	}
	if err := rc.getJSON("/health", &body); err != nil {
		if errors.Is(err, errRelayNotRunning) {
			_, _ = fmt.Fprintf(out, "Relay at %s is not running (connection refused)\n", addr)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Relay at %s: %s\n", addr, err)
		return nil
	}
	_, _ = fmt.Fprintf(out, "Relay at %s: %s\n", addr, body.Status)

	var snapshots struct {
		Providers []health.Snapshot `json:"providers"`
	}
	if err := rc.getJSON("/api/v1/providers/health", &snapshots); err != nil {
		// Health endpoint answered, so the relay is up; provider health
		// is extra detail.
		return nil
	}
	for _, s := range snapshots.Providers {
		state := "available"
		if !s.Available {
			state = "cooling down"
		}
		_, _ = fmt.Fprintf(out, "  %-32s %s  ok=%d fail=%d streak=%d avg=%.0fms\n",
			s.Key, state, s.SuccessCount, s.FailureCount, s.ConsecutiveFailures, s.AvgLatencyMs)
	}
	return nil
}
