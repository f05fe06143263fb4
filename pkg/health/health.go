// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package health

import "time"

// Snapshot exposes the current health counters for one provider/model pair
// for monitoring and operator visibility. All fields are point-in-time
// values safe to serialize to JSON.
type Snapshot struct {
	Key                 string     `json:"key"`
	SuccessCount        int64      `json:"success_count"`
	FailureCount        int64      `json:"failure_count"`
	ConsecutiveFailures int64      `json:"consecutive_failures"`
	AvgLatencyMs        float64    `json:"avg_latency_ms"`
	SampleCount         int64      `json:"sample_count"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	CooldownUntil       *time.Time `json:"cooldown_until,omitempty"`
	Available           bool       `json:"available"`
}

// DisposableStatus is the read-only projection of a disposable session
// controller's state. MessagesRemaining is computed, never stored.
type DisposableStatus struct {
	Provider          string    `json:"provider"`
	Running           bool      `json:"is_running"`
	MessageCount      int       `json:"message_count"`
	MaxMessages       int       `json:"max_messages"`
	MessagesRemaining int       `json:"messages_remaining"`
	StartedAt         time.Time `json:"started_at,omitzero"`
}
