// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chatrelay/chatrelay/internal/store"
)

// healthStore implements store.HealthStore. Every mutation is a single
// upsert statement so concurrent outcomes for the same key fold without
// lost increments.
type healthStore struct {
	db *sql.DB
}

func (s *healthStore) RecordOutcome(ctx context.Context, key string, success bool, latencyMs int64) error {
	if key == "" {
		return fmt.Errorf("recording outcome: empty key: %w", store.ErrInvalidInput)
	}

	var succ, fail, lat, latSamples int64
	if success {
		succ = 1
		if latencyMs > 0 {
			lat = latencyMs
			latSamples = 1
		}
	} else {
		fail = 1
	}

	now := formatTime(time.Now())
	lastFailure := ""
	if !success {
		lastFailure = now
	}

	const q = `INSERT INTO provider_health
	(key, success_count, failure_count, consecutive_failures, total_latency_ms, latency_samples, sample_count, last_failure_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	success_count        = success_count + excluded.success_count,
	failure_count        = failure_count + excluded.failure_count,
	consecutive_failures = CASE WHEN excluded.success_count > 0 THEN 0 ELSE consecutive_failures + 1 END,
	total_latency_ms     = total_latency_ms + excluded.total_latency_ms,
	latency_samples      = latency_samples + excluded.latency_samples,
	sample_count         = sample_count + 1,
	last_failure_at      = CASE WHEN excluded.failure_count > 0 THEN excluded.last_failure_at ELSE last_failure_at END,
	updated_at           = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, q, key, succ, fail, fail, lat, latSamples, lastFailure, now)
	if err != nil {
		return fmt.Errorf("recording outcome for %s: %w", key, err)
	}
	return nil
}

func (s *healthStore) Read(ctx context.Context, key string) (*store.ProviderHealth, error) {
	const q = `SELECT key, success_count, failure_count, consecutive_failures, total_latency_ms, latency_samples, sample_count, last_failure_at, updated_at
FROM provider_health WHERE key = ?`

	h, err := scanHealth(s.db.QueryRowContext(ctx, q, key))
	if err == sql.ErrNoRows {
		// Unseen keys read as zero-valued, not as an error.
		return &store.ProviderHealth{Key: key}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading health for %s: %w", key, err)
	}
	return h, nil
}

func (s *healthStore) ReadAll(ctx context.Context) (map[string]*store.ProviderHealth, error) {
	const q = `SELECT key, success_count, failure_count, consecutive_failures, total_latency_ms, latency_samples, sample_count, last_failure_at, updated_at
FROM provider_health`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("reading all health records: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*store.ProviderHealth)
	for rows.Next() {
		h, err := scanHealth(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning health record: %w", err)
		}
		out[h.Key] = h
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating health records: %w", err)
	}
	return out, nil
}

func (s *healthStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM provider_health`); err != nil {
		return fmt.Errorf("resetting health records: %w", err)
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanHealth(r rowScanner) (*store.ProviderHealth, error) {
	var h store.ProviderHealth
	var latSamples int64
	var lastFailure, updated string

	err := r.Scan(&h.Key, &h.SuccessCount, &h.FailureCount, &h.ConsecutiveFailures,
		&h.TotalLatencyMs, &latSamples, &h.SampleCount, &lastFailure, &updated)
	if err != nil {
		return nil, err
	}

	if latSamples > 0 {
		h.AvgLatencyMs = float64(h.TotalLatencyMs) / float64(latSamples)
	}
	h.LastFailureAt = parseTime(lastFailure)
	h.UpdatedAt = parseTime(updated)
	return &h, nil
}
