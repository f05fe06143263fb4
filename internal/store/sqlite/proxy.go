// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/chatrelay/internal/store"
)

// proxyStore implements store.ProxyStore.
type proxyStore struct {
	db *sql.DB
}

func (s *proxyStore) Create(ctx context.Context, proxy *store.ProxyEndpoint) error {
	if err := proxy.Validate(); err != nil {
		return err
	}

	if proxy.ID == "" {
		proxy.ID = uuid.NewString()
	}
	if proxy.CreatedAt.IsZero() {
		proxy.CreatedAt = time.Now()
	}

	const q = `INSERT INTO proxy_endpoints
	(id, address, port, protocol, username, password, is_active, is_default, is_working,
	 consecutive_failures, consecutive_successes, last_latency_ms, last_tested_at, last_success_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		proxy.ID,
		proxy.Address,
		proxy.Port,
		proxy.Protocol,
		proxy.Username,
		proxy.Password,
		boolToInt(proxy.IsActive),
		boolToInt(proxy.IsDefault),
		boolToInt(proxy.IsWorking),
		proxy.ConsecutiveFailures,
		proxy.ConsecutiveSuccesses,
		proxy.LastLatencyMs,
		formatTime(proxy.LastTestedAt),
		formatTime(proxy.LastSuccessAt),
		formatTime(proxy.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("proxy %s:%d already exists: %w", proxy.Address, proxy.Port, store.ErrConflict)
		}
		return fmt.Errorf("creating proxy %s:%d: %w", proxy.Address, proxy.Port, err)
	}
	return nil
}

func (s *proxyStore) Get(ctx context.Context, id string) (*store.ProxyEndpoint, error) {
	p, err := scanProxy(s.db.QueryRowContext(ctx, selectProxy+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("proxy %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting proxy %s: %w", id, err)
	}
	return p, nil
}

func (s *proxyStore) List(ctx context.Context, activeOnly bool) ([]*store.ProxyEndpoint, error) {
	q := selectProxy + ` ORDER BY created_at`
	if activeOnly {
		q = selectProxy + ` WHERE is_active = 1 ORDER BY created_at`
	}

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing proxies: %w", err)
	}
	defer rows.Close()

	var out []*store.ProxyEndpoint
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning proxy: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating proxies: %w", err)
	}
	return out, nil
}

// SetDefault flips the default flag to id and clears it everywhere else
// in one statement, so there is never a moment with two defaults.
func (s *proxyStore) SetDefault(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	const q = `UPDATE proxy_endpoints SET is_default = CASE WHEN id = ? THEN 1 ELSE 0 END`
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("setting default proxy %s: %w", id, err)
	}
	return nil
}

func (s *proxyStore) RecordProbe(ctx context.Context, id string, success bool, latencyMs int64, failureThreshold int64) error {
	now := formatTime(time.Now())
	succ := boolToInt(success)

	// One statement per probe: is_working flips false only once the
	// consecutive failure streak reaches the threshold, and a single
	// success flips it straight back (fast recovery bias).
	const q = `UPDATE proxy_endpoints SET
	is_working            = CASE WHEN ? = 1 THEN 1 WHEN consecutive_failures + 1 >= ? THEN 0 ELSE is_working END,
	consecutive_failures  = CASE WHEN ? = 1 THEN 0 ELSE consecutive_failures + 1 END,
	consecutive_successes = CASE WHEN ? = 1 THEN consecutive_successes + 1 ELSE 0 END,
	last_latency_ms       = CASE WHEN ? = 1 THEN ? ELSE last_latency_ms END,
	last_tested_at        = ?,
	last_success_at       = CASE WHEN ? = 1 THEN ? ELSE last_success_at END
WHERE id = ?`

	res, err := s.db.ExecContext(ctx, q, succ, failureThreshold, succ, succ, succ, latencyMs, now, succ, now, id)
	if err != nil {
		return fmt.Errorf("recording probe for proxy %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("recording probe for proxy %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("proxy %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *proxyStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE proxy_endpoints SET is_active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("setting active for proxy %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("setting active for proxy %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("proxy %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *proxyStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM proxy_endpoints WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting proxy %s: %w", id, err)
	}
	return nil
}

const selectProxy = `SELECT id, address, port, protocol, username, password, is_active, is_default, is_working,
	consecutive_failures, consecutive_successes, last_latency_ms, last_tested_at, last_success_at, created_at
FROM proxy_endpoints`

func scanProxy(r rowScanner) (*store.ProxyEndpoint, error) {
	var p store.ProxyEndpoint
	var active, def, working int
	var tested, succeeded, created string

	err := r.Scan(&p.ID, &p.Address, &p.Port, &p.Protocol, &p.Username, &p.Password,
		&active, &def, &working,
		&p.ConsecutiveFailures, &p.ConsecutiveSuccesses, &p.LastLatencyMs,
		&tested, &succeeded, &created)
	if err != nil {
		return nil, err
	}

	p.IsActive = active != 0
	p.IsDefault = def != 0
	p.IsWorking = working != 0
	p.LastTestedAt = parseTime(tested)
	p.LastSuccessAt = parseTime(succeeded)
	p.CreatedAt = parseTime(created)
	return &p, nil
}
