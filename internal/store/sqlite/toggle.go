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

// toggleStore implements store.ToggleStore.
type toggleStore struct {
	db *sql.DB
}

func (s *toggleStore) Upsert(ctx context.Context, toggle *store.ProviderToggle) error {
	if err := toggle.Validate(); err != nil {
		return err
	}

	const q = `INSERT INTO provider_toggles (provider, display_name, kind, enabled, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(provider) DO UPDATE SET
	display_name = excluded.display_name,
	kind         = excluded.kind,
	enabled      = excluded.enabled,
	updated_at   = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, q,
		toggle.Provider,
		toggle.DisplayName,
		string(toggle.Kind),
		boolToInt(toggle.Enabled),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upserting toggle for %s: %w", toggle.Provider, err)
	}
	return nil
}

func (s *toggleStore) Get(ctx context.Context, provider string) (*store.ProviderToggle, error) {
	const q = `SELECT provider, display_name, kind, enabled, updated_at FROM provider_toggles WHERE provider = ?`

	t, err := scanToggle(s.db.QueryRowContext(ctx, q, provider))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("toggle for %s: %w", provider, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting toggle for %s: %w", provider, err)
	}
	return t, nil
}

func (s *toggleStore) List(ctx context.Context) ([]*store.ProviderToggle, error) {
	const q = `SELECT provider, display_name, kind, enabled, updated_at FROM provider_toggles ORDER BY provider`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing toggles: %w", err)
	}
	defer rows.Close()

	var out []*store.ProviderToggle
	for rows.Next() {
		t, err := scanToggle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning toggle: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating toggles: %w", err)
	}
	return out, nil
}

func (s *toggleStore) SetEnabled(ctx context.Context, provider string, enabled bool) error {
	const q = `UPDATE provider_toggles SET enabled = ?, updated_at = ? WHERE provider = ?`

	res, err := s.db.ExecContext(ctx, q, boolToInt(enabled), formatTime(time.Now()), provider)
	if err != nil {
		return fmt.Errorf("setting enabled for %s: %w", provider, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("setting enabled for %s: %w", provider, err)
	}
	if n == 0 {
		return fmt.Errorf("toggle for %s: %w", provider, store.ErrNotFound)
	}
	return nil
}

func scanToggle(r rowScanner) (*store.ProviderToggle, error) {
	var t store.ProviderToggle
	var kind string
	var enabled int
	var updated string

	if err := r.Scan(&t.Provider, &t.DisplayName, &kind, &enabled, &updated); err != nil {
		return nil, err
	}

	t.Kind = store.ProviderKind(kind)
	t.Enabled = enabled != 0
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
