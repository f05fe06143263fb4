// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/chatrelay/internal/store"
)

// sessionStore implements store.SessionStore. The provider column is the
// primary key, so the one-live-session-per-provider invariant is enforced
// by the schema: an upsert replaces, never duplicates.
type sessionStore struct {
	db *sql.DB
}

func (s *sessionStore) Upsert(ctx context.Context, session *store.ProviderSession) (string, error) {
	if err := session.Validate(); err != nil {
		return "", err
	}

	id := session.ID
	if id == "" {
		id = uuid.NewString()
	}
	cap := session.UsageCap
	if cap == 0 {
		cap = store.DefaultSessionUsageCap
	}

	now := time.Now()
	created := session.CreatedAt
	if created.IsZero() {
		created = now
	}

	const q = `INSERT INTO provider_sessions (provider, id, credential, usage_count, usage_cap, expires_at, created_at, last_used_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider) DO UPDATE SET
	id           = excluded.id,
	credential   = excluded.credential,
	usage_count  = excluded.usage_count,
	usage_cap    = excluded.usage_cap,
	expires_at   = excluded.expires_at,
	created_at   = excluded.created_at,
	last_used_at = excluded.last_used_at`

	_, err := s.db.ExecContext(ctx, q,
		session.Provider,
		id,
		session.Credential,
		session.UsageCount,
		cap,
		formatTime(session.ExpiresAt),
		formatTime(created),
		formatTime(now),
	)
	if err != nil {
		return "", fmt.Errorf("upserting session for %s: %w", session.Provider, err)
	}
	return id, nil
}

func (s *sessionStore) IncrementUsage(ctx context.Context, provider string) error {
	const q = `UPDATE provider_sessions SET usage_count = usage_count + 1, last_used_at = ? WHERE provider = ?`

	res, err := s.db.ExecContext(ctx, q, formatTime(time.Now()), provider)
	if err != nil {
		return fmt.Errorf("incrementing usage for %s: %w", provider, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("incrementing usage for %s: %w", provider, err)
	}
	if n == 0 {
		return fmt.Errorf("session for %s: %w", provider, store.ErrNotFound)
	}
	return nil
}

func (s *sessionStore) GetValid(ctx context.Context, provider string) (*store.ProviderSession, error) {
	const q = `SELECT provider, id, credential, usage_count, usage_cap, expires_at, created_at, last_used_at
FROM provider_sessions WHERE provider = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, q, provider))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session for %s: %w", provider, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting session for %s: %w", provider, err)
	}

	if !sess.Usable(time.Now()) {
		// Spent sessions are garbage: delete eagerly so the next upsert
		// starts clean.
		if err := s.Delete(ctx, provider); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("session for %s is spent: %w", provider, store.ErrNotFound)
	}
	return sess, nil
}

func (s *sessionStore) Delete(ctx context.Context, provider string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM provider_sessions WHERE provider = ?`, provider); err != nil {
		return fmt.Errorf("deleting session for %s: %w", provider, err)
	}
	return nil
}

func (s *sessionStore) List(ctx context.Context) ([]*store.ProviderSession, error) {
	const q = `SELECT provider, id, credential, usage_count, usage_cap, expires_at, created_at, last_used_at
FROM provider_sessions ORDER BY provider`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []*store.ProviderSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return out, nil
}

func scanSession(r rowScanner) (*store.ProviderSession, error) {
	var sess store.ProviderSession
	var expires, created, lastUsed string

	err := r.Scan(&sess.Provider, &sess.ID, &sess.Credential, &sess.UsageCount,
		&sess.UsageCap, &expires, &created, &lastUsed)
	if err != nil {
		return nil, err
	}

	sess.ExpiresAt = parseTime(expires)
	sess.CreatedAt = parseTime(created)
	sess.LastUsedAt = parseTime(lastUsed)
	return &sess, nil
}
