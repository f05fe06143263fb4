// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chatrelay/chatrelay/internal/store"
)

// Compile-time interface checks.
var (
	_ store.RelayStore   = (*RelayStore)(nil)
	_ store.HealthStore  = (*healthStore)(nil)
	_ store.SessionStore = (*sessionStore)(nil)
	_ store.ToggleStore  = (*toggleStore)(nil)
	_ store.ProxyStore   = (*proxyStore)(nil)
)

// RelayStore implements store.RelayStore backed by a single SQLite database.
// Record-level atomicity comes from single-statement upserts; there is no
// cross-table locking because no operation spans record sets.
type RelayStore struct {
	db       *sql.DB
	health   *healthStore
	sessions *sessionStore
	toggles  *toggleStore
	proxies  *proxyStore
}

// NewRelayStore opens (or creates) a SQLite database at dbPath and
// initialises the provider_health, provider_sessions, provider_toggles,
// and proxy_endpoints tables.
func NewRelayStore(dbPath string) (*RelayStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening relay db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging relay db: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating relay db: %w", err)
	}

	return &RelayStore{
		db:       db,
		health:   &healthStore{db: db},
		sessions: &sessionStore{db: db},
		toggles:  &toggleStore{db: db},
		proxies:  &proxyStore{db: db},
	}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS provider_health (
	key                  TEXT PRIMARY KEY,
	success_count        INTEGER NOT NULL DEFAULT 0,
	failure_count        INTEGER NOT NULL DEFAULT 0,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	total_latency_ms     INTEGER NOT NULL DEFAULT 0,
	latency_samples      INTEGER NOT NULL DEFAULT 0,
	sample_count         INTEGER NOT NULL DEFAULT 0,
	last_failure_at      TEXT NOT NULL DEFAULT '',
	updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS provider_sessions (
	provider     TEXT PRIMARY KEY,
	id           TEXT NOT NULL,
	credential   BLOB NOT NULL,
	usage_count  INTEGER NOT NULL DEFAULT 0,
	usage_cap    INTEGER NOT NULL DEFAULT 50,
	expires_at   TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	last_used_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS provider_toggles (
	provider     TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	kind         TEXT NOT NULL DEFAULT 'api',
	enabled      INTEGER NOT NULL DEFAULT 0,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS proxy_endpoints (
	id                    TEXT PRIMARY KEY,
	address               TEXT NOT NULL,
	port                  INTEGER NOT NULL,
	protocol              TEXT NOT NULL DEFAULT 'http',
	username              TEXT NOT NULL DEFAULT '',
	password              TEXT NOT NULL DEFAULT '',
	is_active             INTEGER NOT NULL DEFAULT 1,
	is_default            INTEGER NOT NULL DEFAULT 0,
	is_working            INTEGER NOT NULL DEFAULT 1,
	consecutive_failures  INTEGER NOT NULL DEFAULT 0,
	consecutive_successes INTEGER NOT NULL DEFAULT 0,
	last_latency_ms       INTEGER NOT NULL DEFAULT 0,
	last_tested_at        TEXT NOT NULL DEFAULT '',
	last_success_at       TEXT NOT NULL DEFAULT '',
	created_at            TEXT NOT NULL,
	UNIQUE(address, port)
);
`
	_, err := db.Exec(ddl)
	return err
}

func (s *RelayStore) Health() store.HealthStore    { return s.health }
func (s *RelayStore) Sessions() store.SessionStore { return s.sessions }
func (s *RelayStore) Toggles() store.ToggleStore   { return s.toggles }
func (s *RelayStore) Proxies() store.ProxyStore    { return s.proxies }

// Close closes the underlying database connection.
func (s *RelayStore) Close() error {
	return s.db.Close()
}

// formatTime serialises a time for storage. Zero times store as "".
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
