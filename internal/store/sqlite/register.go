// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package sqlite

import (
	"path/filepath"

	"github.com/chatrelay/chatrelay/internal/store"
)

func init() {
	store.RegisterBackend("sqlite", newRelayStore)
}

func newRelayStore(dataPath string) (store.RelayStore, error) {
	return NewRelayStore(filepath.Join(dataPath, "relay.db"))
}
