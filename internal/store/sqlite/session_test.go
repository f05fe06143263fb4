// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/store"
	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

func TestSessionStore_UpsertAndGetValid(t *testing.T) {
	ctx := context.Background()
	ss := testStore(t, "sessions").Sessions()

	id, err := ss.Upsert(ctx, &store.ProviderSession{
		Provider:   "lmarena",
		Credential: []byte(`{"cookies":"abc"}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id, "upsert assigns an id when none given")

	got, err := ss.GetValid(ctx, "lmarena")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, []byte(`{"cookies":"abc"}`), got.Credential)
	assert.Equal(t, int64(store.DefaultSessionUsageCap), got.UsageCap)
	assert.Zero(t, got.UsageCount)
}

func TestSessionStore_UpsertReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	ss := testStore(t, "sessions-replace").Sessions()

	first, err := ss.Upsert(ctx, &store.ProviderSession{
		Provider:   "lmarena",
		Credential: []byte("old"),
	})
	require.NoError(t, err)
	require.NoError(t, ss.IncrementUsage(ctx, "lmarena"))

	second, err := ss.Upsert(ctx, &store.ProviderSession{
		Provider:   "lmarena",
		Credential: []byte("new"),
	})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	// Exactly one row survives and the replacement starts fresh.
	sessions, err := ss.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, []byte("new"), sessions[0].Credential)
	assert.Zero(t, sessions[0].UsageCount)
}

func TestSessionStore_IncrementUsage(t *testing.T) {
	ctx := context.Background()
	ss := testStore(t, "sessions-usage").Sessions()

	_, err := ss.Upsert(ctx, &store.ProviderSession{
		Provider:   "lmarena",
		Credential: []byte("c"),
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, ss.IncrementUsage(ctx, "lmarena"))
	}

	got, err := ss.GetValid(ctx, "lmarena")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.UsageCount)
}

func TestSessionStore_IncrementUsageMissing(t *testing.T) {
	ctx := context.Background()
	ss := testStore(t, "sessions-usage-missing").Sessions()

	err := ss.IncrementUsage(ctx, "nonexistent")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionStore_CapSpendsSession(t *testing.T) {
	ctx := context.Background()
	ss := testStore(t, "sessions-cap").Sessions()

	_, err := ss.Upsert(ctx, &store.ProviderSession{
		Provider:   "lmarena",
		Credential: []byte("c"),
		UsageCap:   2,
	})
	require.NoError(t, err)

	require.NoError(t, ss.IncrementUsage(ctx, "lmarena"))
	_, err = ss.GetValid(ctx, "lmarena")
	require.NoError(t, err, "one use below cap is still valid")

	require.NoError(t, ss.IncrementUsage(ctx, "lmarena"))
	_, err = ss.GetValid(ctx, "lmarena")
	assert.ErrorIs(t, err, store.ErrNotFound, "session at cap is spent")

	// The spent record was deleted eagerly, not merely filtered.
	sessions, err := ss.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSessionStore_ExpirySpendsSession(t *testing.T) {
	ctx := context.Background()
	ss := testStore(t, "sessions-expiry").Sessions()

	_, err := ss.Upsert(ctx, &store.ProviderSession{
		Provider:   "lmarena",
		Credential: []byte("c"),
		ExpiresAt:  time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	_, err = ss.GetValid(ctx, "lmarena")
	assert.ErrorIs(t, err, store.ErrNotFound)

	sessions, err := ss.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSessionStore_NoExpiryNeverExpires(t *testing.T) {
	ctx := context.Background()
	ss := testStore(t, "sessions-noexpiry").Sessions()

	_, err := ss.Upsert(ctx, &store.ProviderSession{
		Provider:   "lmarena",
		Credential: []byte("c"),
	})
	require.NoError(t, err)

	got, err := ss.GetValid(ctx, "lmarena")
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.IsZero())
}

func TestSessionStore_OnePerProvider(t *testing.T) {
	ctx := context.Background()
	ss := testStore(t, "sessions-multi").Sessions()

	for _, provider := range []string{"lmarena", "perplexity", "lmarena"} {
		_, err := ss.Upsert(ctx, &store.ProviderSession{
			Provider:   provider,
			Credential: []byte("c"),
		})
		require.NoError(t, err)
	}

	sessions, err := ss.List(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestSessionStore_Delete(t *testing.T) {
	ctx := context.Background()
	ss := testStore(t, "sessions-delete").Sessions()

	_, err := ss.Upsert(ctx, &store.ProviderSession{
		Provider:   "lmarena",
		Credential: []byte("c"),
	})
	require.NoError(t, err)

	require.NoError(t, ss.Delete(ctx, "lmarena"))
	_, err = ss.GetValid(ctx, "lmarena")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	// Deleting an absent session is not an error.
	assert.NoError(t, ss.Delete(ctx, "lmarena"))
}

func TestSessionStore_ValidateRejectsEmptyProvider(t *testing.T) {
	ctx := context.Background()
	ss := testStore(t, "sessions-validate").Sessions()

	_, err := ss.Upsert(ctx, &store.ProviderSession{Credential: []byte("c")})
	assert.True(t, relayerr.IsInvalidInput(err))
}
