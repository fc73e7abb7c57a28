package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) Storage {
		return NewMemoryStorage()
	})
}

func TestMemoryStorageReturnsCopies(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, store.SaveCredential(ctx, Credential{SessionID: "s1", RefreshToken: "r1"}))
	cred, err := store.GetCredential(ctx, "s1")
	require.NoError(t, err)
	cred.RefreshToken = "mutated"

	again, err := store.GetCredential(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "r1", again.RefreshToken)
}

func TestCleanupManager(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, store.SaveCredential(ctx, Credential{
		SessionID: "old",
		UpdatedAt: time.Now().Add(-2 * time.Hour),
	}))
	require.NoError(t, store.SaveCredential(ctx, Credential{SessionID: "fresh"}))

	cm := NewCleanupManager(store, time.Hour, time.Hour)
	cm.Start(ctx)
	defer cm.Stop()

	require.Eventually(t, func() bool {
		_, err := store.GetCredential(ctx, "old")
		return err == ErrCredentialNotFound
	}, time.Second, 10*time.Millisecond)

	_, err := store.GetCredential(ctx, "fresh")
	assert.NoError(t, err)
}
