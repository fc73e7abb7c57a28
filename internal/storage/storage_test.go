package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStorageSuite checks the behavior every backend must share
func runStorageSuite(t *testing.T, newStorage func(t *testing.T) Storage) {
	t.Run("credential_round_trip", func(t *testing.T) {
		store := newStorage(t)
		ctx := context.Background()

		_, err := store.GetCredential(ctx, "session-1")
		assert.ErrorIs(t, err, ErrCredentialNotFound)

		require.NoError(t, store.SaveCredential(ctx, Credential{
			SessionID:    "session-1",
			Email:        "a@b.com",
			ProviderID:   "password",
			RefreshToken: "refresh-token-1",
		}))

		cred, err := store.GetCredential(ctx, "session-1")
		require.NoError(t, err)
		assert.Equal(t, "a@b.com", cred.Email)
		assert.Equal(t, "password", cred.ProviderID)
		assert.Equal(t, "refresh-token-1", cred.RefreshToken)
		assert.False(t, cred.UpdatedAt.IsZero())

		// Replace
		require.NoError(t, store.SaveCredential(ctx, Credential{
			SessionID:    "session-1",
			Email:        "c@d.com",
			RefreshToken: "refresh-token-2",
		}))
		cred, err = store.GetCredential(ctx, "session-1")
		require.NoError(t, err)
		assert.Equal(t, "c@d.com", cred.Email)
		assert.Equal(t, "refresh-token-2", cred.RefreshToken)

		require.NoError(t, store.DeleteCredential(ctx, "session-1"))
		_, err = store.GetCredential(ctx, "session-1")
		assert.ErrorIs(t, err, ErrCredentialNotFound)

		// Deleting twice is fine
		assert.NoError(t, store.DeleteCredential(ctx, "session-1"))
	})

	t.Run("cleanup_expired_credentials", func(t *testing.T) {
		store := newStorage(t)
		ctx := context.Background()

		require.NoError(t, store.SaveCredential(ctx, Credential{
			SessionID:    "old",
			RefreshToken: "r-old",
			UpdatedAt:    time.Now().Add(-8 * 24 * time.Hour),
		}))
		require.NoError(t, store.SaveCredential(ctx, Credential{
			SessionID:    "fresh",
			RefreshToken: "r-fresh",
		}))

		count, err := store.CleanupExpiredCredentials(ctx, 7*24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		_, err = store.GetCredential(ctx, "old")
		assert.ErrorIs(t, err, ErrCredentialNotFound)
		_, err = store.GetCredential(ctx, "fresh")
		assert.NoError(t, err)
	})

	t.Run("upsert_users", func(t *testing.T) {
		store := newStorage(t)
		ctx := context.Background()

		require.NoError(t, store.UpsertUser(ctx, UserInfo{Email: "a@b.com", DisplayName: "Ada", ProviderID: "password"}))
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, store.UpsertUser(ctx, UserInfo{Email: "g@b.com", ProviderID: "google.com"}))

		users, err := store.GetAllUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "g@b.com", users[0].Email, "most recently seen first")

		first := users[1]
		assert.Equal(t, "Ada", first.DisplayName)
		assert.False(t, first.FirstSeen.IsZero())

		time.Sleep(5 * time.Millisecond)
		require.NoError(t, store.UpsertUser(ctx, UserInfo{Email: "a@b.com", ProviderID: "google.com"}))

		users, err = store.GetAllUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "a@b.com", users[0].Email)
		assert.Equal(t, "Ada", users[0].DisplayName, "empty fields keep previous values")
		assert.Equal(t, "google.com", users[0].ProviderID)
		assert.True(t, users[0].FirstSeen.Equal(first.FirstSeen))
		assert.True(t, users[0].LastSeen.After(first.LastSeen))
	})
}
