package storage

import (
	"context"
	"testing"

	"github.com/dgellow/admin-front/internal/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCollection = "admin_front"

func TestNewFirestoreStorage_RejectsIncompleteConfig(t *testing.T) {
	key, err := crypto.DeriveKey([]byte("test-session-secret-that-is-long-enough"), "storage")
	require.NoError(t, err)
	encryptor, err := crypto.NewEncryptor(key)
	require.NoError(t, err)

	tests := []struct {
		name       string
		project    string
		collection string
		encryptor  crypto.Encryptor
		wantErr    string
	}{
		{"no encryptor", "admin-project", testCollection, nil, "encryptor is required"},
		{"no project", "", testCollection, encryptor, "projectID is required"},
		{"no collection", "admin-project", "", encryptor, "collection is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFirestoreStorage(context.Background(), tt.project, "(default)", tt.collection, tt.encryptor)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
