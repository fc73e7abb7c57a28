package storage

import (
	"context"
	"errors"
	"time"
)

// ErrCredentialNotFound is returned when no credential is persisted for a session
var ErrCredentialNotFound = errors.New("credential not found")

// Credential is the provider credential persisted for one browser session.
// It is what lets a session be rebuilt after a restart.
type Credential struct {
	SessionID    string    `json:"session_id"`
	Email        string    `json:"email"`
	ProviderID   string    `json:"provider_id"`
	RefreshToken string    `json:"refresh_token"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserInfo represents a user who has signed in to the admin
type UserInfo struct {
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	ProviderID  string    `json:"provider_id"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// CredentialStore persists provider credentials by session id
type CredentialStore interface {
	SaveCredential(ctx context.Context, cred Credential) error
	GetCredential(ctx context.Context, sessionID string) (*Credential, error)
	DeleteCredential(ctx context.Context, sessionID string) error
}

// UserStore tracks signed-in users
type UserStore interface {
	// UpsertUser creates the user or refreshes its profile and last seen time
	UpsertUser(ctx context.Context, user UserInfo) error
	GetAllUsers(ctx context.Context) ([]UserInfo, error)
}

// Storage combines all storage capabilities needed by admin-front
type Storage interface {
	CredentialStore
	UserStore

	// CleanupExpiredCredentials removes credentials not updated for maxAge
	CleanupExpiredCredentials(ctx context.Context, maxAge time.Duration) (int, error)

	Close() error
}
