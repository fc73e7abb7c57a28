// Package identity talks to the identity provider that owns accounts and
// issues tokens. admin-front never verifies those tokens itself.
package identity

import (
	"context"
	"time"
)

// Provider IDs reported on accounts
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google.com"
)

// Account is a signed-in provider account together with its current tokens
type Account struct {
	UID          string
	DisplayName  string
	Email        string
	ProviderID   string
	PhotoURL     string
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
}

// Provider abstracts the identity provider operations admin-front relies on.
// Every error returned by a Provider is an *Error.
type Provider interface {
	// Type returns the provider type identifier ("memory", "firebase").
	Type() string

	// SignInWithPassword signs in an existing email/password account.
	SignInWithPassword(ctx context.Context, email, password string) (*Account, error)

	// CreateAccount registers a new email/password account and signs it in.
	CreateAccount(ctx context.Context, email, password string) (*Account, error)

	// FederatedAuthURL returns the Google consent URL carrying state.
	FederatedAuthURL(state string) (string, error)

	// SignInFederated completes Google sign-in with the authorization code.
	SignInFederated(ctx context.Context, code string) (*Account, error)

	// Refresh exchanges a refresh token for a fresh account snapshot.
	Refresh(ctx context.Context, refreshToken string) (*Account, error)

	// SignOut ends the provider session of the account. A nil account is a no-op.
	SignOut(ctx context.Context, account *Account) error
}

// CredentialSource returns the refresh token of the credential currently
// persisted for a browser, or "" when there is none.
type CredentialSource interface {
	RefreshToken(ctx context.Context) (string, error)
}

// CredentialSourceFunc adapts a function to CredentialSource
type CredentialSourceFunc func(ctx context.Context) (string, error)

// RefreshToken calls f(ctx)
func (f CredentialSourceFunc) RefreshToken(ctx context.Context) (string, error) {
	return f(ctx)
}
