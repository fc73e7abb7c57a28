package session

import (
	"github.com/dgellow/admin-front/internal/emailutil"
	"github.com/dgellow/admin-front/internal/identity"
)

// User is the signed-in user as the admin pages see it. It is rebuilt from
// the provider account on every authentication event and never patched.
type User struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Token       string `json:"-"`
	ProviderID  string `json:"provider"`
	PhotoURL    string `json:"photoUrl"`
}

// Normalize projects a provider account onto a User
func Normalize(account *identity.Account) User {
	return User{
		UID:         account.UID,
		DisplayName: account.DisplayName,
		Email:       emailutil.Normalize(account.Email),
		Token:       account.IDToken,
		ProviderID:  account.ProviderID,
		PhotoURL:    account.PhotoURL,
	}
}

// State is a snapshot of the authentication state. While Loading is true a
// nil User does not mean signed out.
type State struct {
	User    *User `json:"user"`
	Loading bool  `json:"loading"`
}
