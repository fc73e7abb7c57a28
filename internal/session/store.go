package session

import (
	"context"
	"errors"
	"sync"

	"github.com/dgellow/admin-front/internal/identity"
	"github.com/dgellow/admin-front/internal/log"
	"github.com/dgellow/admin-front/internal/storage"
)

// Options configures a Store
type Options struct {
	Provider    identity.Provider
	Marker      Marker
	Navigator   Navigator
	Credentials storage.CredentialStore
	// Users is optional; signed-in users are tracked when set
	Users     storage.UserStore
	SessionID string
	// HomePath is where a successful sign-in lands, "/" by default
	HomePath string
	// WatchOptions tune the token-change stream
	WatchOptions []identity.WatchOption
}

// Store is the authentication state of one browser session.
//
// State reads are safe from any goroutine. Operations are not serialized:
// overlapping sign-ins, sign-outs and token notifications each overwrite
// the state and the last one wins.
type Store struct {
	provider    identity.Provider
	marker      Marker
	navigator   Navigator
	credentials storage.CredentialStore
	users       storage.UserStore
	sessionID   string
	homePath    string
	watchOpts   []identity.WatchOption

	mu          sync.RWMutex
	state       State
	account     *identity.Account
	activated   bool
	closed      bool
	unsubscribe func()
}

// NewStore creates a store in the loading state. Call Activate once the
// marker of the browser is known.
func NewStore(opts Options) *Store {
	homePath := opts.HomePath
	if homePath == "" {
		homePath = "/"
	}
	return &Store{
		provider:    opts.Provider,
		marker:      opts.Marker,
		navigator:   opts.Navigator,
		credentials: opts.Credentials,
		users:       opts.Users,
		sessionID:   opts.SessionID,
		homePath:    homePath,
		watchOpts:   opts.WatchOptions,
		state:       State{Loading: true},
	}
}

// SessionID returns the browser session this store belongs to
func (s *Store) SessionID() string {
	return s.sessionID
}

// State returns a snapshot of the current state
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := s.state
	if state.User != nil {
		user := *state.User
		state.User = &user
	}
	return state
}

func (s *Store) setLoading(loading bool) {
	s.mu.Lock()
	s.state.Loading = loading
	s.mu.Unlock()
}

// Login signs in with email and password, then navigates home. Provider
// errors are returned unchanged and leave the user untouched.
func (s *Store) Login(ctx context.Context, email, password string) error {
	return s.authenticate(ctx, "password", func() (*identity.Account, error) {
		return s.provider.SignInWithPassword(ctx, email, password)
	})
}

// Register creates an email/password account, then navigates home
func (s *Store) Register(ctx context.Context, email, password string) error {
	return s.authenticate(ctx, "register", func() (*identity.Account, error) {
		return s.provider.CreateAccount(ctx, email, password)
	})
}

// LoginFederated completes Google sign-in with the authorization code, then
// navigates home
func (s *Store) LoginFederated(ctx context.Context, code string) error {
	return s.authenticate(ctx, "google", func() (*identity.Account, error) {
		return s.provider.SignInFederated(ctx, code)
	})
}

func (s *Store) authenticate(ctx context.Context, method string, signIn func() (*identity.Account, error)) error {
	s.setLoading(true)
	defer s.setLoading(false)

	account, err := signIn()
	if err != nil {
		log.LogInfoWithFields("session", "Sign-in rejected", map[string]any{
			"method": method,
			"error":  err.Error(),
		})
		return err
	}

	if email, ok := s.ConfigureSession(ctx, account); ok {
		log.LogInfoWithFields("session", "User signed in", map[string]any{
			"method": method,
			"email":  email,
		})
	}
	s.navigator.Push(s.homePath)
	return nil
}

// Logout signs out at the provider and clears the local session. The local
// session is cleared even when the provider fails; its error is returned.
func (s *Store) Logout(ctx context.Context) error {
	s.setLoading(true)
	defer s.setLoading(false)

	s.mu.RLock()
	account := s.account
	s.mu.RUnlock()

	err := s.provider.SignOut(ctx, account)
	if err != nil {
		log.LogWarnWithFields("session", "Provider sign-out failed", map[string]any{
			"error": err.Error(),
		})
	}

	s.ConfigureSession(ctx, nil)
	log.LogInfoWithFields("session", "User signed out", nil)
	return err
}

// ConfigureSession applies an authentication event. An account with an
// email becomes the session user and sets the marker; anything else clears
// the user and removes the marker. Either way Loading ends. Persistence
// failures are logged and do not affect the outcome.
func (s *Store) ConfigureSession(ctx context.Context, account *identity.Account) (string, bool) {
	if account == nil || account.Email == "" {
		s.mu.Lock()
		s.state = State{User: nil, Loading: false}
		s.account = nil
		s.mu.Unlock()

		s.marker.Remove()
		if err := s.credentials.DeleteCredential(ctx, s.sessionID); err != nil {
			log.LogErrorWithFields("session", "Failed to delete credential", map[string]any{
				"error": err.Error(),
			})
		}
		return "", false
	}

	user := Normalize(account)

	s.mu.Lock()
	s.state = State{User: &user, Loading: false}
	s.account = account
	s.mu.Unlock()

	s.marker.Set()

	if err := s.credentials.SaveCredential(ctx, storage.Credential{
		SessionID:    s.sessionID,
		Email:        user.Email,
		ProviderID:   user.ProviderID,
		RefreshToken: account.RefreshToken,
	}); err != nil {
		log.LogErrorWithFields("session", "Failed to save credential", map[string]any{
			"email": user.Email,
			"error": err.Error(),
		})
	}

	if s.users != nil {
		if err := s.users.UpsertUser(ctx, storage.UserInfo{
			Email:       user.Email,
			DisplayName: user.DisplayName,
			ProviderID:  user.ProviderID,
		}); err != nil {
			log.LogErrorWithFields("session", "Failed to track user", map[string]any{
				"email": user.Email,
				"error": err.Error(),
			})
		}
	}

	return user.Email, true
}

// Activate runs once per store. With the marker present it subscribes to
// the token-change stream, which restores the session from the persisted
// credential. Without it the browser is signed out and loading ends now.
func (s *Store) Activate() {
	s.mu.Lock()
	if s.activated || s.closed {
		s.mu.Unlock()
		return
	}
	s.activated = true
	s.mu.Unlock()

	if !s.marker.Present() {
		s.setLoading(false)
		log.LogTraceWithFields("session", "No session marker, signed out", nil)
		return
	}

	unsubscribe := identity.OnTokenChanged(
		s.provider,
		identity.CredentialSourceFunc(s.refreshToken),
		func(account *identity.Account) {
			s.ConfigureSession(context.Background(), account)
		},
		s.watchOpts...,
	)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsubscribe()
		return
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	log.LogDebugWithFields("session", "Subscribed to token changes", nil)
}

// refreshToken reads the credential currently persisted for this session
func (s *Store) refreshToken(ctx context.Context) (string, error) {
	cred, err := s.credentials.GetCredential(ctx, s.sessionID)
	if errors.Is(err, storage.ErrCredentialNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cred.RefreshToken, nil
}

// Close cancels the token-change subscription. Provider calls already in
// flight are not cancelled.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}
