package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgellow/admin-front/internal/crypto"
	"github.com/dgellow/admin-front/internal/emailutil"
	"github.com/dgellow/admin-front/internal/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// MinPasswordLength matches the Firebase password policy
	MinPasswordLength = 6

	memoryTokenIssuer = "admin-front"
	memoryTokenTTL    = time.Hour

	// Signing in again past this many live refresh tokens revokes the oldest
	maxRefreshTokensPerAccount = 10
)

type memoryAccount struct {
	uid          string
	email        string
	displayName  string
	photoURL     string
	providerID   string
	passwordHash []byte
	disabled     bool
}

type refreshGrant struct {
	email string
	seq   uint64
}

// IDTokenClaims are the claims of ID tokens minted by MemoryProvider
type IDTokenClaims struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider"`
	jwt.RegisteredClaims
}

// MemoryProvider keeps accounts in process. It is meant for development
// and tests; everything is lost on restart.
type MemoryProvider struct {
	signingKey []byte
	tokenTTL   time.Duration
	google     *GoogleFederation

	mu            sync.RWMutex
	accounts      map[string]*memoryAccount // by normalized email
	refreshTokens map[string]refreshGrant   // by refresh token
	grantSeq      uint64
}

// MemoryOption configures a MemoryProvider
type MemoryOption func(*MemoryProvider)

// WithMemoryGoogle enables Google sign-in
func WithMemoryGoogle(g *GoogleFederation) MemoryOption {
	return func(p *MemoryProvider) {
		p.google = g
	}
}

// WithTokenTTL changes the ID token lifetime
func WithTokenTTL(ttl time.Duration) MemoryOption {
	return func(p *MemoryProvider) {
		p.tokenTTL = ttl
	}
}

// NewMemoryProvider creates an empty provider signing ID tokens with signingKey
func NewMemoryProvider(signingKey []byte, opts ...MemoryOption) *MemoryProvider {
	p := &MemoryProvider{
		signingKey:    signingKey,
		tokenTTL:      memoryTokenTTL,
		accounts:      make(map[string]*memoryAccount),
		refreshTokens: make(map[string]refreshGrant),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Type returns the provider type
func (p *MemoryProvider) Type() string {
	return "memory"
}

// AddUser seeds an email/password account
func (p *MemoryProvider) AddUser(email, password, displayName string) error {
	_, err := p.createPasswordAccount(email, password, displayName)
	return err
}

// DisableUser blocks sign-in and refresh for the account
func (p *MemoryProvider) DisableUser(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if acct, ok := p.accounts[emailutil.Normalize(email)]; ok {
		acct.disabled = true
	}
}

func (p *MemoryProvider) createPasswordAccount(email, password, displayName string) (*memoryAccount, error) {
	email = emailutil.Normalize(email)
	if !emailutil.IsValid(email) {
		return nil, &Error{Code: CodeInvalidCredential, Message: "The email address is badly formatted."}
	}
	if len(password) < MinPasswordLength {
		return nil, NewError(CodeWeakPassword, nil)
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, NewError(CodeInternal, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.accounts[email]; exists {
		return nil, NewError(CodeEmailExists, nil)
	}
	acct := &memoryAccount{
		uid:          uuid.NewString(),
		email:        email,
		displayName:  displayName,
		providerID:   ProviderPassword,
		passwordHash: hash,
	}
	p.accounts[email] = acct
	return acct, nil
}

// SignInWithPassword checks the password against the stored bcrypt hash
func (p *MemoryProvider) SignInWithPassword(ctx context.Context, email, password string) (*Account, error) {
	p.mu.RLock()
	acct, ok := p.accounts[emailutil.Normalize(email)]
	var hash []byte
	var disabled bool
	if ok {
		hash, disabled = acct.passwordHash, acct.disabled
	}
	p.mu.RUnlock()

	if hash == nil || !crypto.CheckPassword(hash, password) {
		return nil, NewError(CodeInvalidCredential, nil)
	}
	if disabled {
		return nil, NewError(CodeUserDisabled, nil)
	}
	return p.issue(acct)
}

// CreateAccount registers a new email/password account
func (p *MemoryProvider) CreateAccount(ctx context.Context, email, password string) (*Account, error) {
	acct, err := p.createPasswordAccount(email, password, "")
	if err != nil {
		return nil, err
	}
	log.LogInfoWithFields("identity", "Account created", map[string]any{
		"email":    acct.email,
		"provider": p.Type(),
	})
	return p.issue(acct)
}

// FederatedAuthURL returns the Google consent URL
func (p *MemoryProvider) FederatedAuthURL(state string) (string, error) {
	if p.google == nil {
		return "", NewError(CodeFederationUnavailable, nil)
	}
	return p.google.AuthURL(state), nil
}

// SignInFederated links the Google identity to an account, creating it on
// first sign-in
func (p *MemoryProvider) SignInFederated(ctx context.Context, code string) (*Account, error) {
	if p.google == nil {
		return nil, NewError(CodeFederationUnavailable, nil)
	}

	identity, err := p.google.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	email := emailutil.Normalize(identity.Email)
	if email == "" {
		return nil, &Error{Code: CodeInvalidCredential, Message: "Google did not share an email address."}
	}

	p.mu.Lock()
	acct, ok := p.accounts[email]
	if !ok {
		acct = &memoryAccount{uid: uuid.NewString(), email: email}
		p.accounts[email] = acct
	}
	acct.providerID = ProviderGoogle
	if acct.displayName == "" {
		acct.displayName = identity.Name
	}
	acct.photoURL = identity.Picture
	disabled := acct.disabled
	p.mu.Unlock()

	if disabled {
		return nil, NewError(CodeUserDisabled, nil)
	}
	return p.issue(acct)
}

// Refresh mints a new ID token for a live refresh token
func (p *MemoryProvider) Refresh(ctx context.Context, refreshToken string) (*Account, error) {
	p.mu.RLock()
	grant, ok := p.refreshTokens[refreshToken]
	var acct *memoryAccount
	var disabled bool
	if ok {
		acct = p.accounts[grant.email]
	}
	if acct != nil {
		disabled = acct.disabled
	}
	p.mu.RUnlock()

	if acct == nil {
		return nil, NewError(CodeInvalidRefreshToken, nil)
	}
	if disabled {
		return nil, NewError(CodeUserDisabled, nil)
	}

	account, err := p.sign(acct)
	if err != nil {
		return nil, err
	}
	account.RefreshToken = refreshToken
	return account, nil
}

// SignOut revokes the account's refresh token
func (p *MemoryProvider) SignOut(ctx context.Context, account *Account) error {
	if account == nil || account.RefreshToken == "" {
		return nil
	}
	p.mu.Lock()
	delete(p.refreshTokens, account.RefreshToken)
	p.mu.Unlock()
	return nil
}

// ParseIDToken verifies an ID token minted by this provider
func (p *MemoryProvider) ParseIDToken(token string) (*IDTokenClaims, error) {
	claims := &IDTokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return p.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(memoryTokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("parsing id token: %w", err)
	}
	return claims, nil
}

func (p *MemoryProvider) issue(acct *memoryAccount) (*Account, error) {
	account, err := p.sign(acct)
	if err != nil {
		return nil, err
	}

	refreshToken, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, NewError(CodeInternal, err)
	}
	p.mu.Lock()
	p.grantSeq++
	p.refreshTokens[refreshToken] = refreshGrant{email: acct.email, seq: p.grantSeq}
	p.revokeOldestLocked(acct.email)
	p.mu.Unlock()

	account.RefreshToken = refreshToken
	return account, nil
}

// revokeOldestLocked drops the oldest refresh tokens of email until at most
// maxRefreshTokensPerAccount remain. p.mu must be held.
func (p *MemoryProvider) revokeOldestLocked(email string) {
	for {
		var count int
		var oldest string
		var oldestSeq uint64
		for token, grant := range p.refreshTokens {
			if grant.email != email {
				continue
			}
			count++
			if oldest == "" || grant.seq < oldestSeq {
				oldest, oldestSeq = token, grant.seq
			}
		}
		if count <= maxRefreshTokensPerAccount {
			return
		}
		delete(p.refreshTokens, oldest)
	}
}

func (p *MemoryProvider) sign(acct *memoryAccount) (*Account, error) {
	now := time.Now()
	expiresAt := now.Add(p.tokenTTL)

	p.mu.RLock()
	snapshot := *acct
	p.mu.RUnlock()

	claims := IDTokenClaims{
		Email:    snapshot.email,
		Name:     snapshot.displayName,
		Provider: snapshot.providerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    memoryTokenIssuer,
			Subject:   snapshot.uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey)
	if err != nil {
		return nil, NewError(CodeInternal, err)
	}

	return &Account{
		UID:         snapshot.uid,
		DisplayName: snapshot.displayName,
		Email:       snapshot.email,
		ProviderID:  snapshot.providerID,
		PhotoURL:    snapshot.photoURL,
		IDToken:     idToken,
		ExpiresAt:   expiresAt,
	}, nil
}
