package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgellow/admin-front/internal/log"
)

const (
	firebaseIdentityURL = "https://identitytoolkit.googleapis.com/v1"
	firebaseTokenURL    = "https://securetoken.googleapis.com/v1/token"
)

// FirebaseProvider talks to the Firebase Identity Toolkit REST API
type FirebaseProvider struct {
	apiKey      string
	identityURL string
	tokenURL    string
	httpClient  *http.Client
	google      *GoogleFederation
}

// FirebaseOption configures a FirebaseProvider
type FirebaseOption func(*FirebaseProvider)

// WithFirebaseEmulator points the provider at a local Auth emulator, e.g.
// "http://localhost:9099"
func WithFirebaseEmulator(host string) FirebaseOption {
	return func(p *FirebaseProvider) {
		host = strings.TrimSuffix(host, "/")
		p.identityURL = host + "/identitytoolkit.googleapis.com/v1"
		p.tokenURL = host + "/securetoken.googleapis.com/v1/token"
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(client *http.Client) FirebaseOption {
	return func(p *FirebaseProvider) {
		p.httpClient = client
	}
}

// WithFirebaseGoogle enables Google sign-in
func WithFirebaseGoogle(g *GoogleFederation) FirebaseOption {
	return func(p *FirebaseProvider) {
		p.google = g
	}
}

// NewFirebaseProvider creates a provider for the project owning apiKey
func NewFirebaseProvider(apiKey string, opts ...FirebaseOption) *FirebaseProvider {
	p := &FirebaseProvider{
		apiKey:      apiKey,
		identityURL: firebaseIdentityURL,
		tokenURL:    firebaseTokenURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Type returns the provider type
func (p *FirebaseProvider) Type() string {
	return "firebase"
}

// signInResponse covers signInWithPassword, signUp and signInWithIdp
type signInResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoUrl"`
	ProviderID   string `json:"providerId"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

func (r *signInResponse) account(defaultProvider string) *Account {
	providerID := r.ProviderID
	if providerID == "" {
		providerID = defaultProvider
	}
	return &Account{
		UID:          r.LocalID,
		DisplayName:  r.DisplayName,
		Email:        r.Email,
		ProviderID:   providerID,
		PhotoURL:     r.PhotoURL,
		IDToken:      r.IDToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    expiresAt(r.ExpiresIn),
	}
}

func expiresAt(expiresIn string) time.Time {
	seconds, err := strconv.Atoi(expiresIn)
	if err != nil || seconds <= 0 {
		seconds = 3600
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

// SignInWithPassword calls accounts:signInWithPassword
func (p *FirebaseProvider) SignInWithPassword(ctx context.Context, email, password string) (*Account, error) {
	var resp signInResponse
	err := p.postJSON(ctx, "accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.account(ProviderPassword), nil
}

// CreateAccount calls accounts:signUp
func (p *FirebaseProvider) CreateAccount(ctx context.Context, email, password string) (*Account, error) {
	var resp signInResponse
	err := p.postJSON(ctx, "accounts:signUp", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.account(ProviderPassword), nil
}

// FederatedAuthURL returns the Google consent URL
func (p *FirebaseProvider) FederatedAuthURL(state string) (string, error) {
	if p.google == nil {
		return "", NewError(CodeFederationUnavailable, nil)
	}
	return p.google.AuthURL(state), nil
}

// SignInFederated exchanges the Google code and signs in with the ID token
// through accounts:signInWithIdp
func (p *FirebaseProvider) SignInFederated(ctx context.Context, code string) (*Account, error) {
	if p.google == nil {
		return nil, NewError(CodeFederationUnavailable, nil)
	}

	google, err := p.google.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	postBody := url.Values{}
	postBody.Set("id_token", google.IDToken)
	postBody.Set("providerId", ProviderGoogle)

	var resp signInResponse
	err = p.postJSON(ctx, "accounts:signInWithIdp", map[string]any{
		"postBody":            postBody.Encode(),
		"requestUri":          p.google.RedirectURI(),
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.account(ProviderGoogle), nil
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

type lookupResponse struct {
	Users []struct {
		LocalID          string `json:"localId"`
		Email            string `json:"email"`
		DisplayName      string `json:"displayName"`
		PhotoURL         string `json:"photoUrl"`
		Disabled         bool   `json:"disabled"`
		ProviderUserInfo []struct {
			ProviderID string `json:"providerId"`
		} `json:"providerUserInfo"`
	} `json:"users"`
}

// Refresh exchanges the refresh token at the secure token endpoint, then
// reads the profile with accounts:lookup
func (p *FirebaseProvider) Refresh(ctx context.Context, refreshToken string) (*Account, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL+"?key="+url.QueryEscape(p.apiKey), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, NewError(CodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token refreshResponse
	if err := p.do(req, &token); err != nil {
		return nil, err
	}

	var lookup lookupResponse
	if err := p.postJSON(ctx, "accounts:lookup", map[string]any{"idToken": token.IDToken}, &lookup); err != nil {
		return nil, err
	}
	if len(lookup.Users) == 0 {
		return nil, NewError(CodeInvalidRefreshToken, fmt.Errorf("no user for refreshed token"))
	}

	user := lookup.Users[0]
	if user.Disabled {
		return nil, NewError(CodeUserDisabled, nil)
	}
	providerID := ProviderPassword
	if len(user.ProviderUserInfo) > 0 {
		providerID = user.ProviderUserInfo[0].ProviderID
	}

	return &Account{
		UID:          user.LocalID,
		DisplayName:  user.DisplayName,
		Email:        user.Email,
		ProviderID:   providerID,
		PhotoURL:     user.PhotoURL,
		IDToken:      token.IDToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiresAt(token.ExpiresIn),
	}, nil
}

// SignOut is local for Firebase: tokens simply stop being refreshed
func (p *FirebaseProvider) SignOut(ctx context.Context, account *Account) error {
	return nil
}

func (p *FirebaseProvider) postJSON(ctx context.Context, method string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return NewError(CodeInternal, err)
	}

	endpoint := fmt.Sprintf("%s/%s?key=%s", p.identityURL, method, url.QueryEscape(p.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return NewError(CodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return p.do(req, out)
}

// firebaseErrorResponse is the REST error envelope
type firebaseErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *FirebaseProvider) do(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return NewError(CodeNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return NewError(CodeNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		var fbErr firebaseErrorResponse
		if jsonErr := json.Unmarshal(body, &fbErr); jsonErr != nil || fbErr.Error.Message == "" {
			if resp.StatusCode >= http.StatusInternalServerError {
				return NewError(CodeNetwork, fmt.Errorf("firebase returned status %d", resp.StatusCode))
			}
			return NewError(CodeInternal, fmt.Errorf("firebase returned status %d", resp.StatusCode))
		}
		log.LogDebugWithFields("identity", "Firebase rejected request", map[string]any{
			"status":  resp.StatusCode,
			"message": fbErr.Error.Message,
		})
		return mapFirebaseError(fbErr.Error.Message)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return NewError(CodeInternal, fmt.Errorf("decoding firebase response: %w", err))
	}
	return nil
}

// mapFirebaseError maps messages like "WEAK_PASSWORD : Password should be at
// least 6 characters" to an *Error
func mapFirebaseError(message string) *Error {
	reason, detail, _ := strings.Cut(message, " : ")
	reason = strings.TrimSpace(reason)
	cause := fmt.Errorf("firebase: %s", message)

	var code Code
	switch reason {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "INVALID_EMAIL", "MISSING_PASSWORD", "INVALID_IDP_RESPONSE":
		code = CodeInvalidCredential
	case "EMAIL_EXISTS", "FEDERATED_USER_ID_ALREADY_LINKED":
		code = CodeEmailExists
	case "WEAK_PASSWORD":
		code = CodeWeakPassword
	case "USER_DISABLED":
		code = CodeUserDisabled
	case "TOO_MANY_ATTEMPTS_TRY_LATER", "QUOTA_EXCEEDED":
		code = CodeTooManyRequests
	case "OPERATION_NOT_ALLOWED":
		code = CodeFederationUnavailable
	case "TOKEN_EXPIRED", "INVALID_REFRESH_TOKEN", "USER_NOT_FOUND", "INVALID_ID_TOKEN", "INVALID_GRANT_TYPE", "MISSING_REFRESH_TOKEN":
		code = CodeInvalidRefreshToken
	default:
		code = CodeInternal
	}

	e := NewError(code, cause)
	if code == CodeWeakPassword && detail != "" {
		e.Message = strings.TrimSpace(detail)
		if !strings.HasSuffix(e.Message, ".") {
			e.Message += "."
		}
	}
	return e
}
