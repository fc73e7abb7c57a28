package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFirebase emulates the Identity Toolkit and secure token endpoints
type fakeFirebase struct {
	*httptest.Server
	idpPostBodies chan string
}

func newFakeFirebase(t *testing.T) *fakeFirebase {
	t.Helper()
	f := &fakeFirebase{idpPostBodies: make(chan string, 1)}

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	firebaseError := func(w http.ResponseWriter, message string) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{"code": 400, "message": message},
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/identitytoolkit.googleapis.com/v1/accounts:signInWithPassword", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-api-key", r.URL.Query().Get("key"))
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req["email"] {
		case "a@b.com":
			if req["password"] != "secret1" {
				firebaseError(w, "INVALID_LOGIN_CREDENTIALS")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"localId":      "uid-1",
				"email":        "a@b.com",
				"displayName":  "Ada",
				"idToken":      "id-token-1",
				"refreshToken": "refresh-1",
				"expiresIn":    "3600",
				"registered":   true,
			})
		case "disabled@b.com":
			firebaseError(w, "USER_DISABLED")
		case "throttled@b.com":
			firebaseError(w, "TOO_MANY_ATTEMPTS_TRY_LATER : Access to this account has been temporarily disabled")
		case "down@b.com":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			firebaseError(w, "EMAIL_NOT_FOUND")
		}
	})
	mux.HandleFunc("/identitytoolkit.googleapis.com/v1/accounts:signUp", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch {
		case req["email"] == "a@b.com":
			firebaseError(w, "EMAIL_EXISTS")
		case len(req["password"].(string)) < 6:
			firebaseError(w, "WEAK_PASSWORD : Password should be at least 6 characters")
		default:
			writeJSON(w, http.StatusOK, map[string]any{
				"localId":      "uid-new",
				"email":        req["email"],
				"idToken":      "id-token-new",
				"refreshToken": "refresh-new",
				"expiresIn":    "3600",
			})
		}
	})
	mux.HandleFunc("/identitytoolkit.googleapis.com/v1/accounts:signInWithIdp", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		postBody, _ := req["postBody"].(string)
		select {
		case f.idpPostBodies <- postBody:
		default:
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"localId":      "uid-g",
			"email":        "g@b.com",
			"displayName":  "Grace",
			"photoUrl":     "https://example.com/g.png",
			"providerId":   "google.com",
			"idToken":      "id-token-g",
			"refreshToken": "refresh-g",
			"expiresIn":    "3600",
		})
	})
	mux.HandleFunc("/identitytoolkit.googleapis.com/v1/accounts:lookup", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["idToken"] != "id-token-2" {
			firebaseError(w, "INVALID_ID_TOKEN")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"users": []map[string]any{{
				"localId":          "uid-1",
				"email":            "a@b.com",
				"displayName":      "Ada",
				"providerUserInfo": []map[string]any{{"providerId": "password"}},
			}},
		})
	})
	mux.HandleFunc("/securetoken.googleapis.com/v1/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		if r.PostForm.Get("refresh_token") != "refresh-1" {
			firebaseError(w, "INVALID_REFRESH_TOKEN")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id_token":      "id-token-2",
			"refresh_token": "refresh-1",
			"expires_in":    "3600",
			"user_id":       "uid-1",
		})
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func TestFirebaseProvider_SignInWithPassword(t *testing.T) {
	fb := newFakeFirebase(t)
	p := NewFirebaseProvider("test-api-key", WithFirebaseEmulator(fb.URL))
	ctx := context.Background()

	account, err := p.SignInWithPassword(ctx, "a@b.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "uid-1", account.UID)
	assert.Equal(t, "Ada", account.DisplayName)
	assert.Equal(t, ProviderPassword, account.ProviderID)
	assert.Equal(t, "id-token-1", account.IDToken)
	assert.Equal(t, "refresh-1", account.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), account.ExpiresAt, 5*time.Second)
}

func TestFirebaseProvider_ErrorMapping(t *testing.T) {
	fb := newFakeFirebase(t)
	p := NewFirebaseProvider("test-api-key", WithFirebaseEmulator(fb.URL))
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{"wrong_password", "a@b.com", "wrong", ErrInvalidCredential},
		{"unknown_email", "nobody@b.com", "secret1", ErrInvalidCredential},
		{"disabled", "disabled@b.com", "secret1", ErrUserDisabled},
		{"throttled", "throttled@b.com", "secret1", ErrTooManyRequests},
		{"server_down", "down@b.com", "secret1", ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.SignInWithPassword(ctx, tt.email, tt.password)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFirebaseProvider_SlowBackendIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(func() { close(release) })

	p := NewFirebaseProvider("test-api-key",
		WithFirebaseEmulator(slow.URL),
		WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}),
	)

	start := time.Now()
	_, err := p.SignInWithPassword(context.Background(), "a@b.com", "secret1")
	assert.ErrorIs(t, err, ErrNetwork)
	assert.True(t, IsTransient(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFirebaseProvider_CreateAccount(t *testing.T) {
	fb := newFakeFirebase(t)
	p := NewFirebaseProvider("test-api-key", WithFirebaseEmulator(fb.URL))
	ctx := context.Background()

	account, err := p.CreateAccount(ctx, "new@b.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "uid-new", account.UID)
	assert.Equal(t, "new@b.com", account.Email)

	_, err = p.CreateAccount(ctx, "a@b.com", "secret1")
	assert.ErrorIs(t, err, ErrEmailExists)

	_, err = p.CreateAccount(ctx, "weak@b.com", "123")
	require.ErrorIs(t, err, ErrWeakPassword)
	assert.Equal(t, "Password should be at least 6 characters.", err.Error())
}

func TestFirebaseProvider_Refresh(t *testing.T) {
	fb := newFakeFirebase(t)
	p := NewFirebaseProvider("test-api-key", WithFirebaseEmulator(fb.URL))
	ctx := context.Background()

	account, err := p.Refresh(ctx, "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "uid-1", account.UID)
	assert.Equal(t, "a@b.com", account.Email)
	assert.Equal(t, "id-token-2", account.IDToken)
	assert.Equal(t, ProviderPassword, account.ProviderID)

	_, err = p.Refresh(ctx, "revoked")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestFirebaseProvider_SignInFederated(t *testing.T) {
	fb := newFakeFirebase(t)
	google := newFakeGoogle(t, "google-id-token", googleProfile{Email: "g@b.com"})
	p := NewFirebaseProvider("test-api-key", WithFirebaseEmulator(fb.URL), WithFirebaseGoogle(google.federation()))

	account, err := p.SignInFederated(context.Background(), "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "g@b.com", account.Email)
	assert.Equal(t, ProviderGoogle, account.ProviderID)
	assert.Equal(t, "https://example.com/g.png", account.PhotoURL)

	postBody, err := url.ParseQuery(<-fb.idpPostBodies)
	require.NoError(t, err)
	assert.Equal(t, "google-id-token", postBody.Get("id_token"))
	assert.Equal(t, "google.com", postBody.Get("providerId"))
}

func TestFirebaseProvider_WithoutGoogle(t *testing.T) {
	p := NewFirebaseProvider("test-api-key")

	_, err := p.FederatedAuthURL("state")
	assert.ErrorIs(t, err, ErrFederationUnavailable)
	assert.NoError(t, p.SignOut(context.Background(), &Account{}))
}

func TestMapFirebaseError(t *testing.T) {
	tests := []struct {
		message string
		want    Code
	}{
		{"EMAIL_NOT_FOUND", CodeInvalidCredential},
		{"INVALID_PASSWORD", CodeInvalidCredential},
		{"EMAIL_EXISTS", CodeEmailExists},
		{"TOKEN_EXPIRED", CodeInvalidRefreshToken},
		{"OPERATION_NOT_ALLOWED", CodeFederationUnavailable},
		{"SOMETHING_NEW", CodeInternal},
	}

	for _, tt := range tests {
		t.Run(strings.ToLower(tt.message), func(t *testing.T) {
			assert.Equal(t, tt.want, mapFirebaseError(tt.message).Code)
		})
	}
}
