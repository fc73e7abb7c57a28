package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type googleProfile struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

type fakeGoogle struct {
	*httptest.Server
}

// newFakeGoogle serves the token and userinfo endpoints
func newFakeGoogle(t *testing.T, idToken string, profile googleProfile) *fakeGoogle {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") != "auth-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "google-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer google-access-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(profile)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &fakeGoogle{Server: srv}
}

func (f *fakeGoogle) federation() *GoogleFederation {
	g := NewGoogleFederation("client-id", "client-secret", "https://admin.example.com/oauth/callback")
	g.config.Endpoint = oauth2.Endpoint{
		AuthURL:  f.URL + "/auth",
		TokenURL: f.URL + "/token",
	}
	g.userInfoURL = f.URL + "/userinfo"
	return g
}

func TestGoogleFederation_AuthURL(t *testing.T) {
	g := NewGoogleFederation("client-id", "client-secret", "https://admin.example.com/oauth/callback")

	authURL := g.AuthURL("test-state")

	assert.Contains(t, authURL, "accounts.google.com")
	assert.Contains(t, authURL, "state=test-state")
	assert.Contains(t, authURL, "client_id=client-id")
	assert.Contains(t, authURL, "redirect_uri=")
	assert.Equal(t, "https://admin.example.com/oauth/callback", g.RedirectURI())
}

func TestGoogleFederation_Exchange(t *testing.T) {
	srv := newFakeGoogle(t, "google-id-token", googleProfile{Sub: "1", Email: "a@b.com", Name: "A"})
	g := srv.federation()

	identity, err := g.Exchange(context.Background(), "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "google-id-token", identity.IDToken)
	assert.Equal(t, "a@b.com", identity.Email)
	assert.Equal(t, "1", identity.Subject)

	_, err = g.Exchange(context.Background(), "bad-code")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}
