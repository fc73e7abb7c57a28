package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GoogleFederation runs the Google authorization code flow used for
// federated sign-in. The resulting ID token is handed to the provider.
type GoogleFederation struct {
	config      oauth2.Config
	userInfoURL string
}

// GoogleIdentity is what Google tells us about the user after consent
type GoogleIdentity struct {
	IDToken       string
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// NewGoogleFederation creates the Google OAuth client. GOOGLE_OAUTH_AUTH_URL,
// GOOGLE_OAUTH_TOKEN_URL and GOOGLE_USERINFO_URL override the endpoints.
func NewGoogleFederation(clientID, clientSecret, redirectURI string) *GoogleFederation {
	endpoint := google.Endpoint
	if authURL := os.Getenv("GOOGLE_OAUTH_AUTH_URL"); authURL != "" {
		endpoint.AuthURL = authURL
	}
	if tokenURL := os.Getenv("GOOGLE_OAUTH_TOKEN_URL"); tokenURL != "" {
		endpoint.TokenURL = tokenURL
	}
	userInfoURL := "https://www.googleapis.com/oauth2/v2/userinfo"
	if customURL := os.Getenv("GOOGLE_USERINFO_URL"); customURL != "" {
		userInfoURL = customURL
	}

	return &GoogleFederation{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
	}
}

// RedirectURI is where Google sends the browser back to
func (g *GoogleFederation) RedirectURI() string {
	return g.config.RedirectURL
}

// AuthURL generates the consent URL. The account chooser is always shown.
func (g *GoogleFederation) AuthURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades the authorization code for tokens and fetches the profile
func (g *GoogleFederation) Exchange(ctx context.Context, code string) (*GoogleIdentity, error) {
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, &Error{Code: CodeInvalidCredential, Message: "Google sign-in failed. Please try again.", Err: err}
		}
		return nil, NewError(CodeNetwork, err)
	}

	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return nil, NewError(CodeInternal, fmt.Errorf("google token response has no id_token"))
	}

	client := g.config.Client(ctx, token)
	resp, err := client.Get(g.userInfoURL)
	if err != nil {
		return nil, NewError(CodeNetwork, fmt.Errorf("failed to get user info: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(CodeInternal, fmt.Errorf("failed to get user info: status %d", resp.StatusCode))
	}

	var identity GoogleIdentity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, NewError(CodeInternal, fmt.Errorf("failed to decode user info: %w", err))
	}
	identity.IDToken = idToken
	return &identity, nil
}
