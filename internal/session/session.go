// Package session holds the authentication state of one browser and the
// operations that change it.
package session

// Marker is the session marker of a browser: a persistent flag that says
// "this browser signed in before". It never carries identity.
type Marker interface {
	Set()
	Remove()
	Present() bool
}

// Navigator moves the browser to another page
type Navigator interface {
	Push(path string)
}

// AuthorizationState represents the Google sign-in state parameter
type AuthorizationState struct {
	Nonce     string `json:"nonce"`
	SessionID string `json:"session_id"`
	ReturnURL string `json:"return_url"`
}
