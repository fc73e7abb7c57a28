package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dgellow/admin-front/internal/client"
	"github.com/dgellow/admin-front/internal/cookie"
	"github.com/dgellow/admin-front/internal/crypto"
	"github.com/dgellow/admin-front/internal/identity"
	jsonwriter "github.com/dgellow/admin-front/internal/json"
	"github.com/dgellow/admin-front/internal/log"
	"github.com/dgellow/admin-front/internal/session"
	"github.com/dgellow/admin-front/internal/urlutil"
)

const (
	modeLogin    = "login"
	modeRegister = "register"

	// unexpectedErrorMessage is shown when an error carries no message
	unexpectedErrorMessage = "An unexpected error occurred!"

	// invalidStateMessage is shown when the Google round trip cannot be trusted
	invalidStateMessage = "Sign-in with Google could not be verified. Please try again."

	googleStateTTL = 10 * time.Minute
)

// FlashMessage is the one-shot error carried to the next login page render
type FlashMessage struct {
	Message string `json:"message"`
	Email   string `json:"email,omitempty"`
}

// AuthHandlers serves the login form, Google sign-in and sign-out
type AuthHandlers struct {
	provider     identity.Provider
	csrf         crypto.CSRFProtection
	flash        crypto.TokenSigner
	oauthState   crypto.TokenSigner
	errorDisplay time.Duration
}

// NewAuthHandlers creates the sign-in handlers. Keys must be independent:
// see crypto.DeriveKey.
func NewAuthHandlers(provider identity.Provider, csrf crypto.CSRFProtection, flashKey, stateKey []byte, errorDisplay time.Duration) *AuthHandlers {
	return &AuthHandlers{
		provider:     provider,
		csrf:         csrf,
		flash:        crypto.NewTokenSigner(flashKey, errorDisplay),
		oauthState:   crypto.NewTokenSigner(stateKey, googleStateTTL),
		errorDisplay: errorDisplay,
	}
}

// formErrorMessage extracts what the login form shows for err
func formErrorMessage(err error) string {
	var idErr *identity.Error
	if errors.As(err, &idErr) && idErr.Message != "" {
		return idErr.Message
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return unexpectedErrorMessage
}

func normalizeMode(mode string) string {
	if mode == modeRegister {
		return modeRegister
	}
	return modeLogin
}

func loginURL(mode string) string {
	if mode == modeRegister {
		return "/login?mode=" + modeRegister
	}
	return "/login"
}

// browserSession returns the session attached by client.Manager.Middleware
func browserSession(w http.ResponseWriter, r *http.Request) (*client.Session, bool) {
	s, ok := client.FromContext(r.Context())
	if !ok {
		log.LogErrorWithFields("auth", "Request has no browser session", map[string]any{
			"path": r.URL.Path,
		})
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
	return s, ok
}

// LoginHandler renders the login form on GET and submits it on POST
func (h *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.renderLogin(w, r)
	case http.MethodPost:
		h.submitLogin(w, r)
	default:
		jsonwriter.WriteMethodNotAllowed(w)
	}
}

func (h *AuthHandlers) renderLogin(w http.ResponseWriter, r *http.Request) {
	sess, ok := browserSession(w, r)
	if !ok {
		return
	}

	mode := normalizeMode(r.URL.Query().Get("mode"))
	flash := h.takeFlash(w, r)

	csrfToken, err := h.csrf.Generate(sess.ID)
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to generate CSRF token", map[string]any{
			"error": err.Error(),
		})
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	data := LoginPageData{
		Mode:               mode,
		CSRFToken:          csrfToken,
		Email:              flash.Email,
		Error:              flash.Message,
		ErrorDisplayMillis: h.errorDisplay.Milliseconds(),
	}
	if mode == modeRegister {
		data.Title = "Create a new account"
		data.SubmitLabel = "Register"
		data.ToggleURL = loginURL(modeLogin)
		data.ToggleLabel = "Sign in with your credentials"
	} else {
		data.Title = "Sign in"
		data.SubmitLabel = "Login"
		data.ToggleURL = loginURL(modeRegister)
		data.ToggleLabel = "Create an account"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := loginPageTemplate.Execute(w, data); err != nil {
		log.LogErrorWithFields("auth", "Failed to render login page", map[string]any{
			"error": err.Error(),
		})
	}
}

func (h *AuthHandlers) submitLogin(w http.ResponseWriter, r *http.Request) {
	sess, ok := browserSession(w, r)
	if !ok {
		return
	}

	if err := r.ParseForm(); err != nil {
		jsonwriter.WriteBadRequest(w, "Bad request")
		return
	}

	if !h.csrf.Validate(r.FormValue("csrf_token"), sess.ID) {
		log.LogWarnWithFields("auth", "Login rejected: invalid CSRF token", map[string]any{
			"remote_addr": r.RemoteAddr,
		})
		jsonwriter.WriteForbidden(w, "Invalid CSRF token")
		return
	}

	mode := normalizeMode(r.FormValue("mode"))
	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")

	var err error
	if mode == modeRegister {
		err = sess.Store.Register(r.Context(), email, password)
	} else {
		err = sess.Store.Login(r.Context(), email, password)
	}
	if err != nil {
		h.setFlash(w, FlashMessage{Message: formErrorMessage(err), Email: email})
		http.Redirect(w, r, loginURL(mode), http.StatusFound)
		return
	}

	h.redirectAfterSignIn(w, r, sess, "")
}

// GoogleLoginHandler starts the Google round trip
func (h *AuthHandlers) GoogleLoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonwriter.WriteMethodNotAllowed(w)
		return
	}

	sess, ok := browserSession(w, r)
	if !ok {
		return
	}

	nonce, err := crypto.GenerateSecureToken()
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to generate state nonce", map[string]any{
			"error": err.Error(),
		})
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	state, err := h.oauthState.Sign(session.AuthorizationState{
		Nonce:     nonce,
		SessionID: sess.ID,
		ReturnURL: urlutil.LocalPath(r.URL.Query().Get("return"), ""),
	})
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to sign state", map[string]any{
			"error": err.Error(),
		})
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	authURL, err := h.provider.FederatedAuthURL(state)
	if err != nil {
		h.setFlash(w, FlashMessage{Message: formErrorMessage(err)})
		http.Redirect(w, r, loginURL(modeLogin), http.StatusFound)
		return
	}

	log.LogDebugWithFields("auth", "Redirecting to Google", map[string]any{
		"provider": h.provider.Type(),
	})
	http.Redirect(w, r, authURL, http.StatusFound)
}

// GoogleCallbackHandler completes the Google round trip
func (h *AuthHandlers) GoogleCallbackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonwriter.WriteMethodNotAllowed(w)
		return
	}

	sess, ok := browserSession(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()

	var state session.AuthorizationState
	if err := h.oauthState.Verify(query.Get("state"), &state); err != nil || state.SessionID != sess.ID {
		log.LogWarnWithFields("auth", "Rejected Google callback state", map[string]any{
			"error":        errString(err),
			"sessionMatch": state.SessionID == sess.ID,
		})
		h.failCallback(w, r, invalidStateMessage)
		return
	}

	if oauthErr := query.Get("error"); oauthErr != "" {
		log.LogInfoWithFields("auth", "Google sign-in not completed", map[string]any{
			"error": oauthErr,
		})
		h.failCallback(w, r, formErrorMessage(identity.NewError(identity.CodeFederationCancelled, nil)))
		return
	}

	code := query.Get("code")
	if code == "" {
		h.failCallback(w, r, invalidStateMessage)
		return
	}

	if err := sess.Store.LoginFederated(r.Context(), code); err != nil {
		h.failCallback(w, r, formErrorMessage(err))
		return
	}

	h.redirectAfterSignIn(w, r, sess, state.ReturnURL)
}

func (h *AuthHandlers) failCallback(w http.ResponseWriter, r *http.Request, message string) {
	h.setFlash(w, FlashMessage{Message: message})
	http.Redirect(w, r, loginURL(modeLogin), http.StatusFound)
}

// LogoutHandler signs the browser out and sends it to the login page
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonwriter.WriteMethodNotAllowed(w)
		return
	}

	sess, ok := browserSession(w, r)
	if !ok {
		return
	}

	if err := r.ParseForm(); err != nil {
		jsonwriter.WriteBadRequest(w, "Bad request")
		return
	}

	if !h.csrf.Validate(r.FormValue("csrf_token"), sess.ID) {
		jsonwriter.WriteForbidden(w, "Invalid CSRF token")
		return
	}

	// The local session is already cleared when the provider fails
	_ = sess.Store.Logout(r.Context())

	http.Redirect(w, r, loginURL(modeLogin), http.StatusFound)
}

// redirectAfterSignIn follows the destination the store navigated to.
// A return URL recorded before the Google round trip wins.
func (h *AuthHandlers) redirectAfterSignIn(w http.ResponseWriter, r *http.Request, sess *client.Session, returnURL string) {
	target, ok := sess.Navigator.Take()
	if !ok {
		target = "/"
	}
	if returnURL != "" {
		target = returnURL
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *AuthHandlers) setFlash(w http.ResponseWriter, msg FlashMessage) {
	token, err := h.flash.Sign(msg)
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to sign flash message", map[string]any{
			"error": err.Error(),
		})
		return
	}
	cookie.SetFlash(w, token, h.errorDisplay)
}

// takeFlash reads and clears the flash message. Expired or tampered
// messages read as empty.
func (h *AuthHandlers) takeFlash(w http.ResponseWriter, r *http.Request) FlashMessage {
	var msg FlashMessage

	token, err := cookie.GetFlash(r)
	if err != nil || token == "" {
		return msg
	}
	cookie.ClearFlash(w)

	if err := h.flash.Verify(token, &msg); err != nil {
		log.LogTraceWithFields("auth", "Discarded flash message", map[string]any{
			"error": err.Error(),
		})
		return FlashMessage{}
	}
	return msg
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
