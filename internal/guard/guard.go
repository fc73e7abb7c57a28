// Package guard protects admin pages. Every request is judged on the
// current session state; nothing is cached between requests.
package guard

import (
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/dgellow/admin-front/internal/log"
	"github.com/dgellow/admin-front/internal/session"
)

// Decision is what the guard does with a request
type Decision int

const (
	// Unauthenticated redirects to the login page
	Unauthenticated Decision = iota
	// Indeterminate shows the loading placeholder until the state settles
	Indeterminate
	// Authenticated renders the page
	Authenticated
)

func (d Decision) String() string {
	switch d {
	case Authenticated:
		return "authenticated"
	case Indeterminate:
		return "indeterminate"
	default:
		return "unauthenticated"
	}
}

// Decide maps a session state to a decision. Loading always wins over the
// user, so a half-restored session never redirects.
func Decide(state session.State) Decision {
	switch {
	case !state.Loading && state.User != nil && state.User.Email != "":
		return Authenticated
	case state.Loading:
		return Indeterminate
	default:
		return Unauthenticated
	}
}

// StateSource exposes the session state of one browser
type StateSource interface {
	State() session.State
}

// SourceFunc finds the state source of the browser making the request
type SourceFunc func(r *http.Request) (StateSource, bool)

// Options configures a Guard
type Options struct {
	LoginPath    string
	MarkerCookie string
	// RefreshAfter is how long the loading page waits before retrying
	RefreshAfter time.Duration
}

//go:embed loading.html
var loadingPageHTML string

var loadingPageTemplate = template.Must(template.New("loading").Parse(loadingPageHTML))

// Guard applies Decide to HTTP requests
type Guard struct {
	loginPath    string
	markerCookie string
	refreshAfter time.Duration
	markerScript template.HTML
}

// New creates a Guard
func New(opts Options) *Guard {
	g := &Guard{
		loginPath:    opts.LoginPath,
		markerCookie: opts.MarkerCookie,
		refreshAfter: opts.RefreshAfter,
	}
	if g.loginPath == "" {
		g.loginPath = "/login"
	}
	if g.refreshAfter <= 0 {
		g.refreshAfter = time.Second
	}

	// Values are JS-escaped and the script lives in <head>, not in an attribute
	g.markerScript = template.HTML(fmt.Sprintf(
		`<script>if(!document.cookie.includes("%s")){window.location.href="%s"}</script>`,
		template.JSEscapeString(g.markerCookie),
		template.JSEscapeString(g.loginPath),
	))
	return g
}

// MarkerScript returns the inline script sending the browser to the login
// page when the session marker is gone. It runs on every protected page,
// independently of the server-side decision.
func (g *Guard) MarkerScript() template.HTML {
	return g.markerScript
}

// LoginPath returns where unauthenticated requests are sent
func (g *Guard) LoginPath() string {
	return g.loginPath
}

// Middleware protects next. A request without a state source is treated as
// signed out.
func (g *Guard) Middleware(source SourceFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var state session.State
			if src, ok := source(r); ok {
				state = src.State()
			}

			decision := Decide(state)
			log.LogTraceWithFields("guard", "Route decision", map[string]any{
				"path":     r.URL.Path,
				"decision": decision.String(),
			})

			switch decision {
			case Authenticated:
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), state.User)))
			case Indeterminate:
				g.renderLoading(w)
			default:
				w.Header().Set("Location", g.loginPath)
				w.WriteHeader(http.StatusFound)
			}
		})
	}
}

func (g *Guard) renderLoading(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	err := loadingPageTemplate.Execute(w, map[string]any{
		"RefreshSeconds": max(int(g.refreshAfter/time.Second), 1),
	})
	if err != nil {
		log.LogErrorWithFields("guard", "Failed to render loading page", map[string]any{
			"error": err.Error(),
		})
	}
}

type contextKey struct{}

// WithUser stores the signed-in user in the context
func WithUser(ctx context.Context, user *session.User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext returns the user stored by the guard
func UserFromContext(ctx context.Context) (*session.User, bool) {
	user, ok := ctx.Value(contextKey{}).(*session.User)
	return user, ok && user != nil
}
