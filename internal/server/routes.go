package server

import (
	"net/http"

	"github.com/dgellow/admin-front/internal/client"
	"github.com/dgellow/admin-front/internal/guard"
	"github.com/dgellow/admin-front/internal/log"
)

// Dependencies are the pieces the router wires together
type Dependencies struct {
	// Name is reported by the health endpoint
	Name           string
	Manager        *client.Manager
	Guard          *guard.Guard
	Auth           *AuthHandlers
	Pages          *PageHandlers
	AllowedOrigins []string
}

// StateSource finds the session store of the browser making the request
func StateSource(r *http.Request) (guard.StateSource, bool) {
	s, ok := client.FromContext(r.Context())
	if !ok {
		return nil, false
	}
	return s.Store, true
}

// NewRouter builds the complete HTTP handler with all routes and middleware
func NewRouter(d Dependencies) http.Handler {
	mux := http.NewServeMux()

	logger := NewLoggerMiddleware("http")
	recoverer := NewRecoverMiddleware("http")
	security := NewSecurityHeadersMiddleware()
	cors := NewCORSMiddleware(d.AllowedOrigins)
	guarded := d.Guard.Middleware(StateSource)

	// Middlewares listed innermost first
	browser := func(h http.Handler, extra ...MiddlewareFunc) http.Handler {
		chain := append(extra, d.Manager.Middleware, security, logger, recoverer)
		return ChainMiddleware(h, chain...)
	}

	mux.Handle("/health", NewHealthHandler(d.Name, d.Manager.Len))

	mux.Handle("/login", browser(http.HandlerFunc(d.Auth.LoginHandler)))
	mux.Handle("/login/google", browser(http.HandlerFunc(d.Auth.GoogleLoginHandler)))
	mux.Handle("/oauth/callback", browser(http.HandlerFunc(d.Auth.GoogleCallbackHandler)))
	mux.Handle("/logout", browser(http.HandlerFunc(d.Auth.LogoutHandler)))

	mux.Handle("/api/session", browser(http.HandlerFunc(SessionHandler), cors))

	mux.Handle("/", browser(http.HandlerFunc(d.Pages.DashboardHandler), guarded))
	mux.Handle("/profile", browser(http.HandlerFunc(d.Pages.ProfileHandler), guarded))
	mux.Handle("/users", browser(http.HandlerFunc(d.Pages.UsersHandler), guarded))

	log.LogInfoWithFields("server", "Routes registered", map[string]any{
		"loginPath": d.Guard.LoginPath(),
	})
	return mux
}
