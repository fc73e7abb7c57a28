package server

import (
	"html/template"
	"net/http"

	"github.com/dgellow/admin-front/internal/client"
	"github.com/dgellow/admin-front/internal/crypto"
	"github.com/dgellow/admin-front/internal/guard"
	jsonwriter "github.com/dgellow/admin-front/internal/json"
	"github.com/dgellow/admin-front/internal/log"
	"github.com/dgellow/admin-front/internal/storage"
)

// PageHandlers renders the protected admin pages. They run behind
// guard.Middleware, so a user is always in the context.
type PageHandlers struct {
	users storage.UserStore
	guard *guard.Guard
	csrf  crypto.CSRFProtection
}

// NewPageHandlers creates the admin page handlers
func NewPageHandlers(users storage.UserStore, g *guard.Guard, csrf crypto.CSRFProtection) *PageHandlers {
	return &PageHandlers{
		users: users,
		guard: g,
		csrf:  csrf,
	}
}

// pageData builds what every protected page needs, or writes an error
func (h *PageHandlers) pageData(w http.ResponseWriter, r *http.Request, title, active string) (PageData, bool) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		jsonwriter.WriteMethodNotAllowed(w)
		return PageData{}, false
	}

	user, ok := guard.UserFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, h.guard.LoginPath(), http.StatusFound)
		return PageData{}, false
	}

	sess, ok := client.FromContext(r.Context())
	if !ok {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return PageData{}, false
	}

	csrfToken, err := h.csrf.Generate(sess.ID)
	if err != nil {
		log.LogErrorWithFields("pages", "Failed to generate CSRF token", map[string]any{
			"error": err.Error(),
		})
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return PageData{}, false
	}

	return PageData{
		Title:        title,
		Active:       active,
		User:         user,
		CSRFToken:    csrfToken,
		MarkerScript: h.guard.MarkerScript(),
	}, true
}

// DashboardHandler renders the home page
func (h *PageHandlers) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	// The mux routes every unknown path to "/"
	if r.URL.Path != "/" {
		jsonwriter.WriteNotFound(w, "Page not found")
		return
	}

	data, ok := h.pageData(w, r, "Home", "home")
	if !ok {
		return
	}
	render(w, dashboardPageTemplate, data)
}

// ProfileHandler renders the signed-in user
func (h *PageHandlers) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	data, ok := h.pageData(w, r, "Profile", "profile")
	if !ok {
		return
	}
	render(w, profilePageTemplate, data)
}

// UsersHandler lists everyone who signed in
func (h *PageHandlers) UsersHandler(w http.ResponseWriter, r *http.Request) {
	data, ok := h.pageData(w, r, "Users", "users")
	if !ok {
		return
	}

	users, err := h.users.GetAllUsers(r.Context())
	if err != nil {
		log.LogErrorWithFields("pages", "Failed to get users", map[string]any{
			"error": err.Error(),
		})
		users = []storage.UserInfo{}
	}

	render(w, usersPageTemplate, UsersPageData{PageData: data, Users: users})
}

func render(w http.ResponseWriter, tmpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := tmpl.Execute(w, data); err != nil {
		log.LogErrorWithFields("pages", "Failed to render page", map[string]any{
			"template": tmpl.Name(),
			"error":    err.Error(),
		})
	}
}
