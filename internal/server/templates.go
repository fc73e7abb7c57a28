package server

import (
	"embed"
	"html/template"

	"github.com/dgellow/admin-front/internal/session"
	"github.com/dgellow/admin-front/internal/storage"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	loginPageTemplate     = template.Must(template.ParseFS(templateFS, "templates/login.html"))
	dashboardPageTemplate = parsePage("templates/dashboard.html")
	profilePageTemplate   = parsePage("templates/profile.html")
	usersPageTemplate     = parsePage("templates/users.html")
)

// parsePage parses a protected page with the shared layout. The page comes
// first so Execute renders it.
func parsePage(name string) *template.Template {
	return template.Must(template.ParseFS(templateFS, name, "templates/layout.html"))
}

// LoginPageData represents the data for the login page
type LoginPageData struct {
	Title       string
	Mode        string // "login" or "register"
	SubmitLabel string
	ToggleURL   string
	ToggleLabel string
	CSRFToken   string
	Email       string
	Error       string
	// ErrorDisplayMillis is how long the error stays before it is dismissed
	ErrorDisplayMillis int64
}

// PageData is shared by every protected page
type PageData struct {
	Title        string
	Active       string
	User         *session.User
	CSRFToken    string
	MarkerScript template.HTML
}

// UsersPageData represents the data for the users page
type UsersPageData struct {
	PageData
	Users []storage.UserInfo
}
