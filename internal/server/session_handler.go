package server

import (
	"net/http"

	"github.com/dgellow/admin-front/internal/client"
	"github.com/dgellow/admin-front/internal/guard"
	jsonwriter "github.com/dgellow/admin-front/internal/json"
	"github.com/dgellow/admin-front/internal/session"
)

// SessionResponse is the body of GET /api/session
type SessionResponse struct {
	Loading  bool          `json:"loading"`
	User     *session.User `json:"user"`
	Decision string        `json:"decision"`
}

// SessionHandler reports the authentication state of the calling browser
func SessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonwriter.WriteMethodNotAllowed(w)
		return
	}

	sess, ok := client.FromContext(r.Context())
	if !ok {
		jsonwriter.WriteInternalServerError(w, "Internal server error")
		return
	}

	state := sess.Store.State()
	_ = jsonwriter.Write(w, SessionResponse{
		Loading:  state.Loading,
		User:     state.User,
		Decision: guard.Decide(state).String(),
	})
}
