package cookie

import (
	"net/http"
	"sync"
	"time"

	"github.com/dgellow/admin-front/internal/envutil"
	"github.com/dgellow/admin-front/internal/log"
)

// markerValue is the value written when the marker is set
const markerValue = "true"

// Marker is the session marker of one browser. It is readable by page
// scripts (not HttpOnly) and only records presence, never identity.
//
// Set and Remove can be called from any goroutine, including the token
// stream. The change is written on the next response passing through Flush.
type Marker struct {
	name string
	ttl  time.Duration

	mu      sync.Mutex
	present bool
	pending *bool
}

// NewMarker creates a marker with the given cookie name and lifetime
func NewMarker(name string, ttl time.Duration) *Marker {
	return &Marker{name: name, ttl: ttl}
}

// Name returns the cookie name
func (m *Marker) Name() string {
	return m.name
}

// Observe refreshes presence from an incoming request. A change that has
// not been flushed yet wins over what the browser sent.
func (m *Marker) Observe(r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil {
		return
	}
	c, err := r.Cookie(m.name)
	m.present = err == nil && c.Value != ""
}

// Set marks the browser as signed in
func (m *Marker) Set() {
	m.change(true)
}

// Remove clears the marker
func (m *Marker) Remove() {
	m.change(false)
}

func (m *Marker) change(present bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.present = present
	m.pending = &present
}

// Present reports whether the marker is set
func (m *Marker) Present() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.present
}

// Flush writes the pending change, if any, as a Set-Cookie header. It must
// be called before the response headers are written.
func (m *Marker) Flush(w http.ResponseWriter) {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	if pending == nil {
		return
	}

	if !*pending {
		Clear(w, m.name)
		log.LogTraceWithFields("cookie", "Session marker removed", map[string]any{"name": m.name})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    markerValue,
		Path:     "/",
		HttpOnly: false, // read by the inline guard script
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(m.ttl.Seconds()),
		Expires:  time.Now().Add(m.ttl),
	})
	log.LogTraceWithFields("cookie", "Session marker set", map[string]any{
		"name": m.name,
		"ttl":  m.ttl.String(),
	})
}
