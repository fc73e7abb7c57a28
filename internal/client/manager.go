// Package client keeps one authentication store per browser, keyed by the
// session cookie.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dgellow/admin-front/internal/config"
	"github.com/dgellow/admin-front/internal/cookie"
	"github.com/dgellow/admin-front/internal/crypto"
	"github.com/dgellow/admin-front/internal/log"
	"github.com/dgellow/admin-front/internal/session"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCleanupInterval is how often idle sessions are looked for
	DefaultCleanupInterval = 1 * time.Minute
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrEmptySessionID is returned for a blank session id
	ErrEmptySessionID = errors.New("empty session id")
)

// StoreFactory builds the authentication store of a new browser session
type StoreFactory func(sessionID string, marker session.Marker, navigator session.Navigator) *session.Store

// Manager maps session ids to browser sessions
type Manager struct {
	mu              sync.RWMutex
	sessions        map[string]*Session
	newStore        StoreFactory
	markerName      string
	markerTTL       time.Duration
	idleTimeout     time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	group           singleflight.Group
}

// ManagerOption configures the manager
type ManagerOption func(*Manager)

// WithIdleTimeout sets how long an unused session is kept
func WithIdleTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.idleTimeout = timeout
	}
}

// WithCleanupInterval sets how often to run cleanup
func WithCleanupInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		m.cleanupInterval = interval
	}
}

// WithMarker sets the session marker cookie name and lifetime
func WithMarker(name string, ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.markerName = name
		m.markerTTL = ttl
	}
}

// NewManager creates a manager and starts its cleanup routine
func NewManager(newStore StoreFactory, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:        make(map[string]*Session),
		newStore:        newStore,
		markerName:      config.DefaultMarkerCookie,
		markerTTL:       config.DefaultMarkerTTL,
		idleTimeout:     config.DefaultIdleTimeout,
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.wg.Add(1)
	go m.startCleanupRoutine()

	return m
}

// GetOrCreate returns the session for id, creating it on first use.
// Concurrent first requests of one browser share a single store.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}

	v, err, _ := m.group.Do(id, func() (any, error) {
		m.mu.RLock()
		s, ok := m.sessions[id]
		m.mu.RUnlock()

		if ok {
			s.touch()
			return s, nil
		}
		return m.createSession(id), nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Session), nil
}

// Get retrieves an existing session
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if ok {
		s.touch()
	}
	return s, ok
}

// Remove closes a session and forgets it
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	remaining := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.Store.Close()

	log.LogTraceWithFields("client", "Session removed", map[string]any{
		"duration":          time.Since(s.created).String(),
		"remainingSessions": remaining,
	})
	return nil
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown stops the cleanup routine and closes every store
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stopCleanup)
	})
	m.wg.Wait()

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Store.Close()
	}

	log.LogInfoWithFields("client", "Session manager stopped", map[string]any{
		"closedSessions": len(sessions),
	})
}

func (m *Manager) createSession(id string) *Session {
	marker := cookie.NewMarker(m.markerName, m.markerTTL)
	navigator := &Navigator{}

	now := time.Now()
	s := &Session{
		ID:        id,
		Marker:    marker,
		Navigator: navigator,
		Store:     m.newStore(id, marker, navigator),
		created:   now,
	}
	s.lastAccessed.Store(&now)

	m.mu.Lock()
	m.sessions[id] = s
	total := len(m.sessions)
	m.mu.Unlock()

	log.LogDebugWithFields("client", "Created browser session", map[string]any{
		"totalSessions": total,
	})
	return s
}

// Middleware attaches the browser session to every request. It issues the
// session cookie on first visit, refreshes the marker from the request,
// activates the store and writes marker changes before the response headers.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := cookie.GetSession(r)
		if err != nil || id == "" {
			id, err = crypto.GenerateSecureToken()
			if err != nil {
				log.LogErrorWithFields("client", "Failed to generate session id", map[string]any{
					"error": err.Error(),
				})
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			cookie.SetSession(w, id, m.markerTTL)
		}

		s, err := m.GetOrCreate(r.Context(), id)
		if err != nil {
			log.LogErrorWithFields("client", "Failed to load browser session", map[string]any{
				"error": err.Error(),
			})
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		s.Marker.Observe(r)
		s.Store.Activate()

		fw := &flushingWriter{ResponseWriter: w, flush: s.Marker.Flush}
		next.ServeHTTP(fw, r.WithContext(WithSession(r.Context(), s)))
		fw.finish()
	})
}

// flushingWriter writes pending cookie changes right before the headers
type flushingWriter struct {
	http.ResponseWriter
	flush       func(http.ResponseWriter)
	wroteHeader bool
}

func (w *flushingWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.flush(w.ResponseWriter)
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *flushingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *flushingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// finish flushes when the handler wrote nothing at all
func (w *flushingWriter) finish() {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.flush(w.ResponseWriter)
	}
}

func (m *Manager) startCleanupRoutine() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupIdleSessions()
		case <-m.stopCleanup:
			return
		}
	}
}

// cleanupIdleSessions closes sessions unused for longer than the idle
// timeout. The persisted credential survives, so a returning browser with
// its marker is restored by a fresh store.
func (m *Manager) cleanupIdleSessions() {
	now := time.Now()

	m.mu.RLock()
	idle := make([]string, 0)
	total := len(m.sessions)
	for id, s := range m.sessions {
		lastAccessed := s.lastAccessed.Load()
		if lastAccessed != nil && now.Sub(*lastAccessed) > m.idleTimeout {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	if total > 0 {
		log.LogTraceWithFields("client", "Session cleanup cycle", map[string]any{
			"totalSessions": total,
			"idleSessions":  len(idle),
			"idleTimeout":   m.idleTimeout.String(),
		})
	}

	for _, id := range idle {
		if err := m.Remove(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			log.LogErrorWithFields("client", "Failed to remove idle session", map[string]any{
				"error": err.Error(),
			})
		}
	}
}
