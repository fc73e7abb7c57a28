package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dgellow/admin-front/internal/cookie"
	"github.com/dgellow/admin-front/internal/session"
)

// Session is everything the server keeps for one browser
type Session struct {
	ID        string
	Store     *session.Store
	Marker    *cookie.Marker
	Navigator *Navigator

	created      time.Time
	lastAccessed atomic.Pointer[time.Time]
}

func (s *Session) touch() {
	now := time.Now()
	s.lastAccessed.Store(&now)
}

type contextKey struct{}

// WithSession stores the browser session in the context
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the browser session attached by Manager.Middleware
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok && s != nil
}
