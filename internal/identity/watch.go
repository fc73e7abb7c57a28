package identity

import (
	"context"
	"sync"
	"time"

	"github.com/dgellow/admin-front/internal/log"
)

const (
	defaultPollInterval    = time.Minute
	defaultRefreshSkew     = time.Minute
	defaultStartupRetry    = time.Second
	defaultStartupAttempts = 3
)

type watchConfig struct {
	pollInterval    time.Duration
	refreshSkew     time.Duration
	startupRetry    time.Duration
	startupAttempts int
}

// WatchOption configures OnTokenChanged
type WatchOption func(*watchConfig)

// WithPollInterval sets how often the credential is re-read
func WithPollInterval(d time.Duration) WatchOption {
	return func(c *watchConfig) {
		c.pollInterval = d
	}
}

// WithRefreshSkew sets how long before expiry the ID token is refreshed
func WithRefreshSkew(d time.Duration) WatchOption {
	return func(c *watchConfig) {
		c.refreshSkew = d
	}
}

// WithStartupRetry sets how often the first check is retried after a
// failure, and after how many failed attempts nil is reported instead
func WithStartupRetry(interval time.Duration, attempts int) WatchOption {
	return func(c *watchConfig) {
		c.startupRetry = interval
		c.startupAttempts = attempts
	}
}

// OnTokenChanged watches the credential returned by source and calls fn with
// the signed-in account, or nil when there is none. fn is called once right
// away, then whenever the user or the ID token changes: sign-in, sign-out,
// token refresh or rejection of the refresh token.
//
// When the first check fails it is retried on a short interval; once the
// startup attempts are exhausted fn receives nil, so callers waiting for
// the first notification never wait a full poll interval.
//
// fn runs on the watcher goroutine. The returned function stops the watcher
// and waits for it to exit; it must not be called from fn.
func OnTokenChanged(p Provider, source CredentialSource, fn func(*Account), opts ...WatchOption) func() {
	cfg := watchConfig{
		pollInterval:    defaultPollInterval,
		refreshSkew:     defaultRefreshSkew,
		startupRetry:    defaultStartupRetry,
		startupAttempts: defaultStartupAttempts,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &tokenWatcher{provider: p, source: source, fn: fn, cfg: cfg}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.run(ctx)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

type tokenWatcher struct {
	provider Provider
	source   CredentialSource
	fn       func(*Account)
	cfg      watchConfig

	current  *Account
	emitted  bool
	failures int
}

func (w *tokenWatcher) run(ctx context.Context) {
	for {
		w.check(ctx)

		timer := time.NewTimer(w.nextCheck())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// nextCheck is the startup retry until the first result, then the poll
// interval shortened so the ID token is refreshed refreshSkew before it
// expires
func (w *tokenWatcher) nextCheck() time.Duration {
	if !w.emitted {
		return min(w.cfg.startupRetry, w.cfg.pollInterval)
	}
	next := w.cfg.pollInterval
	if w.current != nil {
		untilRefresh := time.Until(w.current.ExpiresAt) - w.cfg.refreshSkew
		if untilRefresh < next {
			next = max(untilRefresh, time.Second)
		}
	}
	return next
}

func (w *tokenWatcher) check(ctx context.Context) {
	refreshToken, err := w.source.RefreshToken(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.LogWarnWithFields("identity", "Failed to read credential, keeping state", map[string]any{
			"error": err.Error(),
		})
		w.startupFailed(ctx)
		return
	}

	if refreshToken == "" {
		w.emit(ctx, nil)
		return
	}

	// Same credential and the ID token is still fresh
	if w.current != nil && w.current.RefreshToken == refreshToken &&
		time.Until(w.current.ExpiresAt) > w.cfg.refreshSkew {
		return
	}

	account, err := w.provider.Refresh(ctx, refreshToken)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if IsTransient(err) {
			log.LogWarnWithFields("identity", "Token refresh failed, will retry", map[string]any{
				"error": err.Error(),
			})
			w.startupFailed(ctx)
			return
		}
		log.LogInfoWithFields("identity", "Credential rejected by provider", map[string]any{
			"error": err.Error(),
		})
		w.emit(ctx, nil)
		return
	}

	// Keep following the credential we were given even if the provider
	// rotated the token
	if account.RefreshToken == "" {
		account.RefreshToken = refreshToken
	}
	w.emit(ctx, account)
}

// startupFailed counts failures of the first check and reports nil once
// the startup attempts are used up. Later failures keep the current state.
func (w *tokenWatcher) startupFailed(ctx context.Context) {
	if w.emitted {
		return
	}
	w.failures++
	if w.failures < w.cfg.startupAttempts {
		return
	}
	log.LogWarnWithFields("identity", "Giving up on restoring the session", map[string]any{
		"attempts": w.failures,
	})
	w.emit(ctx, nil)
}

func (w *tokenWatcher) emit(ctx context.Context, account *Account) {
	if w.emitted && sameToken(w.current, account) {
		return
	}
	if ctx.Err() != nil {
		return
	}
	w.current = account
	w.emitted = true
	w.fn(account)
}

func sameToken(a, b *Account) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.UID == b.UID && a.IDToken == b.IDToken
}
