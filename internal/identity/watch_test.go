package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenBox struct {
	v atomic.Value
}

func (b *tokenBox) set(token string) { b.v.Store(token) }

func (b *tokenBox) RefreshToken(ctx context.Context) (string, error) {
	token, _ := b.v.Load().(string)
	return token, nil
}

type recorder struct {
	mu       sync.Mutex
	accounts []*Account
}

func (r *recorder) record(a *Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = append(r.accounts, a)
}

func (r *recorder) snapshot() []*Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Account(nil), r.accounts...)
}

func (r *recorder) last() *Account {
	all := r.snapshot()
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func TestOnTokenChanged_FollowsCredential(t *testing.T) {
	p := newTestMemoryProvider(t)
	account, err := p.SignInWithPassword(context.Background(), "admin@example.com", "correct-horse")
	require.NoError(t, err)

	source := &tokenBox{}
	source.set("")
	rec := &recorder{}

	unsubscribe := OnTokenChanged(p, source, rec.record, WithPollInterval(10*time.Millisecond))
	defer unsubscribe()

	// No credential: a single nil notification
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, rec.last())

	source.set(account.RefreshToken)
	require.Eventually(t, func() bool {
		a := rec.last()
		return a != nil && a.Email == "admin@example.com"
	}, time.Second, 5*time.Millisecond)

	// Nothing changes while the token is fresh
	count := len(rec.snapshot())
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.snapshot(), count)

	source.set("")
	require.Eventually(t, func() bool { return rec.last() == nil }, time.Second, 5*time.Millisecond)
}

func TestOnTokenChanged_RejectedCredential(t *testing.T) {
	p := newTestMemoryProvider(t)
	account, err := p.SignInWithPassword(context.Background(), "admin@example.com", "correct-horse")
	require.NoError(t, err)
	require.NoError(t, p.SignOut(context.Background(), account))

	source := &tokenBox{}
	source.set(account.RefreshToken)
	rec := &recorder{}

	unsubscribe := OnTokenChanged(p, source, rec.record, WithPollInterval(10*time.Millisecond))
	defer unsubscribe()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, rec.last())
}

func TestOnTokenChanged_RefreshesBeforeExpiry(t *testing.T) {
	p := NewMemoryProvider([]byte("test-signing-key-32-bytes-long!!"), WithTokenTTL(1500*time.Millisecond))
	require.NoError(t, p.AddUser("admin@example.com", "correct-horse", ""))
	account, err := p.SignInWithPassword(context.Background(), "admin@example.com", "correct-horse")
	require.NoError(t, err)

	source := &tokenBox{}
	source.set(account.RefreshToken)
	rec := &recorder{}

	unsubscribe := OnTokenChanged(p, source, rec.record,
		WithPollInterval(time.Hour),
		WithRefreshSkew(time.Second),
	)
	defer unsubscribe()

	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 2 }, 3*time.Second, 20*time.Millisecond)
	all := rec.snapshot()
	assert.NotEqual(t, all[0].IDToken, all[1].IDToken)
	assert.Equal(t, all[0].UID, all[1].UID)
}

type flakyProvider struct {
	Provider
	calls atomic.Int32
}

func (f *flakyProvider) Refresh(ctx context.Context, refreshToken string) (*Account, error) {
	if f.calls.Add(1) == 1 {
		return &Account{UID: "u1", Email: "a@b.com", IDToken: "t1", RefreshToken: refreshToken, ExpiresAt: time.Now()}, nil
	}
	return nil, NewError(CodeNetwork, nil)
}

func TestOnTokenChanged_TransientFailureKeepsState(t *testing.T) {
	p := &flakyProvider{}
	source := &tokenBox{}
	source.set("refresh")
	rec := &recorder{}

	// The first account is already expired so every poll tries to refresh
	unsubscribe := OnTokenChanged(p, source, rec.record,
		WithPollInterval(10*time.Millisecond),
		WithRefreshSkew(0),
	)
	defer unsubscribe()

	require.Eventually(t, func() bool { return p.calls.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)
	all := rec.snapshot()
	require.Len(t, all, 1)
	assert.Equal(t, "a@b.com", all[0].Email)
}

func TestOnTokenChanged_UnsubscribeStops(t *testing.T) {
	p := newTestMemoryProvider(t)
	source := &tokenBox{}
	source.set("")
	rec := &recorder{}

	unsubscribe := OnTokenChanged(p, source, rec.record, WithPollInterval(5*time.Millisecond))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	unsubscribe()
	unsubscribe()

	account, err := p.SignInWithPassword(context.Background(), "admin@example.com", "correct-horse")
	require.NoError(t, err)
	source.set(account.RefreshToken)

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

type failingSource struct {
	calls atomic.Int32
}

func (s *failingSource) RefreshToken(ctx context.Context) (string, error) {
	s.calls.Add(1)
	return "", errors.New("storage unavailable")
}

// unreachableProvider fails the first refreshes with a network error
type unreachableProvider struct {
	Provider
	failures int32
	calls    atomic.Int32
}

func (u *unreachableProvider) Refresh(ctx context.Context, refreshToken string) (*Account, error) {
	if u.calls.Add(1) <= u.failures {
		return nil, NewError(CodeNetwork, nil)
	}
	return u.Provider.Refresh(ctx, refreshToken)
}

func TestOnTokenChanged_FirstCheckRetriedQuickly(t *testing.T) {
	mem := newTestMemoryProvider(t)
	account, err := mem.SignInWithPassword(context.Background(), "admin@example.com", "correct-horse")
	require.NoError(t, err)

	p := &unreachableProvider{Provider: mem, failures: 1}
	source := &tokenBox{}
	source.set(account.RefreshToken)
	rec := &recorder{}

	// The poll interval is far away: only the startup retry can restore
	unsubscribe := OnTokenChanged(p, source, rec.record, WithPollInterval(time.Hour))
	defer unsubscribe()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 3*time.Second, 10*time.Millisecond)
	require.NotNil(t, rec.last())
	assert.Equal(t, "admin@example.com", rec.last().Email)
	assert.EqualValues(t, 2, p.calls.Load())
}

func TestOnTokenChanged_StartupGivesUp(t *testing.T) {
	t.Run("provider unreachable", func(t *testing.T) {
		p := &unreachableProvider{Provider: newTestMemoryProvider(t), failures: 1000}
		source := &tokenBox{}
		source.set("refresh")
		rec := &recorder{}

		unsubscribe := OnTokenChanged(p, source, rec.record,
			WithPollInterval(time.Hour),
			WithStartupRetry(10*time.Millisecond, 3),
		)
		defer unsubscribe()

		require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
		assert.Nil(t, rec.last())
		assert.EqualValues(t, 3, p.calls.Load())
	})

	t.Run("credential unreadable", func(t *testing.T) {
		source := &failingSource{}
		rec := &recorder{}

		unsubscribe := OnTokenChanged(newTestMemoryProvider(t), source, rec.record,
			WithPollInterval(time.Hour),
			WithStartupRetry(10*time.Millisecond, 3),
		)
		defer unsubscribe()

		require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
		assert.Nil(t, rec.last())
		assert.GreaterOrEqual(t, source.calls.Load(), int32(3))
	})
}
